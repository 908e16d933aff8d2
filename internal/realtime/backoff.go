package realtime

import "time"

// backoffDelay returns the wait before reconnect attempt n (1-based): base doubled
// per attempt and capped at max.
func backoffDelay(n int, base, max time.Duration) time.Duration {
	if n < 1 {
		n = 1
	}
	delay := base
	for i := 1; i < n; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
