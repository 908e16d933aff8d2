package wstest

import "time"

// ConnInfo is what the hub learned about a client at handshake time.
type ConnInfo struct {
	ConnID      string
	UserID      int
	Token       string
	QueryToken  string
	QueryUserID string
	ConnectedAt time.Time
}
