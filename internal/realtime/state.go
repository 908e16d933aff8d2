package realtime

// State is the lifecycle of the socket connection.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

// active reports whether a connection attempt is underway or established.
func (s State) active() bool {
	return s == StateConnecting || s == StateConnected || s == StateReconnecting
}
