package session

import "time"

// CallSession is the controller's record of one call. Token identifies the
// session instance so late poll results from a previous call are discarded.
type CallSession struct {
	Token       string
	PeerID      string
	DisplayName string
	Direction   Direction
	Phase       Phase
	ConnectedAt time.Time
}

// Elapsed returns the whole seconds since the call connected, or 0 before
// the connected phase was reached.
func (s *CallSession) Elapsed(now time.Time) int {
	if s.ConnectedAt.IsZero() {
		return 0
	}
	d := now.Sub(s.ConnectedAt)
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}
