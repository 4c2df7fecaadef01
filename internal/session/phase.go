package session

// Phase is the lifecycle state of a call as reported by the media engine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCalling
	PhaseRinging
	PhaseConnecting
	PhaseConnected
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCalling:
		return "calling"
	case PhaseRinging:
		return "ringing"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Terminal reports whether the phase means the call is over.
func (p Phase) Terminal() bool {
	return p == PhaseEnded || p == PhaseIdle
}

// Active reports whether the phase represents a live or in-progress call.
func (p Phase) Active() bool {
	return !p.Terminal()
}

// Direction records which side initiated the call.
type Direction int

const (
	Outgoing Direction = iota
	Incoming
)

func (d Direction) String() string {
	if d == Incoming {
		return "incoming"
	}
	return "outgoing"
}
