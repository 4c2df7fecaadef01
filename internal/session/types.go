package session

import "context"

// Engine is the media/call engine the controller drives. It owns transport,
// codecs and devices; the controller only mirrors its state into a session.
type Engine interface {
	// StartCall begins an outgoing call to the given peer.
	StartCall(ctx context.Context, peerID string) error

	// AcceptCall answers an incoming call using the offer received over signaling.
	AcceptCall(ctx context.Context, peerID, offerSDP string) error

	// RejectCall declines an incoming call. There need not be an active call.
	RejectCall(ctx context.Context, peerID, reason string) error

	// Hangup ends the active call, if any.
	Hangup(ctx context.Context) error

	// SetMuted toggles microphone capture on the active call.
	SetMuted(ctx context.Context, muted bool) error

	// CallState reports the engine's current call phase.
	CallState(ctx context.Context) (Phase, error)

	// AudioLevels reports inbound and outbound levels in [0,1].
	AudioLevels(ctx context.Context) (in, out float64, err error)
}

// Notifier receives user-facing call events. Implementations bridge to the
// frontend; callbacks must not block.
type Notifier interface {
	CallPhaseChanged(p Phase)
	ElapsedTick(display string)
	CallRejected(reason string)
	IncomingCallPrompt(promptID, peerID, username string)
	IncomingCallRetracted(promptID string)
}
