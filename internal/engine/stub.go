// Package engine provides a development implementation of the call engine.
// It exchanges real signaling messages through the relay but simulates the
// media path: phases advance on a timer and audio levels are synthesized.
// Useful for exercising the session controller and UI without devices.
package engine

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/parla/internal/session"
)

var log = logging.Logger("engine")

var (
	ErrAlreadyInCall = errors.New("engine: already in a call")
	ErrNoActiveCall  = errors.New("engine: no active call")
)

// Signaler carries call setup/teardown messages to the remote peer. The
// relay client satisfies this.
type Signaler interface {
	SendOffer(toPeerID, sdp string) error
	SendAnswer(toPeerID, sdp string) error
	SendReject(toPeerID, reason string) error
	SendHangup(toPeerID string) error
}

const (
	// time from dialing until the simulated transport connects
	connectDelay = 300 * time.Millisecond

	// additional time until media negotiation completes
	negotiateDelay = 900 * time.Millisecond

	// how long the ended phase lingers before settling back to idle
	endedLinger = 500 * time.Millisecond
)

// Stub implements session.Engine with simulated media.
type Stub struct {
	signaler Signaler

	mu      sync.Mutex
	phase   session.Phase
	phaseAt time.Time
	callID  string
	peerID  string
	muted   bool
}

func NewStub(signaler Signaler) *Stub {
	return &Stub{
		signaler: signaler,
		phase:    session.PhaseIdle,
		phaseAt:  time.Now(),
	}
}

func (e *Stub) StartCall(ctx context.Context, peerID string) error {
	e.mu.Lock()
	if e.advanceLocked(time.Now()).Active() {
		e.mu.Unlock()
		return ErrAlreadyInCall
	}
	e.setPhaseLocked(session.PhaseCalling)
	e.callID = uuid.NewString()
	e.peerID = peerID
	e.muted = false
	callID := e.callID
	e.mu.Unlock()

	if err := e.signaler.SendOffer(peerID, simulatedSDP("offer", callID)); err != nil {
		e.mu.Lock()
		e.setPhaseLocked(session.PhaseIdle)
		e.callID = ""
		e.peerID = ""
		e.mu.Unlock()
		return err
	}

	log.Infof("dialing peer %s (call %s)", peerID, callID)
	return nil
}

func (e *Stub) AcceptCall(ctx context.Context, peerID, offerSDP string) error {
	e.mu.Lock()
	if e.advanceLocked(time.Now()).Active() {
		e.mu.Unlock()
		return ErrAlreadyInCall
	}
	e.setPhaseLocked(session.PhaseConnecting)
	e.callID = uuid.NewString()
	e.peerID = peerID
	e.muted = false
	callID := e.callID
	e.mu.Unlock()

	if err := e.signaler.SendAnswer(peerID, simulatedSDP("answer", callID)); err != nil {
		e.mu.Lock()
		e.setPhaseLocked(session.PhaseIdle)
		e.callID = ""
		e.peerID = ""
		e.mu.Unlock()
		return err
	}

	log.Infof("answering peer %s (call %s)", peerID, callID)
	return nil
}

func (e *Stub) RejectCall(ctx context.Context, peerID, reason string) error {
	return e.signaler.SendReject(peerID, reason)
}

func (e *Stub) Hangup(ctx context.Context) error {
	e.mu.Lock()
	if !e.advanceLocked(time.Now()).Active() {
		e.mu.Unlock()
		return ErrNoActiveCall
	}
	peerID := e.peerID
	e.setPhaseLocked(session.PhaseEnded)
	e.peerID = ""
	e.mu.Unlock()

	log.Infof("hanging up call with %s", peerID)
	return e.signaler.SendHangup(peerID)
}

func (e *Stub) SetMuted(ctx context.Context, muted bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.advanceLocked(time.Now()).Active() {
		return ErrNoActiveCall
	}
	e.muted = muted
	return nil
}

func (e *Stub) CallState(ctx context.Context) (session.Phase, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.advanceLocked(time.Now()), nil
}

// AudioLevels synthesizes gentle level curves while connected so the
// visualizer has something to render.
func (e *Stub) AudioLevels(ctx context.Context) (in, out float64, err error) {
	e.mu.Lock()
	phase := e.advanceLocked(time.Now())
	muted := e.muted
	since := time.Since(e.phaseAt).Seconds()
	e.mu.Unlock()

	if phase != session.PhaseConnected {
		return 0, 0, nil
	}

	in = 0.5 * math.Abs(math.Sin(2*math.Pi*0.30*since+1.0))
	out = 0.6 * math.Abs(math.Sin(2*math.Pi*0.45*since))
	if muted {
		out = 0
	}
	return in, out, nil
}

// setPhaseLocked records a phase transition with its timestamp.
func (e *Stub) setPhaseLocked(p session.Phase) {
	e.phase = p
	e.phaseAt = time.Now()
}

// advanceLocked moves the simulated phase forward based on how long the
// current phase has been held, and returns the result.
func (e *Stub) advanceLocked(now time.Time) session.Phase {
	held := now.Sub(e.phaseAt)

	switch e.phase {
	case session.PhaseCalling:
		if held >= connectDelay+negotiateDelay {
			e.setPhaseLocked(session.PhaseConnected)
		} else if held >= connectDelay {
			e.setPhaseLocked(session.PhaseConnecting)
		}
	case session.PhaseConnecting:
		if held >= negotiateDelay {
			e.setPhaseLocked(session.PhaseConnected)
		}
	case session.PhaseEnded:
		if held >= endedLinger {
			e.setPhaseLocked(session.PhaseIdle)
			e.callID = ""
		}
	}
	return e.phase
}

func simulatedSDP(kind, callID string) string {
	return "v=0 sim:" + kind + ":" + callID
}
