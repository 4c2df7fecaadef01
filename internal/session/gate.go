package session

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrUnknownPrompt is returned when a decision references a prompt that is
// no longer outstanding.
var ErrUnknownPrompt = errors.New("session: unknown or expired prompt")

// Gate admits or rejects incoming call offers. Admission is evaluated once,
// synchronously, when the offer arrives: if the user is already in a call,
// or another prompt is still undecided, the caller gets a busy rejection
// without the user ever seeing a prompt.
type Gate struct {
	ctrl   *Controller
	engine Engine
	notify Notifier

	mu     sync.Mutex
	prompt *prompt

	// committing covers the gap between a prompt being settled and the
	// controller installing the session, so an offer arriving in between
	// still counts as busy
	committing bool
}

type prompt struct {
	id       string
	peerID   string
	username string
	sdp      string
	decided  bool
}

func NewGate(ctrl *Controller, engine Engine, notify Notifier) *Gate {
	return &Gate{ctrl: ctrl, engine: engine, notify: notify}
}

// OnIncomingOffer handles an offer from the signaling layer. Either a prompt
// is raised for the user or the offer is busy-rejected; never both.
func (g *Gate) OnIncomingOffer(ctx context.Context, peerID, username, offerSDP string) {
	g.mu.Lock()
	busy := g.ctrl.Active() || g.committing || (g.prompt != nil && !g.prompt.decided)
	if busy {
		g.mu.Unlock()
		log.Infof("busy, rejecting call from %s (%s)", username, peerID)
		if err := g.engine.RejectCall(ctx, peerID, "busy"); err != nil {
			log.Warnf("busy reject failed: %v", err)
		}
		return
	}

	p := &prompt{
		id:       uuid.NewString(),
		peerID:   peerID,
		username: username,
		sdp:      offerSDP,
	}
	g.prompt = p
	g.mu.Unlock()

	log.Infof("incoming call from %s (%s)", username, peerID)
	g.notify.IncomingCallPrompt(p.id, peerID, username)
}

// Accept answers the outstanding prompt. A decision that arrives after the
// prompt was already settled (declined, retracted, or raced by the other
// button) is a no-op error, never a second engine command.
func (g *Gate) Accept(ctx context.Context, promptID string) error {
	p, ok := g.take(promptID)
	if !ok {
		return ErrUnknownPrompt
	}

	g.mu.Lock()
	g.committing = true
	g.mu.Unlock()

	err := g.ctrl.Accept(ctx, p.peerID, p.username, p.sdp)

	g.mu.Lock()
	g.committing = false
	g.mu.Unlock()
	return err
}

// Reject declines the outstanding prompt.
func (g *Gate) Reject(ctx context.Context, promptID, reason string) error {
	p, ok := g.take(promptID)
	if !ok {
		return ErrUnknownPrompt
	}
	if reason == "" {
		reason = "declined"
	}
	return g.ctrl.Reject(ctx, p.peerID, reason)
}

// OnCallEnded handles the remote side ending the call. If a prompt is still
// undecided the caller gave up before an answer: retract the prompt instead
// of touching the (nonexistent) session.
func (g *Gate) OnCallEnded() {
	g.mu.Lock()
	p := g.prompt
	if p != nil && !p.decided {
		p.decided = true
		g.prompt = nil
		g.mu.Unlock()
		log.Infof("caller %s hung up before answer", p.username)
		g.notify.IncomingCallRetracted(p.id)
		return
	}
	g.mu.Unlock()

	g.ctrl.HandleRemoteEnd()
}

// OnCallRejected handles the remote side declining our outgoing call.
func (g *Gate) OnCallRejected(reason string) {
	g.ctrl.HandleRemoteReject(reason)
}

// Pending returns the outstanding prompt ID, or "" if none.
func (g *Gate) Pending() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.prompt == nil || g.prompt.decided {
		return ""
	}
	return g.prompt.id
}

// take settles the prompt with the given ID exactly once.
func (g *Gate) take(promptID string) (*prompt, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p := g.prompt
	if p == nil || p.decided || p.id != promptID {
		return nil, false
	}
	p.decided = true
	g.prompt = nil
	return p, true
}
