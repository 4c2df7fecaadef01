// Package session tracks the lifecycle of the single active call. The
// Controller issues commands to the media engine, reconciles the engine's
// phase by polling, and drives the elapsed-time clock while connected.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/parla/internal/util"
)

var log = logging.Logger("session")

var (
	// ErrBusy means a call is already in progress.
	ErrBusy = errors.New("session: call already in progress")

	// ErrNoSession means there is no active call to operate on.
	ErrNoSession = errors.New("session: no active call")
)

// Controller owns at most one CallSession at a time. User commands are
// serialized; phase changes observed from the engine flow through applyPoll
// so stale results from an earlier call can never touch the current one.
type Controller struct {
	engine Engine
	notify Notifier

	pollInterval time.Duration

	// cmdMu serializes Start/Accept/Hangup so overlapping UI actions cannot
	// interleave engine commands.
	cmdMu sync.Mutex

	mu        sync.Mutex
	cur       *CallSession
	pollStop  chan struct{}
	clockStop chan struct{}
	muted     bool
	closed    bool
}

func New(engine Engine, notify Notifier, pollInterval time.Duration) *Controller {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Controller{
		engine:       engine,
		notify:       notify,
		pollInterval: pollInterval,
	}
}

// Start places an outgoing call. Fails fast with ErrBusy if a call is
// already active; the engine is not touched in that case.
func (c *Controller) Start(ctx context.Context, peerID, displayName string) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("session: controller closed")
	}
	if c.cur != nil {
		c.mu.Unlock()
		return ErrBusy
	}
	c.mu.Unlock()

	if err := c.engine.StartCall(ctx, peerID); err != nil {
		return fmt.Errorf("start call: %w", err)
	}

	c.install(&CallSession{
		Token:       uuid.NewString(),
		PeerID:      peerID,
		DisplayName: displayName,
		Direction:   Outgoing,
		Phase:       PhaseCalling,
	})

	log.Infof("outgoing call to %s (%s)", displayName, peerID)
	c.notify.CallPhaseChanged(PhaseCalling)
	return nil
}

// Accept answers an incoming call using the offer delivered over signaling.
func (c *Controller) Accept(ctx context.Context, peerID, displayName, offerSDP string) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("session: controller closed")
	}
	if c.cur != nil {
		c.mu.Unlock()
		return ErrBusy
	}
	c.mu.Unlock()

	if err := c.engine.AcceptCall(ctx, peerID, offerSDP); err != nil {
		return fmt.Errorf("accept call: %w", err)
	}

	c.install(&CallSession{
		Token:       uuid.NewString(),
		PeerID:      peerID,
		DisplayName: displayName,
		Direction:   Incoming,
		Phase:       PhaseRinging,
	})

	log.Infof("accepted call from %s (%s)", displayName, peerID)
	c.notify.CallPhaseChanged(PhaseRinging)
	return nil
}

// Reject declines an incoming call. No session is required: rejection is a
// pure engine/signaling action.
func (c *Controller) Reject(ctx context.Context, peerID, reason string) error {
	if err := c.engine.RejectCall(ctx, peerID, reason); err != nil {
		return fmt.Errorf("reject call: %w", err)
	}
	log.Infof("rejected call from peer %s: %s", peerID, reason)
	return nil
}

// Hangup ends the active call. The session is discarded immediately rather
// than waiting for the engine's phase to settle, so the UI never lingers in
// a dead call.
func (c *Controller) Hangup(ctx context.Context) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.mu.Lock()
	if c.cur == nil {
		c.mu.Unlock()
		return ErrNoSession
	}
	c.mu.Unlock()

	err := c.engine.Hangup(ctx)

	if c.discard() {
		c.notify.CallPhaseChanged(PhaseEnded)
		c.notify.CallPhaseChanged(PhaseIdle)
	}

	if err != nil {
		return fmt.Errorf("hangup: %w", err)
	}
	return nil
}

// SetMuted toggles microphone capture on the active call.
func (c *Controller) SetMuted(ctx context.Context, muted bool) error {
	c.mu.Lock()
	if c.cur == nil {
		c.mu.Unlock()
		return ErrNoSession
	}
	c.mu.Unlock()

	if err := c.engine.SetMuted(ctx, muted); err != nil {
		return fmt.Errorf("set muted: %w", err)
	}

	c.mu.Lock()
	c.muted = muted
	c.mu.Unlock()
	return nil
}

// Muted reports the last mute state applied to the engine.
func (c *Controller) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// HandleRemoteEnd tears down the session after the remote side hung up.
func (c *Controller) HandleRemoteEnd() {
	if !c.discard() {
		return
	}

	log.Infof("call ended by remote peer")
	c.notify.CallPhaseChanged(PhaseEnded)
	c.notify.CallPhaseChanged(PhaseIdle)
}

// HandleRemoteReject handles the callee declining our outgoing call. Ignored
// unless an outgoing call is still being set up.
func (c *Controller) HandleRemoteReject(reason string) {
	c.mu.Lock()
	cur := c.cur
	relevant := cur != nil && cur.Direction == Outgoing &&
		(cur.Phase == PhaseCalling || cur.Phase == PhaseConnecting)
	c.mu.Unlock()
	if !relevant {
		return
	}
	if !c.discard() {
		return
	}

	log.Infof("call rejected by remote peer: %s", reason)
	c.notify.CallRejected(reason)
	c.notify.CallPhaseChanged(PhaseEnded)
	c.notify.CallPhaseChanged(PhaseIdle)
}

// Current returns a copy of the active session, or nil.
func (c *Controller) Current() *CallSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return nil
	}
	cp := *c.cur
	return &cp
}

// Active reports whether a call session exists.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur != nil
}

// Close stops all timers. The engine is not touched; callers hang up first
// if a call is live.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.discard()
}

// install stores the new session and starts the phase poll loop for it.
func (c *Controller) install(s *CallSession) {
	stop := make(chan struct{})
	c.mu.Lock()
	c.cur = s
	c.pollStop = stop
	c.muted = false
	c.mu.Unlock()
	go c.pollLoop(s.Token, stop)
}

// discard drops the session and stops its poll and clock loops. Reports
// whether a session was actually dropped, so concurrent teardown paths
// (user hangup racing a terminal poll) notify exactly once.
func (c *Controller) discard() bool {
	c.mu.Lock()
	dropped := c.cur != nil
	c.cur = nil
	if c.pollStop != nil {
		close(c.pollStop)
		c.pollStop = nil
	}
	if c.clockStop != nil {
		close(c.clockStop)
		c.clockStop = nil
	}
	c.mu.Unlock()
	return dropped
}

// pollLoop reconciles the engine's phase into the session at a fixed period.
// Poll errors are logged and skipped; the loop only exits when the session
// it was started for goes away.
func (c *Controller) pollLoop(token string, stop chan struct{}) {
	t := time.NewTicker(c.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-stop:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), util.ShortTimeout)
			phase, err := c.engine.CallState(ctx)
			cancel()
			if err != nil {
				log.Debugf("call state poll failed: %v", err)
				continue
			}
			if done := c.applyPoll(token, phase); done {
				return
			}
		}
	}
}

// applyPoll folds one polled phase into the session identified by token.
// Results for any other session are dropped. Returns true when the session
// reached a terminal phase and the poll loop should exit.
func (c *Controller) applyPoll(token string, phase Phase) bool {
	c.mu.Lock()
	cur := c.cur
	if cur == nil || cur.Token != token {
		c.mu.Unlock()
		return true
	}
	if phase == cur.Phase {
		c.mu.Unlock()
		return false
	}

	prev := cur.Phase
	cur.Phase = phase

	var startClock bool
	if phase == PhaseConnected && cur.ConnectedAt.IsZero() {
		cur.ConnectedAt = time.Now()
		startClock = true
	}
	c.mu.Unlock()

	log.Debugf("call phase %s -> %s", prev, phase)

	if phase.Terminal() {
		if c.discard() {
			c.notify.CallPhaseChanged(PhaseEnded)
			c.notify.CallPhaseChanged(PhaseIdle)
		}
		return true
	}

	c.notify.CallPhaseChanged(phase)

	if startClock {
		clockStop := make(chan struct{})
		c.mu.Lock()
		// re-check: the session may have been discarded while unlocked
		if c.cur == nil || c.cur.Token != token {
			c.mu.Unlock()
			return true
		}
		c.clockStop = clockStop
		c.mu.Unlock()
		go c.clockLoop(token, clockStop)
	}
	return false
}

// clockLoop emits the elapsed-time display once immediately and then every
// second while the session stays connected.
func (c *Controller) clockLoop(token string, stop chan struct{}) {
	tick := func() bool {
		c.mu.Lock()
		cur := c.cur
		if cur == nil || cur.Token != token {
			c.mu.Unlock()
			return false
		}
		secs := cur.Elapsed(time.Now())
		c.mu.Unlock()
		c.notify.ElapsedTick(FormatElapsed(secs))
		return true
	}

	if !tick() {
		return
	}

	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if !tick() {
				return
			}
		}
	}
}

// FormatElapsed renders whole seconds as MM:SS. Minutes keep counting past
// the hour (90 minutes shows as 90:00).
func FormatElapsed(secs int) string {
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}
