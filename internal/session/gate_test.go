package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newGateFixture(t *testing.T) (*Gate, *fakeEngine, *fakeNotifier, *Controller) {
	t.Helper()
	eng := &fakeEngine{}
	notify := newFakeNotifier()
	ctrl := New(eng, notify, 10*time.Millisecond)
	t.Cleanup(ctrl.Close)
	return NewGate(ctrl, eng, notify), eng, notify, ctrl
}

func rejections(eng *fakeEngine) []string {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	return append([]string(nil), eng.rejections...)
}

func TestOfferWhileInCallIsBusyRejected(t *testing.T) {
	gate, eng, notify, ctrl := newGateFixture(t)

	if err := ctrl.Start(context.Background(), "peer-a", "alice"); err != nil {
		t.Fatalf("start: %v", err)
	}

	gate.OnIncomingOffer(context.Background(), "peer-c", "carol", "sdp")

	got := rejections(eng)
	if len(got) != 1 || got[0] != "busy" {
		t.Fatalf("rejections = %v, want [busy]", got)
	}
	select {
	case u := <-notify.prompts:
		t.Fatalf("prompt raised for %s while busy", u)
	default:
	}
}

func TestOfferPromptAcceptFlow(t *testing.T) {
	gate, eng, notify, ctrl := newGateFixture(t)

	gate.OnIncomingOffer(context.Background(), "peer-b", "bob", "offer-sdp")

	select {
	case u := <-notify.prompts:
		if u != "bob" {
			t.Fatalf("prompt for %q, want bob", u)
		}
	case <-time.After(time.Second):
		t.Fatal("no prompt raised")
	}

	id := gate.Pending()
	if id == "" {
		t.Fatal("no pending prompt")
	}

	if err := gate.Accept(context.Background(), id); err != nil {
		t.Fatalf("accept: %v", err)
	}
	eng.mu.Lock()
	accepted := eng.accepted
	eng.mu.Unlock()
	if accepted != 1 {
		t.Fatalf("engine accepted %d times, want 1", accepted)
	}
	cur := ctrl.Current()
	if cur == nil || cur.Direction != Incoming || cur.PeerID != "peer-b" {
		t.Fatalf("unexpected session after accept: %+v", cur)
	}
	if gate.Pending() != "" {
		t.Fatal("prompt still pending after accept")
	}
}

func TestSecondOfferWhilePromptOutstanding(t *testing.T) {
	gate, eng, notify, _ := newGateFixture(t)

	gate.OnIncomingOffer(context.Background(), "peer-b", "bob", "sdp-b")
	<-notify.prompts

	gate.OnIncomingOffer(context.Background(), "peer-c", "carol", "sdp-c")

	got := rejections(eng)
	if len(got) != 1 || got[0] != "busy" {
		t.Fatalf("rejections = %v, want [busy]", got)
	}

	// the first prompt is still the live one
	id := gate.Pending()
	if id == "" {
		t.Fatal("first prompt lost")
	}
	if err := gate.Accept(context.Background(), id); err != nil {
		t.Fatalf("accept first prompt: %v", err)
	}
}

func TestPromptDecidedExactlyOnce(t *testing.T) {
	gate, eng, notify, _ := newGateFixture(t)

	gate.OnIncomingOffer(context.Background(), "peer-b", "bob", "sdp")
	<-notify.prompts
	id := gate.Pending()

	if err := gate.Reject(context.Background(), id, ""); err != nil {
		t.Fatalf("reject: %v", err)
	}
	got := rejections(eng)
	if len(got) != 1 || got[0] != "declined" {
		t.Fatalf("rejections = %v, want [declined]", got)
	}

	if err := gate.Accept(context.Background(), id); !errors.Is(err, ErrUnknownPrompt) {
		t.Fatalf("accept after reject = %v, want ErrUnknownPrompt", err)
	}
	if err := gate.Reject(context.Background(), id, ""); !errors.Is(err, ErrUnknownPrompt) {
		t.Fatalf("second reject = %v, want ErrUnknownPrompt", err)
	}
	if len(rejections(eng)) != 1 {
		t.Fatal("settled prompt reached the engine again")
	}
}

func TestCallEndedRetractsOutstandingPrompt(t *testing.T) {
	gate, _, notify, _ := newGateFixture(t)

	gate.OnIncomingOffer(context.Background(), "peer-b", "bob", "sdp")
	<-notify.prompts
	id := gate.Pending()

	gate.OnCallEnded()

	select {
	case got := <-notify.retracted:
		if got != id {
			t.Fatalf("retracted prompt %q, want %q", got, id)
		}
	case <-time.After(time.Second):
		t.Fatal("prompt not retracted")
	}

	if err := gate.Accept(context.Background(), id); !errors.Is(err, ErrUnknownPrompt) {
		t.Fatalf("accept after retract = %v, want ErrUnknownPrompt", err)
	}
}

// blockingAcceptEngine parks AcceptCall until released so tests can observe
// the window while an accept is still committing.
type blockingAcceptEngine struct {
	fakeEngine
	entered chan struct{}
	release chan struct{}
}

func (e *blockingAcceptEngine) AcceptCall(ctx context.Context, peerID, offerSDP string) error {
	e.entered <- struct{}{}
	<-e.release
	return e.fakeEngine.AcceptCall(ctx, peerID, offerSDP)
}

func TestOfferDuringAcceptCommitIsBusyRejected(t *testing.T) {
	eng := &blockingAcceptEngine{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	notify := newFakeNotifier()
	ctrl := New(eng, notify, 10*time.Millisecond)
	defer ctrl.Close()
	gate := NewGate(ctrl, eng, notify)

	gate.OnIncomingOffer(context.Background(), "peer-b", "bob", "sdp-b")
	<-notify.prompts
	id := gate.Pending()

	accepted := make(chan error, 1)
	go func() { accepted <- gate.Accept(context.Background(), id) }()
	<-eng.entered // accept is now mid-commit: prompt settled, no session yet

	gate.OnIncomingOffer(context.Background(), "peer-c", "carol", "sdp-c")

	select {
	case u := <-notify.prompts:
		t.Fatalf("prompt raised for %s during accept commit", u)
	default:
	}
	got := rejections(&eng.fakeEngine)
	if len(got) != 1 || got[0] != "busy" {
		t.Fatalf("rejections = %v, want [busy]", got)
	}

	close(eng.release)
	if err := <-accepted; err != nil {
		t.Fatalf("accept: %v", err)
	}
	if !ctrl.Active() {
		t.Fatal("no session after accept completed")
	}
}

func TestCallEndedWithoutPromptEndsSession(t *testing.T) {
	gate, _, notify, ctrl := newGateFixture(t)

	if err := ctrl.Start(context.Background(), "peer-a", "alice"); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitPhase(t, notify, PhaseCalling)

	gate.OnCallEnded()

	waitPhase(t, notify, PhaseEnded)
	waitPhase(t, notify, PhaseIdle)
	if ctrl.Active() {
		t.Fatal("session survived remote end")
	}
}
