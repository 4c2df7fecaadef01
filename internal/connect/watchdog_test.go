package connect

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu       sync.Mutex
	attempts int
	failures int
	changes  []bool
	done     chan struct{}
}

func newRecorder(failBefore int) *recorder {
	return &recorder{failures: failBefore, done: make(chan struct{}, 4)}
}

func (r *recorder) register(ctx context.Context, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts++
	if r.attempts <= r.failures {
		return errors.New("relay unreachable")
	}
	return nil
}

func (r *recorder) onChange(connected bool) {
	r.mu.Lock()
	r.changes = append(r.changes, connected)
	r.mu.Unlock()
	if connected {
		r.done <- struct{}{}
	}
}

func (r *recorder) snapshot() (int, []bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts, append([]bool(nil), r.changes...)
}

func TestRetriesUntilSuccess(t *testing.T) {
	rec := newRecorder(3)
	w := New(5*time.Millisecond, func() string { return "alice" }, rec.register, rec.onChange)
	defer w.Stop()

	w.SetConnected(true)
	w.OnDisconnected()

	select {
	case <-rec.done:
	case <-time.After(2 * time.Second):
		t.Fatal("never reconnected")
	}

	attempts, changes := rec.snapshot()
	if attempts != 4 {
		t.Fatalf("attempts = %d, want 4 (3 failures + success)", attempts)
	}
	if len(changes) != 2 || changes[0] != false || changes[1] != true {
		t.Fatalf("changes = %v, want [false true]", changes)
	}
	if !w.Connected() {
		t.Fatal("watchdog not marked connected")
	}
	if w.RetryActive() {
		t.Fatal("retry loop still active after success")
	}
}

func TestDuplicateDisconnectIgnored(t *testing.T) {
	rec := newRecorder(1000) // never succeeds during the test
	w := New(5*time.Millisecond, func() string { return "alice" }, rec.register, rec.onChange)
	defer w.Stop()

	w.OnDisconnected()
	w.OnDisconnected()
	w.OnDisconnected()

	time.Sleep(30 * time.Millisecond)

	_, changes := rec.snapshot()
	offline := 0
	for _, c := range changes {
		if !c {
			offline++
		}
	}
	if offline != 1 {
		t.Fatalf("offline notifications = %d, want 1", offline)
	}
}

func TestEmptyIdentityEndsRetry(t *testing.T) {
	rec := newRecorder(0)
	w := New(5*time.Millisecond, func() string { return "" }, rec.register, rec.onChange)
	defer w.Stop()

	w.OnDisconnected()

	deadline := time.After(2 * time.Second)
	for w.RetryActive() {
		select {
		case <-deadline:
			t.Fatal("retry loop never ended")
		case <-time.After(5 * time.Millisecond):
		}
	}

	attempts, _ := rec.snapshot()
	if attempts != 0 {
		t.Fatalf("attempts = %d, want 0 with no identity", attempts)
	}
	if w.Connected() {
		t.Fatal("connected without registering")
	}
}

func TestStopIdempotent(t *testing.T) {
	rec := newRecorder(1000)
	w := New(5*time.Millisecond, func() string { return "alice" }, rec.register, rec.onChange)

	w.OnDisconnected()
	w.Stop()
	w.Stop()

	if w.RetryActive() {
		t.Fatal("retry still active after Stop")
	}
}
