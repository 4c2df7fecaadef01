// Package connect keeps the signaling connection alive. When the control
// channel drops, the Watchdog retries registration at a fixed interval until
// it succeeds; there is no backoff and no attempt limit.
package connect

import (
	"context"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("connect")

// Watchdog owns the online/offline state and the reconnect loop. identity
// supplies the username to re-register; an empty identity (user logged out)
// ends the retry loop. register performs one connection attempt. onChange is
// called with the new connectivity state, never twice in a row with the same
// value from the watchdog's own transitions.
type Watchdog struct {
	interval time.Duration
	identity func() string
	register func(ctx context.Context, username string) error
	onChange func(connected bool)

	mu        sync.Mutex
	connected bool
	stopRetry chan struct{}
}

func New(interval time.Duration, identity func() string, register func(ctx context.Context, username string) error, onChange func(bool)) *Watchdog {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Watchdog{
		interval: interval,
		identity: identity,
		register: register,
		onChange: onChange,
	}
}

// SetConnected records connectivity established outside the retry loop
// (the initial login) so a later drop is recognized as a transition.
func (w *Watchdog) SetConnected(ok bool) {
	w.mu.Lock()
	w.connected = ok
	w.mu.Unlock()
}

// Connected reports the current connectivity state.
func (w *Watchdog) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected
}

// RetryActive reports whether a reconnect loop is running.
func (w *Watchdog) RetryActive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopRetry != nil
}

// OnDisconnected marks the client offline and starts the retry loop. A
// second disconnect signal while a loop is already running is ignored, so
// there is never more than one loop.
func (w *Watchdog) OnDisconnected() {
	w.mu.Lock()
	if w.stopRetry != nil {
		w.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	w.stopRetry = stop
	w.connected = false
	w.mu.Unlock()

	log.Warnf("connection lost, retrying every %s", w.interval)
	w.onChange(false)
	go w.retryLoop(stop)
}

// Stop cancels any running retry loop. Idempotent.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	if w.stopRetry != nil {
		close(w.stopRetry)
		w.stopRetry = nil
	}
	w.mu.Unlock()
}

func (w *Watchdog) retryLoop(stop chan struct{}) {
	t := time.NewTicker(w.interval)
	defer t.Stop()

	for {
		select {
		case <-stop:
			return
		case <-t.C:
			username := w.identity()
			if username == "" {
				// logged out mid-retry, nothing to reconnect as
				log.Infof("no identity, ending reconnect attempts")
				w.finish(stop)
				return
			}

			ctx, cancel := context.WithTimeout(context.Background(), w.interval*4)
			err := w.register(ctx, username)
			cancel()
			if err != nil {
				log.Debugf("reconnect attempt failed: %v", err)
				continue
			}

			w.mu.Lock()
			// Stop may have raced the successful attempt
			if w.stopRetry != stop {
				w.mu.Unlock()
				return
			}
			w.stopRetry = nil
			w.connected = true
			w.mu.Unlock()

			log.Infof("reconnected as %s", username)
			w.onChange(true)
			return
		}
	}
}

// finish clears the loop's stop channel without closing it (the loop itself
// is exiting).
func (w *Watchdog) finish(stop chan struct{}) {
	w.mu.Lock()
	if w.stopRetry == stop {
		w.stopRetry = nil
	}
	w.mu.Unlock()
}
