// Package app wires the client together: config, logging, contact store,
// relay connection, call engine, session controller and reconnect watchdog.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/petervdpas/parla/internal/config"
	"github.com/petervdpas/parla/internal/connect"
	"github.com/petervdpas/parla/internal/contacts"
	"github.com/petervdpas/parla/internal/diag"
	"github.com/petervdpas/parla/internal/engine"
	"github.com/petervdpas/parla/internal/relay"
	"github.com/petervdpas/parla/internal/session"
	"github.com/petervdpas/parla/internal/util"
	"github.com/petervdpas/parla/internal/visualizer"
)

// Options configures a client run. Engine and Frontend default to the
// simulated engine and the console frontend when nil.
type Options struct {
	// DataDir holds the contact database and log file.
	DataDir string

	// CfgPath enables config hot reload when set.
	CfgPath string

	Cfg      config.Config
	Engine   session.Engine
	Frontend Frontend
}

// Run starts the client and blocks until ctx is done. The initial relay
// registration must succeed; later drops are handled by the watchdog.
func Run(ctx context.Context, opts Options) error {
	cfg := opts.Cfg
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	username := cfg.Identity.Username
	if username == "" {
		return errors.New("no username configured")
	}

	logRing := setupLogging(opts.DataDir, cfg.Log)

	store, err := contacts.Open(opts.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.ResetPresence(); err != nil {
		log.Printf("APP: presence reset failed: %v", err)
	}

	relayClient := relay.New(cfg.Signaling.ServerURL)
	relayClient.RegisterTimeout = cfg.Signaling.RegisterTimeout()
	defer relayClient.Close()

	eng := opts.Engine
	if eng == nil {
		eng = engine.NewStub(relayClient)
	}
	fe := opts.Frontend
	if fe == nil {
		fe = NewConsole()
	}

	viz := visualizer.New(cfg.Visualizer.Channels, cfg.Visualizer.FrameInterval(),
		cfg.Call.LevelPollInterval(), eng, fe.VisualizerFrame)
	defer viz.Close()
	viz.Start()

	notify := &notifier{fe: fe, viz: viz}
	ctrl := session.New(eng, notify, cfg.Call.PollInterval())
	defer ctrl.Close()
	gate := session.NewGate(ctrl, eng, notify)

	// identity may change on config reload; the watchdog reads it per attempt
	var identityMu sync.Mutex
	identity := func() string {
		identityMu.Lock()
		defer identityMu.Unlock()
		return username
	}

	watchdog := connect.New(cfg.Signaling.ReconnectInterval(), identity,
		func(ctx context.Context, name string) error {
			_, err := relayClient.ConnectAndRegister(ctx, name)
			return err
		},
		fe.ConnectivityChanged,
	)
	defer watchdog.Stop()

	// subscribe before connecting so no early event is missed
	events, cancelEvents := relayClient.Subscribe()
	defer cancelEvents()
	presence, cancelPresence := store.Subscribe()
	defer cancelPresence()

	peerID, err := relayClient.ConnectAndRegister(ctx, username)
	if err != nil {
		return fmt.Errorf("initial registration: %w", err)
	}
	log.Printf("APP: registered as %s (peer %s)", username, peerID)
	watchdog.SetConnected(true)
	fe.ConnectivityChanged(true)

	relayClient.StartHeartbeat(ctx, cfg.Signaling.HeartbeatInterval())

	if opts.CfgPath != "" {
		go func() {
			err := config.Watch(ctx, opts.CfgPath, func(next config.Config) {
				identityMu.Lock()
				if next.Identity.Username != "" && next.Identity.Username != username {
					username = next.Identity.Username
					log.Printf("APP: username changed to %s, applies on next reconnect", username)
				}
				identityMu.Unlock()
			})
			if err != nil {
				log.Printf("APP: config watch unavailable: %v", err)
			}
		}()
	}

	go func() {
		for ev := range presence {
			fe.ContactPresenceChanged(ev.PeerID, ev.Online)
		}
	}()

	log.Printf("APP: ready (%d log lines buffered)", logRing.Len())

	for {
		select {
		case <-ctx.Done():
			shutdown(ctrl)
			return nil

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			handleRelayEvent(ctx, ev, gate, watchdog, store)
		}
	}
}

func handleRelayEvent(ctx context.Context, ev relay.Event, gate *session.Gate, watchdog *connect.Watchdog, store *contacts.Store) {
	switch ev.Kind {
	case relay.EvIncomingOffer:
		gate.OnIncomingOffer(ctx, ev.PeerID, ev.Username, ev.SDP)

	case relay.EvCallRejected:
		gate.OnCallRejected(ev.Reason)

	case relay.EvCallEnded:
		gate.OnCallEnded()

	case relay.EvDisconnected:
		watchdog.OnDisconnected()

	case relay.EvContactOnline:
		if err := store.SetOnline(ev.PeerID, true); err != nil {
			log.Printf("APP: presence update failed: %v", err)
		}

	case relay.EvContactOffline:
		if err := store.SetOnline(ev.PeerID, false); err != nil {
			log.Printf("APP: presence update failed: %v", err)
		}

	case relay.EvUserFound:
		if err := store.Add(ev.PeerID, ev.Username); err != nil {
			log.Printf("APP: save contact failed: %v", err)
		}
		if ev.Online {
			_ = store.SetOnline(ev.PeerID, true)
		}

	case relay.EvUserNotFound:
		log.Printf("APP: user %q not found", ev.Username)

	case relay.EvServerError:
		log.Printf("APP: relay error %d: %s", ev.Code, ev.Message)

	case relay.EvAnswerReceived, relay.EvIceCandidate:
		// negotiation payloads are the engine's concern; the simulated
		// engine advances on its own and ignores them
	}
}

// shutdown ends a live call before the process exits so the remote side
// isn't left ringing.
func shutdown(ctrl *session.Controller) {
	if !ctrl.Active() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), util.ShortTimeout)
	defer cancel()
	if err := ctrl.Hangup(ctx); err != nil {
		log.Printf("APP: hangup on shutdown: %v", err)
	}
}

// setupLogging routes stdlib logging to stderr, the in-memory ring, and an
// optional rotating file. Package loggers (go-log) keep their own levels.
func setupLogging(dataDir string, cfg config.Log) *diag.LogBuffer {
	ring := diag.NewLogBuffer(cfg.RingSize)

	writers := []io.Writer{os.Stderr, ring}
	if cfg.File != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   util.ResolvePath(dataDir, cfg.File),
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     14, // days
			Compress:   true,
		})
	}
	log.SetOutput(io.MultiWriter(writers...))
	log.SetFlags(log.LstdFlags | log.Lmsgprefix)

	logging.SetAllLoggers(logging.LevelInfo)
	if lvl := os.Getenv("PARLA_LOG_LEVEL"); lvl != "" {
		if err := logging.SetLogLevel("*", lvl); err != nil {
			log.Printf("APP: bad PARLA_LOG_LEVEL %q: %v", lvl, err)
		}
	}

	return ring
}
