package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/petervdpas/parla/internal/util"
)

type Config struct {
	Identity   Identity   `json:"identity"`
	Signaling  Signaling  `json:"signaling"`
	Call       Call       `json:"call"`
	Visualizer Visualizer `json:"visualizer"`
	Log        Log        `json:"log"`
}

type Identity struct {
	// Username registered with the signaling relay on login.
	Username string `json:"username"`
}

type Signaling struct {
	// Relay base URL. http/https is rewritten to ws/wss for the control channel.
	ServerURL string `json:"server_url"`

	// Fixed reconnect interval after the control channel drops.
	ReconnectSec int `json:"reconnect_seconds"`

	// Keepalive heartbeat interval while connected.
	HeartbeatSec int `json:"heartbeat_seconds"`

	// How long to wait for the relay's registration response.
	RegisterTimeoutSec int `json:"register_timeout_seconds"`
}

type Call struct {
	// Engine phase reconciliation poll period.
	PollMs int `json:"poll_ms"`

	// Audio level poll period while connected.
	LevelPollMs int `json:"level_poll_ms"`
}

type Visualizer struct {
	// Number of intensity channels (bars) driven per frame.
	Channels int `json:"channels"`

	// Target frame rate for the idle/highlight animation.
	FrameRateHz int `json:"frame_rate_hz"`
}

type Log struct {
	// Optional rotating log file, relative to the peer directory.
	File string `json:"file"`

	// In-memory log ring size for diagnostics views.
	RingSize int `json:"ring_size"`
}

func Default() Config {
	return Config{
		Identity: Identity{},
		Signaling: Signaling{
			ServerURL:          "wss://relay.parla.example",
			ReconnectSec:       3,
			HeartbeatSec:       30,
			RegisterTimeoutSec: 10,
		},
		Call: Call{
			PollMs:      500,
			LevelPollMs: 50,
		},
		Visualizer: Visualizer{
			Channels:    5,
			FrameRateHz: 60,
		},
		Log: Log{
			File:     "",
			RingSize: 800,
		},
	}
}

func (c *Config) Validate() error {
	// Identity (username may be empty until first login, but if set it must be valid)
	if c.Identity.Username != "" {
		if _, err := util.ValidateUsername(c.Identity.Username); err != nil {
			return fmt.Errorf("identity.username: %w", err)
		}
	}

	// Signaling
	raw := strings.TrimSpace(c.Signaling.ServerURL)
	if raw == "" {
		return errors.New("signaling.server_url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("signaling.server_url: %v", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return errors.New("signaling.server_url scheme must be ws, wss, http or https")
	}
	if u.Host == "" {
		return errors.New("signaling.server_url is missing a host")
	}
	if c.Signaling.ReconnectSec <= 0 {
		return errors.New("signaling.reconnect_seconds must be > 0")
	}
	if c.Signaling.HeartbeatSec <= 0 {
		return errors.New("signaling.heartbeat_seconds must be > 0")
	}
	if c.Signaling.RegisterTimeoutSec <= 0 {
		return errors.New("signaling.register_timeout_seconds must be > 0")
	}

	// Call timing
	if c.Call.PollMs < 50 || c.Call.PollMs > 10000 {
		return errors.New("call.poll_ms must be 50..10000")
	}
	if c.Call.LevelPollMs < 10 || c.Call.LevelPollMs > 1000 {
		return errors.New("call.level_poll_ms must be 10..1000")
	}

	// Visualizer
	if c.Visualizer.Channels < 1 || c.Visualizer.Channels > 64 {
		return errors.New("visualizer.channels must be 1..64")
	}
	if c.Visualizer.FrameRateHz < 1 || c.Visualizer.FrameRateHz > 120 {
		return errors.New("visualizer.frame_rate_hz must be 1..120")
	}

	// Log
	if c.Log.RingSize <= 0 {
		return errors.New("log.ring_size must be > 0")
	}

	return nil
}

// Duration accessors so callers don't repeat the unit conversions.

func (s Signaling) ReconnectInterval() time.Duration {
	return time.Duration(s.ReconnectSec) * time.Second
}

func (s Signaling) HeartbeatInterval() time.Duration {
	return time.Duration(s.HeartbeatSec) * time.Second
}

func (s Signaling) RegisterTimeout() time.Duration {
	return time.Duration(s.RegisterTimeoutSec) * time.Second
}

func (c Call) PollInterval() time.Duration {
	return time.Duration(c.PollMs) * time.Millisecond
}

func (c Call) LevelPollInterval() time.Duration {
	return time.Duration(c.LevelPollMs) * time.Millisecond
}

func (v Visualizer) FrameInterval() time.Duration {
	return time.Second / time.Duration(v.FrameRateHz)
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
