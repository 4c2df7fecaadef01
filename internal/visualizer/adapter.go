// Package visualizer converts engine audio levels and call state into
// per-channel intensity frames for the frontend's bar animation.
package visualizer

import (
	"context"
	"math"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/parla/internal/util"
)

var log = logging.Logger("visualizer")

// AgentState selects the animation mode of the visualizer.
type AgentState int

const (
	StateConnecting AgentState = iota
	StateListening
	StateSpeaking
	StateThinking
	StateIdle
)

func (s AgentState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateSpeaking:
		return "speaking"
	case StateThinking:
		return "thinking"
	default:
		return "idle"
	}
}

// Frame is one rendered animation step. Intensities holds one value in
// [0,1] per channel; Active is the index of the highlighted channel for
// sweep animations, or -1 when no channel is highlighted.
type Frame struct {
	State       AgentState
	Intensities []float64
	Active      int
}

// LevelSource supplies audio levels, typically the call engine.
type LevelSource interface {
	AudioLevels(ctx context.Context) (in, out float64, err error)
}

// Intensity floor so bars stay faintly visible when the line is silent.
const idleFloor = 0.08

// speakThreshold is the outbound level above which the adapter flips from
// listening to speaking.
const speakThreshold = 0.08

// Adapter runs the frame loop and, while a call is connected, the level
// poll that feeds it. sink is called from the frame goroutine and must not
// block.
type Adapter struct {
	channels      int
	frameInterval time.Duration
	levelInterval time.Duration
	source        LevelSource
	sink          func(Frame)

	// fixed per-channel phase offsets so the bars never move in lockstep
	phases []float64
	start  time.Time

	mu          sync.Mutex
	state       AgentState
	stateSince  time.Time
	level       float64
	active      int
	lastAdvance time.Time
	frameStop   chan struct{}
	levelStop   chan struct{}
	closed      bool
}

func New(channels int, frameInterval, levelInterval time.Duration, source LevelSource, sink func(Frame)) *Adapter {
	if channels < 1 {
		channels = 1
	}
	if frameInterval <= 0 {
		frameInterval = time.Second / 60
	}
	if levelInterval <= 0 {
		levelInterval = 50 * time.Millisecond
	}

	phases := make([]float64, channels)
	for i := range phases {
		phases[i] = 2 * math.Pi * float64(i) / float64(channels)
	}

	return &Adapter{
		channels:      channels,
		frameInterval: frameInterval,
		levelInterval: levelInterval,
		source:        source,
		sink:          sink,
		phases:        phases,
		start:         time.Now(),
		state:         StateIdle,
		stateSince:    time.Now(),
	}
}

// SetAgentState switches animation mode. Setting the same state again is a
// no-op so repeated phase notifications don't restart the animation.
func (a *Adapter) SetAgentState(s AgentState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s == a.state {
		return
	}
	a.state = s
	a.stateSince = time.Now()
	a.active = 0
	a.lastAdvance = time.Time{}
}

// State returns the current animation mode.
func (a *Adapter) State() AgentState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// UpdateVolume feeds a new audio level in [0,1] into the animation.
func (a *Adapter) UpdateVolume(level float64) {
	if level < 0 {
		level = 0
	} else if level > 1 {
		level = 1
	}
	a.mu.Lock()
	a.level = level
	a.mu.Unlock()
}

// Start launches the frame loop. Frames keep flowing until Close.
func (a *Adapter) Start() {
	a.mu.Lock()
	if a.closed || a.frameStop != nil {
		a.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	a.frameStop = stop
	a.mu.Unlock()

	go a.frameLoop(stop)
}

// StartLevelPoll begins polling the level source, used while a call is
// connected. Poll errors are skipped; the animation just coasts on the last
// level.
func (a *Adapter) StartLevelPoll() {
	a.mu.Lock()
	if a.closed || a.levelStop != nil {
		a.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	a.levelStop = stop
	a.mu.Unlock()

	go a.levelLoop(stop)
}

// StopLevelPoll stops the level poll and drops the level back to silence.
func (a *Adapter) StopLevelPoll() {
	a.mu.Lock()
	if a.levelStop != nil {
		close(a.levelStop)
		a.levelStop = nil
	}
	a.level = 0
	a.mu.Unlock()
}

// Close stops both loops. Idempotent.
func (a *Adapter) Close() {
	a.mu.Lock()
	a.closed = true
	if a.frameStop != nil {
		close(a.frameStop)
		a.frameStop = nil
	}
	if a.levelStop != nil {
		close(a.levelStop)
		a.levelStop = nil
	}
	a.mu.Unlock()
}

func (a *Adapter) frameLoop(stop chan struct{}) {
	t := time.NewTicker(a.frameInterval)
	defer t.Stop()

	for {
		select {
		case <-stop:
			return
		case <-t.C:
			a.sink(a.renderFrame(time.Now()))
		}
	}
}

// renderFrame computes one animation step: advance the highlight according
// to the state's cadence, then modulate the level into per-channel bars.
func (a *Adapter) renderFrame(now time.Time) Frame {
	a.mu.Lock()

	cadence := a.cadenceLocked()
	active := -1
	if cadence > 0 {
		if a.lastAdvance.IsZero() || now.Sub(a.lastAdvance) >= cadence {
			if !a.lastAdvance.IsZero() {
				a.active = (a.active + 1) % a.channels
			}
			a.lastAdvance = now
		}
		active = a.active
	}

	state := a.state
	level := a.level
	a.mu.Unlock()

	t := now.Sub(a.start).Seconds()
	bars := make([]float64, a.channels)
	for i := range bars {
		if level < 0.01 {
			bars[i] = idleFloor
			continue
		}
		w := 0.5 + 0.5*math.Sin(2*math.Pi*1.5*t+a.phases[i])
		bars[i] = idleFloor + (1-idleFloor)*level*w
	}

	return Frame{State: state, Intensities: bars, Active: active}
}

// cadenceLocked returns the highlight advance period for the current state.
// Zero means no highlight sweep.
func (a *Adapter) cadenceLocked() time.Duration {
	switch a.state {
	case StateConnecting:
		// one full sweep every two seconds regardless of channel count
		return 2 * time.Second / time.Duration(a.channels)
	case StateListening:
		return 500 * time.Millisecond
	default:
		return 0
	}
}

func (a *Adapter) levelLoop(stop chan struct{}) {
	t := time.NewTicker(a.levelInterval)
	defer t.Stop()

	for {
		select {
		case <-stop:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), util.ShortTimeout)
			in, out, err := a.source.AudioLevels(ctx)
			cancel()
			if err != nil {
				log.Debugf("level poll failed: %v", err)
				continue
			}

			a.UpdateVolume(math.Max(in, out))

			// flip between listening and speaking based on our own level
			a.mu.Lock()
			switch {
			case a.state == StateListening && out > speakThreshold:
				a.state = StateSpeaking
				a.stateSince = time.Now()
			case a.state == StateSpeaking && out <= speakThreshold:
				a.state = StateListening
				a.stateSince = time.Now()
			}
			a.mu.Unlock()
		}
	}
}
