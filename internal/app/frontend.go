package app

import (
	"log"

	"github.com/petervdpas/parla/internal/session"
	"github.com/petervdpas/parla/internal/visualizer"
)

// Frontend receives every user-facing event the client produces. A GUI
// shell implements this; Console below is the headless fallback.
type Frontend interface {
	CallPhaseChanged(p session.Phase)
	ElapsedTick(display string)
	CallRejected(reason string)
	IncomingCallPrompt(promptID, peerID, username string)
	IncomingCallRetracted(promptID string)
	VisualizerFrame(f visualizer.Frame)
	ConnectivityChanged(connected bool)
	ContactPresenceChanged(peerID string, online bool)
}

// Console logs events instead of rendering them. Visualizer frames arrive
// at frame rate, so only state flips are logged, not every frame.
type Console struct {
	lastViz visualizer.AgentState
}

func NewConsole() *Console {
	return &Console{lastViz: visualizer.StateIdle}
}

func (c *Console) CallPhaseChanged(p session.Phase) {
	log.Printf("UI: call phase %s", p)
}

func (c *Console) ElapsedTick(display string) {
	log.Printf("UI: elapsed %s", display)
}

func (c *Console) CallRejected(reason string) {
	log.Printf("UI: call rejected: %s", reason)
}

func (c *Console) IncomingCallPrompt(promptID, peerID, username string) {
	log.Printf("UI: incoming call from %s (%s), prompt %s", username, peerID, promptID)
}

func (c *Console) IncomingCallRetracted(promptID string) {
	log.Printf("UI: incoming call withdrawn, prompt %s", promptID)
}

func (c *Console) VisualizerFrame(f visualizer.Frame) {
	if f.State != c.lastViz {
		c.lastViz = f.State
		log.Printf("UI: visualizer %s", f.State)
	}
}

func (c *Console) ConnectivityChanged(connected bool) {
	if connected {
		log.Printf("UI: online")
	} else {
		log.Printf("UI: offline, reconnecting")
	}
}

func (c *Console) ContactPresenceChanged(peerID string, online bool) {
	log.Printf("UI: contact %s online=%v", peerID, online)
}

// notifier bridges session events to the frontend and keeps the visualizer
// mode in step with the call phase.
type notifier struct {
	fe  Frontend
	viz *visualizer.Adapter
}

func (n *notifier) CallPhaseChanged(p session.Phase) {
	switch p {
	case session.PhaseCalling, session.PhaseRinging, session.PhaseConnecting:
		// the phase may regress out of connected (renegotiation), and the
		// level poll only makes sense while media is flowing
		n.viz.StopLevelPoll()
		n.viz.SetAgentState(visualizer.StateConnecting)
	case session.PhaseConnected:
		n.viz.SetAgentState(visualizer.StateListening)
		n.viz.StartLevelPoll()
	case session.PhaseEnded, session.PhaseIdle:
		n.viz.StopLevelPoll()
		n.viz.SetAgentState(visualizer.StateIdle)
	}
	n.fe.CallPhaseChanged(p)
}

func (n *notifier) ElapsedTick(display string) { n.fe.ElapsedTick(display) }

func (n *notifier) CallRejected(reason string) { n.fe.CallRejected(reason) }

func (n *notifier) IncomingCallPrompt(promptID, peerID, username string) {
	n.fe.IncomingCallPrompt(promptID, peerID, username)
}

func (n *notifier) IncomingCallRetracted(promptID string) {
	n.fe.IncomingCallRetracted(promptID)
}
