package proto

import "time"

// Client → relay message types.
const (
	TypeRegister     = "register"
	TypeFindUser     = "find_user"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeIceCandidate = "ice_candidate"
	TypeRejectCall   = "reject_call"
	TypeHangup       = "hangup"
	TypeHeartbeat    = "heartbeat"
)

// Relay → client message types.
const (
	TypeRegistered           = "registered"
	TypeUserFound            = "user_found"
	TypeUserNotFound         = "user_not_found"
	TypeIncomingOffer        = "incoming_offer"
	TypeIncomingAnswer       = "incoming_answer"
	TypeIncomingIceCandidate = "incoming_ice_candidate"
	TypeCallRejected         = "call_rejected"
	TypeCallEnded            = "call_ended"
	TypeUserOnline           = "user_online"
	TypeUserOffline          = "user_offline"
	TypeError                = "error"
	TypePong                 = "pong"
)

// ClientMsg is the single outbound message shape. The relay dispatches on
// Type; unrelated fields stay empty and are omitted from the wire.
type ClientMsg struct {
	Type           string `json:"type"`
	Username       string `json:"username,omitempty"`
	PeerID         string `json:"peerId,omitempty"`
	TargetUsername string `json:"targetUsername,omitempty"`
	FromPeerID     string `json:"fromPeerId,omitempty"`
	ToPeerID       string `json:"toPeerId,omitempty"`
	SDP            string `json:"sdp,omitempty"`
	Candidate      string `json:"candidate,omitempty"`
	Reason         string `json:"reason,omitempty"`
	TS             int64  `json:"timestamp"`
}

// ServerMsg is the single inbound message shape, dispatched on Type.
type ServerMsg struct {
	Type         string `json:"type"`
	PeerID       string `json:"peerId,omitempty"`
	Username     string `json:"username,omitempty"`
	IsOnline     bool   `json:"isOnline,omitempty"`
	FromPeerID   string `json:"fromPeerId,omitempty"`
	FromUsername string `json:"fromUsername,omitempty"`
	ByPeerID     string `json:"byPeerId,omitempty"`
	SDP          string `json:"sdp,omitempty"`
	Candidate    string `json:"candidate,omitempty"`
	Reason       string `json:"reason,omitempty"`
	Code         int    `json:"code,omitempty"`
	Message      string `json:"message,omitempty"`
	TS           int64  `json:"timestamp,omitempty"`
}

func NowMillis() int64 { return time.Now().UnixMilli() }
