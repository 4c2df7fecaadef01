// Package relay implements the websocket client for the signaling relay.
// It owns registration, the keepalive heartbeat and the inbound event stream;
// call setup/teardown messages are sent on behalf of the call engine. The
// wire format itself belongs to the relay service.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/parla/internal/proto"
	"github.com/petervdpas/parla/internal/util"
)

var log = logging.Logger("relay")

// ErrNotConnected is returned by send operations while the control channel is down.
var ErrNotConnected = errors.New("relay: not connected")

// EventKind discriminates inbound relay events.
type EventKind int

const (
	EvIncomingOffer EventKind = iota + 1
	EvAnswerReceived
	EvIceCandidate
	EvCallRejected
	EvCallEnded
	EvContactOnline
	EvContactOffline
	EvUserFound
	EvUserNotFound
	EvServerError
	EvDisconnected
)

// Event is one inbound relay notification. PeerID names the remote party the
// event concerns; the remaining fields are populated per kind.
type Event struct {
	Kind      EventKind
	PeerID    string
	Username  string
	SDP       string
	Candidate string
	Reason    string
	Online    bool
	Code      int
	Message   string
}

// Client maintains the control-channel connection to the signaling relay.
// A Client survives reconnects: ConnectAndRegister may be called again after
// the connection drops, reusing the same subscriptions.
type Client struct {
	serverURL string

	// RegisterTimeout bounds the wait for the relay's registration response.
	RegisterTimeout time.Duration

	mu        sync.Mutex
	conn      *websocket.Conn
	writeMu   sync.Mutex
	connected bool
	peerID    string
	username  string
	regCh     chan regResult

	listenerMu sync.RWMutex
	listeners  map[chan Event]struct{}
}

type regResult struct {
	peerID string
	err    error
}

func New(serverURL string) *Client {
	return &Client{
		serverURL:       strings.TrimRight(strings.TrimSpace(serverURL), "/"),
		RegisterTimeout: util.DefaultRegisterTimeout,
		listeners:       make(map[chan Event]struct{}),
	}
}

// wsURL rewrites the configured base URL to the websocket endpoint.
func (c *Client) wsURL() (string, error) {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

// ConnectAndRegister dials the relay, registers the username and waits for
// the assigned peer ID. Any previous connection is torn down first, so the
// same call doubles as the reconnect path.
func (c *Client) ConnectAndRegister(ctx context.Context, username string) (string, error) {
	username, err := util.ValidateUsername(username)
	if err != nil {
		return "", err
	}

	wsURL, err := c.wsURL()
	if err != nil {
		return "", err
	}

	c.closeConn()

	log.Infof("connecting to signaling relay: %s", wsURL)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return "", fmt.Errorf("dial relay: %w", err)
	}

	regCh := make(chan regResult, 1)
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.username = username
	c.regCh = regCh
	c.mu.Unlock()

	go c.readLoop(conn)

	if err := c.send(proto.ClientMsg{Type: proto.TypeRegister, Username: username}); err != nil {
		c.closeConn()
		return "", err
	}

	select {
	case res := <-regCh:
		if res.err != nil {
			c.closeConn()
			return "", fmt.Errorf("register: %w", res.err)
		}
		log.Infof("registered as %s (peer %s)", username, res.peerID)
		return res.peerID, nil
	case <-time.After(c.RegisterTimeout):
		c.closeConn()
		return "", errors.New("register: timeout waiting for relay response")
	case <-ctx.Done():
		c.closeConn()
		return "", ctx.Err()
	}
}

// IsConnected reports whether the control channel is currently up.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// PeerID returns the identity assigned by the relay, or "" before registration.
func (c *Client) PeerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerID
}

// Username returns the last username handed to ConnectAndRegister. It stays
// set across disconnects — the watchdog reuses it for re-registration.
func (c *Client) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

// Subscribe returns a channel of inbound relay events. cancel releases the
// subscription; it is safe to call more than once.
func (c *Client) Subscribe() (ch chan Event, cancel func()) {
	ch = make(chan Event, 64)

	c.listenerMu.Lock()
	c.listeners[ch] = struct{}{}
	c.listenerMu.Unlock()

	cancel = func() {
		c.listenerMu.Lock()
		if _, ok := c.listeners[ch]; ok {
			delete(c.listeners, ch)
			close(ch)
		}
		c.listenerMu.Unlock()
	}
	return ch, cancel
}

// FindUser asks the relay to resolve a username to a peer ID and presence.
// The answer arrives as an EvUserFound or EvUserNotFound event.
func (c *Client) FindUser(target string) error {
	return c.send(proto.ClientMsg{
		Type:           proto.TypeFindUser,
		PeerID:         c.PeerID(),
		TargetUsername: target,
	})
}

// SendOffer forwards an SDP offer to the remote peer.
func (c *Client) SendOffer(toPeerID, sdp string) error {
	return c.send(proto.ClientMsg{
		Type:       proto.TypeOffer,
		FromPeerID: c.PeerID(),
		ToPeerID:   toPeerID,
		SDP:        sdp,
	})
}

// SendAnswer forwards an SDP answer to the remote peer.
func (c *Client) SendAnswer(toPeerID, sdp string) error {
	return c.send(proto.ClientMsg{
		Type:       proto.TypeAnswer,
		FromPeerID: c.PeerID(),
		ToPeerID:   toPeerID,
		SDP:        sdp,
	})
}

// SendIceCandidate forwards an ICE candidate to the remote peer.
func (c *Client) SendIceCandidate(toPeerID, candidate string) error {
	return c.send(proto.ClientMsg{
		Type:       proto.TypeIceCandidate,
		FromPeerID: c.PeerID(),
		ToPeerID:   toPeerID,
		Candidate:  candidate,
	})
}

// SendReject declines a call. reason may be empty.
func (c *Client) SendReject(toPeerID, reason string) error {
	return c.send(proto.ClientMsg{
		Type:       proto.TypeRejectCall,
		FromPeerID: c.PeerID(),
		ToPeerID:   toPeerID,
		Reason:     reason,
	})
}

// SendHangup ends the active call with the remote peer.
func (c *Client) SendHangup(toPeerID string) error {
	return c.send(proto.ClientMsg{
		Type:       proto.TypeHangup,
		FromPeerID: c.PeerID(),
		ToPeerID:   toPeerID,
	})
}

// StartHeartbeat sends keepalives at the given interval until ctx is done.
// Heartbeats are skipped (not fatal) while disconnected, so the loop survives
// reconnects driven by the watchdog.
func (c *Client) StartHeartbeat(ctx context.Context, interval time.Duration) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if !c.IsConnected() {
					continue
				}
				if err := c.send(proto.ClientMsg{Type: proto.TypeHeartbeat, PeerID: c.PeerID()}); err != nil {
					log.Warnf("heartbeat failed: %v", err)
				}
			}
		}
	}()
}

// Close tears down the connection. Idempotent; subscriptions stay registered
// so a later ConnectAndRegister resumes delivering events to them.
func (c *Client) Close() {
	c.closeConn()
}

func (c *Client) send(msg proto.ClientMsg) error {
	c.mu.Lock()
	conn := c.conn
	ok := c.connected
	c.mu.Unlock()
	if !ok || conn == nil {
		return ErrNotConnected
	}

	msg.TS = proto.NowMillis()

	c.writeMu.Lock()
	err := conn.WriteJSON(msg)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("relay send %s: %w", msg.Type, err)
	}
	return nil
}

// closeConn drops the current connection without emitting a disconnect event.
// Used for explicit shutdown and before re-dialing.
func (c *Client) closeConn() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// readLoop pumps inbound messages until the connection dies. On exit it
// emits EvDisconnected — but only if conn is still the active connection,
// so a replaced connection's loop winding down stays silent.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var msg proto.ServerMsg
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		c.dispatch(msg)
	}

	c.mu.Lock()
	stale := c.conn != conn
	if !stale {
		c.conn = nil
		c.connected = false
	}
	c.mu.Unlock()

	if !stale {
		log.Warnf("control channel lost")
		c.fanout(Event{Kind: EvDisconnected})
	}
}

// dispatch routes one relay message to the registration waiter or the event
// subscribers.
func (c *Client) dispatch(msg proto.ServerMsg) {
	switch msg.Type {
	case proto.TypeRegistered:
		c.mu.Lock()
		c.peerID = msg.PeerID
		reg := c.regCh
		c.regCh = nil
		c.mu.Unlock()
		if reg != nil {
			reg <- regResult{peerID: msg.PeerID}
		}

	case proto.TypeError:
		c.mu.Lock()
		reg := c.regCh
		c.regCh = nil
		c.mu.Unlock()
		if reg != nil {
			reg <- regResult{err: fmt.Errorf("relay error %d: %s", msg.Code, msg.Message)}
			return
		}
		c.fanout(Event{Kind: EvServerError, Code: msg.Code, Message: msg.Message})

	case proto.TypeUserFound:
		c.fanout(Event{Kind: EvUserFound, PeerID: msg.PeerID, Username: msg.Username, Online: msg.IsOnline})

	case proto.TypeUserNotFound:
		c.fanout(Event{Kind: EvUserNotFound, Username: msg.Username})

	case proto.TypeIncomingOffer:
		c.fanout(Event{Kind: EvIncomingOffer, PeerID: msg.FromPeerID, Username: msg.FromUsername, SDP: msg.SDP})

	case proto.TypeIncomingAnswer:
		c.fanout(Event{Kind: EvAnswerReceived, PeerID: msg.FromPeerID, SDP: msg.SDP})

	case proto.TypeIncomingIceCandidate:
		c.fanout(Event{Kind: EvIceCandidate, PeerID: msg.FromPeerID, Candidate: msg.Candidate})

	case proto.TypeCallRejected:
		c.fanout(Event{Kind: EvCallRejected, PeerID: msg.ByPeerID, Reason: msg.Reason})

	case proto.TypeCallEnded:
		c.fanout(Event{Kind: EvCallEnded, PeerID: msg.ByPeerID})

	case proto.TypeUserOnline:
		c.fanout(Event{Kind: EvContactOnline, PeerID: msg.PeerID, Online: true})

	case proto.TypeUserOffline:
		c.fanout(Event{Kind: EvContactOffline, PeerID: msg.PeerID})

	case proto.TypePong:
		// heartbeat response, nothing to do

	default:
		log.Debugf("ignoring unknown relay message type %q", msg.Type)
	}
}

func (c *Client) fanout(ev Event) {
	c.listenerMu.RLock()
	for ch := range c.listeners {
		select {
		case ch <- ev:
		default:
			// drop on slow subscriber
		}
	}
	c.listenerMu.RUnlock()
}
