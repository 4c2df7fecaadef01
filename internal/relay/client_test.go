package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/petervdpas/parla/internal/proto"
)

// testRelay is a minimal in-process relay: it registers the first client
// and lets the test push server messages and inspect client messages.
type testRelay struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conn     *websocket.Conn
	received []proto.ClientMsg
	gotMsg   chan proto.ClientMsg
}

func newTestRelay(t *testing.T) *testRelay {
	t.Helper()
	r := &testRelay{gotMsg: make(chan proto.ClientMsg, 32)}
	r.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/ws" {
			http.NotFound(w, req)
			return
		}
		conn, err := r.upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		r.mu.Lock()
		r.conn = conn
		r.mu.Unlock()

		for {
			var msg proto.ClientMsg
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type == proto.TypeRegister {
				_ = conn.WriteJSON(proto.ServerMsg{
					Type:     proto.TypeRegistered,
					PeerID:   "peer-123",
					Username: msg.Username,
				})
			}
			r.mu.Lock()
			r.received = append(r.received, msg)
			r.mu.Unlock()
			r.gotMsg <- msg
		}
	}))
	t.Cleanup(r.srv.Close)
	return r
}

func (r *testRelay) push(t *testing.T, msg proto.ServerMsg) {
	t.Helper()
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		t.Fatal("no client connected")
	}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("push: %v", err)
	}
}

func (r *testRelay) dropClient() {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (r *testRelay) waitFor(t *testing.T, typ string) proto.ClientMsg {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-r.gotMsg:
			if msg.Type == typ {
				return msg
			}
		case <-deadline:
			t.Fatalf("relay never received %q", typ)
		}
	}
}

func waitEvent(t *testing.T, ch chan Event, kind EventKind) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("no event of kind %d", kind)
		}
	}
}

func TestConnectAndRegister(t *testing.T) {
	r := newTestRelay(t)
	c := New(r.srv.URL)
	defer c.Close()

	peerID, err := c.ConnectAndRegister(context.Background(), "alice")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if peerID != "peer-123" {
		t.Fatalf("peerID = %q", peerID)
	}
	if !c.IsConnected() || c.PeerID() != "peer-123" || c.Username() != "alice" {
		t.Fatal("client state not updated after registration")
	}
}

func TestRegisterRejectsBadUsername(t *testing.T) {
	c := New("ws://localhost:1")
	if _, err := c.ConnectAndRegister(context.Background(), "has space"); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestIncomingOfferAndReject(t *testing.T) {
	r := newTestRelay(t)
	c := New(r.srv.URL)
	defer c.Close()

	events, cancel := c.Subscribe()
	defer cancel()

	if _, err := c.ConnectAndRegister(context.Background(), "alice"); err != nil {
		t.Fatalf("register: %v", err)
	}

	r.push(t, proto.ServerMsg{
		Type:         proto.TypeIncomingOffer,
		FromPeerID:   "peer-bob",
		FromUsername: "bob",
		SDP:          "offer-sdp",
	})

	ev := waitEvent(t, events, EvIncomingOffer)
	if ev.PeerID != "peer-bob" || ev.Username != "bob" || ev.SDP != "offer-sdp" {
		t.Fatalf("unexpected offer event: %+v", ev)
	}

	if err := c.SendReject("peer-bob", "busy"); err != nil {
		t.Fatalf("send reject: %v", err)
	}
	msg := r.waitFor(t, proto.TypeRejectCall)
	if msg.ToPeerID != "peer-bob" || msg.Reason != "busy" || msg.FromPeerID != "peer-123" {
		t.Fatalf("unexpected reject on the wire: %+v", msg)
	}
}

func TestDisconnectEmitsEvent(t *testing.T) {
	r := newTestRelay(t)
	c := New(r.srv.URL)
	defer c.Close()

	events, cancel := c.Subscribe()
	defer cancel()

	if _, err := c.ConnectAndRegister(context.Background(), "alice"); err != nil {
		t.Fatalf("register: %v", err)
	}

	r.dropClient()

	waitEvent(t, events, EvDisconnected)
	if c.IsConnected() {
		t.Fatal("still marked connected after drop")
	}
	if err := c.SendHangup("peer-bob"); err != ErrNotConnected {
		t.Fatalf("send while down = %v, want ErrNotConnected", err)
	}
}

func TestReconnectReusesSubscription(t *testing.T) {
	r := newTestRelay(t)
	c := New(r.srv.URL)
	defer c.Close()

	events, cancel := c.Subscribe()
	defer cancel()

	if _, err := c.ConnectAndRegister(context.Background(), "alice"); err != nil {
		t.Fatalf("register: %v", err)
	}
	r.dropClient()
	waitEvent(t, events, EvDisconnected)

	if _, err := c.ConnectAndRegister(context.Background(), "alice"); err != nil {
		t.Fatalf("re-register: %v", err)
	}

	r.push(t, proto.ServerMsg{Type: proto.TypeCallEnded, ByPeerID: "peer-bob"})
	ev := waitEvent(t, events, EvCallEnded)
	if ev.PeerID != "peer-bob" {
		t.Fatalf("unexpected event after reconnect: %+v", ev)
	}
}

func TestExplicitCloseIsSilent(t *testing.T) {
	r := newTestRelay(t)
	c := New(r.srv.URL)

	events, cancel := c.Subscribe()
	defer cancel()

	if _, err := c.ConnectAndRegister(context.Background(), "alice"); err != nil {
		t.Fatalf("register: %v", err)
	}

	c.Close()
	c.Close()

	select {
	case ev := <-events:
		if ev.Kind == EvDisconnected {
			t.Fatal("explicit close must not look like a connection drop")
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWSURLRewrite(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"http://relay.example", "ws://relay.example/ws"},
		{"https://relay.example", "wss://relay.example/ws"},
		{"wss://relay.example", "wss://relay.example/ws"},
		{"https://relay.example/base/", "wss://relay.example/base/ws"},
	}
	for _, tc := range cases {
		c := New(tc.in)
		got, err := c.wsURL()
		if err != nil {
			t.Errorf("wsURL(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("wsURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	if _, err := New("ftp://x").wsURL(); err == nil {
		t.Error("expected error for unsupported scheme")
	}
}
