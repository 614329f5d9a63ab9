package integration

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"liveclass/internal/app"
	"liveclass/internal/config"
	"liveclass/internal/testutil"
	"liveclass/pkg/types"
)

const waitTimeout = 3 * time.Second

type server struct {
	app  *app.Application
	addr string
}

// startServer runs the full application on a loopback port over a fresh
// sqlite database seeded with identities.
func startServer(t *testing.T, identities ...*types.Identity) *server {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "liveclass.db")

	ctx, cancel := context.WithCancel(context.Background())
	application, err := app.NewApplication(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)

	for _, identity := range identities {
		require.NoError(t, application.Store().SaveIdentity(ctx, identity))
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- application.Serve(ctx, listener) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("application did not shut down")
		}
	})

	return &server{app: application, addr: listener.Addr().String()}
}

func (s *server) url(path string) string {
	return "http://" + s.addr + path
}

func (s *server) getJSON(t *testing.T, path string, v interface{}) int {
	t.Helper()
	resp, err := http.Get(s.url(path))
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func handshake(identity *types.Identity) url.Values {
	q := url.Values{}
	q.Set("userId", identity.ID)
	q.Set("role", string(identity.Role))
	if identity.RegistrationNumber != "" {
		q.Set("registrationNumber", identity.RegistrationNumber)
	}
	return q
}

// dial opens a websocket with the given handshake query. The response is
// returned so rejected handshakes can be inspected.
func (s *server) dial(q url.Values) (*websocket.Conn, *http.Response, error) {
	u := url.URL{Scheme: "ws", Host: s.addr, Path: "/ws", RawQuery: q.Encode()}
	return websocket.DefaultDialer.Dial(u.String(), nil)
}

// client is a test websocket client. It answers heartbeats, routes acks
// to request and queues every other event.
type client struct {
	t    *testing.T
	conn *websocket.Conn

	writeMu sync.Mutex
	nextAck int64
	acks    chan types.Envelope
	events  chan types.Envelope
	closed  chan struct{}
}

func (s *server) connect(t *testing.T, identity *types.Identity) *client {
	t.Helper()

	conn, resp, err := s.dial(handshake(identity))
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	c := &client{
		t:      t,
		conn:   conn,
		acks:   make(chan types.Envelope, 16),
		events: make(chan types.Envelope, 64),
		closed: make(chan struct{}),
	}
	go c.readLoop()
	t.Cleanup(func() { _ = conn.Close() })
	return c
}

func (c *client) readLoop() {
	defer close(c.closed)
	for {
		var envelope types.Envelope
		if err := c.conn.ReadJSON(&envelope); err != nil {
			return
		}
		switch envelope.Event {
		case types.EventAck:
			c.acks <- envelope
		case types.EventHeartbeat:
			_ = c.write(types.OutboundEnvelope{Event: types.EventHeartbeatAck})
		default:
			c.events <- envelope
		}
	}
}

func (c *client) write(envelope types.OutboundEnvelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(envelope)
}

// request sends event with an ack id and waits for the reply.
func (c *client) request(event string, data interface{}) *types.Ack {
	c.t.Helper()

	c.writeMu.Lock()
	c.nextAck++
	id := c.nextAck
	err := c.conn.WriteJSON(types.OutboundEnvelope{Event: event, Ack: &id, Data: data})
	c.writeMu.Unlock()
	require.NoError(c.t, err)

	select {
	case envelope := <-c.acks:
		require.NotNil(c.t, envelope.Ack)
		require.Equal(c.t, id, *envelope.Ack)
		var ack types.Ack
		require.NoError(c.t, json.Unmarshal(envelope.Data, &ack))
		return &ack
	case <-time.After(waitTimeout):
		c.t.Fatalf("no ack for %s", event)
		return nil
	}
}

// expect skips events until one named event arrives and decodes it into v.
func (c *client) expect(event string, v interface{}) {
	c.t.Helper()

	deadline := time.After(waitTimeout)
	for {
		select {
		case envelope := <-c.events:
			if envelope.Event != event {
				continue
			}
			if v != nil {
				require.NoError(c.t, json.Unmarshal(envelope.Data, v))
			}
			return
		case <-deadline:
			c.t.Fatalf("timed out waiting for %s", event)
		}
	}
}

// expectClosed waits for the server to end the socket.
func (c *client) expectClosed() {
	c.t.Helper()
	select {
	case <-c.closed:
	case <-time.After(waitTimeout):
		c.t.Fatal("socket was not closed")
	}
}

var (
	student    = testutil.Student("S1")
	student2   = testutil.Student("S2")
	lecturer   = testutil.Lecturer("L1")
	headOfDept = testutil.DepartmentHead("H1")
)
