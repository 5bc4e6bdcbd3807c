package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/officeverse/internal/channel"
	"github.com/cory-johannsen/officeverse/internal/channel/chat"
	"github.com/cory-johannsen/officeverse/internal/channel/presence"
	"github.com/cory-johannsen/officeverse/internal/config"
	"github.com/cory-johannsen/officeverse/internal/registry"
	"github.com/cory-johannsen/officeverse/internal/testutil"
)

const wait = 2 * time.Second

func testConfig() config.WebSocketConfig {
	return config.WebSocketConfig{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		MaxMessageSize:  4096,
		OutboxSize:      8,
		WriteTimeout:    time.Second,
	}
}

// echoHandler replies with the frame, panics on "panic" and counts lifecycle calls.
type echoHandler struct {
	connects    atomic.Int32
	disconnects atomic.Int32
}

func (h *echoHandler) Connect(registry.Peer) { h.connects.Add(1) }

func (h *echoHandler) HandleMessage(_ context.Context, peer registry.Peer, frame []byte) channel.Outcome {
	if string(frame) == "panic" {
		panic("bad frame")
	}
	_ = peer.Send(append([]byte("echo:"), frame...))
	return channel.OutcomeHandled
}

func (h *echoHandler) Disconnect(registry.Peer) { h.disconnects.Add(1) }

func newTestServer(t *testing.T, cfg config.WebSocketConfig, routes map[string]channel.Handler) (*Server, *httptest.Server) {
	t.Helper()
	ws := NewServer(cfg, zaptest.NewLogger(t))
	mux := http.NewServeMux()
	for path, h := range routes {
		mux.Handle(path, ws.Handler(strings.TrimPrefix(path, "/"), h))
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		ws.Shutdown()
		srv.Close()
	})
	return ws, srv
}

func TestServer_EchoAndLifecycle(t *testing.T) {
	h := &echoHandler{}
	ws, srv := newTestServer(t, testConfig(), map[string]channel.Handler{"/echo": h})

	c := testutil.DialWS(t, srv, "/echo")
	c.Send("hello")
	assert.Equal(t, "echo:hello", c.Read(wait))
	assert.Equal(t, int32(1), h.connects.Load())
	assert.Equal(t, 1, ws.Len())

	c.Close()
	assert.Eventually(t, func() bool { return h.disconnects.Load() == 1 }, wait, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return ws.Len() == 0 }, wait, 5*time.Millisecond)
}

func TestServer_HandlerPanicKeepsConnection(t *testing.T) {
	h := &echoHandler{}
	_, srv := newTestServer(t, testConfig(), map[string]channel.Handler{"/echo": h})

	c := testutil.DialWS(t, srv, "/echo")
	c.Send("panic")
	c.Send("still here")
	assert.Equal(t, "echo:still here", c.Read(wait))
	assert.Equal(t, int32(0), h.disconnects.Load())
}

func TestServer_OversizedFrameClosesConnection(t *testing.T) {
	h := &echoHandler{}
	cfg := testConfig()
	cfg.MaxMessageSize = 16
	_, srv := newTestServer(t, cfg, map[string]channel.Handler{"/echo": h})

	c := testutil.DialWS(t, srv, "/echo")
	c.Send(strings.Repeat("x", 64))
	c.ExpectClosed(wait)
	assert.Eventually(t, func() bool { return h.disconnects.Load() == 1 }, wait, 5*time.Millisecond)
}

func TestServer_RejectsDisallowedOrigin(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedOrigins = []string{"http://office.example"}
	_, srv := newTestServer(t, cfg, map[string]channel.Handler{"/echo": &echoHandler{}})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/echo"
	_, resp, err := gws.DefaultDialer.Dial(url, http.Header{"Origin": []string{"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := gws.DefaultDialer.Dial(url, http.Header{"Origin": []string{"http://office.example"}})
	require.NoError(t, err)
	conn.Close()
}

func TestServer_ShutdownClosesClients(t *testing.T) {
	h := &echoHandler{}
	ws, srv := newTestServer(t, testConfig(), map[string]channel.Handler{"/echo": h})

	a := testutil.DialWS(t, srv, "/echo")
	b := testutil.DialWS(t, srv, "/echo")
	require.Eventually(t, func() bool { return ws.Len() == 2 }, wait, 5*time.Millisecond)

	ws.Shutdown()
	a.ExpectClosed(wait)
	b.ExpectClosed(wait)
	assert.Equal(t, int32(2), h.disconnects.Load())
}

func TestServer_PresenceBroadcastAcrossConnections(t *testing.T) {
	p := presence.NewHandler(zaptest.NewLogger(t), presence.Options{})
	_, srv := newTestServer(t, testConfig(), map[string]channel.Handler{"/movement": p})

	a := testutil.DialWS(t, srv, "/movement")
	b := testutil.DialWS(t, srv, "/movement")

	a.Send("r1:alice:1:1")
	a.ReadUntil("Broadcast:alice", wait)
	require.Eventually(t, func() bool { return len(p.MembersOf("r1")) == 1 }, wait, 5*time.Millisecond)

	b.Send("r1:bob:5:6:Bob")
	assert.Equal(t, "Broadcast:bob:5:6:Bob:0xffffff:idle:0", a.ReadUntil("bob", wait))

	b.Close()
	assert.Equal(t, "PlayerLeft:bob", a.ReadUntil("PlayerLeft", wait))
}

func TestServer_ChatPrivateAcrossConnections(t *testing.T) {
	c := chat.NewHandler(zaptest.NewLogger(t))
	_, srv := newTestServer(t, testConfig(), map[string]channel.Handler{"/chat": c})

	alice := testutil.DialWS(t, srv, "/chat")
	bob := testutil.DialWS(t, srv, "/chat")

	alice.Send("REGISTER:r1:p1:Alice")
	alice.ReadUntil("PLAYER_LIST", wait)
	bob.Send("REGISTER:r1:p2:Bob")
	bob.ReadUntil("PLAYER_LIST", wait)
	alice.ReadUntil("PLAYER_LIST:p1,Alice,p2,Bob", wait)

	alice.Send("PRIVATE:Alice:p2:meet at 10:30")
	assert.Equal(t, "PRIVATE:Alice:meet at 10:30", bob.ReadUntil("PRIVATE", wait))
	assert.Equal(t, "PRIVATE:To p2:meet at 10:30", alice.ReadUntil("PRIVATE", wait))
}

func TestConn_SendNeverBlocks(t *testing.T) {
	c := newConn("c1", "127.0.0.1:1", nil, 2, time.Second, 0, zaptest.NewLogger(t))

	require.NoError(t, c.Send([]byte("a")))
	require.NoError(t, c.Send([]byte("b")))
	assert.ErrorIs(t, c.Send([]byte("c")), ErrOutboxFull)

	c.Close()
	c.Close()
	assert.ErrorIs(t, c.Send([]byte("d")), ErrConnClosed)
	assert.Equal(t, registry.ConnID("c1"), c.ID())
	assert.Equal(t, "127.0.0.1:1", c.RemoteAddr())
}
