package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/tutur/pkg/frames"
)

type harness struct {
	server *httptest.Server
	client *websocket.Conn
	conns  chan *Conn
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{conns: make(chan *Conn, 1)}
	upgrader := NewUpgrader(cfg)
	h.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := Accept(w, r, upgrader, cfg)
		if err != nil {
			return
		}
		h.conns <- c
	}))
	t.Cleanup(h.server.Close)

	url := "ws" + strings.TrimPrefix(h.server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	h.client = client
	return h
}

func (h *harness) conn(t *testing.T) *Conn {
	t.Helper()
	select {
	case c := <-h.conns:
		t.Cleanup(func() { _ = c.Close() })
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted")
		return nil
	}
}

func (h *harness) readJSON(t *testing.T) map[string]any {
	t.Helper()
	require.NoError(t, h.client.SetReadDeadline(time.Now().Add(2*time.Second)))
	typ, payload, err := h.client.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, typ)
	var out map[string]any
	require.NoError(t, json.Unmarshal(payload, &out))
	return out
}

func recv(t *testing.T, c *Conn) frames.Inbound {
	t.Helper()
	select {
	case f, ok := <-c.Recv():
		require.True(t, ok, "recv channel closed")
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no inbound frame")
		return nil
	}
}

func TestConnDecodesInboundFrames(t *testing.T) {
	h := newHarness(t, Config{})
	c := h.conn(t)
	assert.NotEmpty(t, c.ID())

	require.NoError(t, h.client.WriteMessage(websocket.TextMessage, []byte(`{"type":"text","text":"hello"}`)))
	require.NoError(t, h.client.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}))
	require.NoError(t, h.client.WriteMessage(websocket.TextMessage, []byte(`{"type":"interrupt"}`)))

	assert.Equal(t, frames.TextFrame{Text: "hello"}, recv(t, c))

	audio, ok := recv(t, c).(frames.AudioFrame)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, audio.Data())
	audio.Release()

	assert.Equal(t, frames.InterruptFrame{}, recv(t, c))
}

func TestConnRepliesToInvalidFrames(t *testing.T) {
	h := newHarness(t, Config{})
	c := h.conn(t)

	require.NoError(t, h.client.WriteMessage(websocket.TextMessage, []byte(`{"type":"dance"}`)))
	msg := h.readJSON(t)
	assert.Equal(t, "error", msg["type"])
	assert.Contains(t, msg["message"], "unknown frame type")

	require.NoError(t, h.client.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	msg = h.readJSON(t)
	assert.Equal(t, "error", msg["type"])

	// the connection survives rejected frames
	require.NoError(t, h.client.WriteMessage(websocket.TextMessage, []byte(`{"type":"text","message":"still here"}`)))
	assert.Equal(t, frames.TextFrame{Text: "still here"}, recv(t, c))
}

func TestConnSendPreservesOrder(t *testing.T) {
	h := newHarness(t, Config{})
	c := h.conn(t)

	require.NoError(t, c.Send(frames.StateFrame{State: "processing"}))
	require.NoError(t, c.Send(frames.ResponseFrame{Text: "hi", State: "speaking"}))
	require.NoError(t, c.Send(frames.StateFrame{State: "listening"}))

	assert.Equal(t, "processing", h.readJSON(t)["state"])
	resp := h.readJSON(t)
	assert.Equal(t, "response", resp["type"])
	assert.Equal(t, "hi", resp["text"])
	assert.Equal(t, "listening", h.readJSON(t)["state"])
}

func TestConnPeerCloseEndsRecvWithoutError(t *testing.T) {
	h := newHarness(t, Config{})
	c := h.conn(t)

	require.NoError(t, h.client.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))

	select {
	case _, ok := <-c.Recv():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("recv channel never closed")
	}
	assert.NoError(t, c.Err())
}

func TestConnSendAfterClose(t *testing.T) {
	h := newHarness(t, Config{})
	c := h.conn(t)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	err := c.Send(frames.StateFrame{State: "listening"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCloseFlushesQueuedFrames(t *testing.T) {
	h := newHarness(t, Config{})
	c := h.conn(t)

	require.NoError(t, c.Send(frames.ErrorFrame{Message: "last words"}))
	require.NoError(t, c.Close())

	msg := h.readJSON(t)
	assert.Equal(t, "last words", msg["message"])

	_, _, err := h.client.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

func TestUpgraderOriginPolicy(t *testing.T) {
	up := NewUpgrader(Config{AllowedOrigins: []string{"https://app.example.com/"}})

	req := httptest.NewRequest(http.MethodGet, "http://svc.internal/ws", nil)
	assert.True(t, up.CheckOrigin(req), "no origin header")

	req.Header.Set("Origin", "https://app.example.com")
	assert.True(t, up.CheckOrigin(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, up.CheckOrigin(req))

	req.Header.Set("Origin", "http://svc.internal")
	assert.True(t, up.CheckOrigin(req), "same host")

	open := NewUpgrader(Config{AllowAnyOrigin: true})
	req.Header.Set("Origin", "https://evil.example.com")
	assert.True(t, open.CheckOrigin(req))
}
