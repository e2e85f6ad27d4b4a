package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/tutur/pkg/audiostore"
	"github.com/harunnryd/tutur/pkg/errorsx"
	"github.com/harunnryd/tutur/pkg/intent"
	"github.com/harunnryd/tutur/pkg/llm"
	"github.com/harunnryd/tutur/pkg/providers/mock"
	"github.com/harunnryd/tutur/pkg/session"
	"github.com/harunnryd/tutur/pkg/transports"
)

func newTestServer(t *testing.T, opts Options) (*Server, *httptest.Server) {
	t.Helper()
	srv := New(opts)
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Drain(ctx)
		_ = srv.Shutdown(ctx)
		hs.Close()
	})
	return srv, hs
}

func sessionFactory(backend llm.Backend) SessionFactory {
	return func(conn transports.Conn) (*session.Session, error) {
		return session.New(session.Options{
			Conn:    conn,
			Backend: backend,
			Intent:  intent.NewKeywordClassifier(),
			Config:  session.DefaultConfig(),
		})
	}
}

func dial(t *testing.T, hs *httptest.Server, path string) *gws.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(hs.URL, "http") + path
	c, _, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func readFrame(t *testing.T, c *gws.Conn) map[string]any {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, payload, err := c.ReadMessage()
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(payload, &out))
	return out
}

func getHealth(t *testing.T, hs *httptest.Server) healthResponse {
	t.Helper()
	resp, err := http.Get(hs.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var h healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	return h
}

func TestWebsocketSessionRoundTrip(t *testing.T) {
	backend := mock.NewBackend(mock.BackendConfig{ResponseText: "Let's create adjustment for you"})
	srv, hs := newTestServer(t, Options{Sessions: sessionFactory(backend)})

	c := dial(t, hs, "/ws")
	assert.Equal(t, map[string]any{"type": "state", "state": "listening"}, readFrame(t, c))

	require.NoError(t, c.WriteMessage(gws.TextMessage, []byte(`{"type":"text","text":"I need a desk"}`)))
	assert.Equal(t, "processing", readFrame(t, c)["state"])

	resp := readFrame(t, c)
	assert.Equal(t, "response", resp["type"])
	assert.Equal(t, "Let's create adjustment for you", resp["text"])
	assert.Equal(t, "speaking", resp["state"])
	assert.Equal(t, true, resp["createAdjustment"])

	assert.Eventually(t, func() bool { return srv.Registry().Count() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), getHealth(t, hs).Sessions)

	require.NoError(t, c.WriteMessage(gws.CloseMessage, gws.FormatCloseMessage(gws.CloseNormalClosure, "")))
	assert.Eventually(t, func() bool { return srv.Registry().Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebsocketRejectsInvalidFrameWithoutEndingSession(t *testing.T) {
	backend := mock.NewBackend(mock.BackendConfig{})
	_, hs := newTestServer(t, Options{Sessions: sessionFactory(backend)})

	c := dial(t, hs, "/ws")
	readFrame(t, c)

	require.NoError(t, c.WriteMessage(gws.TextMessage, []byte(`{"type":"text"}`)))
	msg := readFrame(t, c)
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, 0, backend.Calls())

	require.NoError(t, c.WriteMessage(gws.TextMessage, []byte(`{"type":"text","text":"hi"}`)))
	assert.Equal(t, "processing", readFrame(t, c)["state"])
}

func TestDrainRefusesNewSessions(t *testing.T) {
	backend := mock.NewBackend(mock.BackendConfig{})
	srv, hs := newTestServer(t, Options{Sessions: sessionFactory(backend)})

	c := dial(t, hs, "/ws")
	readFrame(t, c)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Drain(ctx))
	assert.Equal(t, int64(0), srv.Registry().Count())

	h := getHealth(t, hs)
	assert.True(t, h.Draining)
	assert.Equal(t, "draining", h.Status)

	url := "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws"
	_, resp, err := gws.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAudioRoute(t *testing.T) {
	store := audiostore.NewMemory(time.Minute)
	id, err := store.Put(context.Background(), audiostore.Clip{ContentType: "audio/mpeg", Data: []byte("mp3")})
	require.NoError(t, err)
	_, hs := newTestServer(t, Options{Audio: store})

	resp, err := http.Get(hs.URL + "/audio/" + id)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "audio/mpeg", resp.Header.Get("Content-Type"))
	assert.Equal(t, "mp3", string(body))

	resp, err = http.Get(hs.URL + "/audio/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func postMessage(t *testing.T, hs *httptest.Server, body string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Post(hs.URL+"/api/messages", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestMessageEndpoint(t *testing.T) {
	backend := mock.NewBackend(mock.BackendConfig{ResponseText: "We can set up a new adjustment."})
	_, hs := newTestServer(t, Options{Messages: MessagesConfig{
		Backend:      backend,
		SystemPrompt: "You are helpful.",
		Intent:       intent.NewKeywordClassifier(),
	}})

	status, out := postMessage(t, hs, `{"message":"hello"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "We can set up a new adjustment.", out["response"])
	assert.Equal(t, true, out["createAdjustment"])

	hist := backend.Histories()
	require.Len(t, hist, 1)
	require.Len(t, hist[0], 2)
	assert.Equal(t, "You are helpful.", hist[0][0].Content)
	assert.Equal(t, "hello", hist[0][1].Content)
}

func TestMessageEndpointValidation(t *testing.T) {
	backend := mock.NewBackend(mock.BackendConfig{})
	_, hs := newTestServer(t, Options{Messages: MessagesConfig{Backend: backend}})

	for _, body := range []string{`{}`, `{"message":"   "}`, `not json`} {
		status, out := postMessage(t, hs, body)
		assert.Equal(t, http.StatusBadRequest, status, body)
		assert.Equal(t, msgRequired, out["error"], body)
	}
	assert.Equal(t, 0, backend.Calls())
}

func TestMessageEndpointRetriesTransientFailures(t *testing.T) {
	backend := mock.NewBackend(mock.BackendConfig{
		Err: errorsx.NewTransient(errorsx.ReasonBackendRequest, errors.New("upstream 502")),
	})
	_, hs := newTestServer(t, Options{Messages: MessagesConfig{
		Backend: backend,
		Retry:   llm.RetryConfig{MaxAttempts: 3, Wait: func(context.Context, time.Duration) error { return nil }},
	}})

	status, out := postMessage(t, hs, `{"message":"hello"}`)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, msgFailed, out["error"])
	assert.Equal(t, 3, backend.Calls())
}
