// Package websocket carries session frames over a gorilla websocket: binary
// messages are audio, text messages are JSON control frames.
package websocket

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/harunnryd/tutur/pkg/errorsx"
	"github.com/harunnryd/tutur/pkg/frames"
	"github.com/harunnryd/tutur/pkg/logging"
	"github.com/harunnryd/tutur/pkg/priority"
	"github.com/harunnryd/tutur/pkg/transports"
)

var (
	ErrClosed       = errors.New("connection closed")
	errBackpressure = errors.New("outbound queue full")
)

type Config struct {
	AllowedOrigins   []string
	AllowAnyOrigin   bool
	ReadLimit        int64
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	HandshakeTimeout time.Duration
	InboundBuffer    int
	OutboundBuffer   int
	Logger           *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.ReadLimit <= 0 {
		c.ReadLimit = 1 << 20
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.InboundBuffer <= 0 {
		c.InboundBuffer = 64
	}
	if c.OutboundBuffer <= 0 {
		c.OutboundBuffer = 64
	}
	return c
}

// pongWait must exceed the ping interval so one lost pong is tolerated.
func (c Config) pongWait() time.Duration { return c.PingInterval * 2 }

// NewUpgrader builds an upgrader that admits only the configured origins.
// Requests without an Origin header, such as native clients, are allowed.
func NewUpgrader(cfg Config) *websocket.Upgrader {
	cfg = cfg.withDefaults()
	allowed := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	return &websocket.Upgrader{
		HandshakeTimeout: cfg.HandshakeTimeout,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || cfg.AllowAnyOrigin {
				return true
			}
			if _, ok := allowed[strings.ToLower(origin)]; ok {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			return strings.EqualFold(u.Host, r.Host)
		},
	}
}

// Conn adapts a websocket to transports.Conn. One goroutine reads and
// decodes, one writes from a two-lane queue, one pings.
type Conn struct {
	id     string
	ws     *websocket.Conn
	cfg    Config
	logger *slog.Logger

	recvCh chan frames.Inbound
	out    *priority.Queue[frames.Outbound]

	ctx        context.Context
	cancel     context.CancelFunc
	writerDone chan struct{}
	closeOnce  sync.Once

	mu  sync.Mutex
	err error
}

// Accept upgrades the request and starts the connection's loops.
func Accept(w http.ResponseWriter, r *http.Request, upgrader *websocket.Upgrader, cfg Config) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, &errorsx.TransportError{Op: "upgrade", Err: err}
	}
	return NewConn(ws, cfg), nil
}

func NewConn(ws *websocket.Conn, cfg Config) *Conn {
	cfg = cfg.withDefaults()
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		id:         id,
		ws:         ws,
		cfg:        cfg,
		logger:     logging.NewComponentLogger(cfg.Logger, "ws_conn").With(slog.String("conn_id", id)),
		recvCh:     make(chan frames.Inbound, cfg.InboundBuffer),
		out:        priority.New[frames.Outbound](8, cfg.OutboundBuffer),
		ctx:        ctx,
		cancel:     cancel,
		writerDone: make(chan struct{}),
	}
	go c.readLoop()
	go c.writeLoop()
	go c.pingLoop()
	return c
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Recv() <-chan frames.Inbound { return c.recvCh }

// Send queues f behind earlier session frames. A full queue means the
// client is not reading; the caller must treat that as fatal.
func (c *Conn) Send(f frames.Outbound) error {
	if c.ctx.Err() != nil {
		return &errorsx.TransportError{Op: "send", Err: ErrClosed}
	}
	if !c.out.TryPushLow(f) {
		c.logger.Warn("outbound_backpressure", slog.String("kind", string(f.Kind())))
		return &errorsx.TransportError{
			Op:  "send",
			Err: errorsx.Wrap(errBackpressure, errorsx.ReasonTransportBackpressure),
		}
	}
	return nil
}

func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close flushes what is queued, sends a close frame and releases the socket.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		select {
		case <-c.writerDone:
		case <-time.After(c.cfg.WriteTimeout):
		}
		_ = c.ws.Close()
	})
	return nil
}

func (c *Conn) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
	c.cancel()
}

func (c *Conn) readLoop() {
	defer close(c.recvCh)
	c.ws.SetReadLimit(c.cfg.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.pongWait()))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.pongWait()))
	})

	for {
		msgType, payload, err := c.ws.ReadMessage()
		if err != nil {
			switch {
			case c.ctx.Err() != nil:
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
				c.logger.Debug("peer_closed")
				c.cancel()
			default:
				c.logger.Warn("read_failed", slog.String("error", err.Error()))
				c.fail(&errorsx.TransportError{Op: "read", Err: errorsx.Wrap(err, errorsx.ReasonTransportRead)})
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.pongWait()))

		var f frames.Inbound
		switch msgType {
		case websocket.BinaryMessage:
			f, err = frames.DecodeBinary(payload)
		case websocket.TextMessage:
			f, err = frames.DecodeText(payload)
		default:
			continue
		}
		if err != nil {
			c.logger.Debug("frame_rejected", slog.String("error", err.Error()))
			if !c.out.TryPushHigh(frames.ErrorFrame{Message: err.Error()}) {
				c.logger.Warn("error_reply_dropped")
			}
			continue
		}

		select {
		case c.recvCh <- f:
		case <-c.ctx.Done():
			if a, ok := f.(frames.AudioFrame); ok {
				a.Release()
			}
			return
		}
	}
}

func (c *Conn) writeLoop() {
	defer close(c.writerDone)
	for {
		f, ok := c.out.Pop(c.ctx)
		if !ok {
			c.flushOnShutdown()
			return
		}
		if err := c.write(f); err != nil {
			c.logger.Warn("write_failed", slog.String("error", err.Error()))
			c.fail(&errorsx.TransportError{Op: "write", Err: errorsx.Wrap(err, errorsx.ReasonTransportSend)})
			_ = c.ws.Close()
			return
		}
	}
}

// flushOnShutdown gives frames queued before Close a short window to reach
// the client, then says goodbye.
func (c *Conn) flushOnShutdown() {
	deadline := time.Now().Add(c.cfg.WriteTimeout)
	for time.Now().Before(deadline) {
		f, ok := c.out.TryPop()
		if !ok {
			break
		}
		if err := c.write(f); err != nil {
			return
		}
	}
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(c.cfg.WriteTimeout))
}

func (c *Conn) write(f frames.Outbound) error {
	b, err := frames.EncodeOutbound(f)
	if err != nil {
		c.logger.Error("encode_failed", slog.String("kind", string(f.Kind())), slog.String("error", err.Error()))
		return nil
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

func (c *Conn) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.logger.Debug("ping_failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

var _ transports.Conn = (*Conn)(nil)
