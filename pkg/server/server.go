// Package server exposes the HTTP surface: the websocket session endpoint,
// synthesized clip downloads, the stateless message endpoint and health.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	gws "github.com/gorilla/websocket"

	"github.com/harunnryd/tutur/pkg/audiostore"
	"github.com/harunnryd/tutur/pkg/intent"
	"github.com/harunnryd/tutur/pkg/llm"
	"github.com/harunnryd/tutur/pkg/logging"
	"github.com/harunnryd/tutur/pkg/session"
	"github.com/harunnryd/tutur/pkg/transports"
	wstransport "github.com/harunnryd/tutur/pkg/transports/websocket"
)

// SessionFactory builds the session that will own conn.
type SessionFactory func(conn transports.Conn) (*session.Session, error)

// MessagesConfig drives POST /api/messages. A nil Backend disables the route.
type MessagesConfig struct {
	Backend      llm.Backend
	SystemPrompt string
	Intent       intent.Classifier
	Retry        llm.RetryConfig
	Timeout      time.Duration
}

type Options struct {
	Addr           string
	WSPath         string
	AllowedOrigins []string
	AllowAnyOrigin bool
	WS             wstransport.Config
	Sessions       SessionFactory
	Registry       *session.Registry
	Audio          audiostore.Store
	Messages       MessagesConfig
	Logger         *slog.Logger
}

type Server struct {
	opts     Options
	router   chi.Router
	upgrader *gws.Upgrader
	registry *session.Registry
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// active counts websocket handlers still running their session.
	active atomic.Int64

	mu       sync.Mutex
	http     *http.Server
	listener net.Listener
}

var ErrDrainTimeout = errors.New("sessions still active after drain timeout")

func New(opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	if opts.WSPath == "" {
		opts.WSPath = "/ws"
	}
	if opts.Registry == nil {
		opts.Registry = session.NewRegistry()
	}
	if opts.Messages.Timeout <= 0 {
		opts.Messages.Timeout = 60 * time.Second
	}
	opts.WS.AllowedOrigins = opts.AllowedOrigins
	opts.WS.AllowAnyOrigin = opts.AllowAnyOrigin
	if opts.WS.Logger == nil {
		opts.WS.Logger = opts.Logger
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		opts:     opts,
		upgrader: wstransport.NewUpgrader(opts.WS),
		registry: opts.Registry,
		logger:   logging.NewComponentLogger(opts.Logger, "server"),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	origins := s.opts.AllowedOrigins
	if s.opts.AllowAnyOrigin || len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Requested-With"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get(s.opts.WSPath, s.handleSession)
	r.Get("/audio/{id}", s.handleAudio)
	r.Post("/api/messages", s.handleMessage)
	return r
}

// Handler returns the routed handler, useful for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Registry() *session.Registry { return s.registry }

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.mu.Lock()
	s.http = srv
	s.listener = ln
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server_error", slog.String("error", err.Error()))
		}
	}()
	s.logger.Info("server_listening",
		slog.String("addr", ln.Addr().String()),
		slog.String("ws_path", s.opts.WSPath))
	return nil
}

// Addr reports the bound address once Start succeeded.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.opts.Addr
	}
	return s.listener.Addr().String()
}

// Drain refuses new sessions, cancels live ones and waits for them to leave.
func (s *Server) Drain(ctx context.Context) error {
	s.registry.SetDraining(true)
	s.registry.CloseAll()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for s.active.Load() > 0 {
		select {
		case <-ctx.Done():
			return ErrDrainTimeout
		case <-ticker.C:
		}
	}
	return nil
}

// Shutdown stops accepting requests and ends every session context.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
