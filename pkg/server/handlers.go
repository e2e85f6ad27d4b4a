package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/harunnryd/tutur/pkg/audiostore"
	"github.com/harunnryd/tutur/pkg/errorsx"
	"github.com/harunnryd/tutur/pkg/frames"
	"github.com/harunnryd/tutur/pkg/llm"
	"github.com/harunnryd/tutur/pkg/redact"
	"github.com/harunnryd/tutur/pkg/transcript"
	wstransport "github.com/harunnryd/tutur/pkg/transports/websocket"
)

const (
	msgRequired      = "Message is required"
	msgFailed        = "Failed to process message"
	maxMessageBody   = 64 << 10
	sessionRefused   = "Session could not be started"
	logPreviewLength = 80
)

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int64  `json:"sessions"`
	Draining bool   `json:"draining"`
}

type messageRequest struct {
	Message string `json:"message"`
}

type messageResponse struct {
	Response         string `json:"response"`
	CreateAdjustment bool   `json:"createAdjustment"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:   "ok",
		Sessions: s.registry.Count(),
		Draining: s.registry.Draining(),
	}
	if resp.Draining {
		resp.Status = "draining"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	s.active.Add(1)
	defer s.active.Add(-1)

	if s.registry.Draining() {
		http.Error(w, "server is draining", http.StatusServiceUnavailable)
		return
	}
	if s.opts.Sessions == nil {
		http.Error(w, "sessions are not configured", http.StatusServiceUnavailable)
		return
	}
	conn, err := wstransport.Accept(w, r, s.upgrader, s.opts.WS)
	if err != nil {
		s.logger.Warn("upgrade_failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	sess, err := s.opts.Sessions(conn)
	if err != nil {
		s.logger.Error("session_create_failed", slog.String("conn_id", conn.ID()), slog.String("error", err.Error()))
		_ = conn.Send(frames.ErrorFrame{Message: sessionRefused})
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	if err := s.registry.Register(sess, cancel); err != nil {
		s.logger.Warn("session_rejected", slog.String("session_id", sess.ID()), slog.String("error", err.Error()))
		_ = conn.Send(frames.ErrorFrame{Message: sessionRefused})
		return
	}
	defer s.registry.Remove(sess.ID())

	if err := sess.Run(ctx); err != nil {
		s.logger.Info("session_transport_closed",
			slog.String("session_id", sess.ID()),
			slog.String("error", err.Error()))
	}
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	if s.opts.Audio == nil {
		http.NotFound(w, r)
		return
	}
	id := chi.URLParam(r, "id")
	clip, err := s.opts.Audio.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, audiostore.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		s.logger.Error("audio_fetch_failed", slog.String("clip_id", id), slog.String("error", err.Error()))
		http.Error(w, "audio unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", clip.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(clip.Data)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(clip.Data)
}

// handleMessage answers one message without a session: one system turn, one
// user turn, one reply.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	cfg := s.opts.Messages
	if cfg.Backend == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: msgFailed})
		return
	}
	var req messageRequest
	body := http.MaxBytesReader(w, r.Body, maxMessageBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgRequired})
		return
	}

	history := []transcript.Turn{{Role: transcript.RoleUser, Content: req.Message}}
	if cfg.SystemPrompt != "" {
		history = append([]transcript.Turn{{Role: transcript.RoleSystem, Content: cfg.SystemPrompt}}, history...)
	}

	ctx, cancel := context.WithTimeout(r.Context(), cfg.Timeout)
	defer cancel()
	retry := cfg.Retry
	retry.OnRetry = func(attempt int, err error, delay time.Duration) {
		s.logger.Warn("message_retry",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("reason", string(errorsx.Reason(err))))
	}
	reply, err := llm.Retry(ctx, retry, func(ctx context.Context) (string, error) {
		return cfg.Backend.Converse(ctx, history)
	})
	if err != nil {
		s.logger.Error("message_failed",
			slog.String("reason", string(errorsx.Reason(err))),
			slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: msgFailed})
		return
	}

	adjust := cfg.Intent != nil && cfg.Intent.Classify(reply)
	s.logger.Info("message_answered",
		slog.String("text", redact.Preview(reply, logPreviewLength)),
		slog.Bool("create_adjustment", adjust))
	writeJSON(w, http.StatusOK, messageResponse{Response: reply, CreateAdjustment: adjust})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
