package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/tutur/pkg/errorsx"
	"github.com/harunnryd/tutur/pkg/llm"
	"github.com/harunnryd/tutur/pkg/logging"
	"github.com/harunnryd/tutur/pkg/metrics"
	"github.com/harunnryd/tutur/pkg/transcript"
	openai "github.com/sashabaranov/go-openai"
)

// AssistantClient captures the thread and run calls of the go-openai client.
type AssistantClient interface {
	CreateThread(ctx context.Context, request openai.ThreadRequest) (openai.Thread, error)
	CreateMessage(ctx context.Context, threadID string, request openai.MessageRequest) (openai.Message, error)
	CreateRun(ctx context.Context, threadID string, request openai.RunRequest) (openai.Run, error)
	RetrieveRun(ctx context.Context, threadID string, runID string) (openai.Run, error)
	CancelRun(ctx context.Context, threadID string, runID string) (openai.Run, error)
	ListMessage(ctx context.Context, threadID string, limit *int, order *string, after *string,
		before *string, runID *string) (openai.MessagesList, error)
}

type AssistantOptions struct {
	Client      AssistantClient
	AssistantID string
	// ThreadID reuses an existing thread instead of creating one lazily.
	ThreadID     string
	PollInterval time.Duration
	MaxAttempts  int
	Observer     metrics.Observer
	Logger       *slog.Logger
}

// RunHandle tracks one run while it is polled. Only the polling loop mutates it.
type RunHandle struct {
	ThreadID  string
	RunID     string
	Status    openai.RunStatus
	Attempts  int
	CreatedAt time.Time
}

// Assistant is the asynchronous job strategy: post the latest user turn to a
// thread, start a run, poll it to a terminal status and read the reply back.
// An Assistant owns one thread and must not be shared across conversations.
type Assistant struct {
	client       AssistantClient
	assistantID  string
	pollInterval time.Duration
	maxAttempts  int
	obs          metrics.Observer
	logger       *slog.Logger

	mu       sync.Mutex
	threadID string
}

func NewAssistant(opts AssistantOptions) (*Assistant, error) {
	if opts.Client == nil {
		return nil, errors.New("openai client is required")
	}
	if strings.TrimSpace(opts.AssistantID) == "" {
		return nil, errors.New("assistant id is required")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 30
	}
	return &Assistant{
		client:       opts.Client,
		assistantID:  opts.AssistantID,
		pollInterval: opts.PollInterval,
		maxAttempts:  opts.MaxAttempts,
		obs:          opts.Observer,
		logger:       logging.NewComponentLogger(opts.Logger, "openai_assistant"),
		threadID:     strings.TrimSpace(opts.ThreadID),
	}, nil
}

func (a *Assistant) Name() string { return "openai_assistant" }

// ThreadID returns the thread in use, or "" before the first turn.
func (a *Assistant) ThreadID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.threadID
}

// Converse only posts the newest user turn; earlier turns already live on the thread.
func (a *Assistant) Converse(ctx context.Context, history []transcript.Turn) (string, error) {
	user, ok := transcript.LastOf(history, transcript.RoleUser)
	if !ok {
		return "", errorsx.NewFatal(errorsx.ReasonBackendRequest, errors.New("history has no user turn"))
	}
	threadID, err := a.ensureThread(ctx)
	if err != nil {
		return "", err
	}
	if _, err := a.client.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:    openai.ChatMessageRoleUser,
		Content: user.Content,
	}); err != nil {
		return "", classify(fmt.Errorf("post message: %w", err), errorsx.ReasonBackendRequest)
	}
	run, err := a.client.CreateRun(ctx, threadID, openai.RunRequest{AssistantID: a.assistantID})
	if err != nil {
		return "", classify(fmt.Errorf("start run: %w", err), errorsx.ReasonBackendRequest)
	}
	handle := &RunHandle{
		ThreadID:  threadID,
		RunID:     run.ID,
		Status:    run.Status,
		CreatedAt: time.Now(),
	}
	if err := a.poll(ctx, handle); err != nil {
		return "", err
	}
	return a.latestReply(ctx, handle)
}

func (a *Assistant) ensureThread(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.threadID != "" {
		return a.threadID, nil
	}
	thread, err := a.client.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", classify(fmt.Errorf("create thread: %w", err), errorsx.ReasonBackendRequest)
	}
	a.threadID = thread.ID
	a.logger.Info("thread_created", slog.String("thread_id", thread.ID))
	return a.threadID, nil
}

// poll waits one interval between status reads. Failed reads still consume
// an attempt so a flapping upstream cannot extend the budget.
func (a *Assistant) poll(ctx context.Context, h *RunHandle) error {
	if done, err := a.terminal(ctx, h); done {
		return err
	}
	timer := time.NewTimer(a.pollInterval)
	defer timer.Stop()
	for h.Attempts < a.maxAttempts {
		select {
		case <-ctx.Done():
			a.cancelRun(ctx, h)
			return ctx.Err()
		case <-timer.C:
		}
		h.Attempts++
		run, err := a.client.RetrieveRun(ctx, h.ThreadID, h.RunID)
		if err != nil {
			if ctx.Err() != nil {
				a.cancelRun(ctx, h)
				return ctx.Err()
			}
			a.logger.Warn("run_poll_error",
				slog.String("run_id", h.RunID),
				slog.Int("attempt", h.Attempts),
				slog.String("error", err.Error()))
		} else {
			h.Status = run.Status
			if run.LastError != nil {
				a.logger.Warn("run_last_error",
					slog.String("run_id", h.RunID),
					slog.String("message", run.LastError.Message))
			}
			if done, err := a.terminal(ctx, h); done {
				return err
			}
		}
		metrics.Record(a.obs, metrics.EventRunPoll, map[string]string{
			"run_id": h.RunID,
			"status": string(h.Status),
		}, map[string]any{"attempt": h.Attempts})
		timer.Reset(a.pollInterval)
	}
	a.cancelRun(ctx, h)
	return errorsx.NewFatal(errorsx.ReasonRunTimeout,
		fmt.Errorf("run %s still %s after %d polls", h.RunID, h.Status, h.Attempts))
}

// terminal reports whether the handle's status ends polling and with which error.
func (a *Assistant) terminal(ctx context.Context, h *RunHandle) (bool, error) {
	switch h.Status {
	case openai.RunStatusCompleted:
		return true, nil
	case openai.RunStatusFailed, openai.RunStatusCancelled, openai.RunStatusExpired, openai.RunStatusIncomplete:
		return true, errorsx.NewFatal(errorsx.ReasonRunFailed,
			fmt.Errorf("run %s ended with status %s", h.RunID, h.Status))
	case openai.RunStatusRequiresAction:
		a.cancelRun(ctx, h)
		return true, errorsx.NewFatal(errorsx.ReasonRunUnsupported,
			fmt.Errorf("run %s requires tool output", h.RunID))
	default:
		return false, nil
	}
}

// cancelRun is best effort and survives the caller's cancellation.
func (a *Assistant) cancelRun(ctx context.Context, h *RunHandle) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := a.client.CancelRun(cctx, h.ThreadID, h.RunID); err != nil {
		a.logger.Debug("run_cancel_failed",
			slog.String("run_id", h.RunID),
			slog.String("error", err.Error()))
	}
}

// latestReply reads the assistant text written by h's run only, so a run
// that produced no text never surfaces an earlier turn's reply.
func (a *Assistant) latestReply(ctx context.Context, h *RunHandle) (string, error) {
	limit := 20
	order := "desc"
	runID := h.RunID
	list, err := a.client.ListMessage(ctx, h.ThreadID, &limit, &order, nil, nil, &runID)
	if err != nil {
		return "", classify(fmt.Errorf("list messages: %w", err), errorsx.ReasonBackendRequest)
	}
	for _, msg := range list.Messages {
		if msg.Role != openai.ChatMessageRoleAssistant || (msg.RunID != nil && *msg.RunID != h.RunID) {
			continue
		}
		var b strings.Builder
		for _, part := range msg.Content {
			if part.Text != nil {
				b.WriteString(part.Text.Value)
			}
		}
		text := strings.TrimSpace(b.String())
		if text == "" {
			break
		}
		a.logger.Debug("run_completed",
			slog.String("run_id", h.RunID),
			slog.Int("polls", h.Attempts),
			slog.Duration("elapsed", time.Since(h.CreatedAt)))
		return text, nil
	}
	return "", errorsx.NewTransient(errorsx.ReasonBackendMalformed,
		fmt.Errorf("run %s completed without assistant text", h.RunID))
}

var _ llm.Backend = (*Assistant)(nil)
