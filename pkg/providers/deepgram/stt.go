// Package deepgram streams session audio to Deepgram live transcription.
package deepgram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/tutur/pkg/errorsx"
	"github.com/harunnryd/tutur/pkg/logging"
	"github.com/harunnryd/tutur/pkg/resilience"
	"github.com/harunnryd/tutur/pkg/speech"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

type Config struct {
	APIKey     string
	Model      string
	Language   string
	SampleRate int
	Encoding   string
	Interim    bool
	// UtteranceEndMS enables Deepgram's utterance-end events, which close a
	// turn even when no speech_final arrives.
	UtteranceEndMS int
	SessionID      string
	ConnectRetries int
	ConnectBackoff time.Duration
	Logger         *slog.Logger
}

// Recognizer is a speech.Recognizer backed by a Deepgram websocket.
// Final segments are accumulated until Deepgram marks the end of speech.
type Recognizer struct {
	cfg      Config
	dgClient *client.WSCallback
	logger   *slog.Logger
	retry    resilience.RetryPolicy

	ctx        context.Context
	cancel     context.CancelFunc
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter

	mu       sync.Mutex
	out      chan speech.Result
	closed   bool
	segments []string
	interim  string
}

func New(cfg Config) *Recognizer {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.Language == "" {
		cfg.Language = "en-US"
	}
	return &Recognizer{
		cfg:    cfg,
		out:    make(chan speech.Result, 256),
		logger: logging.NewComponentLogger(cfg.Logger, "deepgram_stt"),
		retry:  resilience.NewRetryPolicy(cfg.ConnectRetries, cfg.ConnectBackoff),
	}
}

func (r *Recognizer) Name() string { return "deepgram_streaming" }

func (r *Recognizer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(r.cfg.APIKey) == "" {
		return errorsx.Wrap(errors.New("deepgram api key is required"), errorsx.ReasonSTTConnect)
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.pipeReader, r.pipeWriter = io.Pipe()

	clientOptions := &interfaces.ClientOptions{EnableKeepAlive: true}
	transcriptOptions := &interfaces.LiveTranscriptionOptions{
		Model:          r.cfg.Model,
		Language:       r.cfg.Language,
		Encoding:       r.cfg.Encoding,
		SampleRate:     r.cfg.SampleRate,
		InterimResults: r.cfg.Interim,
		SmartFormat:    true,
	}
	if r.cfg.UtteranceEndMS > 0 {
		transcriptOptions.UtteranceEndMs = fmt.Sprintf("%d", r.cfg.UtteranceEndMS)
		transcriptOptions.VadEvents = true
	}

	dgClient, err := client.NewWSUsingCallback(r.ctx, r.cfg.APIKey, clientOptions, transcriptOptions, &callback{parent: r})
	if err != nil {
		r.logger.Error("deepgram_client_create_error",
			slog.String("error", err.Error()),
			slog.String("session_id", r.cfg.SessionID))
		return errorsx.Wrap(err, errorsx.ReasonSTTConnect)
	}
	r.dgClient = dgClient

	err = r.retry.Do(r.ctx, func() error {
		if !r.dgClient.Connect() {
			return errors.New("deepgram connection failed")
		}
		return nil
	})
	if err != nil {
		r.logger.Error("deepgram_connect_failed",
			slog.String("session_id", r.cfg.SessionID),
			slog.Int("retries", r.retry.MaxRetries))
		return errorsx.Wrap(err, errorsx.ReasonSTTConnect)
	}

	r.logger.Info("deepgram_connected",
		slog.String("session_id", r.cfg.SessionID),
		slog.String("model", r.cfg.Model),
		slog.String("language", r.cfg.Language))

	go r.runStream(r.dgClient.Stream)
	return nil
}

// errStreamEnded fails writes after the upstream stream returned cleanly.
var errStreamEnded = errors.New("deepgram stream ended")

// runStream pumps the pipe into stream. Once stream returns, the read side is
// closed so SendAudio fails fast instead of blocking the session loop.
func (r *Recognizer) runStream(stream func(io.Reader) error) {
	err := stream(r.pipeReader)
	if err == nil {
		_ = r.pipeReader.CloseWithError(errStreamEnded)
		return
	}
	_ = r.pipeReader.CloseWithError(err)
	if r.ctx.Err() != nil {
		return
	}
	r.logger.Error("deepgram_stream_error",
		slog.String("error", err.Error()),
		slog.String("session_id", r.cfg.SessionID))
	r.emit(speech.Result{Err: errorsx.Wrap(err, errorsx.ReasonSTTStream)})
}

func (r *Recognizer) SendAudio(chunk []byte) error {
	if r.pipeWriter == nil {
		return errors.New("not started")
	}
	if _, err := r.pipeWriter.Write(chunk); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonSTTSend)
	}
	return nil
}

func (r *Recognizer) Results() <-chan speech.Result { return r.out }

// Close stops the upstream stream and closes Results. It is idempotent.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.out)
	r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}
	if r.pipeWriter != nil {
		_ = r.pipeWriter.Close()
		_ = r.pipeReader.Close()
	}
	if r.dgClient != nil {
		r.dgClient.Stop()
	}
	r.logger.Info("deepgram_closed", slog.String("session_id", r.cfg.SessionID))
	return nil
}

func (r *Recognizer) emit(res speech.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emitLocked(res)
}

func (r *Recognizer) emitLocked(res speech.Result) {
	if r.closed {
		return
	}
	select {
	case r.out <- res:
	default:
		r.logger.Warn("deepgram_out_channel_full", slog.String("session_id", r.cfg.SessionID))
	}
}

// onTranscript folds one Deepgram message into the pending utterance.
func (r *Recognizer) onTranscript(text string, isFinal, speechFinal bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if isFinal {
		if text != "" {
			r.segments = append(r.segments, text)
		}
		r.interim = ""
		if speechFinal {
			r.flushLocked()
			return
		}
		if text != "" {
			r.emitLocked(speech.Result{Text: strings.Join(r.segments, " ")})
		}
		return
	}
	if text == "" {
		return
	}
	r.interim = text
	r.emitLocked(speech.Result{Text: strings.TrimSpace(strings.Join(r.segments, " ") + " " + text)})
}

// flushLocked emits the pending utterance as final. A trailing interim is
// used when Deepgram never finalized a segment.
func (r *Recognizer) flushLocked() {
	text := strings.Join(r.segments, " ")
	if text == "" {
		text = r.interim
	}
	r.segments = r.segments[:0]
	r.interim = ""
	if strings.TrimSpace(text) == "" {
		return
	}
	r.emitLocked(speech.Result{Text: text, IsFinal: true})
}

type callback struct {
	parent *Recognizer
}

func (c *callback) Open(*msginterfaces.OpenResponse) error {
	c.parent.logger.Debug("deepgram_connection_opened", slog.String("session_id", c.parent.cfg.SessionID))
	return nil
}

func (c *callback) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	text := strings.TrimSpace(mr.Channel.Alternatives[0].Transcript)
	c.parent.onTranscript(text, mr.IsFinal, mr.SpeechFinal)
	return nil
}

func (c *callback) Metadata(md *msginterfaces.MetadataResponse) error {
	c.parent.logger.Debug("deepgram_metadata_received",
		slog.String("session_id", c.parent.cfg.SessionID),
		slog.String("request_id", md.RequestID))
	return nil
}

func (c *callback) SpeechStarted(*msginterfaces.SpeechStartedResponse) error { return nil }

func (c *callback) UtteranceEnd(*msginterfaces.UtteranceEndResponse) error {
	c.parent.mu.Lock()
	defer c.parent.mu.Unlock()
	c.parent.flushLocked()
	return nil
}

func (c *callback) Close(*msginterfaces.CloseResponse) error {
	c.parent.logger.Debug("deepgram_connection_closed", slog.String("session_id", c.parent.cfg.SessionID))
	return nil
}

func (c *callback) Error(er *msginterfaces.ErrorResponse) error {
	c.parent.logger.Error("deepgram_error",
		slog.String("session_id", c.parent.cfg.SessionID),
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	c.parent.emit(speech.Result{
		Err: errorsx.Wrap(fmt.Errorf("deepgram %s: %s", er.ErrCode, er.ErrMsg), errorsx.ReasonSTTStream),
	})
	return nil
}

func (c *callback) UnhandledEvent(byData []byte) error {
	c.parent.logger.Debug("deepgram_unhandled_event",
		slog.String("session_id", c.parent.cfg.SessionID),
		slog.Int("size_bytes", len(byData)))
	return nil
}

var _ speech.Recognizer = (*Recognizer)(nil)
var _ msginterfaces.LiveMessageCallback = (*callback)(nil)
