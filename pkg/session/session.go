// Package session runs one conversation over a client channel: it drives the
// turn state machine, feeds audio to a recognizer, asks the backend for
// replies and delivers them with synthesized audio.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/harunnryd/tutur/pkg/errorsx"
	"github.com/harunnryd/tutur/pkg/frames"
	"github.com/harunnryd/tutur/pkg/intent"
	"github.com/harunnryd/tutur/pkg/llm"
	"github.com/harunnryd/tutur/pkg/logging"
	"github.com/harunnryd/tutur/pkg/metrics"
	"github.com/harunnryd/tutur/pkg/redact"
	"github.com/harunnryd/tutur/pkg/speech"
	"github.com/harunnryd/tutur/pkg/transcript"
	"github.com/harunnryd/tutur/pkg/transports"
	"github.com/harunnryd/tutur/pkg/turn"
)

const logPreview = 80

// ErrAlreadyRunning is returned by a second call to Run.
var ErrAlreadyRunning = errors.New("session already running")

type Options struct {
	// ID defaults to the connection id, or a fresh uuid.
	ID      string
	Conn    transports.Conn
	Backend llm.Backend
	Speech  *speech.Bridge
	Intent  intent.Classifier
	Config  Config
	// SystemPrompt seeds the transcript when non-empty.
	SystemPrompt string
	ApologyText  string
	// SpeakHold ends speaking on a timer. Zero keeps an interruptible
	// session speaking until the client interrupts, speaks or types; a
	// session that is not interruptible returns to listening at once.
	SpeakHold time.Duration
	// AudioRate and AudioBurst bound inbound audio chunks per second.
	AudioRate  float64
	AudioBurst int
	Observer   metrics.Observer
	Logger     *slog.Logger
}

// Session owns one conversation. All of its state is mutated by the Run
// goroutine only; backend calls and synthesis run in a per-turn goroutine
// whose result comes back over a channel tagged with the turn id.
type Session struct {
	id      string
	conn    transports.Conn
	backend llm.Backend
	speech  *speech.Bridge
	intent  intent.Classifier
	obs     metrics.Observer
	logger  *slog.Logger
	apology string
	hold    time.Duration

	cfg     Config
	history *transcript.Buffer
	machine *turn.Machine
	limiter *rate.Limiter

	recognizer  speech.Recognizer
	recResults  <-chan speech.Result
	warnedNoSTT bool

	turnID     uint64
	turnCancel context.CancelFunc
	turnStart  time.Time
	results    chan turnResult

	speakTimer *time.Timer
	speakC     <-chan time.Time

	sendErr error
	running atomic.Bool
	done    chan struct{}
	started time.Time
}

type turnResult struct {
	id       uint64
	text     string
	err      error
	audioURL string
	synthErr error
	backend  time.Duration
}

func New(opts Options) (*Session, error) {
	if opts.Conn == nil {
		return nil, errors.New("session: conn is required")
	}
	if opts.Backend == nil {
		return nil, errors.New("session: backend is required")
	}
	id := opts.ID
	if id == "" {
		id = opts.Conn.ID()
	}
	if id == "" {
		id = uuid.NewString()
	}
	cfg := opts.Config
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	if cfg.VoiceName == "" {
		cfg.VoiceName = DefaultVoice
	}
	apology := opts.ApologyText
	if apology == "" {
		apology = DefaultApology
	}
	if opts.AudioRate <= 0 {
		opts.AudioRate = 50
	}
	if opts.AudioBurst <= 0 {
		opts.AudioBurst = 100
	}
	obs := opts.Observer
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	logger := logging.NewComponentLogger(opts.Logger, "session").With(slog.String("session_id", id))
	s := &Session{
		id:      id,
		conn:    opts.Conn,
		backend: opts.Backend,
		speech:  opts.Speech,
		intent:  opts.Intent,
		obs:     obs,
		logger:  logger,
		apology: apology,
		hold:    opts.SpeakHold,
		cfg:     cfg,
		history: transcript.NewBuffer(opts.SystemPrompt),
		machine: turn.NewMachine(),
		limiter: rate.NewLimiter(rate.Limit(opts.AudioRate), opts.AudioBurst),
		results: make(chan turnResult, 1),
		done:    make(chan struct{}),
	}
	s.machine.AddListener(turn.ListenerFunc(s.onStateChange))
	return s, nil
}

func (s *Session) ID() string { return s.id }

// State is safe to call from any goroutine.
func (s *Session) State() turn.State { return s.machine.State() }

// Transcript returns a copy of the conversation so far.
func (s *Session) Transcript() []transcript.Turn { return s.history.Snapshot() }

// Run drives the session until ctx is done, the channel ends, or a send
// fails. It returns the transport error that ended the session, if any.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.shutdown()

	s.started = time.Now()
	s.record(metrics.EventSessionStart, nil, nil)
	s.logger.Info("session_started",
		slog.String("backend", s.backend.Name()),
		slog.String("language", s.cfg.Language))
	s.transition(turn.EventStart, "session start")
	s.send(frames.StateFrame{State: turn.StateListening.String()})

	recv := s.conn.Recv()
	for s.sendErr == nil {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-recv:
			if !ok {
				return s.conn.Err()
			}
			s.dispatch(ctx, f)
		case res, ok := <-s.recResults:
			s.onRecognition(ctx, res, ok)
		case res := <-s.results:
			s.onTurnResult(res)
		case <-s.speakC:
			s.onSpeakDone()
		}
	}
	return s.sendErr
}

func (s *Session) dispatch(ctx context.Context, f frames.Inbound) {
	switch f := f.(type) {
	case frames.AudioFrame:
		s.onAudio(ctx, f)
	case frames.TextFrame:
		s.onUtterance(ctx, f.Text, "text")
	case frames.InterruptFrame:
		s.onInterrupt()
	case frames.ConfigFrame:
		s.onConfig(f.Patch)
	default:
		s.logger.Debug("frame_ignored", slog.String("kind", string(f.Kind())))
	}
}

func (s *Session) onUtterance(ctx context.Context, text, source string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if _, ok := turn.Next(s.machine.State(), turn.EventUtterance); !ok {
		s.logger.Debug("utterance_ignored",
			slog.String("state", s.machine.State().String()),
			slog.String("source", source))
		return
	}
	s.stopSpeaking()
	s.history.Append(transcript.RoleUser, text)
	s.transition(turn.EventUtterance, source)
	s.send(frames.StateFrame{State: turn.StateProcessing.String()})
	s.logger.Info("turn_started",
		slog.String("source", source),
		slog.String("text", redact.Preview(text, logPreview)))
	s.startTurn(ctx)
}

// startTurn hands the current history to the backend in a goroutine. Only
// one turn is ever outstanding: utterances are refused while processing.
func (s *Session) startTurn(ctx context.Context) {
	s.cancelTurn()
	s.turnID++
	id := s.turnID
	tctx, cancel := context.WithCancel(ctx)
	s.turnCancel = cancel
	s.turnStart = time.Now()
	history := s.history.Snapshot()
	voice := s.cfg.VoiceName
	s.record(metrics.EventTurnStart, nil, map[string]any{"turn_id": id, "history_len": len(history)})

	go func() {
		res := turnResult{id: id}
		start := time.Now()
		res.text, res.err = s.backend.Converse(tctx, history)
		res.backend = time.Since(start)
		if res.err == nil && s.speech != nil {
			res.audioURL, res.synthErr = s.speech.Synthesize(tctx, res.text, voice)
		}
		select {
		case s.results <- res:
		case <-s.done:
		}
	}()
}

func (s *Session) onTurnResult(res turnResult) {
	if res.id != s.turnID || s.machine.State() != turn.StateProcessing {
		s.record(metrics.EventStaleResult, nil, map[string]any{"turn_id": res.id})
		s.logger.Debug("stale_result_discarded", slog.Uint64("turn_id", res.id))
		return
	}
	s.cancelTurn()
	latency := time.Since(s.turnStart)

	if res.err != nil {
		reason := string(errorsx.Reason(res.err))
		s.record(metrics.EventBackendError, map[string]string{"reason": reason},
			map[string]any{"fatal": errorsx.IsFatal(res.err)})
		s.logger.Warn("backend_error",
			slog.String("reason", reason),
			slog.Bool("fatal", errorsx.IsFatal(res.err)),
			slog.String("error", res.err.Error()))
		s.transition(turn.EventFailure, "backend error")
		s.send(frames.ErrorFrame{Message: s.apology})
		s.send(frames.StateFrame{State: turn.StateListening.String()})
		return
	}

	s.record(metrics.EventBackendDone, map[string]string{"backend": s.backend.Name()},
		map[string]any{"latency_ms": res.backend.Milliseconds()})
	s.history.Append(transcript.RoleAssistant, res.text)
	if res.synthErr != nil {
		s.record(metrics.EventSpeechError, map[string]string{"op": string(errorsx.OpSynthesize)}, nil)
		s.logger.Warn("speech_degraded", slog.String("error", res.synthErr.Error()))
	} else if res.audioURL != "" {
		s.record(metrics.EventSynthDone, nil, nil)
	}

	adjust := s.intent != nil && s.intent.Classify(res.text)
	s.transition(turn.EventResult, "backend result")
	s.send(frames.ResponseFrame{
		Text:             res.text,
		AudioURL:         res.audioURL,
		State:            turn.StateSpeaking.String(),
		CreateAdjustment: adjust,
	})
	s.record(metrics.EventResponseSent, nil, map[string]any{
		"latency_ms":        latency.Milliseconds(),
		"has_audio":         res.audioURL != "",
		"create_adjustment": adjust,
	})
	s.logger.Info("response_sent",
		slog.Duration("latency", latency),
		slog.Bool("has_audio", res.audioURL != ""),
		slog.Bool("create_adjustment", adjust),
		slog.String("text", redact.Preview(res.text, logPreview)))
	s.scheduleSpeakDone()
}

func (s *Session) scheduleSpeakDone() {
	switch {
	case s.hold > 0:
		s.speakTimer = time.NewTimer(s.hold)
		s.speakC = s.speakTimer.C
	case !s.cfg.Interruptible:
		s.onSpeakDone()
	}
}

func (s *Session) stopSpeaking() {
	if s.speakTimer != nil {
		s.speakTimer.Stop()
	}
	s.speakTimer = nil
	s.speakC = nil
}

func (s *Session) onSpeakDone() {
	s.stopSpeaking()
	if s.machine.State() != turn.StateSpeaking {
		return
	}
	s.transition(turn.EventComplete, "speech complete")
	s.send(frames.StateFrame{State: turn.StateListening.String()})
}

func (s *Session) onInterrupt() {
	if !s.canBargeIn() {
		s.logger.Debug("interrupt_ignored",
			slog.String("state", s.machine.State().String()),
			slog.Bool("interruptible", s.cfg.Interruptible))
		return
	}
	s.bargeIn("client")
}

func (s *Session) canBargeIn() bool {
	return s.cfg.Interruptible && s.machine.State() == turn.StateSpeaking
}

// bargeIn ends speaking early. source is "client" for an Interrupt frame
// and "audio" when the caller starts talking over the reply.
func (s *Session) bargeIn(source string) {
	s.stopSpeaking()
	s.cancelTurn()
	s.transition(turn.EventInterrupt, source+" interrupt")
	s.record(metrics.EventInterrupt, map[string]string{"source": source}, nil)
	s.send(frames.StateFrame{State: turn.StateListening.String()})
}

func (s *Session) onConfig(patch map[string]any) {
	merged, err := s.cfg.Merge(patch)
	if err != nil {
		s.logger.Debug("config_rejected", slog.String("error", err.Error()))
		s.send(frames.ErrorFrame{Message: err.Error()})
		return
	}
	if merged.Language != s.cfg.Language {
		s.closeRecognizer("language changed")
	}
	s.cfg = merged
	s.logger.Info("config_updated",
		slog.String("language", merged.Language),
		slog.String("voice", merged.VoiceName),
		slog.Bool("interruptible", merged.Interruptible))
}

func (s *Session) onAudio(ctx context.Context, f frames.AudioFrame) {
	defer f.Release()
	if s.canBargeIn() {
		s.bargeIn("audio")
	}
	if state := s.machine.State(); state != turn.StateListening {
		s.record(metrics.EventAudioDropped, map[string]string{"reason": "state"}, nil)
		return
	}
	if !s.limiter.Allow() {
		s.record(metrics.EventAudioDropped, map[string]string{"reason": "rate"}, nil)
		s.logger.Debug("audio_rate_limited", slog.Int("size_bytes", f.Len()))
		return
	}
	if !s.speech.CanRecognize() {
		s.record(metrics.EventAudioDropped, map[string]string{"reason": "no_recognizer"}, nil)
		if !s.warnedNoSTT {
			s.warnedNoSTT = true
			s.logger.Warn("audio_without_recognizer")
			s.send(frames.ErrorFrame{Message: RecognitionFailed})
		}
		return
	}
	if s.recognizer == nil {
		rec, err := s.speech.NewRecognizer(ctx, s.cfg.Language)
		if err != nil {
			s.recognitionFailed(err)
			return
		}
		s.recognizer = rec
		s.recResults = rec.Results()
		s.logger.Debug("recognizer_started",
			slog.String("recognizer", rec.Name()),
			slog.String("language", s.cfg.Language))
	}
	if err := s.recognizer.SendAudio(f.RawPayload()); err != nil {
		s.recognitionFailed(&errorsx.SpeechError{Op: errorsx.OpRecognize, Err: errorsx.Wrap(err, errorsx.ReasonSTTSend)})
		return
	}
	s.record(metrics.EventAudioIn, nil, map[string]any{"size_bytes": f.Len()})
}

func (s *Session) onRecognition(ctx context.Context, res speech.Result, ok bool) {
	if !ok {
		s.logger.Debug("recognizer_ended")
		s.recognizer = nil
		s.recResults = nil
		return
	}
	if res.Err != nil {
		s.recognitionFailed(&errorsx.SpeechError{Op: errorsx.OpRecognize, Err: res.Err})
		return
	}
	if s.machine.State() != turn.StateListening {
		return
	}
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return
	}
	s.send(frames.TranscriptFrame{Text: text, IsFinal: res.IsFinal})
	if !res.IsFinal {
		return
	}
	s.record(metrics.EventTranscript, nil, map[string]any{"chars": len(text)})
	s.onUtterance(ctx, text, "speech")
}

func (s *Session) recognitionFailed(err error) {
	s.closeRecognizer("error")
	s.record(metrics.EventSpeechError, map[string]string{"op": string(errorsx.OpRecognize)}, nil)
	s.logger.Warn("recognition_failed", slog.String("error", err.Error()))
	s.send(frames.ErrorFrame{Message: RecognitionFailed})
}

func (s *Session) closeRecognizer(reason string) {
	if s.recognizer == nil {
		return
	}
	_ = s.recognizer.Close()
	s.logger.Debug("recognizer_closed", slog.String("reason", reason))
	s.recognizer = nil
	s.recResults = nil
}

func (s *Session) cancelTurn() {
	if s.turnCancel != nil {
		s.turnCancel()
		s.turnCancel = nil
	}
}

func (s *Session) transition(ev turn.Event, reason string) {
	if _, err := s.machine.Fire(ev, reason); err != nil {
		s.logger.Error("invalid_transition", slog.String("error", err.Error()))
	}
}

func (s *Session) onStateChange(change turn.StateChange) {
	s.logger.Debug("state_changed",
		slog.String("from", change.From.String()),
		slog.String("to", change.To.String()),
		slog.String("reason", change.Reason))
	s.record(metrics.EventStateChanged,
		map[string]string{"from": change.From.String(), "to": change.To.String()},
		map[string]any{"dwell_ms": change.Dwell.Milliseconds()})
}

// send records the first transport failure; Run exits on it.
func (s *Session) send(f frames.Outbound) {
	if s.sendErr != nil {
		return
	}
	if err := s.conn.Send(f); err != nil {
		if !errorsx.IsTransport(err) {
			err = &errorsx.TransportError{Op: "send", Err: err}
		}
		s.sendErr = err
		s.logger.Warn("send_failed", slog.String("kind", string(f.Kind())), slog.String("error", err.Error()))
	}
}

func (s *Session) record(name string, tags map[string]string, fields map[string]any) {
	if tags == nil {
		tags = map[string]string{}
	}
	tags["session_id"] = s.id
	metrics.Record(s.obs, name, tags, fields)
}

func (s *Session) shutdown() {
	close(s.done)
	s.cancelTurn()
	s.stopSpeaking()
	s.closeRecognizer("session closed")
	if s.machine.State() != turn.StateClosed {
		s.transition(turn.EventClose, "session closed")
	}
	s.record(metrics.EventSessionEnd, nil, map[string]any{
		"duration_ms": time.Since(s.started).Milliseconds(),
		"turns":       s.history.Len(),
	})
	s.logger.Info("session_ended",
		slog.Duration("duration", time.Since(s.started)),
		slog.Int("turns", s.history.Len()))
}
