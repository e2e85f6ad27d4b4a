package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/tutur/pkg/logging"
	"github.com/harunnryd/tutur/pkg/speech"
	openai "github.com/sashabaranov/go-openai"
)

// TranscriptionClient captures the speech-to-text call of the go-openai client.
type TranscriptionClient interface {
	CreateTranscription(ctx context.Context, request openai.AudioRequest) (openai.AudioResponse, error)
}

type TranscriberOptions struct {
	Client   TranscriptionClient
	Model    string
	Language string
	// FileName carries the container extension the upstream uses to sniff the format.
	FileName string
	// Silence is the gap in incoming audio that ends an utterance.
	Silence time.Duration
	// MaxSegmentBytes forces a transcription when the buffer grows past it.
	MaxSegmentBytes int
	Logger          *slog.Logger
}

// Transcriber is a buffered recognizer. It has no partial results: each
// utterance, delimited by silence or size, yields one final transcript.
type Transcriber struct {
	client TranscriptionClient
	opts   TranscriberOptions
	logger *slog.Logger

	in     chan []byte
	out    chan speech.Result
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
}

func NewTranscriber(opts TranscriberOptions) *Transcriber {
	if opts.Model == "" {
		opts.Model = openai.Whisper1
	}
	if opts.FileName == "" {
		opts.FileName = "audio.webm"
	}
	if opts.Silence <= 0 {
		opts.Silence = 800 * time.Millisecond
	}
	if opts.MaxSegmentBytes <= 0 {
		opts.MaxSegmentBytes = 2 << 20
	}
	return &Transcriber{
		client: opts.Client,
		opts:   opts,
		logger: logging.NewComponentLogger(opts.Logger, "openai_transcriber"),
		in:     make(chan []byte, 64),
		out:    make(chan speech.Result, 8),
		done:   make(chan struct{}),
	}
}

func (t *Transcriber) Name() string { return "openai_transcriber" }

func (t *Transcriber) Start(ctx context.Context) error {
	if t.client == nil {
		return errors.New("openai client is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	t.ctx, t.cancel = context.WithCancel(ctx)
	go t.loop()
	return nil
}

func (t *Transcriber) SendAudio(chunk []byte) error {
	if t.ctx == nil {
		return errors.New("not started")
	}
	select {
	case <-t.done:
		return errors.New("transcriber closed")
	case t.in <- append([]byte(nil), chunk...):
		return nil
	default:
		return errors.New("transcriber buffer full")
	}
}

func (t *Transcriber) Results() <-chan speech.Result { return t.out }

func (t *Transcriber) Close() error {
	t.once.Do(func() {
		if t.cancel != nil {
			t.cancel()
		}
	})
	return nil
}

// loop owns the audio buffer and keeps draining SendAudio while earlier
// segments are still being transcribed. Cut segments queue for a single
// worker so transcripts come out in speaking order.
func (t *Transcriber) loop() {
	segments := make(chan []byte)
	workerDone := make(chan struct{})
	go t.transcribeAll(segments, workerDone)
	defer func() {
		close(segments)
		<-workerDone
		close(t.out)
		close(t.done)
	}()

	var (
		buf     bytes.Buffer
		pending [][]byte
	)
	cut := func() {
		if buf.Len() > 0 {
			pending = append(pending, append([]byte(nil), buf.Bytes()...))
			buf.Reset()
		}
	}
	silence := time.NewTimer(t.opts.Silence)
	silence.Stop()
	defer silence.Stop()

	for {
		var (
			sendC chan<- []byte
			next  []byte
		)
		if len(pending) > 0 {
			sendC, next = segments, pending[0]
		}
		select {
		case <-t.ctx.Done():
			return
		case <-workerDone:
			return
		case sendC <- next:
			pending = pending[1:]
		case chunk := <-t.in:
			buf.Write(chunk)
			if buf.Len() >= t.opts.MaxSegmentBytes {
				silence.Stop()
				cut()
				continue
			}
			silence.Reset(t.opts.Silence)
		case <-silence.C:
			cut()
		}
	}
}

// transcribeAll ends the stream on the first failed transcription.
func (t *Transcriber) transcribeAll(segments <-chan []byte, done chan<- struct{}) {
	defer close(done)
	for audio := range segments {
		if !t.transcribe(audio) {
			return
		}
	}
}

func (t *Transcriber) transcribe(audio []byte) bool {
	resp, err := t.client.CreateTranscription(t.ctx, openai.AudioRequest{
		Model:    t.opts.Model,
		FilePath: t.opts.FileName,
		Reader:   bytes.NewReader(audio),
		Language: isoLanguage(t.opts.Language),
	})
	if err != nil {
		if t.ctx.Err() == nil {
			t.emit(speech.Result{Err: fmt.Errorf("openai transcription: %w", err)})
		}
		return false
	}
	text := strings.TrimSpace(resp.Text)
	t.logger.Debug("segment_transcribed",
		slog.Int("size_bytes", len(audio)),
		slog.Int("text_len", len(text)))
	if text != "" {
		t.emit(speech.Result{Text: text, IsFinal: true})
	}
	return true
}

func (t *Transcriber) emit(r speech.Result) {
	select {
	case t.out <- r:
	case <-t.ctx.Done():
	}
}

// isoLanguage reduces a BCP-47 tag such as en-US to the ISO-639-1 code the API expects.
func isoLanguage(tag string) string {
	tag = strings.TrimSpace(tag)
	if i := strings.IndexAny(tag, "-_"); i > 0 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}

var _ speech.Recognizer = (*Transcriber)(nil)
