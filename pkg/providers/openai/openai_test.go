package openai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/tutur/pkg/errorsx"
	"github.com/harunnryd/tutur/pkg/metrics"
	"github.com/harunnryd/tutur/pkg/resilience"
	"github.com/harunnryd/tutur/pkg/transcript"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChat struct {
	resp openai.ChatCompletionResponse
	err  error
	req  openai.ChatCompletionRequest
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.req = req
	return f.resp, f.err
}

func reply(text string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{
		{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: text}},
	}}
}

func history(user string) []transcript.Turn {
	return []transcript.Turn{
		{Role: transcript.RoleSystem, Content: "be brief"},
		{Role: transcript.RoleUser, Content: user},
	}
}

func TestCompletionSendsFullHistory(t *testing.T) {
	chat := &fakeChat{resp: reply("  Hi there  ")}
	c, err := NewCompletion(CompletionOptions{Client: chat, Model: "gpt-4o", Temperature: 0.7})
	require.NoError(t, err)

	out, err := c.Converse(context.Background(), history("hello"))
	require.NoError(t, err)
	assert.Equal(t, "Hi there", out)
	require.Len(t, chat.req.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, chat.req.Messages[0].Role)
	assert.Equal(t, "hello", chat.req.Messages[1].Content)
	assert.Equal(t, "gpt-4o", chat.req.Model)
}

func TestCompletionMalformedIsTransient(t *testing.T) {
	for name, resp := range map[string]openai.ChatCompletionResponse{
		"no choices":    {},
		"empty content": reply("   "),
	} {
		t.Run(name, func(t *testing.T) {
			c, err := NewCompletion(CompletionOptions{Client: &fakeChat{resp: resp}, Model: "m"})
			require.NoError(t, err)
			_, err = c.Converse(context.Background(), history("x"))
			require.Error(t, err)
			assert.True(t, errorsx.IsTransient(err))
			assert.Equal(t, errorsx.ReasonBackendMalformed, errorsx.Reason(err))
		})
	}
}

func TestCompletionClassifiesUpstreamErrors(t *testing.T) {
	limited := &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Message: "slow down"}
	c, _ := NewCompletion(CompletionOptions{Client: &fakeChat{err: limited}, Model: "m"})
	_, err := c.Converse(context.Background(), history("x"))
	assert.True(t, errorsx.IsTransient(err))
	assert.True(t, resilience.IsRateLimit(err))
	assert.Equal(t, errorsx.ReasonBackendRateLimit, errorsx.Reason(err))

	c, _ = NewCompletion(CompletionOptions{Client: &fakeChat{err: &openai.RequestError{HTTPStatusCode: 502}}, Model: "m"})
	_, err = c.Converse(context.Background(), history("x"))
	assert.True(t, errorsx.IsTransient(err))
	assert.Equal(t, errorsx.ReasonBackendRequest, errorsx.Reason(err))

	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound} {
		c, _ = NewCompletion(CompletionOptions{Client: &fakeChat{err: &openai.APIError{HTTPStatusCode: status}}, Model: "m"})
		_, err = c.Converse(context.Background(), history("x"))
		assert.Truef(t, errorsx.IsFatal(err), "status %d", status)
		assert.Falsef(t, errorsx.IsTransient(err), "status %d", status)
		assert.Equal(t, errorsx.ReasonBackendRequest, errorsx.Reason(err))
	}

	c, _ = NewCompletion(CompletionOptions{Client: &fakeChat{err: &openai.APIError{HTTPStatusCode: http.StatusServiceUnavailable}}, Model: "m"})
	_, err = c.Converse(context.Background(), history("x"))
	assert.True(t, errorsx.IsTransient(err))

	c, _ = NewCompletion(CompletionOptions{Client: &fakeChat{err: context.Canceled}, Model: "m"})
	_, err = c.Converse(context.Background(), history("x"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errorsx.IsTransient(err))
}

func TestCompletionRequiresClientAndModel(t *testing.T) {
	_, err := NewCompletion(CompletionOptions{Model: "m"})
	assert.Error(t, err)
	_, err = NewCompletion(CompletionOptions{Client: &fakeChat{}})
	assert.Error(t, err)
}

type fakeAssistant struct {
	mu        sync.Mutex
	statuses  []openai.RunStatus
	pollErrs  map[int]error
	polls     int
	threads   int
	posted    []string
	cancelled int
	messages  openai.MessagesList
}

func (f *fakeAssistant) CreateThread(context.Context, openai.ThreadRequest) (openai.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threads++
	return openai.Thread{ID: "thread_1"}, nil
}

func (f *fakeAssistant) CreateMessage(_ context.Context, _ string, req openai.MessageRequest) (openai.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posted = append(f.posted, req.Content)
	return openai.Message{ID: "msg"}, nil
}

func (f *fakeAssistant) CreateRun(context.Context, string, openai.RunRequest) (openai.Run, error) {
	return openai.Run{ID: "run_1", Status: openai.RunStatusQueued}, nil
}

func (f *fakeAssistant) RetrieveRun(context.Context, string, string) (openai.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if err := f.pollErrs[f.polls]; err != nil {
		return openai.Run{}, err
	}
	status := openai.RunStatusInProgress
	if f.polls-1 < len(f.statuses) {
		status = f.statuses[f.polls-1]
	}
	return openai.Run{ID: "run_1", Status: status}, nil
}

func (f *fakeAssistant) CancelRun(context.Context, string, string) (openai.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled++
	return openai.Run{}, nil
}

// ListMessage filters by run the way the API does.
func (f *fakeAssistant) ListMessage(_ context.Context, _ string, _ *int, _ *string, _, _ *string, runID *string) (openai.MessagesList, error) {
	if runID == nil {
		return f.messages, nil
	}
	var out openai.MessagesList
	for _, msg := range f.messages.Messages {
		if msg.RunID != nil && *msg.RunID == *runID {
			out.Messages = append(out.Messages, msg)
		}
	}
	return out, nil
}

func assistantText(parts ...string) openai.Message {
	return runText("run_1", parts...)
}

func runText(runID string, parts ...string) openai.Message {
	msg := openai.Message{Role: openai.ChatMessageRoleAssistant, RunID: &runID}
	for _, p := range parts {
		msg.Content = append(msg.Content, openai.MessageContent{Type: "text", Text: &openai.MessageText{Value: p}})
	}
	return msg
}

func newTestAssistant(t *testing.T, client AssistantClient, obs metrics.Observer) *Assistant {
	t.Helper()
	a, err := NewAssistant(AssistantOptions{
		Client:       client,
		AssistantID:  "asst_1",
		PollInterval: time.Millisecond,
		Observer:     obs,
	})
	require.NoError(t, err)
	return a
}

func TestAssistantCompletesAfterPolling(t *testing.T) {
	fake := &fakeAssistant{
		statuses: []openai.RunStatus{openai.RunStatusInProgress, openai.RunStatusCompleted},
		messages: openai.MessagesList{Messages: []openai.Message{assistantText("Sure, ", "done.")}},
	}
	obs := metrics.NewMemoryObserver()
	a := newTestAssistant(t, fake, obs)

	out, err := a.Converse(context.Background(), history("create adjustment"))
	require.NoError(t, err)
	assert.Equal(t, "Sure, done.", out)
	assert.Equal(t, 2, fake.polls)
	assert.Equal(t, []string{"create adjustment"}, fake.posted)
	assert.Equal(t, "thread_1", a.ThreadID())
	assert.Equal(t, 1, obs.Count(metrics.EventRunPoll))
}

func TestAssistantIgnoresRepliesFromEarlierRuns(t *testing.T) {
	fake := &fakeAssistant{
		statuses: []openai.RunStatus{openai.RunStatusCompleted},
		messages: openai.MessagesList{Messages: []openai.Message{runText("run_0", "stale answer")}},
	}
	a := newTestAssistant(t, fake, nil)

	out, err := a.Converse(context.Background(), history("hello"))
	assert.Empty(t, out)
	assert.True(t, errorsx.IsTransient(err))
	assert.Equal(t, errorsx.ReasonBackendMalformed, errorsx.Reason(err))
}

func TestAssistantReusesThread(t *testing.T) {
	fake := &fakeAssistant{
		statuses: []openai.RunStatus{openai.RunStatusCompleted, openai.RunStatusCompleted},
		messages: openai.MessagesList{Messages: []openai.Message{assistantText("ok")}},
	}
	a := newTestAssistant(t, fake, nil)
	_, err := a.Converse(context.Background(), history("one"))
	require.NoError(t, err)
	_, err = a.Converse(context.Background(), history("two"))
	require.NoError(t, err)
	assert.Equal(t, 1, fake.threads)
	assert.Equal(t, []string{"one", "two"}, fake.posted)
}

func TestAssistantStuckRunIsFatal(t *testing.T) {
	fake := &fakeAssistant{}
	a := newTestAssistant(t, fake, nil)

	_, err := a.Converse(context.Background(), history("hello"))
	require.Error(t, err)
	assert.True(t, errorsx.IsFatal(err))
	assert.Equal(t, errorsx.ReasonRunTimeout, errorsx.Reason(err))
	assert.Equal(t, 30, fake.polls)
	assert.Equal(t, 1, fake.cancelled)
}

func TestAssistantPollErrorsConsumeAttempts(t *testing.T) {
	fake := &fakeAssistant{
		statuses: []openai.RunStatus{"", "", openai.RunStatusCompleted},
		pollErrs: map[int]error{1: errors.New("boom"), 2: errors.New("boom")},
		messages: openai.MessagesList{Messages: []openai.Message{assistantText("fine")}},
	}
	a, err := NewAssistant(AssistantOptions{Client: fake, AssistantID: "a", PollInterval: time.Millisecond, MaxAttempts: 2})
	require.NoError(t, err)

	_, err = a.Converse(context.Background(), history("x"))
	assert.Equal(t, errorsx.ReasonRunTimeout, errorsx.Reason(err))
	assert.Equal(t, 2, fake.polls)
}

func TestAssistantTerminalFailures(t *testing.T) {
	cases := map[openai.RunStatus]errorsx.ReasonCode{
		openai.RunStatusFailed:         errorsx.ReasonRunFailed,
		openai.RunStatusExpired:        errorsx.ReasonRunFailed,
		openai.RunStatusCancelled:      errorsx.ReasonRunFailed,
		openai.RunStatusRequiresAction: errorsx.ReasonRunUnsupported,
	}
	for status, reason := range cases {
		t.Run(string(status), func(t *testing.T) {
			fake := &fakeAssistant{statuses: []openai.RunStatus{status}}
			a := newTestAssistant(t, fake, nil)
			_, err := a.Converse(context.Background(), history("x"))
			assert.True(t, errorsx.IsFatal(err))
			assert.Equal(t, reason, errorsx.Reason(err))
		})
	}
}

func TestAssistantNoReplyIsMalformed(t *testing.T) {
	fake := &fakeAssistant{
		statuses: []openai.RunStatus{openai.RunStatusCompleted},
		messages: openai.MessagesList{Messages: []openai.Message{{Role: openai.ChatMessageRoleUser}}},
	}
	a := newTestAssistant(t, fake, nil)
	_, err := a.Converse(context.Background(), history("x"))
	assert.Equal(t, errorsx.ReasonBackendMalformed, errorsx.Reason(err))
}

func TestAssistantCancelStopsPolling(t *testing.T) {
	fake := &fakeAssistant{}
	a, err := NewAssistant(AssistantOptions{Client: fake, AssistantID: "a", PollInterval: time.Hour})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err = a.Converse(ctx, history("x"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, fake.cancelled)
	assert.Zero(t, fake.polls)
}

func TestAssistantNeedsUserTurn(t *testing.T) {
	a := newTestAssistant(t, &fakeAssistant{}, nil)
	_, err := a.Converse(context.Background(), []transcript.Turn{{Role: transcript.RoleSystem, Content: "s"}})
	assert.True(t, errorsx.IsFatal(err))
}

type fakeSpeech struct {
	req openai.CreateSpeechRequest
}

func (f *fakeSpeech) CreateSpeech(_ context.Context, req openai.CreateSpeechRequest) (openai.RawResponse, error) {
	f.req = req
	return openai.RawResponse{ReadCloser: io.NopCloser(strings.NewReader("mp3"))}, nil
}

func TestSpeechMapsVoice(t *testing.T) {
	fake := &fakeSpeech{}
	s, err := NewSpeech(SpeechOptions{Client: fake, DefaultVoice: "alloy"})
	require.NoError(t, err)

	clip, err := s.Synthesize(context.Background(), "hello", "en-US-JennyNeural")
	require.NoError(t, err)
	assert.Equal(t, "audio/mpeg", clip.ContentType)
	assert.Equal(t, []byte("mp3"), clip.Data)
	assert.Equal(t, openai.VoiceAlloy, fake.req.Voice)

	_, err = s.Synthesize(context.Background(), "hello", "Shimmer")
	require.NoError(t, err)
	assert.Equal(t, openai.VoiceShimmer, fake.req.Voice)
}

type fakeTranscription struct {
	mu    sync.Mutex
	reqs  []openai.AudioRequest
	sizes []int
	text  string
	// gate holds every call until it is closed.
	gate chan struct{}
}

func (f *fakeTranscription) CreateTranscription(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return openai.AudioResponse{}, ctx.Err()
		}
	}
	audio, _ := io.ReadAll(req.Reader)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	f.sizes = append(f.sizes, len(audio))
	return openai.AudioResponse{Text: f.text}, nil
}

func TestTranscriberFlushesOnSilence(t *testing.T) {
	fake := &fakeTranscription{text: " create adjustment "}
	tr := NewTranscriber(TranscriberOptions{Client: fake, Language: "en-US", Silence: 20 * time.Millisecond})
	require.NoError(t, tr.Start(context.Background()))
	defer tr.Close()

	require.NoError(t, tr.SendAudio([]byte{1, 2}))
	require.NoError(t, tr.SendAudio([]byte{3}))

	select {
	case res := <-tr.Results():
		assert.Equal(t, "create adjustment", res.Text)
		assert.True(t, res.IsFinal)
	case <-time.After(2 * time.Second):
		t.Fatal("no transcript")
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.reqs, 1)
	assert.Equal(t, "en", fake.reqs[0].Language)
}

func TestTranscriberKeepsAcceptingAudioWhileTranscribing(t *testing.T) {
	gate := make(chan struct{})
	fake := &fakeTranscription{text: "segment", gate: gate}
	tr := NewTranscriber(TranscriberOptions{Client: fake, Silence: 20 * time.Millisecond})
	require.NoError(t, tr.Start(context.Background()))
	defer tr.Close()

	require.NoError(t, tr.SendAudio([]byte{1}))
	time.Sleep(100 * time.Millisecond)
	for i := 0; i < 100; i++ {
		require.NoErrorf(t, tr.SendAudio([]byte{2, 2}), "chunk %d", i)
		time.Sleep(time.Millisecond)
	}
	close(gate)

	total := func() int {
		fake.mu.Lock()
		defer fake.mu.Unlock()
		n := 0
		for _, size := range fake.sizes {
			n += size
		}
		return n
	}
	require.Eventually(t, func() bool { return total() == 201 }, 2*time.Second, 10*time.Millisecond)
	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, 1, fake.sizes[0], "first segment is cut before the burst")
}

func TestTranscriberCloseEndsResults(t *testing.T) {
	tr := NewTranscriber(TranscriberOptions{Client: &fakeTranscription{}})
	require.NoError(t, tr.Start(context.Background()))
	require.NoError(t, tr.Close())
	select {
	case _, ok := <-tr.Results():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("results not closed")
	}
}

func TestISOLanguage(t *testing.T) {
	assert.Equal(t, "en", isoLanguage("en-US"))
	assert.Equal(t, "pt", isoLanguage("pt_BR"))
	assert.Equal(t, "de", isoLanguage("de"))
}
