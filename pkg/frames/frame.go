package frames

import "sync"

type Kind string

const (
	KindConfig    Kind = "config"
	KindText      Kind = "text"
	KindInterrupt Kind = "interrupt"
	KindAudio     Kind = "audio"

	KindState      Kind = "state"
	KindTranscript Kind = "transcript"
	KindResponse   Kind = "response"
	KindError      Kind = "error"
)

// Inbound is a frame received from the client channel. Exactly one variant is
// carried per frame.
type Inbound interface {
	Kind() Kind
	inbound()
}

// Outbound is a frame emitted by the session to the client channel.
type Outbound interface {
	Kind() Kind
	outbound()
}

// ConfigFrame carries a partial session config patch.
type ConfigFrame struct {
	Patch map[string]any
}

func (ConfigFrame) Kind() Kind { return KindConfig }
func (ConfigFrame) inbound()   {}

// TextFrame carries a typed user utterance.
type TextFrame struct {
	Text string
}

func (TextFrame) Kind() Kind { return KindText }
func (TextFrame) inbound()   {}

type InterruptFrame struct{}

func (InterruptFrame) Kind() Kind { return KindInterrupt }
func (InterruptFrame) inbound()   {}

// AudioFrame carries a raw audio chunk. Pooled buffers must be returned with
// Release once the consumer is done with the bytes.
type AudioFrame struct {
	data   []byte
	pooled bool
}

func NewAudioFrame(data []byte) AudioFrame {
	return AudioFrame{data: data}
}

// NewAudioFrameFromPool copies data into a pooled buffer.
func NewAudioFrameFromPool(data []byte) AudioFrame {
	buf := AcquireAudioBuf(len(data))
	copy(buf, data)
	return AudioFrame{data: buf, pooled: true}
}

func (AudioFrame) Kind() Kind { return KindAudio }
func (AudioFrame) inbound()   {}

func (a AudioFrame) Data() []byte       { return append([]byte(nil), a.data...) }
func (a AudioFrame) RawPayload() []byte { return a.data }
func (a AudioFrame) Len() int           { return len(a.data) }
func (a AudioFrame) Pooled() bool       { return a.pooled }

// Release returns a pooled buffer. It reports false for unpooled frames.
func (a AudioFrame) Release() bool {
	if !a.pooled || a.data == nil {
		return false
	}
	ReleaseAudioBuf(a.data)
	return true
}

// StateFrame announces the session's new state.
type StateFrame struct {
	State string `json:"state"`
}

func (StateFrame) Kind() Kind { return KindState }
func (StateFrame) outbound()  {}

type TranscriptFrame struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"isFinal"`
}

func (TranscriptFrame) Kind() Kind { return KindTranscript }
func (TranscriptFrame) outbound()  {}

// ResponseFrame delivers an assistant reply. AudioURL is empty when speech
// synthesis was unavailable or failed.
type ResponseFrame struct {
	Text             string `json:"text"`
	AudioURL         string `json:"audioUrl,omitempty"`
	State            string `json:"state"`
	CreateAdjustment bool   `json:"createAdjustment"`
}

func (ResponseFrame) Kind() Kind { return KindResponse }
func (ResponseFrame) outbound()  {}

type ErrorFrame struct {
	Message string `json:"message"`
}

func (ErrorFrame) Kind() Kind { return KindError }
func (ErrorFrame) outbound()  {}

var audioBufPool = sync.Pool{
	New: func() any {
		return make([]byte, 0, 4096)
	},
}

func AcquireAudioBuf(size int) []byte {
	b := audioBufPool.Get().([]byte)
	if cap(b) < size {
		return make([]byte, size)
	}
	return b[:size]
}

func ReleaseAudioBuf(b []byte) {
	audioBufPool.Put(b[:0])
}
