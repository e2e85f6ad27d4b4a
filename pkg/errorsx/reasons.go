package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonFrameInvalid ReasonCode = "frame_invalid"
	ReasonConfigPatch  ReasonCode = "config_patch"

	ReasonBackendRequest     ReasonCode = "backend_request"
	ReasonBackendMalformed   ReasonCode = "backend_malformed"
	ReasonBackendRateLimit   ReasonCode = "backend_rate_limit"
	ReasonBackendCircuitOpen ReasonCode = "backend_circuit_open"
	ReasonRunFailed          ReasonCode = "run_failed"
	ReasonRunTimeout         ReasonCode = "run_timeout"
	ReasonRunUnsupported     ReasonCode = "run_unsupported"

	ReasonSTTConnect ReasonCode = "stt_connect"
	ReasonSTTSend    ReasonCode = "stt_send"
	ReasonSTTStream  ReasonCode = "stt_stream"

	ReasonTTSConnect   ReasonCode = "tts_connect"
	ReasonTTSSynth     ReasonCode = "tts_synthesize"
	ReasonTTSRateLimit ReasonCode = "tts_rate_limit"
	ReasonAudioStore   ReasonCode = "audio_store"

	ReasonTransportRead         ReasonCode = "transport_read"
	ReasonTransportSend         ReasonCode = "transport_send"
	ReasonTransportBackpressure ReasonCode = "transport_backpressure"
)
