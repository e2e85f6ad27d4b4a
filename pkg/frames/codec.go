package frames

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/harunnryd/tutur/pkg/errorsx"
)

// DecodeBinary wraps a binary websocket payload as a pooled audio chunk.
func DecodeBinary(payload []byte) (Inbound, error) {
	if len(payload) == 0 {
		return nil, errorsx.Invalid("audio", "empty audio chunk")
	}
	return NewAudioFrameFromPool(payload), nil
}

// DecodeText parses a JSON control frame keyed by its "type" field.
func DecodeText(payload []byte) (Inbound, error) {
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, errorsx.Invalid("", "malformed json: %v", err)
	}
	typ, _ := raw["type"].(string)
	switch Kind(strings.ToLower(strings.TrimSpace(typ))) {
	case KindText:
		text := stringField(raw, "text")
		if text == "" {
			text = stringField(raw, "message")
		}
		if text == "" {
			return nil, errorsx.Invalid("text", "text is required")
		}
		return TextFrame{Text: text}, nil
	case KindInterrupt:
		return InterruptFrame{}, nil
	case KindConfig:
		patch, err := configPatch(raw)
		if err != nil {
			return nil, err
		}
		return ConfigFrame{Patch: patch}, nil
	case "":
		return nil, errorsx.Invalid("type", "type is required")
	default:
		return nil, errorsx.Invalid("type", "unknown frame type %q", typ)
	}
}

// EncodeOutbound renders an outbound frame in its JSON wire form.
func EncodeOutbound(f Outbound) ([]byte, error) {
	switch v := f.(type) {
	case StateFrame:
		type alias StateFrame
		return json.Marshal(struct {
			Type Kind `json:"type"`
			alias
		}{v.Kind(), alias(v)})
	case TranscriptFrame:
		type alias TranscriptFrame
		return json.Marshal(struct {
			Type Kind `json:"type"`
			alias
		}{v.Kind(), alias(v)})
	case ResponseFrame:
		type alias ResponseFrame
		return json.Marshal(struct {
			Type Kind `json:"type"`
			alias
		}{v.Kind(), alias(v)})
	case ErrorFrame:
		type alias ErrorFrame
		return json.Marshal(struct {
			Type Kind `json:"type"`
			alias
		}{v.Kind(), alias(v)})
	default:
		return nil, fmt.Errorf("unsupported outbound frame %T", f)
	}
}

func configPatch(raw map[string]any) (map[string]any, error) {
	if nested, ok := raw["config"]; ok {
		m, ok := nested.(map[string]any)
		if !ok {
			return nil, errorsx.Invalid("config", "config must be an object")
		}
		return m, nil
	}
	patch := make(map[string]any, len(raw))
	for k, v := range raw {
		if k == "type" {
			continue
		}
		patch[k] = v
	}
	return patch, nil
}

func stringField(raw map[string]any, key string) string {
	s, _ := raw[key].(string)
	return strings.TrimSpace(s)
}
