package session

import (
	"strings"

	"github.com/harunnryd/tutur/pkg/configutil"
	"github.com/harunnryd/tutur/pkg/errorsx"
)

const (
	DefaultLanguage = "en-US"
	DefaultVoice    = "en-US-JennyNeural"
	DefaultApology  = "Sorry, I ran into an issue with that request. Please try again."
	// RecognitionFailed is the error frame text for recognizer failures.
	RecognitionFailed = "Speech recognition failed"
)

// Config is the client-adjustable part of a session.
type Config struct {
	Language      string
	VoiceName     string
	Interruptible bool
}

func DefaultConfig() Config {
	return Config{Language: DefaultLanguage, VoiceName: DefaultVoice, Interruptible: true}
}

type configPatch struct {
	Language      *string `mapstructure:"language"`
	VoiceName     *string `mapstructure:"voiceName"`
	Interruptible *bool   `mapstructure:"interruptible"`
}

// Merge applies a client patch. Absent keys keep their value; unknown keys,
// wrong types and blank strings are validation errors and leave c unchanged.
func (c Config) Merge(patch map[string]any) (Config, error) {
	var p configPatch
	if err := configutil.DecodePatch(patch, &p); err != nil {
		return c, errorsx.Invalid("config", "%v", err)
	}
	out := c
	if p.Language != nil {
		v := strings.TrimSpace(*p.Language)
		if v == "" {
			return c, errorsx.Invalid("language", "must not be empty")
		}
		out.Language = v
	}
	if p.VoiceName != nil {
		v := strings.TrimSpace(*p.VoiceName)
		if v == "" {
			return c, errorsx.Invalid("voiceName", "must not be empty")
		}
		out.VoiceName = v
	}
	if p.Interruptible != nil {
		out.Interruptible = *p.Interruptible
	}
	return out, nil
}
