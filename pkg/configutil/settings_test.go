package configutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type patchTarget struct {
	Language      *string `mapstructure:"language"`
	VoiceName     *string `mapstructure:"voiceName"`
	Interruptible *bool   `mapstructure:"interruptible"`
}

func TestDecodePatchNormalizesKeys(t *testing.T) {
	var out patchTarget
	err := DecodePatch(map[string]any{"voice_name": "en-GB-RyanNeural", "interruptible": "false"}, &out)
	require.NoError(t, err)
	require.NotNil(t, out.VoiceName)
	assert.Equal(t, "en-GB-RyanNeural", *out.VoiceName)
	require.NotNil(t, out.Interruptible)
	assert.False(t, *out.Interruptible)
	assert.Nil(t, out.Language)
}

func TestDecodePatchRejectsUnknownKeys(t *testing.T) {
	var out patchTarget
	err := DecodePatch(map[string]any{"speed": 2}, &out)
	assert.Error(t, err)
}

func TestValidateSettings(t *testing.T) {
	schema := Schema{Required: []string{"api_key"}, Optional: []string{"model"}}
	assert.NoError(t, ValidateSettings("vendors.llm.settings", map[string]any{"API-KEY": "k", "model": "m"}, schema))

	err := ValidateSettings("vendors.llm.settings", map[string]any{"api_key": " ", "extra": 1}, schema)
	var serr *SettingsError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, []string{"api_key"}, serr.Missing)
	assert.Equal(t, []string{"extra"}, serr.Unknown)
	assert.EqualError(t, err, "vendors.llm.settings: missing: api_key; unknown: extra")

	err = ValidateSettings("", map[string]any{"anything": true}, Schema{AllowUnknown: true})
	assert.NoError(t, err)
}
