package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pmock "github.com/harunnryd/tutur/pkg/providers/mock"
	tmock "github.com/harunnryd/tutur/pkg/transports/mock"
)

func newIdle(t *testing.T, id string) *Session {
	t.Helper()
	s, err := New(Options{Conn: tmock.New(id), Backend: pmock.NewBackend(pmock.BackendConfig{})})
	require.NoError(t, err)
	return s
}

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()
	s := newIdle(t, "a")
	cancelled := false
	require.NoError(t, r.Register(s, func() { cancelled = true }))
	assert.Error(t, r.Register(s, nil))
	assert.Equal(t, int64(1), r.Count())

	r.Remove("a")
	assert.True(t, cancelled)
	assert.Zero(t, r.Count())
	r.Remove("a")
	assert.Zero(t, r.Count())
}

func TestRegistryDraining(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newIdle(t, "a"), nil))
	r.SetDraining(true)
	assert.True(t, r.Draining())
	assert.ErrorIs(t, r.Register(newIdle(t, "b"), nil), ErrDraining)

	assert.Equal(t, int64(1), r.Count())

	r.CloseAll()
	assert.Zero(t, r.Count())
}

func TestConfigMerge(t *testing.T) {
	base := DefaultConfig()

	got, err := base.Merge(map[string]any{"language": "fr-FR", "interruptible": false})
	require.NoError(t, err)
	assert.Equal(t, Config{Language: "fr-FR", VoiceName: DefaultVoice, Interruptible: false}, got)

	_, err = base.Merge(map[string]any{"voiceName": "  "})
	assert.Error(t, err)

	unchanged, err := base.Merge(map[string]any{"volume": 3})
	assert.Error(t, err)
	assert.Equal(t, base, unchanged)

	same, err := base.Merge(nil)
	require.NoError(t, err)
	assert.Equal(t, base, same)
}
