package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.NoError(t, err)
	require.Equal(t, Defaults(), cfg)
}

func TestLoadMalformedFileFallsBackToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("this is not [ valid toml"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, Defaults(), cfg)
}

func TestLoadParsesKnownKeysAndIgnoresUnknown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[persistence]
history = false

[preferences]
theme = "midnight"
key_preset = "vim"
receive_dir = "/tmp/incoming"
mystery_key = "ignored"

[transfer]
max_concurrent_sends = 4
max_concurrent_receives = 8
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.False(t, cfg.Persistence.History)
	require.Equal(t, "midnight", cfg.Preferences.Theme)
	require.Equal(t, "vim", cfg.Preferences.KeyPreset)
	require.Equal(t, "/tmp/incoming", cfg.Preferences.ReceiveDir)
	require.Equal(t, 4, cfg.Transfer.MaxConcurrentSends)
	require.Equal(t, 8, cfg.Transfer.MaxConcurrentReceives)
}

func TestLoadClampsInvalidConcurrencyToDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[transfer]
max_concurrent_sends = 0
max_concurrent_receives = -1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 50, cfg.Transfer.MaxConcurrentSends)
	require.Equal(t, 50, cfg.Transfer.MaxConcurrentReceives)
}
