package main

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MrBloodrune/tuit/internal/config"
	"github.com/MrBloodrune/tuit/internal/events"
)

func TestOutputDirPrecedence(t *testing.T) {
	orig := receiveDir
	defer func() { receiveDir = orig }()

	a := &app{cfg: config.Config{Preferences: config.Preferences{ReceiveDir: "/configured"}}}

	receiveDir = "/flag-wins"
	dir, err := a.outputDir()
	require.NoError(t, err)
	require.Equal(t, "/flag-wins", dir)

	receiveDir = ""
	dir, err = a.outputDir()
	require.NoError(t, err)
	require.Equal(t, "/configured", dir)

	a.cfg.Preferences.ReceiveDir = ""
	dir, err = a.outputDir()
	require.NoError(t, err)
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, "Downloads"), dir)
}

func TestInstanceDataDirIncludesPID(t *testing.T) {
	dir, err := instanceDataDir()
	require.NoError(t, err)
	require.Contains(t, dir, fmt.Sprintf("instance-%d", os.Getpid()))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
	require.NoError(t, os.RemoveAll(dir))
}

func TestPromptConflictsParsesReplies(t *testing.T) {
	cases := map[string]events.Resolution{
		"o\n":         events.ResolveOverwrite,
		"overwrite\n": events.ResolveOverwrite,
		"s\n":         events.ResolveSkip,
		"c\n":         events.ResolveCancel,
		"r\n":         events.ResolveRename,
		"\n":          events.ResolveRename,
		"garbage\n":   events.ResolveRename,
	}
	for input, want := range cases {
		got := parseResolution(input)
		require.Equal(t, want, got, "input %q", input)
	}
}
