package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComponentLoggerTagsOutput(t *testing.T) {
	var buf bytes.Buffer
	root := NewWithWriter(&buf, false)
	store := root.Component("store")

	store.Info().Msg("blob written")

	require.Contains(t, buf.String(), "component=store")
	require.Contains(t, buf.String(), "blob written")
}

func TestDebugLevelGatesDebugMessages(t *testing.T) {
	var buf bytes.Buffer
	quiet := NewWithWriter(&buf, false)
	quiet.Debug().Msg("should not appear")
	require.Empty(t, buf.String())

	buf.Reset()
	verbose := NewWithWriter(&buf, true)
	verbose.Debug().Msg("should appear")
	require.Contains(t, buf.String(), "should appear")
}
