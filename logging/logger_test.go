package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZerologAdapterFormats(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewZerologAdapter(zerolog.New(&buf))

	adapter.Info("task %s done", "t-1")
	assert.Contains(t, buf.String(), "task t-1 done")
	assert.Contains(t, buf.String(), `"level":"info"`)
}

func TestZerologAdapterLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewZerologAdapter(zerolog.New(&buf).Level(zerolog.WarnLevel))

	adapter.Debug("hidden")
	adapter.Warn("visible")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "visible")
}

func TestNewDefaultLoggerRejectsBadLevel(t *testing.T) {
	_, err := NewDefaultLogger("verbose", false)
	require.Error(t, err)

	logger, err := NewDefaultLogger("debug", false)
	require.NoError(t, err)
	assert.NotNil(t, logger)
}

func TestNoOpLogger(t *testing.T) {
	// Must be safe to call with any arguments.
	var l Logger = NoOpLogger{}
	l.Debug("a")
	l.Info("b %d", 1)
	l.Warn("c")
	l.Error("d %v", nil)
}
