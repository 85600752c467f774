package common

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	level, err := ParseLogLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	level, err = ParseLogLevel("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)

	_, err = ParseLogLevel("verbose")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestSetupLogger_JSON(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	var buf bytes.Buffer
	require.NoError(t, setupLogger(&buf, slog.LevelInfo, "json"))

	slog.Info("rule created", Fields{"rule_id": 7}.Attrs()...)
	slog.Debug("dropped")

	assert.Contains(t, buf.String(), `"rule_id":7`)
	assert.NotContains(t, buf.String(), "dropped")

	assert.ErrorIs(t, setupLogger(&buf, slog.LevelInfo, "xml"), ErrInvalidConfig)
}
