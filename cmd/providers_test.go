package cmd

import (
	"log/slog"
	"testing"

	"github.com/g3ti/rtcc-stream/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetLevelParsesAndApplies(t *testing.T) {
	t.Parallel()

	var v slog.LevelVar
	require.NoError(t, setLevel(&v, "debug"))
	assert.Equal(t, slog.LevelDebug, v.Level())

	require.NoError(t, setLevel(&v, "warn"))
	assert.Equal(t, slog.LevelWarn, v.Level())

	require.Error(t, setLevel(&v, "chatty"))
	assert.Equal(t, slog.LevelWarn, v.Level(), "invalid name leaves the level untouched")
}

func TestProvideLoggerRejectsBadLevel(t *testing.T) {
	_, err := ProvideLogger(&config.Config{Log: config.LogConfig{Level: "nope"}})
	require.Error(t, err)
}
