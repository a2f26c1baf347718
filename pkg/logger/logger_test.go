package logger_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"poetry-feed/pkg/logger"
)

func TestNew_WithFieldsReturnsDistinctLogger(t *testing.T) {
	base, err := logger.New(logger.Config{Level: "warn", OutputPaths: []string{"stderr"}})
	require.NoError(t, err)

	child := base.With(logger.String("component", "test"))
	require.NotNil(t, child)
	require.NotSame(t, base, child)

	child.Debug("filtered out")
	child.Warn("kept", logger.Error(errors.New("boom")), logger.Int("attempt", 3))
}

func TestNew_ConsoleFormat(t *testing.T) {
	l, err := logger.New(logger.Config{Level: "debug", Format: "console", OutputPaths: []string{"stderr"}})
	require.NoError(t, err)
	l.Info("console logger works", logger.Bool("ok", true))
}

func TestNewNop(t *testing.T) {
	l := logger.NewNop()
	l.Info("discarded")
	require.Equal(t, l, l.With(logger.String("k", "v")))
	require.NoError(t, l.Sync())
}
