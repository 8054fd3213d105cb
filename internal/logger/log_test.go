package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/spotex/internal/apperror"
	"github.com/xtrntr/spotex/internal/requestid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observed(level zapcore.Level) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return NewFromZap(zap.New(core)), logs
}

func TestLogger_ContextAddsRequestID(t *testing.T) {
	log, logs := observed(zapcore.DebugLevel)
	ctx := requestid.With(context.Background(), "req-1")

	log.InfoContext(ctx, "hello", NewField("user_id", 7))
	log.WarnContext(context.Background(), "no id")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "hello", entries[0].Message)
	assert.Equal(t, "req-1", entries[0].ContextMap()["request_id"])
	assert.EqualValues(t, 7, entries[0].ContextMap()["user_id"])
	assert.NotContains(t, entries[1].ContextMap(), "request_id")
}

func TestLogger_ErrorCarriesCodeAndStack(t *testing.T) {
	log, logs := observed(zapcore.DebugLevel)

	log.Error(apperror.Wrap(apperror.SettlementFailed, "settle failed", errors.New("boom")), NewField("match_id", 3))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, "settle failed: boom", entries[0].Message)
	assert.Equal(t, "settlement_failed", entries[0].ContextMap()["code"])
	assert.NotEmpty(t, entries[0].Stack)
}

func TestLogger_WithFields(t *testing.T) {
	log, logs := observed(zapcore.InfoLevel)

	child := log.WithFields(NewField("service", "spotex"))
	child.Info("started")
	child.Debug("filtered out")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "spotex", entries[0].ContextMap()["service"])
}

func TestLevel_zapLevel(t *testing.T) {
	tests := []struct {
		level Level
		want  zapcore.Level
	}{
		{DebugLevel, zapcore.DebugLevel},
		{"WARN", zapcore.WarnLevel},
		{ErrorLevel, zapcore.ErrorLevel},
		{"", zapcore.InfoLevel},
		{"verbose", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.level.zapLevel())
		})
	}
}

func TestNew_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spotex.log")
	log := New(Options{Level: InfoLevel, File: path})
	log.Info("to file", NewField("k", "v"))
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"to file"`)
}
