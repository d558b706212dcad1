package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tokengate/pkg/logger"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("json by default", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf))
		log.Info("hello")

		entry := decode(t, buf)
		assert.Equal(t, "INFO", entry["level"])
		assert.Equal(t, "hello", entry["msg"])
	})

	t.Run("text format", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf), logger.WithFormat(logger.FormatText))
		log.Info("hello")
		assert.Contains(t, buf.String(), "msg=hello")
	})

	t.Run("invalid format panics", func(t *testing.T) {
		t.Parallel()
		assert.Panics(t, func() { logger.New(logger.WithFormat("xml")) })
	})

	t.Run("level filters records", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf), logger.WithLevel(slog.LevelWarn))
		log.Info("dropped")
		assert.Empty(t, buf.String())
	})

	t.Run("production environment", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf), logger.WithEnvironment("prod", "tokengate"))
		log.Debug("dropped")
		log.Info("kept")

		entry := decode(t, buf)
		assert.Equal(t, "tokengate", entry["service"])
		assert.Equal(t, logger.EnvProduction, entry["env"])
	})
}

func TestContextExtractors(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := logger.New(
		logger.WithOutput(buf),
		logger.WithContextExtractors(logger.AccountIDExtractor(), nil),
	)

	ctx := logger.WithAccountID(context.Background(), "acc_1")
	log.InfoContext(ctx, "usage committed", logger.Tokens("total", 42), logger.Error(errors.New("boom")))

	entry := decode(t, buf)
	assert.Equal(t, "acc_1", entry["account_id"])
	assert.Equal(t, float64(42), entry["total"])
	assert.Equal(t, "boom", entry["error"])
}

func TestAccountSlot(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := logger.New(
		logger.WithOutput(buf),
		logger.WithContextExtractors(logger.AccountIDExtractor()),
	)

	outer := logger.WithAccountSlot(context.Background())
	log.InfoContext(outer, "before auth")
	entry := decode(t, buf)
	_, ok := entry["account_id"]
	assert.False(t, ok)

	inner := logger.WithAccountID(outer, "acc_2")
	assert.Equal(t, outer, inner, "an existing slot is filled in place")

	buf.Reset()
	log.InfoContext(outer, "after auth")
	assert.Equal(t, "acc_2", decode(t, buf)["account_id"])
}

func TestErrorAttr_Nil(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := logger.New(logger.WithOutput(buf))
	log.Info("no error", logger.Error(nil))

	entry := decode(t, buf)
	_, ok := entry["error"]
	assert.False(t, ok)
}

func TestDiscard(t *testing.T) {
	t.Parallel()
	assert.NotPanics(t, func() { logger.Discard().Error("ignored") })
}
