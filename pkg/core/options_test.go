package core

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type stubNotifier struct{}

func (stubNotifier) Notify(context.Context, string) error { return nil }

func TestApplyOptionsDefaults(t *testing.T) {
	opts := applyOptions(nil)

	assert.Nil(t, opts.logger)
	assert.Nil(t, opts.store)
	assert.False(t, opts.llmSet)
	assert.False(t, opts.embedSet)
	assert.Nil(t, opts.notifier)
	assert.NotNil(t, opts.now)
	assert.WithinDuration(t, time.Now(), opts.now(), time.Minute)
}

func TestWithLLMNilStillCountsAsInjected(t *testing.T) {
	opts := applyOptions([]Option{WithLLM(nil)})

	assert.True(t, opts.llmSet)
	assert.Nil(t, opts.llm)
}

func TestWithEmbedderNilStillCountsAsInjected(t *testing.T) {
	opts := applyOptions([]Option{WithEmbedder(nil)})

	assert.True(t, opts.embedSet)
	assert.Nil(t, opts.embed)
}

func TestWithClock(t *testing.T) {
	fixed := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	opts := applyOptions([]Option{WithClock(func() time.Time { return fixed })})
	assert.Equal(t, fixed, opts.now())

	opts = applyOptions([]Option{WithClock(nil)})
	assert.NotNil(t, opts.now, "nil clock falls back to time.Now")
}

func TestCollaboratorOptions(t *testing.T) {
	logger := slog.Default()
	notifier := stubNotifier{}

	opts := applyOptions([]Option{
		WithLogger(logger),
		WithNotifier(notifier),
	})

	assert.Same(t, logger, opts.logger)
	assert.Equal(t, notifier, opts.notifier)
}
