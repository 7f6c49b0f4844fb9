package core

import (
	"log/slog"
	"time"

	"github.com/tiermem/tiermem-go/pkg/embedder"
	"github.com/tiermem/tiermem-go/pkg/llm"
	"github.com/tiermem/tiermem-go/pkg/storage"
)

// Option is a function type for configuring a Coordinator beyond its Config.
//
// Options are applied using the functional options pattern; they exist mainly
// to inject alternative collaborators in tests and embedding hosts.
type Option func(*coordinatorOptions)

// coordinatorOptions collects injected collaborators before construction.
// The set flags distinguish "not injected" from "injected as nil", since a
// nil provider is a legitimate way to force degraded mode.
type coordinatorOptions struct {
	logger   *slog.Logger
	store    storage.Store
	llm      llm.Provider
	llmSet   bool
	embed    embedder.Provider
	embedSet bool
	notifier Notifier
	now      func() time.Time
}

// applyOptions resolves an option list against the defaults.
func applyOptions(opts []Option) *coordinatorOptions {
	options := &coordinatorOptions{now: time.Now}
	for _, opt := range opts {
		opt(options)
	}
	if options.now == nil {
		options.now = time.Now
	}
	return options
}

// WithLogger replaces the logger derived from the config's log level.
//
// Example:
//
//	coord, _ := core.New(cfg, core.WithLogger(logger))
func WithLogger(logger *slog.Logger) Option {
	return func(opts *coordinatorOptions) {
		opts.logger = logger
	}
}

// WithStore injects the hot-tier store instead of opening one from config.
// The coordinator takes ownership and closes it on Stop.
func WithStore(store storage.Store) Option {
	return func(opts *coordinatorOptions) {
		opts.store = store
	}
}

// WithLLM injects the language model provider instead of constructing one
// from config. Passing nil forces degraded mode: extraction falls back to raw
// texts and reflection is disabled.
func WithLLM(provider llm.Provider) Option {
	return func(opts *coordinatorOptions) {
		opts.llm = provider
		opts.llmSet = true
	}
}

// WithEmbedder injects the embedding provider instead of constructing one
// from config. Passing nil degrades ingestion and hot-tier search to no-ops.
func WithEmbedder(provider embedder.Provider) Option {
	return func(opts *coordinatorOptions) {
		opts.embed = provider
		opts.embedSet = true
	}
}

// WithNotifier sets the outbound channel for proactive reflection messages.
// Without one, due actions are injected into the next turn's context instead
// of being delivered by the background tick.
func WithNotifier(notifier Notifier) Option {
	return func(opts *coordinatorOptions) {
		opts.notifier = notifier
	}
}

// WithClock overrides the coordinator's time source, used by tests to step
// through reflection trigger windows.
func WithClock(now func() time.Time) Option {
	return func(opts *coordinatorOptions) {
		opts.now = now
	}
}
