package core

import (
	"context"
	"fmt"

	"github.com/tiermem/tiermem-go/pkg/embedder"
	geminiEmbedder "github.com/tiermem/tiermem-go/pkg/embedder/gemini"
	mockEmbedder "github.com/tiermem/tiermem-go/pkg/embedder/mock"
	ollamaEmbedder "github.com/tiermem/tiermem-go/pkg/embedder/ollama"
	openaiEmbedder "github.com/tiermem/tiermem-go/pkg/embedder/openai"
	"github.com/tiermem/tiermem-go/pkg/llm"
	anthropicLLM "github.com/tiermem/tiermem-go/pkg/llm/anthropic"
	geminiLLM "github.com/tiermem/tiermem-go/pkg/llm/gemini"
	minimaxLLM "github.com/tiermem/tiermem-go/pkg/llm/minimax"
	ollamaLLM "github.com/tiermem/tiermem-go/pkg/llm/ollama"
	openaiLLM "github.com/tiermem/tiermem-go/pkg/llm/openai"
	"github.com/tiermem/tiermem-go/pkg/storage"
	mysqlStore "github.com/tiermem/tiermem-go/pkg/storage/mysql"
	postgresStore "github.com/tiermem/tiermem-go/pkg/storage/postgres"
	sqliteStore "github.com/tiermem/tiermem-go/pkg/storage/sqlite"
)

// initStore initializes the hot-tier backend.
//
// The SQLite file lives at the fixed path inside the data directory; server
// backends read their connection settings from the provider config map.
func initStore(cfg *Config) (storage.Store, error) {
	settings := cfg.VectorStore.Config

	switch cfg.VectorStore.Provider {
	case "sqlite", "":
		return sqliteStore.NewClient(&sqliteStore.Config{
			DBPath: cfg.HotStorePath(),
		})
	case "postgres":
		return postgresStore.NewClient(&postgresStore.Config{
			Host:       configString(settings, "host", "localhost"),
			Port:       configInt(settings, "port", 5432),
			User:       configString(settings, "user", "postgres"),
			Password:   configString(settings, "password", ""),
			DBName:     configString(settings, "db_name", "tiermem"),
			Table:      configString(settings, "table", "memories"),
			Dimensions: cfg.Embedder.Dimensions,
			SSLMode:    configString(settings, "ssl_mode", "disable"),
		})
	case "mysql":
		return mysqlStore.NewClient(&mysqlStore.Config{
			Host:     configString(settings, "host", "127.0.0.1"),
			Port:     configInt(settings, "port", 3306),
			User:     configString(settings, "user", "root"),
			Password: configString(settings, "password", ""),
			DBName:   configString(settings, "db_name", "tiermem"),
			Table:    configString(settings, "table", "memories"),
		})
	default:
		return nil, NewMemoryError("initStore",
			fmt.Errorf("%w: unknown vector store provider %q", ErrInvalidConfig, cfg.VectorStore.Provider))
	}
}

// initLLM initializes the LLM provider.
//
// Returns (nil, nil) when no provider is configured or no API key is set for
// a remote vendor: the subsystem then runs with extraction in raw mode and
// reflection disabled rather than failing startup.
func initLLM(ctx context.Context, cfg LLMConfig) (llm.Provider, error) {
	if cfg.Provider == "" || cfg.Provider == "none" {
		return nil, nil
	}

	switch cfg.Provider {
	case "openai", "deepseek", "qwen", "moonshot":
		if cfg.APIKey == "" {
			return nil, nil
		}
		return openaiLLM.NewClient(&openaiLLM.Config{
			APIKey:          cfg.APIKey,
			Model:           cfg.Model,
			BaseURL:         cfg.BaseURL,
			Headers:         cfg.Headers,
			JSONModeSupport: cfg.JSONModeSupport,
		})
	case "minimax":
		if cfg.APIKey == "" {
			return nil, nil
		}
		return minimaxLLM.NewClient(&minimaxLLM.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			GroupID: cfg.GroupID,
		})
	case "anthropic":
		if cfg.APIKey == "" {
			return nil, nil
		}
		return anthropicLLM.NewClient(&anthropicLLM.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
	case "gemini":
		if cfg.APIKey == "" {
			return nil, nil
		}
		return geminiLLM.NewClient(ctx, &geminiLLM.Config{
			APIKey: cfg.APIKey,
			Model:  cfg.Model,
		})
	case "ollama":
		return ollamaLLM.NewClient(&ollamaLLM.Config{
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
	default:
		return nil, NewMemoryError("initLLM",
			fmt.Errorf("%w: unknown LLM provider %q", ErrInvalidConfig, cfg.Provider))
	}
}

// initEmbedder initializes the embedding provider.
//
// Returns (nil, nil) when a remote vendor is configured without an API key;
// recall and ingest then degrade per-call instead of blocking startup.
func initEmbedder(ctx context.Context, cfg EmbedderConfig) (embedder.Provider, error) {
	switch cfg.Provider {
	case "openai", "":
		if cfg.APIKey == "" {
			return nil, nil
		}
		return openaiEmbedder.NewClient(&openaiEmbedder.Config{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.Dimensions,
		})
	case "gemini":
		if cfg.APIKey == "" {
			return nil, nil
		}
		return geminiEmbedder.NewClient(ctx, &geminiEmbedder.Config{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
		})
	case "ollama":
		return ollamaEmbedder.NewClient(&ollamaEmbedder.Config{
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.Dimensions,
		})
	case "mock":
		return mockEmbedder.New(cfg.Dimensions), nil
	default:
		return nil, NewMemoryError("initEmbedder",
			fmt.Errorf("%w: unknown embedding provider %q", ErrInvalidConfig, cfg.Provider))
	}
}

// configString reads a string setting from a provider config map. JSON
// round-trips keep strings intact, so only a type check is needed.
func configString(settings map[string]interface{}, key, fallback string) string {
	if settings == nil {
		return fallback
	}
	if v, ok := settings[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// configInt reads an integer setting from a provider config map. Values that
// arrived through encoding/json are float64 and are accepted too.
func configInt(settings map[string]interface{}, key string, fallback int) int {
	if settings == nil {
		return fallback
	}
	switch v := settings[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}
