package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Default tunables. Every field of Config falls back to one of these when
// unset; environment variables override them per field.
const (
	DefaultUserID                  = "default"
	DefaultTopK                    = 5
	DefaultSearchThreshold         = 0.5
	DefaultMaxMemoryCount          = 2000
	DefaultCaptureBatchWindowMS    = 1200
	DefaultCaptureBatchMaxMessages = 30
	DefaultSearchCacheTTLMS        = 45000
	DefaultSearchCacheMaxEntries   = 128
	DefaultMemoryTokenBudgetRatio  = 0.15
	DefaultMemoryTokenBudgetMin    = 200
	DefaultMemoryTokenBudgetMax    = 4000
	DefaultActionTTLMS             = 7 * 24 * 60 * 60 * 1000
	DefaultMaxPendingActions       = 20
	DefaultReflectionTickMS        = 60000
	DefaultWriteQueueDelayMS       = 0
)

// Config contains the complete configuration for a memory subsystem instance.
//
// It includes settings for:
//   - Identity and turn behavior (user id, auto recall/capture)
//   - The data directory holding all persisted state
//   - Search, capture, cache, reflection and write-queue tunables
//   - LLM provider (fact extraction and reflection)
//   - Embedding provider (vector generation)
//   - Vector store (hot tier persistence)
//
// Example:
//
//	config := core.DefaultConfig()
//	config.LLM = core.LLMConfig{
//	    Provider: "openai",
//	    APIKey:   "sk-...",
//	    Model:    "gpt-4o-mini",
//	}
//	config.Embedder = core.EmbedderConfig{
//	    Provider:   "openai",
//	    APIKey:     "sk-...",
//	    Model:      "text-embedding-3-small",
//	    Dimensions: 1536,
//	}
type Config struct {
	// UserID is the identity that owns captured memories.
	UserID string `json:"user_id"`

	// DataDir holds all persisted state: the hot-tier database, the JSONL
	// archive, reflection actions and the status snapshot.
	DataDir string `json:"data_dir"`

	// AutoRecall injects relevant memories before each turn.
	AutoRecall bool `json:"auto_recall"`

	// AutoCapture observes completed turns and extracts facts from them.
	AutoCapture bool `json:"auto_capture"`

	// TopK is the per-source result limit for searches.
	TopK int `json:"top_k"`

	// SearchThreshold is the minimum cosine similarity for hot-tier hits.
	SearchThreshold float64 `json:"search_threshold"`

	// MaxMemoryCount caps hot-tier records per user; overflow is pruned to
	// the archive oldest-first.
	MaxMemoryCount int `json:"max_memory_count"`

	// CaptureBatchWindowMS is the debounce window before a capture buffer
	// flushes to ingestion.
	CaptureBatchWindowMS int `json:"capture_batch_window_ms"`

	// CaptureBatchMaxMessages caps a capture buffer; older turns fall off.
	CaptureBatchMaxMessages int `json:"capture_batch_max_messages"`

	// SearchCacheTTLMS is the lifetime of a cached search result.
	SearchCacheTTLMS int `json:"search_cache_ttl_ms"`

	// SearchCacheMaxEntries bounds the search cache.
	SearchCacheMaxEntries int `json:"search_cache_max_entries"`

	// MemoryTokenBudgetRatio is the share of the model context window
	// granted to injected memories.
	MemoryTokenBudgetRatio float64 `json:"memory_token_budget_ratio"`

	// MemoryTokenBudgetMin and MemoryTokenBudgetMax clamp the derived
	// per-turn injection budget.
	MemoryTokenBudgetMin int `json:"memory_token_budget_min"`
	MemoryTokenBudgetMax int `json:"memory_token_budget_max"`

	// ActionTTLMS is how long an undelivered reflection action survives.
	ActionTTLMS int64 `json:"action_ttl_ms"`

	// MaxPendingActions caps unfired reflection actions.
	MaxPendingActions int `json:"max_pending_actions"`

	// ReflectionTickMS is the coordinator's background tick interval.
	ReflectionTickMS int `json:"reflection_tick_ms"`

	// WriteQueueDelayMS inserts a pause between hot-tier writes.
	WriteQueueDelayMS int `json:"write_queue_delay_ms"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level"`

	// LLM contains LLM provider configuration.
	LLM LLMConfig `json:"llm"`

	// Embedder contains embedding provider configuration.
	Embedder EmbedderConfig `json:"embedder"`

	// VectorStore contains hot-tier backend configuration.
	VectorStore VectorStoreConfig `json:"vector_store"`
}

// LLMConfig contains configuration for the LLM provider.
//
// Supported providers: openai, deepseek, qwen, moonshot, minimax, anthropic,
// gemini, ollama. The OpenAI-compatible vendors differ only in base URL,
// default model and whether the endpoint honors JSON response format.
type LLMConfig struct {
	// Provider is the LLM provider name.
	Provider string `json:"provider"`

	// APIKey is the API key for the LLM provider.
	APIKey string `json:"api_key"`

	// Model is the model name to use (e.g. "gpt-4o-mini", "deepseek-chat").
	Model string `json:"model"`

	// BaseURL is the base URL for the API (optional, uses provider default
	// if empty).
	BaseURL string `json:"base_url,omitempty"`

	// GroupID is required by MiniMax deployments (optional elsewhere).
	GroupID string `json:"group_id,omitempty"`

	// Headers are extra HTTP headers sent with every request (optional).
	Headers map[string]string `json:"headers,omitempty"`

	// JSONModeSupport marks endpoints that honor a JSON response format
	// parameter. Resolved per provider by ApplyDefaults; endpoints without
	// it get a JSON-only instruction appended to the prompt instead.
	JSONModeSupport bool `json:"json_mode_support,omitempty"`
}

// EmbedderConfig contains configuration for the embedding provider.
//
// Supported providers: openai, gemini, ollama, mock.
type EmbedderConfig struct {
	// Provider is the embedding provider name.
	Provider string `json:"provider"`

	// APIKey is the API key for the embedding provider.
	APIKey string `json:"api_key"`

	// Model is the embedding model name.
	Model string `json:"model"`

	// BaseURL is the base URL for the API (optional).
	BaseURL string `json:"base_url,omitempty"`

	// Dimensions is the dimension of the embedding vectors.
	Dimensions int `json:"dimensions,omitempty"`
}

// VectorStoreConfig contains configuration for the hot-tier backend.
//
// Supported providers: sqlite (default, embedded), postgres, mysql. The
// SQLite file always lives at <data_dir>/vector_store.db; server backends
// read their connection settings from Config.
type VectorStoreConfig struct {
	// Provider is the backend name (sqlite, postgres, mysql).
	Provider string `json:"provider"`

	// Config contains provider-specific settings.
	// For PostgreSQL: host, port, user, password, db_name, table, ssl_mode
	// For MySQL: host, port, user, password, db_name, table
	Config map[string]interface{} `json:"config,omitempty"`
}

// DefaultConfig returns a Config with every tunable at its default and the
// data directory under the user's home.
func DefaultConfig() *Config {
	cfg := &Config{
		UserID:                  DefaultUserID,
		DataDir:                 defaultDataDir(),
		AutoRecall:              true,
		AutoCapture:             true,
		TopK:                    DefaultTopK,
		SearchThreshold:         DefaultSearchThreshold,
		MaxMemoryCount:          DefaultMaxMemoryCount,
		CaptureBatchWindowMS:    DefaultCaptureBatchWindowMS,
		CaptureBatchMaxMessages: DefaultCaptureBatchMaxMessages,
		SearchCacheTTLMS:        DefaultSearchCacheTTLMS,
		SearchCacheMaxEntries:   DefaultSearchCacheMaxEntries,
		MemoryTokenBudgetRatio:  DefaultMemoryTokenBudgetRatio,
		MemoryTokenBudgetMin:    DefaultMemoryTokenBudgetMin,
		MemoryTokenBudgetMax:    DefaultMemoryTokenBudgetMax,
		ActionTTLMS:             DefaultActionTTLMS,
		MaxPendingActions:       DefaultMaxPendingActions,
		ReflectionTickMS:        DefaultReflectionTickMS,
		WriteQueueDelayMS:       DefaultWriteQueueDelayMS,
		LogLevel:                "warn",
		VectorStore:             VectorStoreConfig{Provider: "sqlite"},
	}
	return cfg
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".tiermem", "data")
	}
	return filepath.Join(home, ".tiermem", "data")
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// The function:
//  1. Searches for .env or .env.example files (up to 5 directory levels up)
//  2. Loads environment variables from the found file
//  3. Parses environment variables into a Config struct
//
// Tunables use the TIERMEM_ prefix (TIERMEM_USER_ID, TIERMEM_DATA_DIR,
// TIERMEM_TOP_K, TIERMEM_SEARCH_CACHE_TTL_MS, ...). Provider settings use
// the conventional names:
//   - LLM_PROVIDER, LLM_API_KEY, LLM_MODEL, LLM_BASE_URL, MINIMAX_GROUP_ID
//   - EMBEDDING_PROVIDER, EMBEDDING_API_KEY, EMBEDDING_MODEL,
//     EMBEDDING_BASE_URL, EMBEDDING_DIMS
//   - DATABASE_PROVIDER (sqlite, postgres, mysql) plus POSTGRES_* / MYSQL_*
//
// Returns a Config instance, or an error if loading fails.
func LoadConfigFromEnv() (*Config, error) {
	if envPath, found := FindEnvFile(); found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg := DefaultConfig()

	cfg.UserID = getEnvOrDefault("TIERMEM_USER_ID", cfg.UserID)
	cfg.DataDir = getEnvOrDefault("TIERMEM_DATA_DIR", cfg.DataDir)
	cfg.AutoRecall = getEnvBool("TIERMEM_AUTO_RECALL", cfg.AutoRecall)
	cfg.AutoCapture = getEnvBool("TIERMEM_AUTO_CAPTURE", cfg.AutoCapture)
	cfg.TopK = getEnvInt("TIERMEM_TOP_K", cfg.TopK)
	cfg.SearchThreshold = getEnvFloat("TIERMEM_SEARCH_THRESHOLD", cfg.SearchThreshold)
	cfg.MaxMemoryCount = getEnvInt("TIERMEM_MAX_MEMORY_COUNT", cfg.MaxMemoryCount)
	cfg.CaptureBatchWindowMS = getEnvInt("TIERMEM_CAPTURE_BATCH_WINDOW_MS", cfg.CaptureBatchWindowMS)
	cfg.CaptureBatchMaxMessages = getEnvInt("TIERMEM_CAPTURE_BATCH_MAX_MESSAGES", cfg.CaptureBatchMaxMessages)
	cfg.SearchCacheTTLMS = getEnvInt("TIERMEM_SEARCH_CACHE_TTL_MS", cfg.SearchCacheTTLMS)
	cfg.SearchCacheMaxEntries = getEnvInt("TIERMEM_SEARCH_CACHE_MAX_ENTRIES", cfg.SearchCacheMaxEntries)
	cfg.MemoryTokenBudgetRatio = getEnvFloat("TIERMEM_MEMORY_TOKEN_BUDGET_RATIO", cfg.MemoryTokenBudgetRatio)
	cfg.MemoryTokenBudgetMin = getEnvInt("TIERMEM_MEMORY_TOKEN_BUDGET_MIN", cfg.MemoryTokenBudgetMin)
	cfg.MemoryTokenBudgetMax = getEnvInt("TIERMEM_MEMORY_TOKEN_BUDGET_MAX", cfg.MemoryTokenBudgetMax)
	cfg.ActionTTLMS = int64(getEnvInt("TIERMEM_ACTION_TTL_MS", int(cfg.ActionTTLMS)))
	cfg.MaxPendingActions = getEnvInt("TIERMEM_MAX_PENDING_ACTIONS", cfg.MaxPendingActions)
	cfg.ReflectionTickMS = getEnvInt("TIERMEM_REFLECTION_TICK_MS", cfg.ReflectionTickMS)
	cfg.WriteQueueDelayMS = getEnvInt("TIERMEM_WRITE_QUEUE_DELAY_MS", cfg.WriteQueueDelayMS)
	cfg.LogLevel = getEnvOrDefault("TIERMEM_LOG_LEVEL", cfg.LogLevel)

	cfg.LLM = LLMConfig{
		Provider: getEnvOrDefault("LLM_PROVIDER", "openai"),
		APIKey:   os.Getenv("LLM_API_KEY"),
		Model:    os.Getenv("LLM_MODEL"),
		BaseURL:  os.Getenv("LLM_BASE_URL"),
		GroupID:  os.Getenv("MINIMAX_GROUP_ID"),
	}

	cfg.Embedder = EmbedderConfig{
		Provider:   getEnvOrDefault("EMBEDDING_PROVIDER", "openai"),
		APIKey:     os.Getenv("EMBEDDING_API_KEY"),
		Model:      os.Getenv("EMBEDDING_MODEL"),
		BaseURL:    os.Getenv("EMBEDDING_BASE_URL"),
		Dimensions: getEnvInt("EMBEDDING_DIMS", 0),
	}

	provider := getEnvOrDefault("DATABASE_PROVIDER", "sqlite")
	storeConfig := make(map[string]interface{})
	switch provider {
	case "postgres":
		storeConfig = map[string]interface{}{
			"host":     getEnvOrDefault("POSTGRES_HOST", "localhost"),
			"port":     getEnvInt("POSTGRES_PORT", 5432),
			"user":     getEnvOrDefault("POSTGRES_USER", "postgres"),
			"password": os.Getenv("POSTGRES_PASSWORD"),
			"db_name":  getEnvOrDefault("POSTGRES_DATABASE", "tiermem"),
			"table":    getEnvOrDefault("POSTGRES_TABLE", "memories"),
			"ssl_mode": getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		}
	case "mysql":
		storeConfig = map[string]interface{}{
			"host":     getEnvOrDefault("MYSQL_HOST", "127.0.0.1"),
			"port":     getEnvInt("MYSQL_PORT", 3306),
			"user":     getEnvOrDefault("MYSQL_USER", "root"),
			"password": os.Getenv("MYSQL_PASSWORD"),
			"db_name":  getEnvOrDefault("MYSQL_DATABASE", "tiermem"),
			"table":    getEnvOrDefault("MYSQL_TABLE", "memories"),
		}
	}
	cfg.VectorStore = VectorStoreConfig{Provider: provider, Config: storeConfig}

	cfg.ApplyDefaults()
	return cfg, nil
}

// LoadConfigFromEnvFile loads configuration from a specific .env file.
func LoadConfigFromEnvFile(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	return LoadConfigFromEnv()
}

// LoadConfigFromJSON loads configuration from a JSON file.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewMemoryError("LoadConfigFromJSON", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, NewMemoryError("LoadConfigFromJSON", err)
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults normalizes provider settings: default models and base URLs
// per vendor, and the JSON-mode capability flag for OpenAI-compatible
// endpoints. Safe to call on a partially filled Config.
func (c *Config) ApplyDefaults() {
	if c.UserID == "" {
		c.UserID = DefaultUserID
	}
	if c.DataDir == "" {
		c.DataDir = defaultDataDir()
	}

	switch c.LLM.Provider {
	case "deepseek":
		if c.LLM.BaseURL == "" {
			c.LLM.BaseURL = "https://api.deepseek.com"
		}
		if c.LLM.Model == "" {
			c.LLM.Model = "deepseek-chat"
		}
		c.LLM.JSONModeSupport = true
	case "qwen":
		if c.LLM.BaseURL == "" {
			c.LLM.BaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"
		}
		if c.LLM.Model == "" {
			c.LLM.Model = "qwen-plus"
		}
	case "moonshot":
		if c.LLM.BaseURL == "" {
			c.LLM.BaseURL = "https://api.moonshot.cn/v1"
		}
		if c.LLM.Model == "" {
			c.LLM.Model = "moonshot-v1-8k"
		}
	case "minimax":
		if c.LLM.Model == "" {
			c.LLM.Model = "abab6.5s-chat"
		}
	case "anthropic":
		if c.LLM.Model == "" {
			c.LLM.Model = "claude-3-5-haiku-latest"
		}
	case "gemini":
		if c.LLM.Model == "" {
			c.LLM.Model = "gemini-2.0-flash"
		}
	case "ollama":
		if c.LLM.BaseURL == "" {
			c.LLM.BaseURL = "http://localhost:11434"
		}
		if c.LLM.Model == "" {
			c.LLM.Model = "llama3.1"
		}
	default: // openai
		if c.LLM.Model == "" {
			c.LLM.Model = "gpt-4o-mini"
		}
		c.LLM.JSONModeSupport = true
	}

	switch c.Embedder.Provider {
	case "ollama":
		if c.Embedder.BaseURL == "" {
			c.Embedder.BaseURL = "http://localhost:11434"
		}
		if c.Embedder.Model == "" {
			c.Embedder.Model = "nomic-embed-text"
		}
		if c.Embedder.Dimensions == 0 {
			c.Embedder.Dimensions = 768
		}
	case "gemini":
		if c.Embedder.Model == "" {
			c.Embedder.Model = "text-embedding-004"
		}
		if c.Embedder.Dimensions == 0 {
			c.Embedder.Dimensions = 768
		}
	case "mock":
		if c.Embedder.Dimensions == 0 {
			c.Embedder.Dimensions = 64
		}
	default: // openai
		if c.Embedder.Model == "" {
			c.Embedder.Model = "text-embedding-3-small"
		}
		if c.Embedder.Dimensions == 0 {
			c.Embedder.Dimensions = 1536
		}
	}

	if c.VectorStore.Provider == "" {
		c.VectorStore.Provider = "sqlite"
	}
}

// HotStorePath returns the fixed location of the embedded hot-tier file.
func (c *Config) HotStorePath() string {
	return filepath.Join(c.DataDir, "vector_store.db")
}

// Validate checks that the configuration can produce a working instance.
//
// The user id, data directory and store provider are required; provider
// credentials are validated lazily by the provider constructors so that
// embedder-less or LLM-less configurations still start in degraded mode.
func (c *Config) Validate() error {
	if c.UserID == "" {
		return NewMemoryError("Validate", fmt.Errorf("%w: user_id is required", ErrInvalidConfig))
	}
	if c.DataDir == "" {
		return NewMemoryError("Validate", fmt.Errorf("%w: data_dir is required", ErrInvalidConfig))
	}
	switch c.VectorStore.Provider {
	case "sqlite", "postgres", "mysql":
	default:
		return NewMemoryError("Validate", fmt.Errorf("%w: unknown vector store provider %q", ErrInvalidConfig, c.VectorStore.Provider))
	}
	if c.TopK <= 0 {
		return NewMemoryError("Validate", fmt.Errorf("%w: top_k must be positive", ErrInvalidConfig))
	}
	if c.SearchThreshold < 0 || c.SearchThreshold > 1 {
		return NewMemoryError("Validate", fmt.Errorf("%w: search_threshold must be in [0,1]", ErrInvalidConfig))
	}
	if c.MaxMemoryCount <= 0 {
		return NewMemoryError("Validate", fmt.Errorf("%w: max_memory_count must be positive", ErrInvalidConfig))
	}
	if c.CaptureBatchMaxMessages <= 0 {
		return NewMemoryError("Validate", fmt.Errorf("%w: capture_batch_max_messages must be positive", ErrInvalidConfig))
	}
	if c.SearchCacheMaxEntries <= 0 {
		return NewMemoryError("Validate", fmt.Errorf("%w: search_cache_max_entries must be positive", ErrInvalidConfig))
	}
	if c.MaxPendingActions <= 0 {
		return NewMemoryError("Validate", fmt.Errorf("%w: max_pending_actions must be positive", ErrInvalidConfig))
	}
	return nil
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt parses an integer environment variable, keeping the default on
// absence or parse failure.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvFloat parses a float environment variable, keeping the default on
// absence or parse failure.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvBool parses a boolean environment variable, keeping the default on
// absence or parse failure.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// FindEnvFile searches for .env or .env.example files.
//
// The search:
//  1. Checks the current directory
//  2. Searches up to 5 directory levels up
//  3. Returns the first .env or .env.example file found
//
// Returns:
//   - path: Path to the found file (empty if not found)
//   - found: True if a file was found, false otherwise
func FindEnvFile() (string, bool) {
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		envExamplePath := filepath.Join(dir, ".env.example")

		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(envExamplePath); err == nil {
			return envExamplePath, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}
