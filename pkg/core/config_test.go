package core_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiermem/tiermem-go/pkg/core"
)

func TestLoadConfigFromEnv(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		check   func(t *testing.T, cfg *core.Config)
	}{
		{
			name: "sqlite with openai providers",
			envVars: map[string]string{
				"DATABASE_PROVIDER":  "sqlite",
				"LLM_PROVIDER":       "openai",
				"LLM_API_KEY":        "test-key",
				"LLM_MODEL":          "gpt-4",
				"EMBEDDING_PROVIDER": "openai",
				"EMBEDDING_API_KEY":  "test-key",
				"EMBEDDING_MODEL":    "text-embedding-3-small",
				"EMBEDDING_DIMS":     "",
			},
			check: func(t *testing.T, cfg *core.Config) {
				assert.Equal(t, "sqlite", cfg.VectorStore.Provider)
				assert.Equal(t, "openai", cfg.LLM.Provider)
				assert.Equal(t, "gpt-4", cfg.LLM.Model)
				assert.True(t, cfg.LLM.JSONModeSupport)
				assert.Equal(t, "openai", cfg.Embedder.Provider)
				assert.Equal(t, 1536, cfg.Embedder.Dimensions)
			},
		},
		{
			name: "deepseek resolves vendor defaults",
			envVars: map[string]string{
				"LLM_PROVIDER": "deepseek",
				"LLM_API_KEY":  "test-key",
				"LLM_MODEL":    "",
				"LLM_BASE_URL": "",
			},
			check: func(t *testing.T, cfg *core.Config) {
				assert.Equal(t, "https://api.deepseek.com", cfg.LLM.BaseURL)
				assert.Equal(t, "deepseek-chat", cfg.LLM.Model)
				assert.True(t, cfg.LLM.JSONModeSupport)
			},
		},
		{
			name: "qwen resolves to dashscope compatible mode",
			envVars: map[string]string{
				"LLM_PROVIDER": "qwen",
				"LLM_API_KEY":  "test-key",
				"LLM_MODEL":    "",
				"LLM_BASE_URL": "",
			},
			check: func(t *testing.T, cfg *core.Config) {
				assert.Equal(t, "https://dashscope.aliyuncs.com/compatible-mode/v1", cfg.LLM.BaseURL)
				assert.Equal(t, "qwen-plus", cfg.LLM.Model)
				assert.False(t, cfg.LLM.JSONModeSupport)
			},
		},
		{
			name: "tunables override defaults",
			envVars: map[string]string{
				"TIERMEM_USER_ID":          "alice",
				"TIERMEM_DATA_DIR":         "/tmp/tiermem-test",
				"TIERMEM_TOP_K":            "9",
				"TIERMEM_SEARCH_THRESHOLD": "0.7",
				"TIERMEM_AUTO_RECALL":      "false",
				"TIERMEM_AUTO_CAPTURE":     "",
			},
			check: func(t *testing.T, cfg *core.Config) {
				assert.Equal(t, "alice", cfg.UserID)
				assert.Equal(t, "/tmp/tiermem-test", cfg.DataDir)
				assert.Equal(t, 9, cfg.TopK)
				assert.Equal(t, 0.7, cfg.SearchThreshold)
				assert.False(t, cfg.AutoRecall)
				assert.True(t, cfg.AutoCapture)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg, err := core.LoadConfigFromEnv()
			require.NoError(t, err)
			require.NotNil(t, cfg)
			tt.check(t, cfg)
		})
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *core.Config)
		wantErr bool
	}{
		{
			name:    "defaults are valid",
			mutate:  func(cfg *core.Config) {},
			wantErr: false,
		},
		{
			name:    "missing user id",
			mutate:  func(cfg *core.Config) { cfg.UserID = "" },
			wantErr: true,
		},
		{
			name:    "missing data dir",
			mutate:  func(cfg *core.Config) { cfg.DataDir = "" },
			wantErr: true,
		},
		{
			name:    "unknown vector store provider",
			mutate:  func(cfg *core.Config) { cfg.VectorStore.Provider = "redis" },
			wantErr: true,
		},
		{
			name:    "non-positive top_k",
			mutate:  func(cfg *core.Config) { cfg.TopK = 0 },
			wantErr: true,
		},
		{
			name:    "threshold out of range",
			mutate:  func(cfg *core.Config) { cfg.SearchThreshold = 1.5 },
			wantErr: true,
		},
		{
			name:    "non-positive max memory count",
			mutate:  func(cfg *core.Config) { cfg.MaxMemoryCount = -1 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := core.DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, core.ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := core.DefaultConfig()

	assert.Equal(t, "default", cfg.UserID)
	assert.NotEmpty(t, cfg.DataDir)
	assert.True(t, cfg.AutoRecall)
	assert.True(t, cfg.AutoCapture)
	assert.Equal(t, 5, cfg.TopK)
	assert.Equal(t, 0.5, cfg.SearchThreshold)
	assert.Equal(t, 2000, cfg.MaxMemoryCount)
	assert.Equal(t, 1200, cfg.CaptureBatchWindowMS)
	assert.Equal(t, 30, cfg.CaptureBatchMaxMessages)
	assert.Equal(t, 45000, cfg.SearchCacheTTLMS)
	assert.Equal(t, 128, cfg.SearchCacheMaxEntries)
	assert.Equal(t, 0.15, cfg.MemoryTokenBudgetRatio)
	assert.Equal(t, 200, cfg.MemoryTokenBudgetMin)
	assert.Equal(t, 4000, cfg.MemoryTokenBudgetMax)
	assert.Equal(t, int64(7*24*60*60*1000), cfg.ActionTTLMS)
	assert.Equal(t, 20, cfg.MaxPendingActions)
	assert.Equal(t, 60000, cfg.ReflectionTickMS)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "sqlite", cfg.VectorStore.Provider)
}

func TestApplyDefaults_EmbedderVariants(t *testing.T) {
	tests := []struct {
		provider  string
		wantModel string
		wantDims  int
	}{
		{"openai", "text-embedding-3-small", 1536},
		{"ollama", "nomic-embed-text", 768},
		{"gemini", "text-embedding-004", 768},
		{"mock", "", 64},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			cfg := core.DefaultConfig()
			cfg.Embedder.Provider = tt.provider
			cfg.ApplyDefaults()

			assert.Equal(t, tt.wantModel, cfg.Embedder.Model)
			assert.Equal(t, tt.wantDims, cfg.Embedder.Dimensions)
		})
	}
}

func TestHotStorePath(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.DataDir = "/data/tiermem"

	assert.Equal(t, filepath.Join("/data/tiermem", "vector_store.db"), cfg.HotStorePath())
}

func TestFindEnvFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TIERMEM_USER_ID=bob\n"), 0644))
	t.Chdir(dir)

	path, found := core.FindEnvFile()
	assert.True(t, found)
	assert.Equal(t, ".env", filepath.Base(path))
}

func TestLoadConfigFromJSON(t *testing.T) {
	cfgJSON := map[string]interface{}{
		"user_id": "carol",
		"top_k":   7,
		"llm":     map[string]interface{}{"provider": "deepseek", "api_key": "k"},
	}
	data, err := json.Marshal(cfgJSON)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := core.LoadConfigFromJSON(path)
	require.NoError(t, err)
	assert.Equal(t, "carol", cfg.UserID)
	assert.Equal(t, 7, cfg.TopK)
	assert.Equal(t, "deepseek-chat", cfg.LLM.Model, "vendor defaults are resolved on load")

	_, err = core.LoadConfigFromJSON(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
