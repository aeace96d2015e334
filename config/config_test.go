package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 512, cfg.Chunk.MaxSize)
	assert.Equal(t, 50, cfg.Chunk.Overlap)
	assert.Equal(t, 5, cfg.Search.TopK)
	assert.InDelta(t, 0.05, cfg.Search.MinScore, 1e-6)
	assert.Equal(t, "gemini-2.0-flash", cfg.LLM.ModelID)
	assert.Equal(t, "local", cfg.Embed.Provider)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 30*time.Minute, cfg.Session.IdleTTL)
	assert.Equal(t, time.Minute, cfg.Session.CleanupInterval)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
chunk:
  max_size: 256
  overlap: 20
search:
  top_k: 3
llm:
  model_id: custom-model
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 256, cfg.Chunk.MaxSize)
	assert.Equal(t, 20, cfg.Chunk.Overlap)
	assert.Equal(t, 3, cfg.Search.TopK)
	assert.Equal(t, "custom-model", cfg.LLM.ModelID)
	// 未设置的字段保持默认值
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadRejectsUnknownOption(t *testing.T) {
	path := writeConfig(t, `
chunk:
  max_size: 256
  chunk_strategy: semantic
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk_strategy")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"zero max size", "chunk:\n  max_size: 0\n  overlap: 0\n"},
		{"overlap not below max size", "chunk:\n  max_size: 10\n  overlap: 10\n"},
		{"negative overlap", "chunk:\n  overlap: -1\n"},
		{"zero top k", "search:\n  top_k: 0\n"},
		{"negative session ttl", "session:\n  idle_ttl: -1m\n"},
		{"empty model", "llm:\n  model_id: \"\"\n"},
		{"unknown provider", "embed:\n  provider: word2vec\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid config")
		})
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("DOCQA_SEARCH_TOP_K", "7")
	t.Setenv("TEST_GEMINI_KEY", "secret-value")

	path := writeConfig(t, "llm:\n  api_key: ${TEST_GEMINI_KEY}\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Search.TopK)
	assert.Equal(t, "secret-value", cfg.LLM.APIKey)
}

func TestFromMap(t *testing.T) {
	cfg, err := FromMap(map[string]interface{}{
		"chunk.max_size": 10,
		"chunk.overlap":  2,
		"search.top_k":   1,
	})
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Chunk.MaxSize)
	assert.Equal(t, 2, cfg.Chunk.Overlap)
	assert.Equal(t, 1, cfg.Search.TopK)

	_, err = FromMap(map[string]interface{}{"chunk.strategy": "semantic"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config option")

	_, err = FromMap(map[string]interface{}{"chunk.max_size": -5})
	assert.Error(t, err)
}
