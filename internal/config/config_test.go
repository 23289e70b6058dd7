package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:11434/v1", cfg.LLM.BaseURL)
	assert.Empty(t, cfg.LLM.APIKey)
	assert.Equal(t, 1000, cfg.Chunking.Size)
	assert.Equal(t, 200, cfg.Chunking.Overlap)
	assert.Equal(t, BackendSQLite, cfg.Retrieval.Backend)
	assert.Equal(t, PersistSync, cfg.Chat.PersistMode)
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTPAddr())
}

func TestLoad_FileThenEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeConfig(t, `
[retrieval]
backend = "qdrant"
top_k = 8

[qdrant]
url = "http://qdrant:6333"

[mysql]
user = "tutor"
password = "pw"
host = "db"
port = 3307
db = "study"
params = "parseTime=true"
`)
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("RETRIEVAL_TOP_K", "3")
	t.Setenv("CHAT_PERSIST_MODE", "QUEUE")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendQdrant, cfg.Retrieval.Backend)
	assert.Equal(t, 3, cfg.Retrieval.TopK)
	assert.Equal(t, PersistQueue, cfg.Chat.PersistMode)
	assert.Equal(t, "tutor:pw@tcp(db:3307)/study?parseTime=true", cfg.MySQLDSN())
	assert.Equal(t, "tutorllm_chunks", cfg.Qdrant.Collection, "unset keys keep defaults")
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LLM_MODEL=mistral\n"), 0o644))
	t.Setenv("CONFIG_FILE", filepath.Join(dir, "missing.toml"))
	os.Unsetenv("LLM_MODEL")
	t.Cleanup(func() { os.Unsetenv("LLM_MODEL") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "mistral", cfg.LLM.Model)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Retrieval.Backend = "faiss" }},
		{"unknown persist mode", func(c *Config) { c.Chat.PersistMode = "async" }},
		{"overlap too large", func(c *Config) { c.Chunking.Overlap = c.Chunking.Size }},
		{"zero top k", func(c *Config) { c.Retrieval.TopK = 0 }},
		{"qdrant without url", func(c *Config) { c.Retrieval.Backend = BackendQdrant }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, defaultConfig().Validate())
}
