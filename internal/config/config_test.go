package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "unipost_content", cfg.Search.Index)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedding.DefaultModel)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.DefaultModel)
	assert.Equal(t, 5, cfg.Pipeline.TopK)
	assert.Equal(t, 6000, cfg.Pipeline.ContextBudget)
	assert.Equal(t, 30*time.Minute, cfg.Pipeline.SearchCacheTTL)
	assert.Equal(t, time.Hour, cfg.Embedding.CacheTTL)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "unipost.yaml")
	content := []byte(`
server:
  port: 9090
search:
  url: http://es:9200
  index: posts
pipeline:
  top_k: 3
  context_budget: 2000
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "http://es:9200", cfg.Search.URL)
	assert.Equal(t, "posts", cfg.Search.Index)
	assert.Equal(t, 3, cfg.Pipeline.TopK)
	assert.Equal(t, 2000, cfg.Pipeline.ContextBudget)
	// Untouched sections keep defaults
	assert.Equal(t, 1000, cfg.LLM.MaxTokens)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("UNIPOST_SEARCH_INDEX", "staging_content")
	t.Setenv("UNIPOST_LLM_DEFAULT_MODEL", "gpt-4o")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "staging_content", cfg.Search.Index)
	assert.Equal(t, "gpt-4o", cfg.LLM.DefaultModel)
}

func TestDatabaseDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "unipost", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=unipost sslmode=disable", d.DSN())
}
