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
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, StaticSourceMemory, cfg.Index.StaticSource)
	assert.Equal(t, ScorerFrequency, cfg.Search.Scorer)
	assert.Equal(t, 5, cfg.Index.HandleCacheSize)
}

func TestLoadYAMLAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	yml := `
index:
  dataDir: /tmp/idx
  deltaDir: /tmp/delta
  barrelBatchSize: 64
  forwardBatchSize: 32
  handleCacheSize: 1
  staticSource: barrel
  compactInterval: 30s
search:
  scorer: bm25
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))
	t.Setenv("DS_INDEX_DELTA_DIR", "/tmp/override")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/idx", cfg.Index.DataDir)
	assert.Equal(t, "/tmp/override", cfg.Index.DeltaDir)
	assert.Equal(t, 64, cfg.Index.BarrelBatchSize)
	assert.Equal(t, 1, cfg.Index.HandleCacheSize)
	assert.Equal(t, StaticSourceBarrel, cfg.Index.StaticSource)
	assert.Equal(t, 30*time.Second, cfg.Index.CompactInterval)
	assert.Equal(t, ScorerBM25, cfg.Search.Scorer)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Index.HandleCacheSize = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Index.StaticSource = "tape"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Search.Scorer = "tfidf"
	assert.Error(t, cfg.Validate())
}
