package corpus

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/deltasearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/deltasearch/pkg/errors"
)

func TestFileSkipsBlankLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.txt")
	require.NoError(t, os.WriteFile(path, []byte("car insurance rates\n\n  \nbuy cheap car\n"), 0o644))

	docs, err := File{Path: path}.Documents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"car insurance rates", "buy cheap car"}, docs)
}

func TestFileMissingIsEmpty(t *testing.T) {
	docs, err := File{Path: filepath.Join(t.TempDir(), "absent.txt")}.Documents(context.Background())
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestFileHonoursCancellation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.txt")
	require.NoError(t, os.WriteFile(path, []byte("a doc\n"), 0o644))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := File{Path: path}.Documents(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStatic(t *testing.T) {
	docs, err := Static{"one", "two"}.Documents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, docs)
}

func TestPostgresRequiresQuery(t *testing.T) {
	_, err := Postgres{}.Documents(context.Background())
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Corpus.Path = "/tmp/docs.txt"
	assert.Equal(t, File{Path: "/tmp/docs.txt"}, FromConfig(cfg))

	cfg.Corpus.Query = "SELECT body FROM documents ORDER BY id"
	src, ok := FromConfig(cfg).(dialPostgres)
	require.True(t, ok)
	assert.Equal(t, cfg.Corpus.Query, src.query)
}
