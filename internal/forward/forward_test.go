package forward

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/lexicon"
)

func buildCorpus(t *testing.T, docs []string) (*lexicon.Lexicon, *Index) {
	t.Helper()
	lex := lexicon.New()
	lex.Build(docs)
	fwd := New()
	fwd.Build(docs, lex)
	return lex, fwd
}

func TestBuildAssignsSequentialIDs(t *testing.T) {
	lex, fwd := buildCorpus(t, []string{"car insurance rates", "buy the cheap car"})
	require.Equal(t, 2, fwd.DocumentCount())

	car, _ := lex.Lookup("car")
	terms, ok := fwd.Terms(1)
	require.True(t, ok)
	assert.Len(t, terms, 3, "stopword must not count toward length")
	assert.Equal(t, car, terms[2])
	assert.Equal(t, int64(6), fwd.TotalLength())
}

func TestAddDocumentOverwrites(t *testing.T) {
	fwd := New()
	fwd.AddDocument(4, []uint32{1, 2, 3})
	fwd.AddDocument(4, []uint32{7})
	assert.Equal(t, 1, fwd.DocumentCount())
	assert.Equal(t, 1, fwd.Length(4))
	assert.Equal(t, int64(1), fwd.TotalLength())
}

func TestPositions(t *testing.T) {
	fwd := New()
	fwd.AddDocument(0, []uint32{5, 1, 5, 2, 5})
	assert.Equal(t, []uint32{0, 2, 4}, fwd.Positions(0, 5))
	assert.Nil(t, fwd.Positions(0, 9))
	assert.Nil(t, fwd.Positions(3, 5))
}

func TestRangeIsOrdered(t *testing.T) {
	fwd := New()
	for _, id := range []uint32{9, 2, 5} {
		fwd.AddDocument(id, []uint32{id})
	}
	var got []uint32
	fwd.Range(func(doc Document) bool {
		got = append(got, doc.ID)
		return true
	})
	assert.Equal(t, []uint32{2, 5, 9}, got)
}

func TestSaveLoadSegments(t *testing.T) {
	dir := t.TempDir()
	_, fwd := buildCorpus(t, []string{"a b c", "car insurance rates", "buy cheap car", "fast car rental", "car"})

	names, err := fwd.Save(dir, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"forward_1_0.bin", "forward_1_1.bin", "forward_1_2.bin"}, names)

	loaded := New()
	require.NoError(t, loaded.Load(dir, names))
	assert.Equal(t, fwd.DocumentCount(), loaded.DocumentCount())
	assert.Equal(t, fwd.TotalLength(), loaded.TotalLength())
	assert.Equal(t, fwd.NextID(), loaded.NextID())
	fwd.Range(func(doc Document) bool {
		terms, ok := loaded.Terms(doc.ID)
		require.True(t, ok)
		assert.Equal(t, doc.Terms, terms)
		return true
	})

	next, err := fwd.Save(dir, 2, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"forward_2_0.bin"}, next)
	_, err = os.Stat(filepath.Join(dir, "forward_1_0.bin"))
	require.NoError(t, err, "older generation untouched until pruned")

	require.NoError(t, Prune(dir, next))
	for _, name := range names {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.True(t, os.IsNotExist(err), name)
	}
	_, err = os.Stat(filepath.Join(dir, "forward_2_0.bin"))
	assert.NoError(t, err)
}

func TestNextIDTracksGaps(t *testing.T) {
	fwd := New()
	assert.Zero(t, fwd.NextID())
	fwd.AddDocument(0, []uint32{1})
	fwd.AddDocument(4, []uint32{2})
	assert.Equal(t, 2, fwd.DocumentCount())
	assert.Equal(t, uint32(5), fwd.NextID())
}
