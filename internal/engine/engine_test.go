package engine

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/barrel"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/delta"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/forward"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/query"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/deltasearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/pkg/logger"
)

var scenarioCorpus = corpus.Static{"car insurance rates", "buy cheap car"}

func testConfig(t *testing.T, staticSource string) *config.Config {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.Index.DataDir = filepath.Join(root, "index")
	cfg.Index.DeltaDir = filepath.Join(root, "delta")
	cfg.Index.StaticSource = staticSource
	cfg.Index.BarrelBatchSize = 2
	cfg.Index.ForwardBatchSize = 2
	cfg.Index.HandleCacheSize = 1
	cfg.Index.CompactThreshold = 0
	return cfg
}

func open(t *testing.T, cfg *config.Config, src corpus.Source, opts ...Option) *Engine {
	t.Helper()
	e, err := Open(context.Background(), cfg, src, append([]Option{WithLogger(logger.Discard())}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func docSet(results []query.Result) map[uint32]float64 {
	out := make(map[uint32]float64, len(results))
	for _, r := range results {
		out[r.DocID] = r.Score
	}
	return out
}

func TestScenario(t *testing.T) {
	for _, source := range []string{config.StaticSourceMemory, config.StaticSourceBarrel} {
		t.Run(source, func(t *testing.T) {
			e := open(t, testConfig(t, source), scenarioCorpus)

			id, err := e.AddDocument("fast car rental")
			require.NoError(t, err)
			assert.Equal(t, uint32(2), id)

			results, err := e.Search("car", 5)
			require.NoError(t, err)
			assert.Equal(t, []query.Result{{DocID: 0, Score: 1}, {DocID: 1, Score: 1}, {DocID: 2, Score: 1}}, results)

			n, err := e.Compact()
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			after, err := e.Search("car", 5)
			require.NoError(t, err)
			assert.Equal(t, results, after)

			n, err = e.Compact()
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestCompactionPreservesResults(t *testing.T) {
	e := open(t, testConfig(t, config.StaticSourceBarrel), scenarioCorpus)
	for _, text := range []string{"fast car rental", "cheap rental deals", "insurance quote", "car car wash"} {
		_, err := e.AddDocument(text)
		require.NoError(t, err)
	}
	queries := []string{"car", "cheap rental", "insurance rates quote", "wash deals fast"}
	before := make(map[string]map[uint32]float64)
	for _, q := range queries {
		results, err := e.Search(q, 0)
		require.NoError(t, err)
		before[q] = docSet(results)
	}
	gen := e.Generation()

	n, err := e.Compact()
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, gen+1, e.Generation())

	for _, q := range queries {
		results, err := e.Search(q, 0)
		require.NoError(t, err)
		assert.Equal(t, before[q], docSet(results), q)
	}
	stats := e.Stats()
	assert.Equal(t, uint32(6), stats.StaticDocuments)
	assert.Equal(t, uint32(6), stats.NextDocID)
	assert.Zero(t, stats.DeltaDocuments)
}

func TestStopwordsNeverIndexed(t *testing.T) {
	e := open(t, testConfig(t, config.StaticSourceMemory), corpus.Static{"the the the car", "and of the"})
	_, err := e.AddDocument("the and the")
	assert.True(t, errors.Is(err, apperrors.ErrEmptyInput))

	results, err := e.Search("the", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
	for _, term := range e.Terms() {
		assert.NotEqual(t, "the", term.Text)
	}
}

func TestReopenRestoresSnapshotAndDelta(t *testing.T) {
	cfg := testConfig(t, config.StaticSourceMemory)
	e, err := Open(context.Background(), cfg, scenarioCorpus, WithLogger(logger.Discard()))
	require.NoError(t, err)
	_, err = e.AddDocument("fast car rental")
	require.NoError(t, err)
	_, err = e.Compact()
	require.NoError(t, err)
	_, err = e.AddDocument("cheap car wash")
	require.NoError(t, err)
	want, err := e.Search("car cheap", 0)
	require.NoError(t, err)
	wantStats := e.Stats()
	wantTerms := e.Terms()
	require.NoError(t, e.Close())

	// A nil source proves the static side comes from the snapshot.
	reopened := open(t, cfg, nil)
	got, err := reopened.Search("car cheap", 0)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, wantStats, reopened.Stats())
	assert.Equal(t, wantTerms, reopened.Terms())

	id, err := reopened.AddDocument("new listing")
	require.NoError(t, err)
	assert.Equal(t, uint32(4), id)
}

func TestSnapshotFilesWritten(t *testing.T) {
	cfg := testConfig(t, config.StaticSourceMemory)
	open(t, cfg, scenarioCorpus)
	m, err := barrel.LoadManifest(cfg.Index.DataDir)
	require.NoError(t, err)
	assert.Equal(t, LexiconName(1), m.Lexicon)
	assert.Equal(t, []string{forward.SegmentName(1, 0)}, m.Forward)
	for _, name := range append([]string{m.Lexicon}, m.Forward...) {
		_, err := os.Stat(filepath.Join(cfg.Index.DataDir, name))
		assert.NoError(t, err, name)
	}
}

func TestFailedCompactionSnapshotKeepsPreviousGeneration(t *testing.T) {
	for _, source := range []string{config.StaticSourceMemory, config.StaticSourceBarrel} {
		t.Run(source, func(t *testing.T) {
			cfg := testConfig(t, source)
			e, err := Open(context.Background(), cfg, scenarioCorpus, WithLogger(logger.Discard()))
			require.NoError(t, err)
			_, err = e.AddDocument("fast car rental")
			require.NoError(t, err)
			want, err := e.Search("car rental", 0)
			require.NoError(t, err)

			gen := e.Generation()
			blocker := filepath.Join(cfg.Index.DataDir, fmt.Sprintf("barrel_%d_0.bin.tmp", gen+1))
			require.NoError(t, os.Mkdir(blocker, 0o755))
			_, err = e.Compact()
			require.Error(t, err)
			assert.Equal(t, gen, e.Generation())
			got, err := e.Search("car rental", 0)
			require.NoError(t, err)
			assert.Equal(t, want, got)
			require.NoError(t, e.Close())

			for _, name := range []string{LexiconName(gen + 1), forward.SegmentName(gen+1, 0)} {
				_, err := os.Stat(filepath.Join(cfg.Index.DataDir, name))
				assert.True(t, os.IsNotExist(err), "uncommitted %s left behind", name)
			}

			reopened := open(t, cfg, nil)
			assert.Equal(t, gen, reopened.Generation())
			assert.Equal(t, 1, reopened.Stats().DeltaDocuments, "delta replayed over the previous generation")
			got, err = reopened.Search("car rental", 0)
			require.NoError(t, err)
			assert.Equal(t, want, got)

			require.NoError(t, os.RemoveAll(blocker))
			n, err := reopened.Compact()
			require.NoError(t, err)
			assert.Equal(t, 1, n)
			assert.Equal(t, gen+1, reopened.Generation())
			_, err = os.Stat(filepath.Join(cfg.Index.DataDir, LexiconName(gen)))
			assert.True(t, os.IsNotExist(err), "previous generation pruned")
		})
	}
}

func TestIDsNotReusedAfterReplayGap(t *testing.T) {
	cfg := testConfig(t, config.StaticSourceMemory)
	e, err := Open(context.Background(), cfg, scenarioCorpus, WithLogger(logger.Discard()))
	require.NoError(t, err)
	for _, text := range []string{"fast car rental", "cheap rental", "car wash"} {
		_, err := e.AddDocument(text)
		require.NoError(t, err)
	}
	require.NoError(t, e.Close())

	// A negative term count on doc 3 stops forward replay after doc 2.
	path := filepath.Join(cfg.Index.DeltaDir, delta.ForwardFile)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	binary.LittleEndian.PutUint32(data[8+4*3+4:], 0xFFFFFFFF)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	reopened := open(t, cfg, nil)
	zebra, err := reopened.AddDocument("zebra")
	require.NoError(t, err)
	assert.Equal(t, uint32(5), zebra)
	_, err = reopened.Compact()
	require.NoError(t, err)

	seen := map[uint32]bool{0: true, 1: true, 2: true, zebra: true}
	for _, text := range []string{"xylophone", "yak"} {
		id, err := reopened.AddDocument(text)
		require.NoError(t, err)
		assert.False(t, seen[id], "id %d reissued", id)
		seen[id] = true
	}
	results, err := reopened.Search("zebra", 0)
	require.NoError(t, err)
	assert.Equal(t, []query.Result{{DocID: zebra, Score: 1}}, results)
}

func TestBarrelModeSurvivesMissingBarrel(t *testing.T) {
	cfg := testConfig(t, config.StaticSourceBarrel)
	e := open(t, cfg, scenarioCorpus)
	_, err := e.AddDocument("fast car rental")
	require.NoError(t, err)

	m, err := barrel.LoadManifest(cfg.Index.DataDir)
	require.NoError(t, err)
	for _, name := range m.Files {
		require.NoError(t, os.Remove(filepath.Join(cfg.Index.DataDir, name)))
	}

	results, err := e.Search("car", 5)
	require.NoError(t, err)
	assert.Equal(t, []query.Result{{DocID: 2, Score: 1}}, results, "delta still answers")
}

func TestThresholdTriggersCompaction(t *testing.T) {
	cfg := testConfig(t, config.StaticSourceMemory)
	cfg.Index.CompactThreshold = 2
	e := open(t, cfg, scenarioCorpus)

	_, err := e.AddDocument("fast car rental")
	require.NoError(t, err)
	assert.Equal(t, 1, e.Stats().DeltaDocuments)
	_, err = e.AddDocument("cheap car wash")
	require.NoError(t, err)
	assert.Zero(t, e.Stats().DeltaDocuments)
	assert.Equal(t, uint32(4), e.Stats().StaticDocuments)

	_, err = os.Stat(filepath.Join(cfg.Index.DeltaDir, delta.ForwardFile))
	assert.True(t, os.IsNotExist(err))
}

func TestBM25Scorer(t *testing.T) {
	cfg := testConfig(t, config.StaticSourceMemory)
	cfg.Search.Scorer = config.ScorerBM25
	e := open(t, cfg, corpus.Static{"car car", "car insurance rates quote today", "boat"})
	results, err := e.Search("car", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, uint32(0), results[0].DocID)
	assert.NotEqual(t, 1.0, results[0].Score)
}

func TestRerankHook(t *testing.T) {
	reverse := func(_ string, results []query.Result) []query.Result {
		for i := range results {
			results[i].Score = -float64(results[i].DocID)
		}
		return results
	}
	e := open(t, testConfig(t, config.StaticSourceMemory), scenarioCorpus, WithRerank(reverse))
	results, err := e.Search("car", 5)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), results[0].DocID)
	assert.Equal(t, uint32(1), results[1].DocID)
}

func TestSuggest(t *testing.T) {
	e := open(t, testConfig(t, config.StaticSourceMemory), corpus.Static{"car cart", "car carbon", "cargo"})
	got := e.Suggest("CAR", 2)
	require.Len(t, got, 2)
	assert.Equal(t, "car", got[0].Text)
	assert.Equal(t, uint32(2), got[0].DocFreq)
	assert.Equal(t, "carbon", got[1].Text)
}

func TestVersionChangesOnMutation(t *testing.T) {
	e := open(t, testConfig(t, config.StaticSourceMemory), scenarioCorpus)
	v0 := e.Version()
	_, err := e.AddDocument("fast car")
	require.NoError(t, err)
	v1 := e.Version()
	assert.NotEqual(t, v0, v1)
	_, err = e.Compact()
	require.NoError(t, err)
	assert.NotEqual(t, v1, e.Version())
}

func TestCloseIsIdempotent(t *testing.T) {
	e, err := Open(context.Background(), testConfig(t, config.StaticSourceBarrel), scenarioCorpus, WithLogger(logger.Discard()))
	require.NoError(t, err)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	_, err = e.Search("car", 5)
	assert.ErrorIs(t, err, apperrors.ErrClosed)
	_, err = e.AddDocument("car")
	assert.ErrorIs(t, err, apperrors.ErrClosed)
	_, err = e.Compact()
	assert.ErrorIs(t, err, apperrors.ErrClosed)
}

func TestConcurrentSearchDuringIngest(t *testing.T) {
	e := open(t, testConfig(t, config.StaticSourceBarrel), scenarioCorpus)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				results, err := e.Search("car", 0)
				if !assert.NoError(t, err) {
					return
				}
				assert.GreaterOrEqual(t, len(results), 2)
			}
		}()
	}
	for i := 0; i < 20; i++ {
		_, err := e.AddDocument("another car listing")
		require.NoError(t, err)
		if i == 10 {
			_, err := e.Compact()
			require.NoError(t, err)
		}
	}
	wg.Wait()

	results, err := e.Search("car", 0)
	require.NoError(t, err)
	assert.Len(t, results, 22)
}
