package compaction

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/delta"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/forward"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/index"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/lexicon"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/ranking"
	apperrors "github.com/Adithya-Monish-Kumar-K/deltasearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/pkg/metrics"
)

type fixture struct {
	dir    string
	lex    *lexicon.Lexicon
	fwd    *forward.Index
	static *index.StaticIndex
	rank   *ranking.Model
	ix     *delta.Indexer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return fixtureIn(t, t.TempDir())
}

// fixtureIn builds the two-document static corpus over an existing delta
// directory, as a restart would.
func fixtureIn(t *testing.T, dir string) *fixture {
	t.Helper()
	docs := []string{"car insurance rates", "buy cheap car"}
	f := &fixture{dir: dir, lex: lexicon.New(), fwd: forward.New(), static: index.NewStatic(), rank: ranking.New()}
	f.lex.Build(docs)
	f.fwd.Build(docs, f.lex)
	f.static.Build(f.fwd)
	f.rank.Recompute(f.fwd, f.lex)
	f.ix = delta.New(f.dir, f.lex, f.fwd, f.rank, delta.WithLogger(logger.Discard()))
	return f
}

func (f *fixture) job(opts ...Option) *Job {
	opts = append([]Option{WithLogger(logger.Discard())}, opts...)
	return New(f.static, f.fwd, f.lex, f.rank, f.ix, opts...)
}

func TestRunMergesDeltaIntoStatic(t *testing.T) {
	f := newFixture(t)
	_, err := f.ix.AddDocument("fast car rental car")
	require.NoError(t, err)
	_, err = f.ix.AddDocument("cheap rental")
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	n, err := f.job(WithMetrics(m)).Run()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	car, _ := f.lex.Lookup("car")
	list, _ := f.static.Postings(car)
	require.Len(t, list, 3)
	assert.Equal(t, index.Posting{DocID: 2, Frequency: 2, Positions: []uint32{1, 3}}, list[2])

	rental, _ := f.lex.Lookup("rental")
	list, _ = f.static.Postings(rental)
	assert.Equal(t, []uint32{2, 3}, []uint32{list[0].DocID, list[1].DocID})

	assert.True(t, f.ix.Delta().Empty())
	assert.Equal(t, delta.State{NextDocID: 4, StaticDocCount: 4}, f.ix.State())
	assert.Equal(t, 4, f.rank.DocumentCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CompactionsTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DocsCompactedTotal))

	for _, name := range []string{delta.ForwardFile, delta.InvertedFile, delta.LexiconFile} {
		_, err := os.Stat(filepath.Join(f.dir, name))
		assert.True(t, os.IsNotExist(err), name)
	}
	_, err = os.Stat(filepath.Join(f.dir, delta.StatsFile))
	assert.NoError(t, err, "fresh stats record written")
}

func TestRunIsIdempotentOnEmptyDelta(t *testing.T) {
	f := newFixture(t)
	_, err := f.ix.AddDocument("fast car rental")
	require.NoError(t, err)

	job := f.job()
	n, err := job.Run()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	before := f.static.Clone()
	n, err = job.Run()
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, before, f.static)
	assert.Equal(t, delta.State{NextDocID: 3, StaticDocCount: 3}, f.ix.State())
}

func TestSnapshotRunsBeforeDeltaFilesRemoved(t *testing.T) {
	f := newFixture(t)
	_, err := f.ix.AddDocument("fast car rental")
	require.NoError(t, err)

	called := false
	_, err = f.job(WithSnapshot(func() error {
		called = true
		_, statErr := os.Stat(filepath.Join(f.dir, delta.ForwardFile))
		assert.NoError(t, statErr, "delta files must still exist while snapshotting")
		return nil
	})).Run()
	require.NoError(t, err)
	assert.True(t, called)
}

func TestSnapshotFailureKeepsDeltaFiles(t *testing.T) {
	f := newFixture(t)
	_, err := f.ix.AddDocument("fast car rental")
	require.NoError(t, err)

	boom := errors.New("disk full")
	_, err = f.job(WithSnapshot(func() error { return boom })).Run()
	assert.ErrorIs(t, err, boom)

	_, statErr := os.Stat(filepath.Join(f.dir, delta.ForwardFile))
	assert.NoError(t, statErr)
}

func TestStaticUntouchedUntilCompaction(t *testing.T) {
	f := newFixture(t)
	before := f.static.Clone()
	for _, text := range []string{"fast car rental", "car car car", "brand new words"} {
		_, err := f.ix.AddDocument(text)
		require.NoError(t, err)
	}
	assert.Equal(t, before, f.static)
}

func TestFailedVerificationLeavesStaticUntouched(t *testing.T) {
	f := newFixture(t)
	_, err := f.ix.AddDocument("fast car rental")
	require.NoError(t, err)
	car, _ := f.lex.Lookup("car")
	f.ix.Delta().Append(car, 2)

	before := f.static.Clone()
	n, err := f.job().Run()
	assert.Zero(t, n)
	assert.True(t, errors.Is(err, apperrors.ErrCorruptRecord))
	assert.Equal(t, before, f.static)
	assert.Equal(t, 1, f.ix.Delta().DocCount(), "delta retained")
}

func TestRunNeverRewindsDocIDs(t *testing.T) {
	first := newFixture(t)
	for _, text := range []string{"fast car rental", "cheap rental", "car wash"} {
		_, err := first.ix.AddDocument(text)
		require.NoError(t, err)
	}

	// Break doc 3's forward record so replay stops after doc 2.
	path := filepath.Join(first.dir, delta.ForwardFile)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	doc2Len := 8 + 4*3
	require.Equal(t, uint32(3), binary.LittleEndian.Uint32(data[doc2Len:]))
	binary.LittleEndian.PutUint32(data[doc2Len+4:], 0xFFFFFFFF)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	f := fixtureIn(t, first.dir)
	n, err := f.ix.Load()
	require.Error(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, uint32(5), f.ix.State().NextDocID)

	id, err := f.ix.AddDocument("zebra")
	require.NoError(t, err)
	require.Equal(t, uint32(5), id)

	_, err = f.job().Run()
	require.NoError(t, err)
	assert.Equal(t, delta.State{NextDocID: 6, StaticDocCount: 6}, f.ix.State())

	id, err = f.ix.AddDocument("xylophone")
	require.NoError(t, err)
	assert.Equal(t, uint32(6), id)
	terms, ok := f.fwd.Terms(5)
	require.True(t, ok)
	zebra, _ := f.lex.Lookup("zebra")
	assert.Equal(t, []uint32{zebra}, terms, "doc 5 keeps its own terms")
}
