package query

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/delta"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/forward"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/index"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/lexicon"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/ranking"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/pkg/logger"
)

type fixture struct {
	lex    *lexicon.Lexicon
	fwd    *forward.Index
	static *index.StaticIndex
	rank   *ranking.Model
	ix     *delta.Indexer
}

func newFixture(t *testing.T, docs ...string) *fixture {
	t.Helper()
	f := &fixture{lex: lexicon.New(), fwd: forward.New(), static: index.NewStatic(), rank: ranking.New()}
	f.lex.Build(docs)
	f.fwd.Build(docs, f.lex)
	f.static.Build(f.fwd)
	f.rank.Recompute(f.fwd, f.lex)
	f.ix = delta.New(t.TempDir(), f.lex, f.fwd, f.rank, delta.WithLogger(logger.Discard()))
	return f
}

func (f *fixture) engine(opts ...Option) *Engine {
	sources := []index.PostingSource{f.static, f.ix.Delta().View(f.fwd)}
	return New(f.lex, sources, append([]Option{WithLogger(logger.Discard())}, opts...)...)
}

func docIDs(results []Result) []uint32 {
	out := make([]uint32, len(results))
	for i, r := range results {
		out[i] = r.DocID
	}
	return out
}

func TestSearchMergesStaticAndDelta(t *testing.T) {
	f := newFixture(t, "car insurance rates", "buy cheap car")
	id, err := f.ix.AddDocument("fast car rental")
	require.NoError(t, err)
	require.Equal(t, uint32(2), id)

	results := f.engine().Search("car", 5)
	assert.Equal(t, []Result{{0, 1}, {1, 1}, {2, 1}}, results)
}

func TestSearchCountsOnePointPerTermPerDocument(t *testing.T) {
	f := newFixture(t, "car car car", "cheap car rental", "cheap rental")
	results := f.engine().Search("cheap car", 0)
	assert.Equal(t, []Result{{1, 2}, {0, 1}, {2, 1}}, results)
}

func TestSearchStopwordsAndUnknownTerms(t *testing.T) {
	f := newFixture(t, "the car and the road", "the the the")
	assert.Empty(t, f.engine().Search("the and", 5))
	assert.Empty(t, f.engine().Search("", 5))
	assert.Equal(t, []uint32{0}, docIDs(f.engine().Search("the road zeppelin", 5)))
	assert.Equal(t, 2, f.lex.Len(), "only car and road are terms")
}

func TestSearchTruncatesWithStableTieBreak(t *testing.T) {
	f := newFixture(t, "apple", "apple pie", "pie", "apple tart", "apple")
	results := f.engine().Search("apple pie", 3)
	assert.Equal(t, []Result{{1, 2}, {0, 1}, {2, 1}}, results)

	all := f.engine().Search("apple pie", 0)
	assert.Equal(t, []uint32{1, 0, 2, 3, 4}, docIDs(all))
	assert.Equal(t, all[:3], results)
}

func TestSearchRepeatedQueryTermsCountEachTime(t *testing.T) {
	f := newFixture(t, "car", "bus")
	assert.Equal(t, []Result{{0, 2}}, f.engine().Search("car car", 5))
}

func TestRerankSeesEveryCandidate(t *testing.T) {
	f := newFixture(t, "car insurance", "car rental", "car wash")
	var seen []Result
	rerank := func(query string, results []Result) []Result {
		assert.Equal(t, "car", query)
		seen = append([]Result(nil), results...)
		out := make([]Result, len(results))
		for i, r := range results {
			out[i] = Result{DocID: r.DocID, Score: float64(r.DocID)}
		}
		return out
	}
	results := f.engine(WithRerank(rerank)).Search("car", 2)
	assert.Len(t, seen, 3)
	assert.Equal(t, []Result{{2, 2}, {1, 1}}, results)
}

type failingSource struct{}

func (failingSource) Postings(uint32) (index.PostingList, error) {
	return nil, errors.New("barrel missing")
}

func (failingSource) Source() index.Source { return index.SourceStatic }

func TestSearchSkipsFailingSource(t *testing.T) {
	f := newFixture(t, "car insurance")
	_, err := f.ix.AddDocument("fast car")
	require.NoError(t, err)

	e := New(f.lex, []index.PostingSource{failingSource{}, f.ix.Delta().View(f.fwd)}, WithLogger(logger.Discard()))
	assert.Equal(t, []Result{{1, 1}}, e.Search("car", 5))
}

func TestBM25ScorerPrefersDenseShortDocuments(t *testing.T) {
	f := newFixture(t, "car car", "car insurance rates quote today", "boat")
	results := f.engine(WithScorer(BM25Scorer{Model: f.rank, Forward: f.fwd})).Search("car", 5)
	require.Len(t, results, 2)
	assert.Equal(t, uint32(0), results[0].DocID)
	assert.Greater(t, results[0].Score, results[1].Score)
	assert.InDelta(t, f.rank.Score(0, 0, f.fwd), results[0].Score, 1e-9)
}

func TestTopKMatchesFullSort(t *testing.T) {
	results := []Result{{5, 1}, {3, 2}, {9, 2}, {1, 1}, {4, 3}, {2, 1}}
	full := topK(append([]Result(nil), results...), 0)
	assert.Equal(t, []Result{{4, 3}, {3, 2}, {9, 2}, {1, 1}, {2, 1}, {5, 1}}, full)
	for k := 1; k <= len(results); k++ {
		assert.Equal(t, full[:k], topK(append([]Result(nil), results...), k), "k=%d", k)
	}
}
