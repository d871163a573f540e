// Package query answers ranked top-k searches over the static and delta
// posting sources.
package query

import (
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/index"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/lexicon"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/pkg/metrics"
)

type Result struct {
	DocID uint32  `json:"doc_id"`
	Score float64 `json:"score"`
}

// RerankFunc receives the query text and every scored candidate, unsorted,
// and returns the list to rank in its place.
type RerankFunc func(query string, results []Result) []Result

// Engine runs queries. It reads the lexicon and its sources without locking;
// callers must keep them stable for the duration of a Search.
type Engine struct {
	lex     *lexicon.Lexicon
	sources []index.PostingSource
	scorer  Scorer
	rerank  RerankFunc
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Engine)

func WithScorer(s Scorer) Option {
	return func(e *Engine) { e.scorer = s }
}

func WithRerank(fn RerankFunc) Option {
	return func(e *Engine) { e.rerank = fn }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New returns an engine consulting every source for every query term.
func New(lex *lexicon.Lexicon, sources []index.PostingSource, opts ...Option) *Engine {
	e := &Engine{
		lex:     lex,
		sources: sources,
		scorer:  FrequencyScorer{},
		logger:  slog.Default().With("component", "query-engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search tokenizes text, accumulates per-document scores across all sources
// and returns at most limit results, highest score first with ties broken by
// ascending doc id. limit <= 0 returns every match. Unknown terms contribute
// nothing. A source that fails to read a term is logged and skipped, so the
// term still contributes from the remaining sources.
func (e *Engine) Search(text string, limit int) []Result {
	start := time.Now()
	tokens := lexicon.Tokenize(text)
	if len(tokens) == 0 {
		e.logger.Debug("query has no indexable tokens", "query", text)
		e.metrics.SearchServed("empty_query", 0, time.Since(start))
		return []Result{}
	}

	scores := make(map[uint32]float64)
	resolved := 0
	for _, token := range tokens {
		termID, ok := e.lex.Lookup(token)
		if !ok {
			continue
		}
		resolved++
		for _, src := range e.sources {
			list, err := src.Postings(termID)
			if err != nil {
				e.logger.Warn("posting source read failed, skipping",
					"source", src.Source().String(),
					"term", token,
					"term_id", termID,
					"error", err,
				)
				continue
			}
			for _, p := range list {
				scores[p.DocID] += e.scorer.Score(termID, p)
			}
		}
	}

	results := make([]Result, 0, len(scores))
	for docID, score := range scores {
		results = append(results, Result{DocID: docID, Score: score})
	}
	if e.rerank != nil {
		results = e.rerank(text, results)
	}
	results = topK(results, limit)

	resultType := "hits"
	if len(results) == 0 {
		resultType = "no_hits"
	}
	e.metrics.SearchServed(resultType, len(results), time.Since(start))
	e.logger.Debug("query executed",
		"query", text,
		"terms", len(tokens),
		"resolved_terms", resolved,
		"candidates", len(scores),
		"results", len(results),
	)
	return results
}
