// Package engine ties the index components into one explicitly constructed
// context: it bulk-builds or loads the static index, replays the delta files,
// and serialises mutations against concurrent searches.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/barrel"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/compaction"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/delta"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/forward"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/index"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/lexicon"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/query"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/ranking"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/deltasearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/pkg/metrics"
)

// Engine owns every index structure. Mutations (AddDocument, Compact) take
// the write lock; searches and read accessors take the read lock, so a search
// sees either the state before a mutation or after it.
type Engine struct {
	mu sync.RWMutex

	cfg     config.Config
	lex     *lexicon.Lexicon
	fwd     *forward.Index
	static  *index.StaticIndex
	rank    *ranking.Model
	indexer *delta.Indexer
	job     *compaction.Job
	barrels *barrel.Store
	search  *query.Engine

	generation uint64
	rerank     query.RerankFunc
	logger     *slog.Logger
	metrics    *metrics.Metrics
	closed     bool
}

type Option func(*Engine)

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithRerank installs a hook that may rescore every candidate before ranking.
func WithRerank(fn query.RerankFunc) Option {
	return func(e *Engine) { e.rerank = fn }
}

// Open loads the snapshot in cfg.Index.DataDir, or bulk-builds the static
// index from src and writes a snapshot when none exists, then replays the
// delta files in cfg.Index.DeltaDir. src may be nil when a snapshot is
// expected; a nil source with no snapshot yields an empty index.
func Open(ctx context.Context, cfg *config.Config, src corpus.Source, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:    *cfg,
		lex:    lexicon.New(),
		fwd:    forward.New(),
		static: index.NewStatic(),
		rank:   ranking.New(),
		logger: slog.Default().With("component", "engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := os.MkdirAll(cfg.Index.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating index data directory: %w", err)
	}

	loaded, err := e.loadSnapshot()
	if err != nil {
		return nil, fmt.Errorf("loading snapshot: %w", err)
	}
	if !loaded {
		if err := e.bulkBuild(ctx, src); err != nil {
			return nil, err
		}
	}
	e.rank.Recompute(e.fwd, e.lex)

	e.indexer = delta.New(cfg.Index.DeltaDir, e.lex, e.fwd, e.rank,
		delta.WithLogger(e.logger.With("component", "delta-indexer")),
		delta.WithMetrics(e.metrics),
	)
	n, err := e.indexer.Load()
	if err != nil {
		e.logger.Warn("delta replay skipped damaged records", "error", err)
	}
	e.job = compaction.New(e.static, e.fwd, e.lex, e.rank, e.indexer,
		compaction.WithSnapshot(e.saveSnapshot),
		compaction.WithLogger(e.logger.With("component", "compaction")),
		compaction.WithMetrics(e.metrics),
	)
	e.rebuildSearch()

	e.logger.Info("engine ready",
		"snapshot_loaded", loaded,
		"static_docs", e.indexer.State().StaticDocCount,
		"delta_docs", n,
		"terms", e.lex.Len(),
		"static_source", e.cfg.Index.StaticSource,
		"scorer", e.cfg.Search.Scorer,
		"generation", e.generation,
	)
	return e, nil
}

func (e *Engine) bulkBuild(ctx context.Context, src corpus.Source) error {
	var docs []string
	if src != nil {
		var err error
		if docs, err = src.Documents(ctx); err != nil {
			return fmt.Errorf("reading corpus: %w", err)
		}
	}
	e.lex.Build(docs)
	e.fwd.Build(docs, e.lex)
	e.static.Build(e.fwd)
	e.logger.Info("static index built",
		"documents", e.fwd.DocumentCount(),
		"terms", e.lex.Len(),
		"postings", e.static.PostingCount(),
	)
	if err := e.saveSnapshot(); err != nil {
		return fmt.Errorf("writing initial snapshot: %w", err)
	}
	return nil
}

// rebuildSearch wires a query engine over the current static source and the
// delta index.
func (e *Engine) rebuildSearch() {
	var static index.PostingSource = e.static
	if e.barrels != nil {
		static = e.barrels
	}
	var scorer query.Scorer = query.FrequencyScorer{}
	if e.cfg.Search.Scorer == config.ScorerBM25 {
		scorer = query.BM25Scorer{Model: e.rank, Forward: e.fwd}
	}
	opts := []query.Option{
		query.WithScorer(scorer),
		query.WithLogger(e.logger.With("component", "query-engine")),
		query.WithMetrics(e.metrics),
	}
	if e.rerank != nil {
		opts = append(opts, query.WithRerank(e.rerank))
	}
	e.search = query.New(e.lex, []index.PostingSource{static, e.indexer.Delta().View(e.fwd)}, opts...)
}

// AddDocument indexes text as a delta document and returns its id. When the
// delta reaches the configured compaction threshold it is compacted before
// returning.
func (e *Engine) AddDocument(text string) (uint32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, apperrors.ErrClosed
	}
	docID, err := e.indexer.AddDocument(text)
	if err != nil {
		return docID, err
	}
	if t := e.cfg.Index.CompactThreshold; t > 0 && e.indexer.Delta().DocCount() >= t {
		e.logger.Info("delta reached compaction threshold", "threshold", t)
		if _, err := e.job.Run(); err != nil {
			e.logger.Error("threshold compaction failed", "error", err)
		}
	}
	return docID, nil
}

// Search returns at most topK results for text; topK <= 0 returns all.
func (e *Engine) Search(text string, topK int) ([]query.Result, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, apperrors.ErrClosed
	}
	return e.search.Search(text, topK), nil
}

// Compact folds the delta into the static index and returns the number of
// documents compacted.
func (e *Engine) Compact() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, apperrors.ErrClosed
	}
	return e.job.Run()
}

// Suggest returns up to limit dictionary terms starting with prefix, most
// frequent first.
func (e *Engine) Suggest(prefix string, limit int) []lexicon.Term {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lex.WithPrefix(prefix, limit)
}

// Terms returns the whole dictionary sorted by text.
func (e *Engine) Terms() []lexicon.Term {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lex.Terms()
}

// Generation identifies the current static snapshot. It changes whenever
// compaction rewrites the static index.
func (e *Engine) Generation() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.generation
}

// Version changes on every mutation visible to Search. Result caches key on
// it.
func (e *Engine) Version() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fmt.Sprintf("g%d.d%d", e.generation, e.indexer.State().NextDocID)
}

// Closed reports whether Close has been called.
func (e *Engine) Closed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

type Stats struct {
	StaticDocuments uint32  `json:"static_documents"`
	DeltaDocuments  int     `json:"delta_documents"`
	DeltaPostings   int     `json:"delta_postings"`
	NextDocID       uint32  `json:"next_doc_id"`
	Terms           int     `json:"terms"`
	StaticTerms     int     `json:"static_terms"`
	AvgDocLength    float64 `json:"avg_doc_length"`
	Generation      uint64  `json:"generation"`
	StaticSource    string  `json:"static_source"`
	CachedBarrels   int     `json:"cached_barrels"`
}

func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	state := e.indexer.State()
	s := Stats{
		StaticDocuments: state.StaticDocCount,
		DeltaDocuments:  e.indexer.Delta().DocCount(),
		DeltaPostings:   e.indexer.Delta().PairCount(),
		NextDocID:       state.NextDocID,
		Terms:           e.lex.Len(),
		StaticTerms:     e.static.Len(),
		AvgDocLength:    e.rank.AvgDocLength(),
		Generation:      e.generation,
		StaticSource:    config.StaticSourceMemory,
	}
	if e.barrels != nil {
		s.StaticSource = config.StaticSourceBarrel
		s.CachedBarrels = len(e.barrels.CachedFiles())
	}
	return s
}

// Close writes the delta stats record and releases every barrel handle.
// Calling Close more than once is a no-op.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	var result *multierror.Error
	if err := e.indexer.Persist(); err != nil {
		result = multierror.Append(result, fmt.Errorf("persisting delta stats: %w", err))
	}
	if e.barrels != nil {
		if err := e.barrels.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		e.barrels = nil
	}
	e.logger.Info("engine closed")
	return result.ErrorOrNil()
}
