// Package compaction folds the delta inverted index into the static one.
package compaction

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/delta"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/forward"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/index"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/lexicon"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/ranking"
	apperrors "github.com/Adithya-Monish-Kumar-K/deltasearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/pkg/metrics"
)

// Job merges delta postings into the static index. It must run with every
// other mutator and reader excluded.
type Job struct {
	static   *index.StaticIndex
	fwd      *forward.Index
	lex      *lexicon.Lexicon
	rank     *ranking.Model
	indexer  *delta.Indexer
	snapshot func() error
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Job)

// WithSnapshot registers fn to persist the merged static index. It runs
// after the in-memory merge and before the delta files are removed, so a
// failure leaves the delta files in place for the next start.
func WithSnapshot(fn func() error) Option {
	return func(j *Job) { j.snapshot = fn }
}

func WithLogger(logger *slog.Logger) Option {
	return func(j *Job) { j.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(j *Job) { j.metrics = m }
}

func New(
	static *index.StaticIndex,
	fwd *forward.Index,
	lex *lexicon.Lexicon,
	rank *ranking.Model,
	indexer *delta.Indexer,
	opts ...Option,
) *Job {
	j := &Job{
		static:  static,
		fwd:     fwd,
		lex:     lex,
		rank:    rank,
		indexer: indexer,
		logger:  slog.Default().With("component", "compaction"),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run merges every delta (term, doc) pair into the static index, clears the
// delta state and removes the delta files. It returns the number of
// documents compacted; with an empty delta it returns 0 and changes nothing.
func (j *Job) Run() (int, error) {
	d := j.indexer.Delta()
	if d.Empty() {
		j.logger.Debug("delta index empty, nothing to compact")
		return 0, nil
	}

	start := time.Now()
	logger := j.logger.With("run_id", uuid.NewString())
	docs := d.Documents()
	count := int(docs.GetCardinality())
	pairs := d.PairCount()
	logger.Info("compaction started",
		"documents", count,
		"postings", pairs,
		"static_terms", j.static.Len(),
	)

	// Merge into copies of the affected lists so a failed check leaves the
	// static index as it was.
	staged := j.static.Subset(d.TermIDs())
	d.Pairs(func(termID, docID uint32) {
		positions := j.fwd.Positions(docID, termID)
		staged.Merge(termID, index.Posting{
			DocID:     docID,
			Frequency: uint32(len(positions)),
			Positions: positions,
		})
	})
	if err := verify(staged, d, docs, pairs); err != nil {
		logger.Error("compaction verification failed, delta retained", "error", err)
		return 0, err
	}
	for _, termID := range staged.TermIDs() {
		list, _ := staged.Postings(termID)
		j.static.SetPostings(termID, list)
	}

	// Ids at or past the highest one ever handed out stay unused, even when
	// replay left gaps below it.
	staticCount := max(j.fwd.NextID(), j.indexer.State().NextDocID)
	j.indexer.Clear(staticCount)
	j.rank.Recompute(j.fwd, j.lex)

	if j.snapshot != nil {
		if err := j.snapshot(); err != nil {
			logger.Error("writing static snapshot failed, delta files kept", "error", err)
			return count, fmt.Errorf("writing static snapshot: %w", err)
		}
	}
	if err := j.indexer.RemoveFiles(); err != nil {
		logger.Error("removing delta files failed", "error", err)
		return count, fmt.Errorf("removing delta files: %w", err)
	}

	elapsed := time.Since(start)
	j.metrics.Compacted(count, elapsed)
	logger.Info("compaction complete",
		"documents", count,
		"postings", pairs,
		"static_doc_count", staticCount,
		"static_terms", j.static.Len(),
		"duration", elapsed,
	)
	return count, nil
}

// verify checks that every delta document, and every delta pair, is
// represented by exactly one posting in merged.
func verify(merged *index.StaticIndex, d *index.DeltaIndex, docs *roaring.Bitmap, pairs int) error {
	covered := roaring.New()
	found := 0
	for _, termID := range d.TermIDs() {
		list, _ := merged.Postings(termID)
		for _, p := range list {
			if docs.Contains(p.DocID) {
				covered.Add(p.DocID)
				found++
			}
		}
	}
	if !covered.Equals(docs) {
		missing := roaring.AndNot(docs, covered)
		return apperrors.Newf(apperrors.ErrCorruptRecord,
			"%d delta documents missing from static index", missing.GetCardinality())
	}
	if found != pairs {
		return apperrors.Newf(apperrors.ErrCorruptRecord,
			"static index holds %d delta postings, want %d", found, pairs)
	}
	return nil
}
