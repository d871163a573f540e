// Package delta implements the incremental write path. New documents update
// the lexicon and forward index in place, land in the delta inverted index
// only, and are persisted as appends to a small set of delta files that can be
// replayed after a restart.
package delta

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hashicorp/go-multierror"

	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/forward"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/index"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/lexicon"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/ranking"
	apperrors "github.com/Adithya-Monish-Kumar-K/deltasearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/pkg/metrics"
)

// Indexer owns the delta inverted index and the delta files under dir. It
// mutates the lexicon, forward index and ranking model it is given but never
// touches the static inverted index. Indexer is not safe for concurrent use.
type Indexer struct {
	dir     string
	lex     *lexicon.Lexicon
	fwd     *forward.Index
	delta   *index.DeltaIndex
	rank    *ranking.Model
	state   State
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Indexer)

func WithLogger(logger *slog.Logger) Option {
	return func(ix *Indexer) { ix.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(ix *Indexer) { ix.metrics = m }
}

// New returns an indexer whose next document id follows the documents
// already in fwd, all of which are treated as static.
func New(dir string, lex *lexicon.Lexicon, fwd *forward.Index, rank *ranking.Model, opts ...Option) *Indexer {
	ix := &Indexer{
		dir:    dir,
		lex:    lex,
		fwd:    fwd,
		delta:  index.NewDelta(),
		rank:   rank,
		logger: slog.Default().With("component", "delta-indexer"),
	}
	for _, opt := range opts {
		opt(ix)
	}
	n := fwd.NextID()
	ix.state = State{NextDocID: n, StaticDocCount: n}
	return ix
}

// AddDocument indexes text as a new delta document and returns its id. Text
// that yields no tokens fails with ErrEmptyInput and consumes no id. If the
// delta files cannot be written the document stays indexed in memory and an
// error matching ErrIO is returned alongside the id.
func (ix *Indexer) AddDocument(text string) (uint32, error) {
	tokens := lexicon.Tokenize(text)
	if len(tokens) == 0 {
		ix.metrics.IngestFailed("empty_input")
		ix.logger.Warn("document has no indexable tokens, skipping")
		return 0, apperrors.New(apperrors.ErrEmptyInput, "document has no indexable tokens")
	}

	docID := ix.state.NextDocID
	ix.state.NextDocID++

	termIDs := make([]uint32, 0, len(tokens))
	var newTerms []uint32
	for _, token := range tokens {
		id, known := ix.lex.Lookup(token)
		if !known {
			var err error
			if id, err = ix.lex.AddOrGet(token); err != nil {
				continue
			}
			newTerms = append(newTerms, id)
		}
		termIDs = append(termIDs, id)
	}

	distinct := distinctTerms(termIDs)
	for _, termID := range distinct {
		ix.lex.IncrementDocumentFrequency(termID)
	}
	ix.fwd.AddDocument(docID, termIDs)
	for _, termID := range distinct {
		ix.delta.Append(termID, docID)
	}
	ix.rank.Recompute(ix.fwd, ix.lex)

	if err := ix.persistDocument(docID, termIDs, distinct, newTerms); err != nil {
		ix.metrics.IngestFailed("persist")
		ix.logger.Error("persisting delta document failed",
			"doc_id", docID,
			"error", err,
		)
		return docID, err
	}

	ix.metrics.DocumentIngested(ix.delta.DocCount())
	ix.logger.Debug("document indexed",
		"doc_id", docID,
		"term_count", len(termIDs),
		"unique_terms", len(distinct),
		"new_terms", len(newTerms),
	)
	return docID, nil
}

// distinctTerms returns the unique ids of termIDs in first-occurrence order.
func distinctTerms(termIDs []uint32) []uint32 {
	seen := make(map[uint32]struct{}, len(termIDs))
	out := make([]uint32, 0, len(termIDs))
	for _, id := range termIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// persistDocument appends one document to the delta files in a fixed order:
// forward record, one inverted record per distinct term, new lexicon lines,
// then the stats record. Each write is an append to its own file, so a crash
// loses at most the tail of one file.
func (ix *Indexer) persistDocument(docID uint32, termIDs, distinct, newTerms []uint32) error {
	if err := os.MkdirAll(ix.dir, 0o755); err != nil {
		return apperrors.IOf(err, "creating delta directory")
	}
	if err := ix.appendFile(ForwardFile, encodeIDRecord(docID, termIDs)); err != nil {
		return err
	}
	var inverted []byte
	for _, termID := range distinct {
		inverted = append(inverted, encodeIDRecord(termID, []uint32{docID})...)
	}
	if err := ix.appendFile(InvertedFile, inverted); err != nil {
		return err
	}
	if len(newTerms) > 0 {
		var lines []byte
		for _, termID := range newTerms {
			token, _ := ix.lex.Text(termID)
			lines = append(lines, encodeLexiconLine(termID, token)...)
		}
		if err := ix.appendFile(LexiconFile, lines); err != nil {
			return err
		}
	}
	return ix.writeStats()
}

func (ix *Indexer) appendFile(name string, data []byte) error {
	f, err := os.OpenFile(filepath.Join(ix.dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return apperrors.IOf(err, "opening %s", name)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return apperrors.IOf(err, "appending to %s", name)
	}
	if err := f.Close(); err != nil {
		return apperrors.IOf(err, "closing %s", name)
	}
	return nil
}

// writeStats replaces the stats record through a temp file and rename.
func (ix *Indexer) writeStats() error {
	path := filepath.Join(ix.dir, StatsFile)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, encodeStats(ix.state, ix.rank.AvgDocLength()), 0o644); err != nil {
		return apperrors.IOf(err, "writing stats")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return apperrors.IOf(err, "renaming stats")
	}
	return nil
}

// Persist writes the stats record. Documents are persisted as they are added,
// so this is all a clean shutdown needs.
func (ix *Indexer) Persist() error {
	if err := os.MkdirAll(ix.dir, 0o755); err != nil {
		return apperrors.IOf(err, "creating delta directory")
	}
	return ix.writeStats()
}

// Load replays the delta files in order: stats, lexicon, forward records,
// inverted records, followed by a single ranking recompute. Documents already
// present in the forward index when the indexer was created are static and
// are skipped. Problems with individual files are logged, collected into the
// returned error and do not stop the replay; the returned count is the number
// of delta documents recovered.
func (ix *Indexer) Load() (int, error) {
	var result *multierror.Error
	baseline := ix.state.StaticDocCount

	stats, statsOK, err := ix.loadStats()
	if err != nil {
		result = multierror.Append(result, err)
	}
	if err := ix.loadLexicon(); err != nil {
		result = multierror.Append(result, err)
	}
	loaded, maxDoc, err := ix.loadForward(baseline)
	if err != nil {
		result = multierror.Append(result, err)
	}
	if err := ix.loadInverted(loaded); err != nil {
		result = multierror.Append(result, err)
	}

	ix.state.StaticDocCount = baseline
	next := baseline
	if statsOK {
		if stats.StaticDocCount != baseline {
			ix.logger.Warn("delta stats disagree with static document count",
				"stats_static_doc_count", stats.StaticDocCount,
				"static_doc_count", baseline,
			)
		}
		next = max(next, stats.NextDocID)
	}
	if !loaded.IsEmpty() {
		next = max(next, maxDoc+1)
	}
	ix.state.NextDocID = next

	count := int(loaded.GetCardinality())
	if count > 0 {
		ix.rank.Recompute(ix.fwd, ix.lex)
	}
	ix.metrics.SetDeltaDocuments(ix.delta.DocCount())
	ix.logger.Info("delta index loaded",
		"dir", ix.dir,
		"documents", count,
		"postings", ix.delta.PairCount(),
		"next_doc_id", ix.state.NextDocID,
		"static_doc_count", ix.state.StaticDocCount,
	)
	return count, result.ErrorOrNil()
}

func (ix *Indexer) open(name string) (*os.File, bool, error) {
	f, err := os.Open(filepath.Join(ix.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		ix.logger.Error("delta file unreadable, skipping", "file", name, "error", err)
		return nil, false, apperrors.IOf(err, "opening %s", name)
	}
	return f, true, nil
}

func (ix *Indexer) loadStats() (State, bool, error) {
	data, err := os.ReadFile(filepath.Join(ix.dir, StatsFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return State{}, false, nil
		}
		ix.logger.Error("delta stats unreadable, skipping", "error", err)
		return State{}, false, apperrors.IOf(err, "reading %s", StatsFile)
	}
	state, _, err := decodeStats(data)
	if err != nil {
		ix.logger.Error("delta stats corrupt, skipping", "error", err)
		return State{}, false, err
	}
	return state, true, nil
}

// loadLexicon adds delta tokens not already known. Ids are dense, so a token
// must come back with the id it was written with; the first mismatch stops
// the replay of this file.
func (ix *Indexer) loadLexicon() error {
	f, ok, err := ix.open(LexiconFile)
	if !ok {
		return err
	}
	defer f.Close()

	added := 0
	err = readLexiconLines(f, func(termID uint32, token string) error {
		if _, known := ix.lex.Lookup(token); known {
			return nil
		}
		id, err := ix.lex.AddOrGet(token)
		if err != nil {
			return fmt.Errorf("replaying token %q: %w", token, err)
		}
		if id != termID {
			return apperrors.Newf(apperrors.ErrCorruptRecord,
				"token %q recorded as term %d but assigned %d", token, termID, id)
		}
		added++
		return nil
	})
	if err != nil {
		ix.logger.Error("lexicon delta replay stopped", "terms_added", added, "error", err)
		return fmt.Errorf("loading %s: %w", LexiconFile, err)
	}
	return nil
}

// loadForward replays forward records for documents at or beyond baseline and
// rebuilds their document frequencies. Records that reference unknown terms
// are dropped. When several records share a doc id the last one wins: an id
// is reissued after a crash loses the document that first held it.
func (ix *Indexer) loadForward(baseline uint32) (*roaring.Bitmap, uint32, error) {
	loaded := roaring.New()
	f, ok, err := ix.open(ForwardFile)
	if !ok {
		return loaded, 0, err
	}
	defer f.Close()

	records := make(map[uint32][]uint32)
	skipped, superseded := 0, 0
	_, truncated, err := readIDRecords(f, func(docID uint32, termIDs []uint32) {
		if docID < baseline {
			skipped++
			return
		}
		for _, termID := range termIDs {
			if !ix.lex.Contains(termID) {
				ix.logger.Warn("forward delta record references unknown term, dropping",
					"doc_id", docID,
					"term_id", termID,
				)
				return
			}
		}
		if _, dup := records[docID]; dup {
			superseded++
		}
		records[docID] = termIDs
		loaded.Add(docID)
	})

	it := loaded.Iterator()
	for it.HasNext() {
		docID := it.Next()
		termIDs := records[docID]
		for _, termID := range distinctTerms(termIDs) {
			ix.lex.IncrementDocumentFrequency(termID)
		}
		ix.fwd.AddDocument(docID, termIDs)
	}
	var maxDoc uint32
	if !loaded.IsEmpty() {
		maxDoc = loaded.Maximum()
	}

	if truncated {
		ix.logger.Warn("forward delta ends in a partial record, ignoring tail")
	}
	if skipped > 0 {
		ix.logger.Info("forward delta records already in static index", "skipped", skipped)
	}
	if superseded > 0 {
		ix.logger.Warn("forward delta reissued doc ids, keeping latest records", "superseded", superseded)
	}
	if err != nil {
		ix.logger.Error("forward delta replay stopped", "error", err)
		return loaded, maxDoc, fmt.Errorf("loading %s: %w", ForwardFile, err)
	}
	return loaded, maxDoc, nil
}

// loadInverted replays inverted records for documents recovered from the
// forward delta, then appends any (term, doc) pair the forward delta implies
// but the inverted delta lost. Pairs whose term is absent from the document's
// replayed terms belong to a superseded record and are dropped.
func (ix *Indexer) loadInverted(loaded *roaring.Bitmap) error {
	seen := make(map[uint32]*roaring.Bitmap)
	appendPair := func(termID, docID uint32) {
		docs, ok := seen[termID]
		if !ok {
			docs = roaring.New()
			seen[termID] = docs
		}
		if docs.CheckedAdd(docID) {
			ix.delta.Append(termID, docID)
		}
	}

	var result error
	f, ok, err := ix.open(InvertedFile)
	if ok {
		defer f.Close()
		stale := 0
		_, truncated, err := readIDRecords(f, func(termID uint32, docIDs []uint32) {
			for _, docID := range docIDs {
				if !loaded.Contains(docID) {
					continue
				}
				if terms, _ := ix.fwd.Terms(docID); !slices.Contains(terms, termID) {
					stale++
					continue
				}
				appendPair(termID, docID)
			}
		})
		if stale > 0 {
			ix.logger.Warn("inverted delta held postings of superseded documents, dropping", "postings", stale)
		}
		if truncated {
			ix.logger.Warn("inverted delta ends in a partial record, ignoring tail")
		}
		if err != nil {
			ix.logger.Error("inverted delta replay stopped", "error", err)
			result = fmt.Errorf("loading %s: %w", InvertedFile, err)
		}
	} else if err != nil {
		result = err
	}

	repaired := 0
	it := loaded.Iterator()
	for it.HasNext() {
		docID := it.Next()
		terms, _ := ix.fwd.Terms(docID)
		for _, termID := range distinctTerms(terms) {
			if docs, ok := seen[termID]; ok && docs.Contains(docID) {
				continue
			}
			appendPair(termID, docID)
			repaired++
		}
	}
	if repaired > 0 {
		ix.logger.Warn("inverted delta was missing postings, rebuilt from forward delta",
			"postings", repaired,
		)
	}
	return result
}

// Clear drops the in-memory delta index and marks every document up to
// staticDocCount as static. Delta files are left alone; see RemoveFiles.
func (ix *Indexer) Clear(staticDocCount uint32) {
	ix.delta.Reset()
	ix.state = State{NextDocID: staticDocCount, StaticDocCount: staticDocCount}
	ix.metrics.SetDeltaDocuments(0)
}

// RemoveFiles deletes every delta file and writes a fresh stats record.
func (ix *Indexer) RemoveFiles() error {
	for _, name := range Files {
		if err := os.Remove(filepath.Join(ix.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return apperrors.IOf(err, "removing %s", name)
		}
	}
	return ix.Persist()
}

func (ix *Indexer) State() State {
	return ix.state
}

// Delta returns the in-memory delta inverted index. Callers must not mutate
// it.
func (ix *Indexer) Delta() *index.DeltaIndex {
	return ix.delta
}

func (ix *Indexer) Dir() string {
	return ix.dir
}
