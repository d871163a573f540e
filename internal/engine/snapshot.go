package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/barrel"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/forward"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/lexicon"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/deltasearch/pkg/errors"
)

const (
	lexiconPrefix = "lexicon_"
	lexiconSuffix = ".dat"
)

// LexiconName is the lexicon snapshot file of generation gen.
func LexiconName(gen uint64) string {
	return fmt.Sprintf("%s%d%s", lexiconPrefix, gen, lexiconSuffix)
}

// loadSnapshot restores the lexicon, forward index and static index from the
// data directory. Every snapshot file is named for its generation and listed
// in the barrel manifest, which is written last: the manifest alone decides
// which generation is current. Without a manifest loadSnapshot reports false.
func (e *Engine) loadSnapshot() (bool, error) {
	dir := e.cfg.Index.DataDir
	current, err := barrel.LoadManifest(dir)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if current.Lexicon == "" {
		return false, apperrors.Newf(apperrors.ErrCorruptRecord,
			"barrel manifest generation %d names no lexicon", current.Generation)
	}

	f, err := os.Open(filepath.Join(dir, current.Lexicon))
	if err != nil {
		return false, apperrors.IOf(err, "opening %s", current.Lexicon)
	}
	err = e.lex.Load(f)
	f.Close()
	if err != nil {
		return false, fmt.Errorf("loading lexicon: %w", err)
	}
	if err := e.fwd.Load(dir, current.Forward); err != nil {
		return false, fmt.Errorf("loading forward index: %w", err)
	}

	store, err := e.openBarrels()
	if err != nil {
		return false, err
	}
	if err := store.LoadAll(e.static); err != nil {
		e.logger.Error("static index loaded with unreadable barrel records", "error", err)
	}
	m := store.Manifest()
	if m.NumDocs != e.fwd.DocumentCount() {
		store.Close()
		return false, apperrors.Newf(apperrors.ErrCorruptRecord,
			"barrel manifest covers %d documents, forward index holds %d", m.NumDocs, e.fwd.DocumentCount())
	}
	e.generation = m.Generation
	if e.cfg.Index.StaticSource == config.StaticSourceBarrel {
		e.barrels = store
	} else if err := store.Close(); err != nil {
		e.logger.Warn("closing barrel store", "error", err)
	}
	e.pruneSnapshots(m)

	e.logger.Info("snapshot loaded",
		"dir", dir,
		"documents", e.fwd.DocumentCount(),
		"terms", e.lex.Len(),
		"generation", m.Generation,
	)
	return true, nil
}

func (e *Engine) openBarrels() (*barrel.Store, error) {
	store, err := barrel.Open(e.cfg.Index.DataDir, e.cfg.Index.HandleCacheSize,
		barrel.WithLogger(e.logger.With("component", "barrel-store")),
		barrel.WithMetrics(e.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("opening barrel store: %w", err)
	}
	return store, nil
}

// saveSnapshot writes the lexicon, the forward index and the barrels of a
// new generation, then commits them with a single manifest rename. Until that
// rename the previous generation stays current on disk, so a failure or crash
// part way through loses nothing. In barrel mode the query path is switched
// to the new generation; if the barrels cannot be written or opened it falls
// back to the in-memory static index.
func (e *Engine) saveSnapshot() error {
	dir := e.cfg.Index.DataDir
	gen, err := barrel.NextGeneration(dir)
	if err != nil {
		return fmt.Errorf("reading current generation: %w", err)
	}
	lexName := LexiconName(gen)
	if err := writeLexicon(filepath.Join(dir, lexName), e.lex); err != nil {
		return err
	}
	segments, err := e.fwd.Save(dir, gen, e.cfg.Index.ForwardBatchSize)
	if err != nil {
		removeUncommitted(dir, []string{lexName})
		return fmt.Errorf("saving forward index: %w", err)
	}
	m, err := barrel.Write(dir, e.static, e.fwd.DocumentCount(), e.cfg.Index.BarrelBatchSize,
		barrel.WithGeneration(gen),
		barrel.WithCompanions(lexName, segments),
	)
	if m == nil {
		removeUncommitted(dir, append(segments, lexName))
		e.fallbackToMemory()
		return fmt.Errorf("writing barrels: %w", err)
	}
	if err != nil {
		e.logger.Warn("generation committed but older barrels remain", "generation", m.Generation, "error", err)
	}
	e.pruneSnapshots(m)
	e.generation = m.Generation

	if e.cfg.Index.StaticSource == config.StaticSourceBarrel {
		store, err := e.openBarrels()
		if err != nil {
			e.fallbackToMemory()
			return err
		}
		if e.barrels != nil {
			if err := e.barrels.Close(); err != nil {
				e.logger.Warn("closing previous barrel generation", "error", err)
			}
		}
		e.barrels = store
		if e.indexer != nil {
			e.rebuildSearch()
		}
	}

	e.logger.Info("snapshot written",
		"dir", dir,
		"generation", m.Generation,
		"barrels", len(m.Files),
		"forward_segments", len(segments),
		"terms", e.lex.Len(),
	)
	return nil
}

func (e *Engine) fallbackToMemory() {
	if e.barrels == nil {
		return
	}
	e.logger.Warn("barrel generation unavailable, serving static postings from memory")
	if err := e.barrels.Close(); err != nil {
		e.logger.Warn("closing barrel store", "error", err)
	}
	e.barrels = nil
	if e.indexer != nil {
		e.rebuildSearch()
	}
}

// pruneSnapshots removes lexicon and forward files that m does not list:
// older generations and leftovers of attempts that never committed.
func (e *Engine) pruneSnapshots(m *barrel.Manifest) {
	dir := e.cfg.Index.DataDir
	var result *multierror.Error
	if err := forward.Prune(dir, m.Forward); err != nil {
		result = multierror.Append(result, err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		result = multierror.Append(result, fmt.Errorf("reading index data directory: %w", err))
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == m.Lexicon || !strings.HasPrefix(name, lexiconPrefix) {
			continue
		}
		if !strings.HasSuffix(name, lexiconSuffix) && !strings.HasSuffix(name, lexiconSuffix+".tmp") {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			result = multierror.Append(result, fmt.Errorf("removing stale lexicon %s: %w", name, err))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		e.logger.Warn("pruning stale snapshot files", "generation", m.Generation, "error", err)
	}
}

func removeUncommitted(dir string, names []string) {
	for _, name := range names {
		os.Remove(filepath.Join(dir, name))
	}
}

func writeLexicon(path string, lex *lexicon.Lexicon) error {
	name := filepath.Base(path)
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return apperrors.IOf(err, "creating %s", name)
	}
	defer f.Close()
	if err := lex.Save(f); err != nil {
		return fmt.Errorf("saving lexicon: %w", err)
	}
	if err := f.Sync(); err != nil {
		return apperrors.IOf(err, "syncing %s", name)
	}
	f.Close()
	if err := os.Rename(tmpPath, path); err != nil {
		return apperrors.IOf(err, "renaming %s", name)
	}
	return nil
}
