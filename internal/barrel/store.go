package barrel

import (
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/go-multierror"

	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/deltasearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/pkg/metrics"
)

// Store serves static postings straight from barrel files. Only the record
// for the requested term is read; open files are kept in an LRU cache of
// fixed capacity. Store is safe for concurrent use.
type Store struct {
	dir      string
	manifest *Manifest
	cache    *handleCache
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Store)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// Open loads dir's manifest and prepares a handle cache holding at most
// capacity files. Capacity below 1 is raised to 1.
func Open(dir string, capacity int, opts ...Option) (*Store, error) {
	m, err := LoadManifest(dir)
	if err != nil {
		return nil, err
	}
	s := &Store{
		dir:      dir,
		manifest: m,
		logger:   slog.Default().With("component", "barrel-store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cache = newHandleCache(capacity, s.openFile)
	s.cache.onHit = s.metrics.BarrelCacheHit
	s.cache.onMiss = s.metrics.BarrelCacheMiss
	s.cache.onEvict = func(name string, err error) {
		s.metrics.BarrelEvicted()
		if err != nil {
			s.logger.Warn("closing evicted barrel failed", "barrel", name, "error", err)
		}
	}
	s.logger.Info("barrel store opened",
		"dir", dir,
		"generation", m.Generation,
		"terms", m.NumTerms,
		"barrels", len(m.Files),
		"cache_capacity", s.cache.capacity,
	)
	return s, nil
}

func (s *Store) openFile(name string) (*os.File, error) {
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		return nil, err
	}
	buf := make([]byte, HeaderSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading barrel header: %w", err)
	}
	if _, err := decodeHeader(buf); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// Postings reads termID's postings from its barrel. Unknown terms return an
// empty list. A missing or unreadable barrel returns an empty list and an
// error matching ErrIO; a checksum mismatch matches ErrCorruptRecord.
func (s *Store) Postings(termID uint32) (index.PostingList, error) {
	entry, ok := s.manifest.Entries[termID]
	if !ok {
		return nil, nil
	}
	list, err := s.read(termID, entry)
	if err != nil {
		s.metrics.BarrelReadFailed()
		s.logger.Error("barrel read failed",
			"term_id", termID,
			"barrel", entry.File,
			"offset", entry.Offset,
			"error", err,
		)
		return nil, err
	}
	return list, nil
}

func (s *Store) read(termID uint32, entry Entry) (index.PostingList, error) {
	h, err := s.cache.acquire(entry.File)
	if err != nil {
		return nil, apperrors.IOf(err, "opening barrel %s", entry.File)
	}
	defer s.cache.release(h)

	buf := make([]byte, entry.Length)
	if _, err := h.file.ReadAt(buf, entry.Offset); err != nil {
		return nil, apperrors.IOf(err, "reading term %d from %s", termID, entry.File)
	}
	if crc32.ChecksumIEEE(buf) != entry.Checksum {
		return nil, apperrors.Newf(apperrors.ErrCorruptRecord, "term %d in %s: checksum mismatch", termID, entry.File)
	}
	gotID, list, err := decodeRecord(buf)
	if err != nil {
		return nil, err
	}
	if gotID != termID {
		return nil, apperrors.Newf(apperrors.ErrCorruptRecord, "manifest points term %d at record of term %d", termID, gotID)
	}
	return list, nil
}

func (s *Store) Source() index.Source {
	return index.SourceStatic
}

// LoadAll reads every term in the manifest into static, replacing whatever
// lists static already holds for those terms. Terms that cannot be read are
// skipped and reported together in the returned error.
func (s *Store) LoadAll(static *index.StaticIndex) error {
	termIDs := make([]uint32, 0, len(s.manifest.Entries))
	for termID := range s.manifest.Entries {
		termIDs = append(termIDs, termID)
	}
	sort.Slice(termIDs, func(i, j int) bool {
		a, b := s.manifest.Entries[termIDs[i]], s.manifest.Entries[termIDs[j]]
		if a.File != b.File {
			return a.File < b.File
		}
		return a.Offset < b.Offset
	})
	var result *multierror.Error
	for _, termID := range termIDs {
		list, err := s.read(termID, s.manifest.Entries[termID])
		if err != nil {
			s.metrics.BarrelReadFailed()
			result = multierror.Append(result, fmt.Errorf("loading term %d: %w", termID, err))
			continue
		}
		static.SetPostings(termID, list)
	}
	return result.ErrorOrNil()
}

// Manifest returns the manifest the store was opened with.
func (s *Store) Manifest() *Manifest {
	return s.manifest
}

// CachedFiles returns the open barrel files, most recently used first.
func (s *Store) CachedFiles() []string {
	return s.cache.names()
}

// Close closes every cached handle.
func (s *Store) Close() error {
	if err := s.cache.closeAll(); err != nil {
		return fmt.Errorf("closing barrel handles: %w", err)
	}
	return nil
}
