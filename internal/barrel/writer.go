package barrel

import (
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/index"
)

const (
	filePrefix = "barrel_"
	fileSuffix = ".bin"
)

func fileName(generation uint64, n int) string {
	return fmt.Sprintf("%s%d_%d%s", filePrefix, generation, n, fileSuffix)
}

type writeOptions struct {
	generation uint64
	lexicon    string
	forward    []string
}

type WriteOption func(*writeOptions)

// WithGeneration writes generation gen instead of the one following the
// current manifest. gen must be newer than the current manifest.
func WithGeneration(gen uint64) WriteOption {
	return func(o *writeOptions) { o.generation = gen }
}

// WithCompanions records the lexicon and forward segment files written for
// this generation. The manifest rename makes them current together with the
// barrels.
func WithCompanions(lexicon string, forward []string) WriteOption {
	return func(o *writeOptions) {
		o.lexicon = lexicon
		o.forward = forward
	}
}

// Write serialises static into a new generation of barrel files under dir.
// Terms are taken in ascending id order, batchSize terms per file, and the
// files are written concurrently. The manifest is replaced only after every
// file is on disk; files from older generations are removed afterwards. A
// non-nil manifest means the generation was committed, even if the returned
// error reports that old files could not be removed.
func Write(dir string, static *index.StaticIndex, numDocs int, batchSize int, opts ...WriteOption) (*Manifest, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("barrel batch size must be positive, got %d", batchSize)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating barrel directory: %w", err)
	}
	var o writeOptions
	for _, opt := range opts {
		opt(&o)
	}
	next, err := NextGeneration(dir)
	if err != nil {
		return nil, err
	}
	generation := next
	if o.generation != 0 {
		if o.generation < next {
			return nil, fmt.Errorf("barrel generation %d is not newer than %d", o.generation, next-1)
		}
		generation = o.generation
	}

	termIDs := static.TermIDs()
	numBatches := (len(termIDs) + batchSize - 1) / batchSize
	results := make([]map[uint32]Entry, numBatches)
	files := make([]string, numBatches)

	var g errgroup.Group
	for n := 0; n < numBatches; n++ {
		n := n
		start := n * batchSize
		end := min(start+batchSize, len(termIDs))
		name := fileName(generation, n)
		files[n] = name
		g.Go(func() error {
			entries, err := writeFile(filepath.Join(dir, name), name, static, termIDs[start:end])
			if err != nil {
				return err
			}
			results[n] = entries
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		removeFiles(dir, files)
		return nil, err
	}

	m := &Manifest{
		Generation: generation,
		NumTerms:   len(termIDs),
		NumDocs:    numDocs,
		Lexicon:    o.lexicon,
		Forward:    o.forward,
		Files:      files,
		Entries:    make(map[uint32]Entry, len(termIDs)),
	}
	for _, entries := range results {
		for termID, entry := range entries {
			m.Entries[termID] = entry
		}
	}
	if err := m.Save(dir); err != nil {
		removeFiles(dir, files)
		return nil, err
	}
	if err := removeStale(dir, files); err != nil {
		return m, err
	}
	return m, nil
}

func writeFile(path, name string, static *index.StaticIndex, termIDs []uint32) (map[uint32]Entry, error) {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("creating temp barrel file: %w", err)
	}
	defer f.Close()

	header := Header{Magic: MagicBytes, Version: FormatVersion, TermCount: uint32(len(termIDs))}
	if _, err := f.Write(header.encode()); err != nil {
		return nil, fmt.Errorf("writing barrel header: %w", err)
	}
	offset := int64(HeaderSize)
	entries := make(map[uint32]Entry, len(termIDs))
	for _, termID := range termIDs {
		list, _ := static.Postings(termID)
		record := encodeRecord(termID, list)
		if _, err := f.Write(record); err != nil {
			return nil, fmt.Errorf("writing postings for term %d: %w", termID, err)
		}
		entries[termID] = Entry{
			File:     name,
			Offset:   offset,
			Length:   len(record),
			Checksum: crc32.ChecksumIEEE(record),
		}
		offset += int64(len(record))
	}
	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("syncing barrel file: %w", err)
	}
	f.Close()
	if err := os.Rename(tmpPath, path); err != nil {
		return nil, fmt.Errorf("renaming barrel file: %w", err)
	}
	return entries, nil
}

func removeFiles(dir string, names []string) {
	for _, name := range names {
		os.Remove(filepath.Join(dir, name))
		os.Remove(filepath.Join(dir, name+".tmp"))
	}
}

// removeStale deletes barrel files that are not part of keep.
func removeStale(dir string, keep []string) error {
	live := make(map[string]struct{}, len(keep))
	for _, name := range keep {
		live[name] = struct{}{}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading barrel directory: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		if _, ok := live[name]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing stale barrel %s: %w", name, err)
		}
	}
	return nil
}
