package forward

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"

	apperrors "github.com/Adithya-Monish-Kumar-K/deltasearch/pkg/errors"
)

const (
	segmentPrefix = "forward_"
	segmentSuffix = ".bin"
)

// SegmentName is the file holding segment n of snapshot generation gen.
func SegmentName(gen uint64, n int) string {
	return fmt.Sprintf("%s%d_%d%s", segmentPrefix, gen, n, segmentSuffix)
}

// Save writes the index into dir as forward_<gen>_<n>.bin files of at most
// batchSize documents each and returns their names in order. Every record is
// [doc_id u32][term_count u32][term_ids u32 × term_count], little-endian.
// Files of other generations are left alone; see Prune.
func (f *Index) Save(dir string, gen uint64, batchSize int) ([]string, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("forward segment batch size must be positive, got %d", batchSize)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating forward index directory: %w", err)
	}
	batch := make([]Document, 0, batchSize)
	var names []string
	flush := func() error {
		name := SegmentName(gen, len(names))
		if err := writeSegment(filepath.Join(dir, name), batch); err != nil {
			return err
		}
		names = append(names, name)
		batch = batch[:0]
		return nil
	}
	var writeErr error
	f.Range(func(doc Document) bool {
		batch = append(batch, doc)
		if len(batch) == batchSize {
			writeErr = flush()
		}
		return writeErr == nil
	})
	if writeErr == nil && len(batch) > 0 {
		writeErr = flush()
	}
	if writeErr != nil {
		for _, name := range names {
			os.Remove(filepath.Join(dir, name))
		}
		return nil, writeErr
	}
	return names, nil
}

// Prune removes forward segment files in dir that are not named in keep.
func Prune(dir string, keep []string) error {
	live := make(map[string]struct{}, len(keep))
	for _, name := range keep {
		live[name] = struct{}{}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading forward index directory: %w", err)
	}
	var result *multierror.Error
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, segmentPrefix) {
			continue
		}
		if !strings.HasSuffix(name, segmentSuffix) && !strings.HasSuffix(name, segmentSuffix+".tmp") {
			continue
		}
		if _, ok := live[name]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			result = multierror.Append(result, fmt.Errorf("removing stale forward segment %s: %w", name, err))
		}
	}
	return result.ErrorOrNil()
}

func writeSegment(path string, docs []Document) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating forward segment: %w", err)
	}
	defer file.Close()
	w := bufio.NewWriter(file)
	var word [4]byte
	put := func(v uint32) error {
		binary.LittleEndian.PutUint32(word[:], v)
		_, err := w.Write(word[:])
		return err
	}
	for _, doc := range docs {
		if err := put(doc.ID); err != nil {
			return fmt.Errorf("writing forward record %d: %w", doc.ID, err)
		}
		if err := put(uint32(len(doc.Terms))); err != nil {
			return fmt.Errorf("writing forward record %d: %w", doc.ID, err)
		}
		for _, termID := range doc.Terms {
			if err := put(termID); err != nil {
				return fmt.Errorf("writing forward record %d: %w", doc.ID, err)
			}
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flushing forward segment: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("syncing forward segment: %w", err)
	}
	file.Close()
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming forward segment: %w", err)
	}
	return nil
}

// Load replaces the index with the named segments in dir. No names yields an
// empty index.
func (f *Index) Load(dir string, names []string) error {
	f.reset(0)
	for _, name := range names {
		if err := f.loadSegment(filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}

func (f *Index) loadSegment(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return apperrors.IOf(err, "opening forward segment %s", filepath.Base(path))
	}
	defer file.Close()
	r := bufio.NewReader(file)
	var header [8]byte
	for {
		if _, err := io.ReadFull(r, header[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return apperrors.Newf(apperrors.ErrCorruptRecord, "forward segment %s: truncated header", filepath.Base(path))
		}
		docID := binary.LittleEndian.Uint32(header[0:4])
		count := binary.LittleEndian.Uint32(header[4:8])
		body := make([]byte, int(count)*4)
		if _, err := io.ReadFull(r, body); err != nil {
			return apperrors.Newf(apperrors.ErrCorruptRecord, "forward segment %s: truncated record for doc %d", filepath.Base(path), docID)
		}
		terms := make([]uint32, count)
		for i := range terms {
			terms[i] = binary.LittleEndian.Uint32(body[i*4:])
		}
		f.AddDocument(docID, terms)
	}
}
