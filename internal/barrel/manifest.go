package barrel

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	apperrors "github.com/Adithya-Monish-Kumar-K/deltasearch/pkg/errors"
)

const ManifestFilename = "manifest.json"

// Entry locates one term's record inside a barrel file.
type Entry struct {
	File     string `json:"file"`
	Offset   int64  `json:"offset"`
	Length   int    `json:"length"`
	Checksum uint32 `json:"crc"`
}

// Manifest maps every term id with postings to its barrel record. Generation
// increases each time the static index is rewritten. Lexicon and Forward name
// the snapshot files written for the same generation.
type Manifest struct {
	Generation uint64           `json:"generation"`
	NumTerms   int              `json:"nterms"`
	NumDocs    int              `json:"ndocs"`
	Lexicon    string           `json:"lexicon,omitempty"`
	Forward    []string         `json:"forward,omitempty"`
	Files      []string         `json:"files"`
	Entries    map[uint32]Entry `json:"entries"`
}

// LoadManifest reads dir's manifest. A missing manifest returns an error
// matching ErrNotFound.
func LoadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFilename))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperrors.Newf(apperrors.ErrNotFound, "no barrel manifest in %s", dir)
		}
		return nil, apperrors.IOf(err, "reading barrel manifest")
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.New(apperrors.ErrCorruptRecord, "parsing barrel manifest"), err)
	}
	if m.Entries == nil {
		m.Entries = make(map[uint32]Entry)
	}
	return &m, nil
}

// NextGeneration returns the generation the next Write to dir will produce.
func NextGeneration(dir string) (uint64, error) {
	prev, err := LoadManifest(dir)
	switch {
	case err == nil:
		return prev.Generation + 1, nil
	case errors.Is(err, apperrors.ErrNotFound):
		return 1, nil
	default:
		return 0, err
	}
}

// Save writes the manifest to a temp file and renames it into place, so
// readers see either the previous or the new generation.
func (m *Manifest) Save(dir string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling barrel manifest: %w", err)
	}
	finalPath := filepath.Join(dir, ManifestFilename)
	tmpPath := finalPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp manifest: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing manifest: %w", err)
	}
	f.Close()
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("renaming manifest: %w", err)
	}
	return nil
}
