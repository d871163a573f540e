// Package barrel persists the static inverted index as segmented binary
// barrel files plus a manifest, and serves random-access posting reads from
// them through a bounded cache of open file handles.
package barrel

import (
	"encoding/binary"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/deltasearch/pkg/errors"
)

// MagicBytes identifies a barrel file ("DSBR").
const (
	MagicBytes    uint32 = 0x44534252
	FormatVersion uint32 = 1
	HeaderSize    int    = 16
)

// Header is the 16-byte header written at the start of every barrel file.
type Header struct {
	Magic     uint32
	Version   uint32
	TermCount uint32
}

func (h Header) encode() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint32(buf[8:12], h.TermCount)
	return buf
}

func decodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, apperrors.New(apperrors.ErrCorruptRecord, "short barrel header")
	}
	h := Header{
		Magic:     binary.LittleEndian.Uint32(buf[0:4]),
		Version:   binary.LittleEndian.Uint32(buf[4:8]),
		TermCount: binary.LittleEndian.Uint32(buf[8:12]),
	}
	if h.Magic != MagicBytes {
		return h, apperrors.Newf(apperrors.ErrCorruptRecord, "bad barrel magic %x", h.Magic)
	}
	if h.Version != FormatVersion {
		return h, apperrors.Newf(apperrors.ErrCorruptRecord, "unsupported barrel version %d", h.Version)
	}
	return h, nil
}

// encodeRecord lays out one term's postings as
// [term_id][posting_count]{[doc_id][freq][positions × freq]}, all u32 LE.
func encodeRecord(termID uint32, list index.PostingList) []byte {
	size := 8
	for _, p := range list {
		size += 8 + 4*len(p.Positions)
	}
	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:4], termID)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(list)))
	off := 8
	for _, p := range list {
		binary.LittleEndian.PutUint32(buf[off:], p.DocID)
		binary.LittleEndian.PutUint32(buf[off+4:], uint32(len(p.Positions)))
		off += 8
		for _, pos := range p.Positions {
			binary.LittleEndian.PutUint32(buf[off:], pos)
			off += 4
		}
	}
	return buf
}

func decodeRecord(buf []byte) (uint32, index.PostingList, error) {
	if len(buf) < 8 {
		return 0, nil, apperrors.New(apperrors.ErrCorruptRecord, "short barrel record")
	}
	termID := binary.LittleEndian.Uint32(buf[0:4])
	count := binary.LittleEndian.Uint32(buf[4:8])
	off := 8
	list := make(index.PostingList, 0, count)
	for i := uint32(0); i < count; i++ {
		if off+8 > len(buf) {
			return termID, nil, apperrors.Newf(apperrors.ErrCorruptRecord, "term %d: posting %d truncated", termID, i)
		}
		docID := binary.LittleEndian.Uint32(buf[off:])
		freq := binary.LittleEndian.Uint32(buf[off+4:])
		off += 8
		if off+int(freq)*4 > len(buf) {
			return termID, nil, apperrors.Newf(apperrors.ErrCorruptRecord, "term %d: positions of doc %d truncated", termID, docID)
		}
		positions := make([]uint32, freq)
		for j := range positions {
			positions[j] = binary.LittleEndian.Uint32(buf[off:])
			off += 4
		}
		list = append(list, index.Posting{DocID: docID, Frequency: freq, Positions: positions})
	}
	if off != len(buf) {
		return termID, nil, fmt.Errorf("term %d: %w", termID,
			apperrors.Newf(apperrors.ErrCorruptRecord, "%d trailing bytes", len(buf)-off))
	}
	return termID, list, nil
}
