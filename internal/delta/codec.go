package delta

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/deltasearch/pkg/errors"
)

const (
	ForwardFile  = "delta_forward_index.dat"
	InvertedFile = "delta_inverted_index.dat"
	LexiconFile  = "delta_lexicon.dat"
	StatsFile    = "delta_stats.dat"
)

// Files lists every delta file name.
var Files = []string{ForwardFile, InvertedFile, LexiconFile, StatsFile}

// State is everything needed to resume the indexer after a restart.
type State struct {
	NextDocID      uint32
	StaticDocCount uint32
}

// encodeIDRecord lays out [key][count][ids × count] as little-endian int32.
// It is the shape of both forward records (doc, terms) and inverted records
// (term, docs).
func encodeIDRecord(key uint32, ids []uint32) []byte {
	buf := make([]byte, 8+4*len(ids))
	binary.LittleEndian.PutUint32(buf[0:4], key)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(ids)))
	for i, id := range ids {
		binary.LittleEndian.PutUint32(buf[8+4*i:], id)
	}
	return buf
}

// readIDRecords decodes records until EOF. A record cut short at the end of
// the stream is the tail of an interrupted append; it is dropped and reported
// through truncated. A negative count stops decoding with ErrCorruptRecord.
func readIDRecords(r io.Reader, fn func(key uint32, ids []uint32)) (records int, truncated bool, err error) {
	br := bufio.NewReader(r)
	head := make([]byte, 8)
	for {
		if _, err := io.ReadFull(br, head); err != nil {
			if errors.Is(err, io.EOF) {
				return records, false, nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return records, true, nil
			}
			return records, false, apperrors.IOf(err, "reading record header")
		}
		key := binary.LittleEndian.Uint32(head[0:4])
		count := int32(binary.LittleEndian.Uint32(head[4:8]))
		if count < 0 {
			return records, false, apperrors.Newf(apperrors.ErrCorruptRecord,
				"record %d: negative count %d", records, count)
		}
		body := make([]byte, 4*int(count))
		if _, err := io.ReadFull(br, body); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return records, true, nil
			}
			return records, false, apperrors.IOf(err, "reading record body")
		}
		ids := make([]uint32, count)
		for i := range ids {
			ids[i] = binary.LittleEndian.Uint32(body[4*i:])
		}
		fn(key, ids)
		records++
	}
}

func encodeLexiconLine(termID uint32, token string) []byte {
	return []byte(strconv.FormatUint(uint64(termID), 10) + " " + token + "\n")
}

// readLexiconLines calls fn for each "<id> <token>" line. Blank lines are
// skipped; a malformed line is reported with its line number.
func readLexiconLines(r io.Reader, fn func(termID uint32, token string) error) error {
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return apperrors.Newf(apperrors.ErrCorruptRecord, "lexicon delta line %d: %q", lineNo, line)
		}
		id, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			return apperrors.Newf(apperrors.ErrCorruptRecord, "lexicon delta line %d: bad id %q", lineNo, fields[0])
		}
		if err := fn(uint32(id), fields[1]); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return apperrors.IOf(err, "scanning lexicon delta")
	}
	return nil
}

func encodeStats(s State, avgDocLen float64) []byte {
	return fmt.Appendf(nil, "%d %d %s\n", s.NextDocID, s.StaticDocCount,
		strconv.FormatFloat(avgDocLen, 'g', -1, 64))
}

func decodeStats(data []byte) (State, float64, error) {
	fields := strings.Fields(string(data))
	if len(fields) < 2 {
		return State{}, 0, apperrors.Newf(apperrors.ErrCorruptRecord, "stats record %q", string(data))
	}
	next, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return State{}, 0, apperrors.Newf(apperrors.ErrCorruptRecord, "stats next_doc_id %q", fields[0])
	}
	static, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return State{}, 0, apperrors.Newf(apperrors.ErrCorruptRecord, "stats static_doc_count %q", fields[1])
	}
	var avg float64
	if len(fields) > 2 {
		avg, _ = strconv.ParseFloat(fields[2], 64)
	}
	return State{NextDocID: uint32(next), StaticDocCount: uint32(static)}, avg, nil
}
