package lexicon

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/deltasearch/pkg/errors"
)

// Term is a dictionary entry as seen by readers.
type Term struct {
	ID      uint32
	Text    string
	DocFreq uint32
}

type entry struct {
	text    string
	docFreq uint32
}

// Lexicon maps tokens to dense term ids and tracks per-term document
// frequency. Ids start at 0, are assigned in insertion order and are never
// reused. Lexicon is not safe for concurrent mutation; the engine guards it
// together with the rest of the index.
type Lexicon struct {
	ids   map[string]uint32
	terms []entry
}

func New() *Lexicon {
	return &Lexicon{
		ids: make(map[string]uint32),
	}
}

// Build replaces the lexicon with the vocabulary of docs. Ids follow first
// occurrence; document frequency counts each distinct term once per document.
func (l *Lexicon) Build(docs []string) {
	l.ids = make(map[string]uint32)
	l.terms = l.terms[:0]
	for _, doc := range docs {
		seen := make(map[uint32]struct{})
		for _, token := range Tokenize(doc) {
			id, _ := l.AddOrGet(token)
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			l.IncrementDocumentFrequency(id)
		}
	}
}

// Lookup returns the id of token, if assigned.
func (l *Lexicon) Lookup(token string) (uint32, bool) {
	id, ok := l.ids[token]
	return id, ok
}

// AddOrGet returns the id of token, assigning the next dense id when the
// token is new. Stopwords return ErrStopword and never consume an id.
func (l *Lexicon) AddOrGet(token string) (uint32, error) {
	if token == "" {
		return 0, apperrors.ErrEmptyInput
	}
	if IsStopword(token) {
		return 0, apperrors.ErrStopword
	}
	if id, ok := l.ids[token]; ok {
		return id, nil
	}
	id := uint32(len(l.terms))
	l.ids[token] = id
	l.terms = append(l.terms, entry{text: token})
	return id, nil
}

// DocumentFrequency returns the number of documents containing id, or 0 for
// an unknown id.
func (l *Lexicon) DocumentFrequency(id uint32) uint32 {
	if int(id) >= len(l.terms) {
		return 0
	}
	return l.terms[id].docFreq
}

// IncrementDocumentFrequency records one more document containing id.
// Unknown ids are ignored.
func (l *Lexicon) IncrementDocumentFrequency(id uint32) {
	if int(id) >= len(l.terms) {
		return
	}
	l.terms[id].docFreq++
}

// Text returns the token for id.
func (l *Lexicon) Text(id uint32) (string, bool) {
	if int(id) >= len(l.terms) {
		return "", false
	}
	return l.terms[id].text, true
}

// Contains reports whether id has been assigned.
func (l *Lexicon) Contains(id uint32) bool {
	return int(id) < len(l.terms)
}

// Len returns the number of assigned ids.
func (l *Lexicon) Len() int {
	return len(l.terms)
}

// Terms returns a copy of every entry sorted by text.
func (l *Lexicon) Terms() []Term {
	out := make([]Term, 0, len(l.terms))
	for id, e := range l.terms {
		out = append(out, Term{ID: uint32(id), Text: e.text, DocFreq: e.docFreq})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Text < out[j].Text
	})
	return out
}

// WithPrefix returns up to limit terms starting with prefix, highest document
// frequency first. limit <= 0 returns every match.
func (l *Lexicon) WithPrefix(prefix string, limit int) []Term {
	prefix = strings.ToLower(prefix)
	out := make([]Term, 0)
	for id, e := range l.terms {
		if strings.HasPrefix(e.text, prefix) {
			out = append(out, Term{ID: uint32(id), Text: e.text, DocFreq: e.docFreq})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DocFreq != out[j].DocFreq {
			return out[i].DocFreq > out[j].DocFreq
		}
		return out[i].Text < out[j].Text
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Save writes the lexicon as "<id> <token> <df>" lines in id order.
func (l *Lexicon) Save(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for id, e := range l.terms {
		if _, err := fmt.Fprintf(bw, "%d %s %d\n", id, e.text, e.docFreq); err != nil {
			return fmt.Errorf("writing lexicon entry %d: %w", id, err)
		}
	}
	return bw.Flush()
}

// Load replaces the lexicon with the contents written by Save. Ids must be
// dense and in order.
func (l *Lexicon) Load(r io.Reader) error {
	ids := make(map[string]uint32)
	terms := make([]entry, 0)
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if text == "" {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 3 {
			return apperrors.Newf(apperrors.ErrCorruptRecord, "lexicon line %d: expected 3 fields, got %d", line, len(fields))
		}
		id, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			return apperrors.Newf(apperrors.ErrCorruptRecord, "lexicon line %d: bad id %q", line, fields[0])
		}
		df, err := strconv.ParseUint(fields[2], 10, 32)
		if err != nil {
			return apperrors.Newf(apperrors.ErrCorruptRecord, "lexicon line %d: bad df %q", line, fields[2])
		}
		if int(id) != len(terms) {
			return apperrors.Newf(apperrors.ErrCorruptRecord, "lexicon line %d: id %d out of sequence, want %d", line, id, len(terms))
		}
		ids[fields[1]] = uint32(id)
		terms = append(terms, entry{text: fields[1], docFreq: uint32(df)})
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading lexicon: %w", err)
	}
	l.ids = ids
	l.terms = terms
	return nil
}
