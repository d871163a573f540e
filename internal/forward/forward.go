// Package forward holds the per-document term sequences the rest of the
// index is derived from.
package forward

import (
	"sort"

	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/lexicon"
)

// Document is a document's term-id sequence after stopword filtering. A term's
// position is its index in Terms.
type Document struct {
	ID    uint32
	Terms []uint32
}

func (d Document) Length() int {
	return len(d.Terms)
}

// Index maps document ids to their term sequences. It is not safe for
// concurrent mutation.
type Index struct {
	docs        map[uint32][]uint32
	totalLength int64
	nextID      uint32
}

func New() *Index {
	return &Index{
		docs: make(map[uint32][]uint32),
	}
}

// Build replaces the index with docs, assigning ids 0..len(docs)-1. Tokens
// are resolved through lex, which must already hold the corpus vocabulary;
// tokens lex does not know are dropped.
func (f *Index) Build(docs []string, lex *lexicon.Lexicon) {
	f.reset(len(docs))
	for i, doc := range docs {
		tokens := lexicon.Tokenize(doc)
		termIDs := make([]uint32, 0, len(tokens))
		for _, token := range tokens {
			if id, ok := lex.Lookup(token); ok {
				termIDs = append(termIDs, id)
			}
		}
		f.AddDocument(uint32(i), termIDs)
	}
}

func (f *Index) reset(capacity int) {
	f.docs = make(map[uint32][]uint32, capacity)
	f.totalLength = 0
	f.nextID = 0
}

// AddDocument inserts or overwrites a single document.
func (f *Index) AddDocument(docID uint32, termIDs []uint32) {
	if prev, ok := f.docs[docID]; ok {
		f.totalLength -= int64(len(prev))
	}
	terms := make([]uint32, len(termIDs))
	copy(terms, termIDs)
	f.docs[docID] = terms
	f.totalLength += int64(len(terms))
	f.nextID = max(f.nextID, docID+1)
}

// Terms returns the term sequence of docID. The slice must not be modified.
func (f *Index) Terms(docID uint32) ([]uint32, bool) {
	terms, ok := f.docs[docID]
	return terms, ok
}

// Length returns the number of terms in docID, or 0 for an unknown document.
func (f *Index) Length(docID uint32) int {
	return len(f.docs[docID])
}

func (f *Index) Contains(docID uint32) bool {
	_, ok := f.docs[docID]
	return ok
}

// Positions returns the positions of termID within docID in ascending order.
func (f *Index) Positions(docID uint32, termID uint32) []uint32 {
	var positions []uint32
	for pos, id := range f.docs[docID] {
		if id == termID {
			positions = append(positions, uint32(pos))
		}
	}
	return positions
}

func (f *Index) DocumentCount() int {
	return len(f.docs)
}

// NextID is one past the highest document id ever added, or 0 for an empty
// index. It equals DocumentCount unless the id space has gaps.
func (f *Index) NextID() uint32 {
	return f.nextID
}

// TotalLength is the sum of all document lengths.
func (f *Index) TotalLength() int64 {
	return f.totalLength
}

// Range calls fn for every document in ascending id order until fn returns
// false.
func (f *Index) Range(fn func(doc Document) bool) {
	ids := make([]uint32, 0, len(f.docs))
	for id := range f.docs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if !fn(Document{ID: id, Terms: f.docs[id]}) {
			return
		}
	}
}
