package index

import (
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/forward"
)

// DeltaIndex maps term ids to the documents ingested since the last
// compaction, in append order. Lists are not sorted and may be merged only by
// key.
type DeltaIndex struct {
	docIDs map[uint32][]uint32
	docs   *roaring.Bitmap
	pairs  int
}

func NewDelta() *DeltaIndex {
	return &DeltaIndex{
		docIDs: make(map[uint32][]uint32),
		docs:   roaring.New(),
	}
}

// Append records that docID contains termID.
func (d *DeltaIndex) Append(termID, docID uint32) {
	d.docIDs[termID] = append(d.docIDs[termID], docID)
	d.docs.Add(docID)
	d.pairs++
}

// DocIDs returns termID's documents in append order. The slice must not be
// modified.
func (d *DeltaIndex) DocIDs(termID uint32) []uint32 {
	return d.docIDs[termID]
}

// Pairs calls fn for every (term, doc) pair, terms ascending and documents in
// append order.
func (d *DeltaIndex) Pairs(fn func(termID, docID uint32)) {
	for _, termID := range d.TermIDs() {
		for _, docID := range d.docIDs[termID] {
			fn(termID, docID)
		}
	}
}

// TermIDs returns every term with at least one delta posting, ascending.
func (d *DeltaIndex) TermIDs() []uint32 {
	ids := make([]uint32, 0, len(d.docIDs))
	for id := range d.docIDs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Documents returns a copy of the set of documents with delta postings.
func (d *DeltaIndex) Documents() *roaring.Bitmap {
	return d.docs.Clone()
}

func (d *DeltaIndex) ContainsDoc(docID uint32) bool {
	return d.docs.Contains(docID)
}

// DocCount returns the number of distinct documents with delta postings.
func (d *DeltaIndex) DocCount() int {
	return int(d.docs.GetCardinality())
}

// PairCount returns the number of (term, doc) pairs appended.
func (d *DeltaIndex) PairCount() int {
	return d.pairs
}

func (d *DeltaIndex) Empty() bool {
	return d.pairs == 0
}

// Reset drops every delta posting.
func (d *DeltaIndex) Reset() {
	d.docIDs = make(map[uint32][]uint32)
	d.docs.Clear()
	d.pairs = 0
}

// View exposes the delta index as a PostingSource. Term frequencies and
// positions are read from fwd, since the delta index only records membership.
func (d *DeltaIndex) View(fwd *forward.Index) PostingSource {
	return &deltaView{delta: d, fwd: fwd}
}

type deltaView struct {
	delta *DeltaIndex
	fwd   *forward.Index
}

func (v *deltaView) Postings(termID uint32) (PostingList, error) {
	docIDs := v.delta.DocIDs(termID)
	if len(docIDs) == 0 {
		return nil, nil
	}
	list := make(PostingList, 0, len(docIDs))
	for _, docID := range docIDs {
		positions := v.fwd.Positions(docID, termID)
		list = append(list, Posting{
			DocID:     docID,
			Frequency: uint32(len(positions)),
			Positions: positions,
		})
	}
	return list, nil
}

func (v *deltaView) Source() Source {
	return SourceDelta
}
