package index

import (
	"sort"

	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/forward"
)

// StaticIndex maps term ids to posting lists sorted ascending by doc id, with
// at most one posting per (term, document). It is not safe for concurrent
// mutation.
type StaticIndex struct {
	postings map[uint32]PostingList
}

func NewStatic() *StaticIndex {
	return &StaticIndex{
		postings: make(map[uint32]PostingList),
	}
}

// Build replaces the index with the postings of every document in fwd.
func (s *StaticIndex) Build(fwd *forward.Index) {
	s.postings = make(map[uint32]PostingList)
	fwd.Range(func(doc forward.Document) bool {
		termData := make(map[uint32]*Posting)
		order := make([]uint32, 0)
		for pos, termID := range doc.Terms {
			p, exists := termData[termID]
			if !exists {
				p = &Posting{
					DocID:     doc.ID,
					Positions: make([]uint32, 0, 4),
				}
				termData[termID] = p
				order = append(order, termID)
			}
			p.Frequency++
			p.Positions = append(p.Positions, uint32(pos))
		}
		for _, termID := range order {
			s.postings[termID] = append(s.postings[termID], *termData[termID])
		}
		return true
	})
}

// Merge inserts p into termID's list, keeping doc id order. A posting already
// present for the same document is replaced.
func (s *StaticIndex) Merge(termID uint32, p Posting) {
	list := s.postings[termID]
	idx := sort.Search(len(list), func(i int) bool {
		return list[i].DocID >= p.DocID
	})
	if idx < len(list) && list[idx].DocID == p.DocID {
		list[idx] = p
		return
	}
	list = append(list, Posting{})
	copy(list[idx+1:], list[idx:])
	list[idx] = p
	s.postings[termID] = list
}

// SetPostings installs a complete, already sorted list for termID. It is used
// when rehydrating the index from barrel files.
func (s *StaticIndex) SetPostings(termID uint32, list PostingList) {
	if len(list) == 0 {
		delete(s.postings, termID)
		return
	}
	s.postings[termID] = list
}

// Postings returns termID's list. The slice must not be modified.
func (s *StaticIndex) Postings(termID uint32) (PostingList, error) {
	return s.postings[termID], nil
}

func (s *StaticIndex) Source() Source {
	return SourceStatic
}

// TermIDs returns every term with at least one posting, ascending.
func (s *StaticIndex) TermIDs() []uint32 {
	ids := make([]uint32, 0, len(s.postings))
	for id := range s.postings {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of terms with postings.
func (s *StaticIndex) Len() int {
	return len(s.postings)
}

// PostingCount returns the total number of postings across all terms.
func (s *StaticIndex) PostingCount() int {
	n := 0
	for _, list := range s.postings {
		n += len(list)
	}
	return n
}

// Subset copies the lists of termIDs into a new index. Merging into the copy
// leaves s untouched; positions are shared since Merge never modifies them.
func (s *StaticIndex) Subset(termIDs []uint32) *StaticIndex {
	out := NewStatic()
	for _, termID := range termIDs {
		if list, ok := s.postings[termID]; ok {
			out.postings[termID] = append(make(PostingList, 0, len(list)+1), list...)
		}
	}
	return out
}

// Clone returns a deep copy.
func (s *StaticIndex) Clone() *StaticIndex {
	out := NewStatic()
	for termID, list := range s.postings {
		cp := make(PostingList, len(list))
		for i, p := range list {
			cp[i] = Posting{
				DocID:     p.DocID,
				Frequency: p.Frequency,
				Positions: append([]uint32(nil), p.Positions...),
			}
		}
		out.postings[termID] = cp
	}
	return out
}
