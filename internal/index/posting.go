// Package index holds the two in-memory inverted index generations: the
// static index built in bulk and mutated only by compaction, and the delta
// index that ingestion appends to.
package index

// Posting records one term's occurrences in one document.
type Posting struct {
	DocID     uint32
	Frequency uint32
	Positions []uint32
}

type PostingList []Posting

// Source tags where a posting list came from.
type Source int

const (
	SourceStatic Source = iota
	SourceDelta
)

func (s Source) String() string {
	switch s {
	case SourceStatic:
		return "static"
	case SourceDelta:
		return "delta"
	default:
		return "unknown"
	}
}

// PostingSource is a read-only view of one index generation. Implementations
// return an empty list for unknown terms.
type PostingSource interface {
	Postings(termID uint32) (PostingList, error)
	Source() Source
}
