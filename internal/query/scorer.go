package query

import (
	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/forward"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/index"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/ranking"
)

// Scorer returns the contribution of one posting of termID to its document.
type Scorer interface {
	Score(termID uint32, p index.Posting) float64
}

// FrequencyScorer counts one point per matching term per document,
// whatever the term frequency. It is the default.
type FrequencyScorer struct{}

func (FrequencyScorer) Score(uint32, index.Posting) float64 {
	return 1
}

// BM25Scorer scores with a ranking model. The model must have been
// recomputed against the current forward index.
type BM25Scorer struct {
	Model   *ranking.Model
	Forward *forward.Index
}

func (s BM25Scorer) Score(termID uint32, p index.Posting) float64 {
	return s.Model.Score(termID, p.DocID, s.Forward)
}
