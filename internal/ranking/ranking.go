// Package ranking maintains BM25 corpus statistics over the forward index and
// lexicon and scores single (term, document) pairs against them.
package ranking

import (
	"math"

	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/forward"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/lexicon"
)

const (
	K1 = 1.5
	B  = 0.75
)

// Model holds corpus statistics derived from a forward index and lexicon.
// The statistics go stale as soon as either changes; callers must call
// Recompute after every ingestion or compaction.
type Model struct {
	docCount     int
	avgDocLength float64
	idf          []float64
}

func New() *Model {
	return &Model{}
}

// Recompute rebuilds the statistics from scratch.
func (m *Model) Recompute(fwd *forward.Index, lex *lexicon.Lexicon) {
	m.docCount = fwd.DocumentCount()
	m.avgDocLength = 0
	if m.docCount > 0 {
		m.avgDocLength = float64(fwd.TotalLength()) / float64(m.docCount)
	}
	m.idf = make([]float64, lex.Len())
	for id := range m.idf {
		m.idf[id] = computeIDF(int64(m.docCount), int64(lex.DocumentFrequency(uint32(id))))
	}
}

func (m *Model) DocumentCount() int {
	return m.docCount
}

func (m *Model) AvgDocLength() float64 {
	return m.avgDocLength
}

// IDF returns termID's inverse document frequency, or 0 for terms the model
// has not seen.
func (m *Model) IDF(termID uint32) float64 {
	if int(termID) >= len(m.idf) {
		return 0
	}
	return m.idf[termID]
}

// Score returns the BM25 contribution of termID to docID. Term frequency and
// document length are read from fwd.
func (m *Model) Score(termID, docID uint32, fwd *forward.Index) float64 {
	terms, ok := fwd.Terms(docID)
	if !ok {
		return 0
	}
	tf := 0
	for _, id := range terms {
		if id == termID {
			tf++
		}
	}
	if tf == 0 {
		return 0
	}
	return m.IDF(termID) * computeTFNorm(float64(tf), float64(len(terms)), m.avgDocLength)
}

func computeIDF(totalDocs int64, docFreq int64) float64 {
	numerator := float64(totalDocs) - float64(docFreq) + 0.5
	denominator := float64(docFreq) + 0.5
	return math.Log(numerator/denominator + 1)
}

func computeTFNorm(termFreq float64, docLength float64, avgDocLength float64) float64 {
	if avgDocLength == 0 {
		return 0
	}
	lengthRatio := docLength / avgDocLength
	denominator := termFreq + K1*(1-B+B*lengthRatio)
	return (termFreq * (K1 + 1)) / denominator
}
