package query

import (
	"container/heap"
	"sort"
)

// less orders results by score descending, then doc id ascending.
func less(a, b Result) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.DocID < b.DocID
}

// topK returns the k best results in rank order. k <= 0 keeps everything.
func topK(results []Result, k int) []Result {
	if k <= 0 || k >= len(results) {
		sort.Slice(results, func(i, j int) bool { return less(results[i], results[j]) })
		return results
	}
	h := &resultHeap{}
	heap.Init(h)
	for _, r := range results {
		heap.Push(h, r)
		if h.Len() > k {
			heap.Pop(h)
		}
	}
	out := make([]Result, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(Result)
	}
	return out
}

// resultHeap keeps the worst retained result at the root.
type resultHeap []Result

func (h resultHeap) Len() int { return len(h) }

func (h resultHeap) Less(i, j int) bool { return less(h[j], h[i]) }

func (h resultHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *resultHeap) Push(x interface{}) {
	*h = append(*h, x.(Result))
}

func (h *resultHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
