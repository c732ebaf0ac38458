package dispatch

import "time"

// heapEntry is one reissue-heap element. Entries are never removed when work
// completes; completion is detected lazily at pop time by checking the
// issued and pending maps.
type heapEntry struct {
	issuedAt time.Time
	workID   int64
}

// reissueHeap is a min-heap of (issuedAt, workID) used to find the oldest
// in-flight item in O(log n). Ties on issuedAt break by ascending workID so
// pop order is deterministic.
//
// Implements container/heap.Interface.
type reissueHeap []heapEntry

func (h reissueHeap) Len() int { return len(h) }

func (h reissueHeap) Less(i, j int) bool {
	if h[i].issuedAt.Equal(h[j].issuedAt) {
		return h[i].workID < h[j].workID
	}
	return h[i].issuedAt.Before(h[j].issuedAt)
}

func (h reissueHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *reissueHeap) Push(x any) {
	*h = append(*h, x.(heapEntry))
}

func (h *reissueHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	*h = old[:n-1]
	return entry
}
