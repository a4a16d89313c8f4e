package hnsw

import "sort"

// candidate is a node id with its distance to the current query.
type candidate struct {
	id   uint32
	dist float64
}

// closer orders by distance, then by id so equal distances resolve the same way every run.
func closer(a, b candidate) bool {
	if a.dist != b.dist {
		return a.dist < b.dist
	}
	return a.id < b.id
}

// minHeap keeps the closest candidate on top: the next node to expand.
type minHeap []candidate

func (h minHeap) Len() int           { return len(h) }
func (h minHeap) Less(i, j int) bool { return closer(h[i], h[j]) }
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any)        { *h = append(*h, x.(candidate)) }
func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// maxHeap keeps the farthest candidate on top: the first result to evict.
type maxHeap []candidate

func (h maxHeap) Len() int           { return len(h) }
func (h maxHeap) Less(i, j int) bool { return closer(h[j], h[i]) }
func (h maxHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x any)        { *h = append(*h, x.(candidate)) }
func (h *maxHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// peek returns the farthest kept candidate. The heap must not be empty.
func (h maxHeap) peek() candidate { return h[0] }

func sortCandidates(c []candidate) {
	sort.Slice(c, func(i, j int) bool { return closer(c[i], c[j]) })
}
