package scheduler

// systemHeap orders system tables by (nextEmission, priority), with a
// lower priority number sorting first on a tie.
type systemHeap []*systemTable

func (h systemHeap) Len() int { return len(h) }
func (h systemHeap) Less(i, j int) bool {
	if h[i].nextEmission != h[j].nextEmission {
		return h[i].nextEmission < h[j].nextEmission
	}
	return h[i].priority < h[j].priority
}
func (h systemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *systemHeap) Push(x interface{}) { *h = append(*h, x.(*systemTable)) }
func (h *systemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// esHeap orders elementary streams by nextEmission, with all ES sharing
// PriorityNormal so ties are broken arbitrarily (stable by PID order
// here, since Go's heap doesn't guarantee FIFO among exact ties and the
// scheduling model only requires per-ES ordering, not cross-ES ordering,
// on ties).
type esHeap []*Stream

func (h esHeap) Len() int { return len(h) }
func (h esHeap) Less(i, j int) bool {
	if h[i].nextEmission != h[j].nextEmission {
		return h[i].nextEmission < h[j].nextEmission
	}
	return h[i].PID < h[j].PID
}
func (h esHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *esHeap) Push(x interface{}) { *h = append(*h, x.(*Stream)) }
func (h *esHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
