package dispatch

// entryHeap orders pending entries by priority, highest first, breaking
// ties by submission order.
type entryHeap[R any] []*entry[R]

func (h entryHeap[R]) Len() int { return len(h) }

func (h entryHeap[R]) Less(i, j int) bool {
	if h[i].item.Priority != h[j].item.Priority {
		return h[i].item.Priority > h[j].item.Priority
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap[R]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap[R]) Push(x any) {
	e := x.(*entry[R])
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap[R]) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
