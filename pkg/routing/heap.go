package routing

// MinHeap is a concrete-typed min-heap for the Dijkstra priority queue.
// Avoids interface boxing overhead of container/heap.
type MinHeap struct {
	items []PQItem
}

// PQItem is a priority queue entry. Entries order by accumulated risk, then
// by hop count, then by node index.
type PQItem struct {
	Node uint32
	Risk float64
	Hops uint32
}

func (a PQItem) before(b PQItem) bool {
	if a.Risk != b.Risk {
		return a.Risk < b.Risk
	}
	if a.Hops != b.Hops {
		return a.Hops < b.Hops
	}
	return a.Node < b.Node
}

func (h *MinHeap) Len() int { return len(h.items) }

func (h *MinHeap) Push(node uint32, risk float64, hops uint32) {
	h.items = append(h.items, PQItem{Node: node, Risk: risk, Hops: hops})
	h.siftUp(len(h.items) - 1)
}

func (h *MinHeap) Pop() PQItem {
	n := len(h.items)
	item := h.items[0]
	h.items[0] = h.items[n-1]
	h.items = h.items[:n-1]
	if len(h.items) > 0 {
		h.siftDown(0)
	}
	return item
}

func (h *MinHeap) Reset() {
	h.items = h.items[:0]
}

func (h *MinHeap) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !h.items[i].before(h.items[parent]) {
			break
		}
		h.items[i], h.items[parent] = h.items[parent], h.items[i]
		i = parent
	}
}

func (h *MinHeap) siftDown(i int) {
	n := len(h.items)
	for {
		smallest := i
		left := 2*i + 1
		right := 2*i + 2
		if left < n && h.items[left].before(h.items[smallest]) {
			smallest = left
		}
		if right < n && h.items[right].before(h.items[smallest]) {
			smallest = right
		}
		if smallest == i {
			break
		}
		h.items[i], h.items[smallest] = h.items[smallest], h.items[i]
		i = smallest
	}
}
