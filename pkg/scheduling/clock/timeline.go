package clock

import (
	"container/heap"
	"time"
)

type item struct {
	Entry
	index int
}

type itemHeap []*item

func (h itemHeap) Len() int           { return len(h) }
func (h itemHeap) Less(i, j int) bool { return h[i].Before(h[j].Entry) }
func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// timeline is a min-heap of entries with an id index. It is not safe for
// concurrent use; RunnableClock guards it with its mutex.
type timeline struct {
	heap itemHeap
	byID map[string]*item
}

func newTimeline() *timeline {
	return &timeline{byID: make(map[string]*item)}
}

func (t *timeline) Len() int {
	return len(t.heap)
}

func (t *timeline) Get(id string) (*item, bool) {
	it, ok := t.byID[id]
	return it, ok
}

func (t *timeline) Push(e Entry) *item {
	it := &item{Entry: e}
	heap.Push(&t.heap, it)
	t.byID[e.TriggerID] = it
	return it
}

// Replace swaps the entry held by it and restores heap order.
func (t *timeline) Replace(it *item, e Entry) {
	it.Entry = e
	heap.Fix(&t.heap, it.index)
}

func (t *timeline) Remove(id string) (*item, bool) {
	it, ok := t.byID[id]
	if !ok {
		return nil, false
	}
	heap.Remove(&t.heap, it.index)
	delete(t.byID, id)
	return it, true
}

func (t *timeline) Peek() *item {
	if len(t.heap) == 0 {
		return nil
	}
	return t.heap[0]
}

// PopDue removes and returns every entry due at or before now, earliest first.
func (t *timeline) PopDue(now time.Time) []*item {
	var due []*item
	for len(t.heap) > 0 && !t.heap[0].Due.After(now) {
		it := heap.Pop(&t.heap).(*item)
		delete(t.byID, it.TriggerID)
		due = append(due, it)
	}
	return due
}

func (t *timeline) Reset() {
	t.heap = nil
	t.byID = make(map[string]*item)
}
