// Package queue provides the process-local priority heap used to stage
// messages for priority handling.
package queue

import (
	"container/heap"
	"slices"
)

// Item is a heap entry. Items order by Rank, then by ID.
type Item struct {
	Rank int   `json:"rank"`
	ID   int64 `json:"id"`
}

func (a Item) less(b Item) bool {
	if a.Rank != b.Rank {
		return a.Rank < b.Rank
	}
	return a.ID < b.ID
}

// PriorityQueue is a min-heap of Items. The lowest rank pops first and
// equal ranks pop in ID order.
//
// PriorityQueue is not safe for concurrent use and is never persisted.
type PriorityQueue struct {
	items itemHeap
}

// New creates an empty queue.
func New() *PriorityQueue {
	return &PriorityQueue{}
}

// Push adds an entry.
func (q *PriorityQueue) Push(rank int, id int64) {
	heap.Push(&q.items, Item{Rank: rank, ID: id})
}

// PopMin removes and returns the smallest entry.
// Returns false if the queue is empty.
func (q *PriorityQueue) PopMin() (Item, bool) {
	if len(q.items) == 0 {
		return Item{}, false
	}
	return heap.Pop(&q.items).(Item), true
}

// PeekAll returns every entry in pop order without removing them.
func (q *PriorityQueue) PeekAll() []Item {
	out := slices.Clone([]Item(q.items))
	slices.SortFunc(out, func(a, b Item) int {
		switch {
		case a.less(b):
			return -1
		case b.less(a):
			return 1
		default:
			return 0
		}
	})
	return out
}

// IsEmpty reports whether the queue has no entries.
func (q *PriorityQueue) IsEmpty() bool {
	return len(q.items) == 0
}

// Len returns the number of entries.
func (q *PriorityQueue) Len() int {
	return len(q.items)
}

// itemHeap implements heap.Interface.
type itemHeap []Item

func (h itemHeap) Len() int           { return len(h) }
func (h itemHeap) Less(i, j int) bool { return h[i].less(h[j]) }
func (h itemHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) {
	*h = append(*h, x.(Item))
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}
