package sequence

import "container/heap"

// Queue is an unbounded FIFO. The zero value is ready to use; it is not safe
// for concurrent use.
type Queue[T any] struct {
	items []T
	head  int
}

func (q *Queue[T]) Push(v T) {
	q.items = append(q.items, v)
}

func (q *Queue[T]) Peek() (T, bool) {
	if q.Len() == 0 {
		var zero T
		return zero, false
	}
	return q.items[q.head], true
}

// Tail returns the most recently pushed item.
func (q *Queue[T]) Tail() (T, bool) {
	if q.Len() == 0 {
		var zero T
		return zero, false
	}
	return q.items[len(q.items)-1], true
}

func (q *Queue[T]) Pop() (T, bool) {
	var zero T
	if q.Len() == 0 {
		return zero, false
	}
	v := q.items[q.head]
	q.items[q.head] = zero
	q.head++
	// compact once the dead prefix dominates
	if q.head > 32 && q.head*2 >= len(q.items) {
		q.items = append(q.items[:0:0], q.items[q.head:]...)
		q.head = 0
	}
	return v, true
}

func (q *Queue[T]) Len() int { return len(q.items) - q.head }

// Drain empties the queue and returns its items in order.
func (q *Queue[T]) Drain() []T {
	out := append([]T(nil), q.items[q.head:]...)
	q.items = nil
	q.head = 0
	return out
}

type keyed[T any] struct {
	value T
	key   uint64
	seq   uint64
}

type minHeap[T any] []keyed[T]

func (h minHeap[T]) Len() int { return len(h) }

func (h minHeap[T]) Less(i, j int) bool {
	if h[i].key == h[j].key {
		return h[i].seq < h[j].seq
	}
	return h[i].key < h[j].key
}

func (h minHeap[T]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *minHeap[T]) Push(x any) { *h = append(*h, x.(keyed[T])) }

func (h *minHeap[T]) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Schedule orders values by a uint64 key (a tick, a deadline). Equal keys
// come out in insertion order.
type Schedule[T any] struct {
	h   minHeap[T]
	seq uint64
}

func (s *Schedule[T]) Add(key uint64, v T) {
	s.seq++
	heap.Push(&s.h, keyed[T]{value: v, key: key, seq: s.seq})
}

// PopDue removes and returns every value whose key is <= now.
func (s *Schedule[T]) PopDue(now uint64) []T {
	var out []T
	for len(s.h) > 0 && s.h[0].key <= now {
		out = append(out, heap.Pop(&s.h).(keyed[T]).value)
	}
	return out
}

func (s *Schedule[T]) Len() int { return len(s.h) }
