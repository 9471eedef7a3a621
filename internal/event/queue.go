package event

import (
	"container/heap"
	"errors"
	"fmt"

	"marketsim/pkg/quant"
)

// ErrInvalidSchedule reports an attempt to schedule an event into the
// simulated past. The queue is left untouched.
var ErrInvalidSchedule = errors.New("schedule time is in the simulated past")

// Item is one scheduled delivery. Seq is assigned at enqueue time and
// strictly increases across the whole run, so (Due, Seq) is a strict total
// order even when many events share a due time. That total order is what
// makes runs bit-reproducible.
type Item struct {
	Due       quant.TimeStamp
	Seq       uint64
	Recipient int
	Payload   Message
}

// Queue is the kernel's time-ordered event store: a binary min-heap keyed
// by (Due, Seq). It is owned by a single goroutine; no locking.
type Queue struct {
	h       itemHeap
	nextSeq uint64
	now     quant.TimeStamp
}

// NewQueue creates an empty queue whose clock starts at start.
func NewQueue(start quant.TimeStamp) *Queue {
	q := &Queue{now: start}
	heap.Init(&q.h)
	return q
}

// Now returns the queue's view of current simulated time: the due time of
// the most recently popped event.
func (q *Queue) Now() quant.TimeStamp { return q.now }

// Schedule enqueues a delivery of payload to recipient at due. Scheduling
// into the past fails with ErrInvalidSchedule and leaves the queue
// unchanged; due == now is valid and yields a same-tick delivery.
func (q *Queue) Schedule(due quant.TimeStamp, recipient int, payload Message) error {
	if due < q.now {
		return fmt.Errorf("%w: due %s < now %s", ErrInvalidSchedule, due, q.now)
	}
	q.nextSeq++
	heap.Push(&q.h, Item{Due: due, Seq: q.nextSeq, Recipient: recipient, Payload: payload})
	return nil
}

// PopNext removes and returns the minimum element by (Due, Seq) and
// advances the queue clock to its due time. ok is false when empty.
func (q *Queue) PopNext() (it Item, ok bool) {
	if q.h.Len() == 0 {
		return Item{}, false
	}
	it = heap.Pop(&q.h).(Item)
	if it.Due < q.now {
		// Heap order violation: scheduler bug, not a business error.
		panic(fmt.Sprintf("EVENT_QUEUE_CORRUPTED: popped %s behind clock %s", it.Due, q.now))
	}
	q.now = it.Due
	return it, true
}

// PeekNextTime returns the next due time without consuming the event.
func (q *Queue) PeekNextTime() (quant.TimeStamp, bool) {
	if q.h.Len() == 0 {
		return 0, false
	}
	return q.h[0].Due, true
}

// IsEmpty reports whether no deliveries remain.
func (q *Queue) IsEmpty() bool { return q.h.Len() == 0 }

// Len returns the number of pending deliveries.
func (q *Queue) Len() int { return q.h.Len() }

type itemHeap []Item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].Due != h[j].Due {
		return h[i].Due < h[j].Due
	}
	return h[i].Seq < h[j].Seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(Item)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}
