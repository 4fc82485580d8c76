// Package queue implements the time-ordered priority queue used to schedule
// activity wake-ups and in-flight teleportations: a min-heap keyed by a
// 32-bit scheduled time, FIFO-stable among entries with equal time.
package queue

import "container/heap"

// Scheduled is anything that can report when it is due, given the current
// time.
type Scheduled interface {
	EndTime(now uint32) uint32
}

type entry struct {
	value    Scheduled
	time     uint32
	sequence uint64 // insertion order, breaks ties FIFO
}

type innerHeap []entry

func (h innerHeap) Len() int { return len(h) }
func (h innerHeap) Less(i, j int) bool {
	if h[i].time != h[j].time {
		return h[i].time < h[j].time
	}
	return h[i].sequence < h[j].sequence
}
func (h innerHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *innerHeap) Push(x any)        { *h = append(*h, x.(entry)) }
func (h *innerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// TimeQueue is a min-heap ordered by scheduled time, stable FIFO among equal
// times.
type TimeQueue struct {
	h    innerHeap
	next uint64
}

// New returns an empty TimeQueue.
func New() *TimeQueue {
	return &TimeQueue{}
}

// Add stores value, scheduled at value.EndTime(now).
func (q *TimeQueue) Add(value Scheduled, now uint32) {
	heap.Push(&q.h, entry{value: value, time: value.EndTime(now), sequence: q.next})
	q.next++
}

// PopDue drains and returns, in (time, insertion) order, every entry whose
// scheduled time is <= now.
func (q *TimeQueue) PopDue(now uint32) []Scheduled {
	var due []Scheduled
	for q.h.Len() > 0 && q.h[0].time <= now {
		e := heap.Pop(&q.h).(entry)
		due = append(due, e.value)
	}
	return due
}

// Len reports the number of queued entries.
func (q *TimeQueue) Len() int { return q.h.Len() }

// Mutable is a TimeQueue variant keyed by an external id, so callers can
// look up a queued value and mutate it in place. An entry's scheduled time
// is fixed when it is added; changing the value's end time afterwards does
// not reorder the heap.
type Mutable[K comparable] struct {
	q        *TimeQueue
	byID     map[K]*muEntry[K]
	idOf     func(Scheduled) K
}

type muEntry[K comparable] struct {
	value Scheduled
	id    K
}

func (m *muEntry[K]) EndTime(now uint32) uint32 { return m.value.EndTime(now) }

// NewMutable builds a Mutable time queue; idOf extracts the external key
// from a queued value.
func NewMutable[K comparable](idOf func(Scheduled) K) *Mutable[K] {
	return &Mutable[K]{
		q:    New(),
		byID: make(map[K]*muEntry[K]),
		idOf: idOf,
	}
}

// Add stores value under its id, scheduled at value.EndTime(now).
func (m *Mutable[K]) Add(value Scheduled, now uint32) {
	id := m.idOf(value)
	e := &muEntry[K]{value: value, id: id}
	m.byID[id] = e
	m.q.Add(e, now)
}

// PopDue drains due entries, unwrapping back to the original values and
// removing them from the id index.
func (m *Mutable[K]) PopDue(now uint32) []Scheduled {
	due := m.q.PopDue(now)
	out := make([]Scheduled, 0, len(due))
	for _, d := range due {
		e := d.(*muEntry[K])
		delete(m.byID, e.id)
		out = append(out, e.value)
	}
	return out
}

// Get returns the currently queued value for id, if any.
func (m *Mutable[K]) Get(id K) (Scheduled, bool) {
	e, ok := m.byID[id]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Len reports the number of queued entries.
func (m *Mutable[K]) Len() int { return m.q.Len() }
