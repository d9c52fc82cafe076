// Package scheduler implements the discrete-event priority queue that drives
// the whole simulation (spec §4.4). It is the sole sequencer: there is no
// goroutine fan-out anywhere in this package, per spec §5 ("There is no OS
// thread parallelism in the core").
package scheduler

import (
	"container/heap"
	"time"
)

// Handler is invoked when a scheduled event fires.
type Handler func()

// event is an entry in the priority queue, ordered by (at, sequence) per
// spec §3/§4.4 so that equal-time events dispatch in insertion order.
type event struct {
	at       time.Duration
	sequence uint64
	handler  Handler
	canceled bool
	index    int
}

type eventHeap []*event

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].at != h[j].at {
		return h[i].at < h[j].at
	}
	return h[i].sequence < h[j].sequence
}
func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *eventHeap) Push(x interface{}) {
	e := x.(*event)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Handle identifies a previously scheduled event so it can be canceled.
type Handle struct{ e *event }

// Scheduler is a min-priority queue over logical time, keyed by
// (logical_time, sequence). It is single-threaded and must only be driven
// from one goroutine.
type Scheduler struct {
	now      time.Duration
	sequence uint64
	queue    eventHeap
	horizon  time.Duration
	hasLimit bool
}

// New creates an empty Scheduler starting at logical time zero.
func New() *Scheduler {
	s := &Scheduler{}
	heap.Init(&s.queue)
	return s
}

// SetHorizon bounds Run to stop once logical time would exceed horizon, even
// if events remain queued (spec §4.4 "Termination").
func (s *Scheduler) SetHorizon(horizon time.Duration) {
	s.horizon = horizon
	s.hasLimit = true
}

// Now returns the scheduler's current logical time.
func (s *Scheduler) Now() time.Duration { return s.now }

// Schedule inserts handler to run at now()+delay, assigning it the next
// sequence number for deterministic tie-breaking. delay must be >= 0.
func (s *Scheduler) Schedule(delay time.Duration, handler Handler) Handle {
	if delay < 0 {
		delay = 0
	}
	e := &event{
		at:       s.now + delay,
		sequence: s.sequence,
		handler:  handler,
	}
	s.sequence++
	heap.Push(&s.queue, e)
	return Handle{e: e}
}

// Cancel prevents a previously scheduled event from firing. It is a no-op if
// the event already fired or was already canceled. Peers use it to disarm an
// RPC's timeout event once the matching response has arrived.
func (s *Scheduler) Cancel(h Handle) {
	h.e.canceled = true
}

// Pending reports the number of not-yet-fired, not-canceled events.
func (s *Scheduler) Pending() int {
	n := 0
	for _, e := range s.queue {
		if !e.canceled {
			n++
		}
	}
	return n
}

// Run pops the earliest event, advances now to its time, and dispatches it,
// repeating until the queue is empty or the configured horizon is reached.
func (s *Scheduler) Run() {
	for s.queue.Len() > 0 {
		if !s.Step() {
			return
		}
	}
}

// Step dispatches a single event and reports whether it did so (false means
// the queue was empty or the horizon was reached).
func (s *Scheduler) Step() bool {
	if s.queue.Len() == 0 {
		return false
	}
	next := s.queue[0]
	if s.hasLimit && next.at > s.horizon {
		return false
	}
	e := heap.Pop(&s.queue).(*event)
	s.now = e.at
	if e.canceled {
		return true
	}
	e.handler()
	return true
}
