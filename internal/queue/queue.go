// Package queue implements MessageQueue: a thread-safe
// priority queue of inbound user messages, ordered by descending
// priority then ascending enqueued_at, with a single edge-triggered
// wake_needed notification collapsed from the teacher's pkg/events
// publish/subscribe broker down to one receiver — exactly the signal
// shape the SleepWakeManager needs.
package queue

import (
	"container/heap"
	"sync"
	"time"

	"github.com/gaia-project/gaia-core/internal/metrics"
	"github.com/gaia-project/gaia-core/internal/types"
)

// WakeReceiver is notified exactly once per empty→nonempty transition.
// The SleepWakeManager registers itself via OnWakeNeeded.
type WakeReceiver func()

// Stats reports queue observability counters.
type Stats struct {
	Size         int
	TotalEnqueued int
	TotalDequeued int
}

// item is the heap element: priority desc, then enqueued_at asc.
type item struct {
	msg   types.QueuedMessage
	index int
}

type priorityHeap []*item

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	if h[i].msg.Priority != h[j].msg.Priority {
		return h[i].msg.Priority > h[j].msg.Priority
	}
	return h[i].msg.EnqueuedAt.Before(h[j].msg.EnqueuedAt)
}
func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *priorityHeap) Push(x interface{}) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *priorityHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// Queue is the MessageQueue implementation.
type Queue struct {
	serviceName string

	mu          sync.Mutex
	heap        priorityHeap
	wakeArmed   bool // true once empty->nonempty has fired, until drained back to empty
	totalEnq    int
	totalDeq    int
	wakeReceiver WakeReceiver
}

// New creates an empty Queue for the named cognitive service (used only
// for metric labels).
func New(serviceName string) *Queue {
	q := &Queue{serviceName: serviceName}
	heap.Init(&q.heap)
	return q
}

// OnWakeNeeded registers the single receiver notified on each
// empty→nonempty transition. Replaces any previously registered
// receiver, matching the "single receiver" shape the SleepWakeManager requires.
func (q *Queue) OnWakeNeeded(fn WakeReceiver) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.wakeReceiver = fn
}

// Enqueue atomically appends msg. If the queue was empty before this
// call, it fires wake_needed exactly once; subsequent enqueues before
// the queue drains back to empty do not fire again (edge-triggered).
func (q *Queue) Enqueue(msg types.QueuedMessage) {
	q.mu.Lock()
	wasEmpty := q.heap.Len() == 0
	heap.Push(&q.heap, &item{msg: msg})
	q.totalEnq++
	shouldFire := wasEmpty && !q.wakeArmed
	if shouldFire {
		q.wakeArmed = true
	}
	receiver := q.wakeReceiver
	q.mu.Unlock()

	metrics.QueueDepth.WithLabelValues(q.serviceName).Inc()

	if shouldFire && receiver != nil {
		receiver()
	}
}

// Dequeue removes and returns the highest-priority, oldest-enqueued
// message. Returns false if the queue is empty. When the queue drains
// to empty, the wake-armed flag clears so the next enqueue fires again.
func (q *Queue) Dequeue() (types.QueuedMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.heap.Len() == 0 {
		return types.QueuedMessage{}, false
	}

	it := heap.Pop(&q.heap).(*item)
	q.totalDeq++
	if q.heap.Len() == 0 {
		q.wakeArmed = false
	}

	metrics.QueueDepth.WithLabelValues(q.serviceName).Dec()
	metrics.QueueWaitDuration.WithLabelValues(q.serviceName).Observe(time.Since(it.msg.EnqueuedAt).Seconds())

	return it.msg, true
}

// Peek returns the head message without removing it.
func (q *Queue) Peek() (types.QueuedMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.heap.Len() == 0 {
		return types.QueuedMessage{}, false
	}
	return q.heap[0].msg, true
}

// Size returns the current queue depth.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

// Stats returns observability counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Size:          q.heap.Len(),
		TotalEnqueued: q.totalEnq,
		TotalDequeued: q.totalDeq,
	}
}
