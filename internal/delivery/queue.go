// Package delivery orders outgoing objects by delivery priority, caches
// recent objects per track for late-joining subscribers, and sheds load
// under congestion. It is the data-plane counterpart to the session
// package's control-plane state machine.
package delivery

import (
	"container/heap"
	"sync"

	"github.com/zsiec/moqtcore/internal/object"
)

// Queue orders pending objects by DeliveryPriority (lower value first),
// breaking ties by enqueue order so objects of equal priority are
// delivered FIFO.
type Queue struct {
	mu   sync.Mutex
	h    priorityHeap
	next uint64
}

// NewQueue returns an empty Queue.
func NewQueue() *Queue {
	q := &Queue{}
	heap.Init(&q.h)
	return q
}

// Push enqueues obj.
func (q *Queue) Push(obj object.MoqObject) {
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.h, queueItem{obj: obj, seq: q.next})
	q.next++
}

// Pop removes and returns the highest-priority object. ok is false if the
// queue is empty.
func (q *Queue) Pop() (obj object.MoqObject, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.h.Len() == 0 {
		return object.MoqObject{}, false
	}
	item := heap.Pop(&q.h).(queueItem)
	return item.obj, true
}

// Len returns the number of pending objects.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len()
}

// ShedBelow drops every pending object whose delivery priority is
// numerically greater than threshold (i.e. less urgent), returning the
// count dropped. Used under congestion to protect keyframes and audio
// while sacrificing delta frames and other low-priority data.
func (q *Queue) ShedBelow(threshold byte) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.h[:0]
	dropped := 0
	for _, item := range q.h {
		if item.obj.DeliveryPriority() <= threshold {
			kept = append(kept, item)
		} else {
			dropped++
		}
	}
	q.h = kept
	heap.Init(&q.h)
	return dropped
}

type queueItem struct {
	obj object.MoqObject
	seq uint64
}

type priorityHeap []queueItem

func (h priorityHeap) Len() int { return len(h) }

func (h priorityHeap) Less(i, j int) bool {
	pi, pj := h[i].obj.DeliveryPriority(), h[j].obj.DeliveryPriority()
	if pi != pj {
		return pi < pj
	}
	return h[i].seq < h[j].seq
}

func (h priorityHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *priorityHeap) Push(x any) {
	*h = append(*h, x.(queueItem))
}

func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
