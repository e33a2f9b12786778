// Package queue implements the single ingestion point for inbound
// messages: a blocking priority queue with duplicate suppression.
package queue

import (
	"container/heap"
	"context"
	"log"
	"sync"

	"github.com/stellarlinkco/triad/internal/bus"
)

// Priority orders queue items. Lower values dequeue first.
type Priority int

const (
	PriorityMention    Priority = 1
	PriorityNormal     Priority = 3
	PriorityAutonomous Priority = 5
)

func (p Priority) String() string {
	switch p {
	case PriorityMention:
		return "mention"
	case PriorityNormal:
		return "normal"
	case PriorityAutonomous:
		return "autonomous"
	default:
		return "unknown"
	}
}

// Item wraps an inbound message with its dequeue ordering.
type Item struct {
	Priority Priority
	Sequence uint64
	Message  bus.InboundMessage
}

type itemHeap []Item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].Sequence < h[j].Sequence
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(Item)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// dedupSet remembers the most recent message IDs in a bounded ring.
type dedupSet struct {
	capacity int
	ring     []string
	next     int
	seen     map[string]struct{}
}

func newDedupSet(capacity int) *dedupSet {
	if capacity <= 0 {
		capacity = 1
	}
	return &dedupSet{
		capacity: capacity,
		ring:     make([]string, capacity),
		seen:     make(map[string]struct{}, capacity),
	}
}

func (d *dedupSet) contains(id string) bool {
	_, ok := d.seen[id]
	return ok
}

func (d *dedupSet) add(id string) {
	if old := d.ring[d.next]; old != "" {
		delete(d.seen, old)
	}
	d.ring[d.next] = id
	d.seen[id] = struct{}{}
	d.next = (d.next + 1) % d.capacity
}

// Queue is the ingestion queue. Enqueue never blocks and never drops an
// item for capacity; Dequeue blocks until an item is available. Items
// dequeue lowest priority value first, FIFO within a priority.
type Queue struct {
	mu        sync.Mutex
	cond      *sync.Cond
	items     itemHeap
	sequence  uint64
	dedup     *dedupSet
	warnDepth int
	enqueued  uint64
	dropped   uint64
}

func New(dedupWindow, warnDepth int) *Queue {
	q := &Queue{
		dedup:     newDedupSet(dedupWindow),
		warnDepth: warnDepth,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue adds a message at the given priority. A message whose ID is in
// the recent-ID window is a logged no-op.
func (q *Queue) Enqueue(msg bus.InboundMessage, priority Priority) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if msg.ID != "" && q.dedup.contains(msg.ID) {
		q.dropped++
		log.Printf("[queue] duplicate message %s on %s, skipping", msg.ID, msg.Channel)
		return
	}
	if msg.ID != "" {
		q.dedup.add(msg.ID)
	}

	heap.Push(&q.items, Item{
		Priority: priority,
		Sequence: q.sequence,
		Message:  msg,
	})
	q.sequence++
	q.enqueued++

	if q.warnDepth > 0 && len(q.items) > q.warnDepth {
		log.Printf("[queue] depth %d exceeds warning threshold %d", len(q.items), q.warnDepth)
	}

	q.cond.Signal()
}

// Dequeue blocks until an item is available or the context is cancelled.
func (q *Queue) Dequeue(ctx context.Context) (Item, error) {
	// Wake the cond wait when the context ends.
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 {
		if ctx.Err() != nil {
			return Item{}, ctx.Err()
		}
		q.cond.Wait()
	}
	return heap.Pop(&q.items).(Item), nil
}

// Depth reports the number of queued items.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stats reports cumulative enqueue and duplicate-drop counts.
func (q *Queue) Stats() (enqueued, duplicates uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enqueued, q.dropped
}
