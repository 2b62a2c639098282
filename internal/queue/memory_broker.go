package queue

import (
	"container/heap"
	"context"
	"errors"
	"sync"
)

var ErrBrokerClosed = errors.New("broker closed")

// MemoryBroker keeps jobs in per-kind priority heaps inside the process.
type MemoryBroker struct {
	mu     sync.Mutex
	queues map[string]*memQueue
	seq    uint64
	closed chan struct{}
	once   sync.Once
}

type memQueue struct {
	items  jobHeap
	signal chan struct{}
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		queues: make(map[string]*memQueue),
		closed: make(chan struct{}),
	}
}

func (b *MemoryBroker) Declare(kind string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queueLocked(kind)
	return nil
}

func (b *MemoryBroker) Publish(_ context.Context, job *Job) error {
	select {
	case <-b.closed:
		return ErrBrokerClosed
	default:
	}

	b.mu.Lock()
	q := b.queueLocked(job.Kind)
	b.seq++
	heap.Push(&q.items, &heapItem{job: job, seq: b.seq})
	b.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

func (b *MemoryBroker) Consume(ctx context.Context, kind string) (<-chan Delivery, error) {
	out := make(chan Delivery)
	b.mu.Lock()
	q := b.queueLocked(kind)
	b.mu.Unlock()

	go func() {
		defer close(out)
		for {
			job, ok := b.pop(ctx, q)
			if !ok {
				return
			}
			select {
			case out <- Delivery{Job: job, Ack: func() error { return nil }}:
			case <-ctx.Done():
				_ = b.Publish(context.Background(), job)
				return
			}
		}
	}()
	return out, nil
}

func (b *MemoryBroker) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}

func (b *MemoryBroker) pop(ctx context.Context, q *memQueue) (*Job, bool) {
	for {
		b.mu.Lock()
		if q.items.Len() > 0 {
			item := heap.Pop(&q.items).(*heapItem)
			b.mu.Unlock()
			return item.job, true
		}
		b.mu.Unlock()

		select {
		case <-q.signal:
		case <-ctx.Done():
			return nil, false
		case <-b.closed:
			return nil, false
		}
	}
}

func (b *MemoryBroker) queueLocked(kind string) *memQueue {
	q, ok := b.queues[kind]
	if !ok {
		q = &memQueue{signal: make(chan struct{}, 1)}
		b.queues[kind] = q
	}
	return q
}

type heapItem struct {
	job *Job
	seq uint64
}

// jobHeap orders by priority (high first), then by publish order.
type jobHeap []*heapItem

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].job.Priority != h[j].job.Priority {
		return h[i].job.Priority > h[j].job.Priority
	}
	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x interface{}) { *h = append(*h, x.(*heapItem)) }

func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
