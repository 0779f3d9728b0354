package loop

import (
	"sync"

	"github.com/srodi/proctop-bpf/pkg/types"
)

// Queue hands snapshots from a producer to a single consumer. It never
// blocks the producer: when full, the oldest queued snapshot is dropped to
// make room.
type Queue struct {
	ch   chan types.Snapshot
	done chan struct{}

	mu      sync.Mutex
	dropped uint64
	closed  bool
}

// NewQueue returns a queue holding at most depth snapshots.
func NewQueue(depth int) *Queue {
	if depth < 1 {
		depth = 1
	}
	return &Queue{
		ch:   make(chan types.Snapshot, depth),
		done: make(chan struct{}),
	}
}

// Push enqueues s, discarding the oldest entry if the queue is full. Push
// on a closed queue is a no-op.
func (q *Queue) Push(s types.Snapshot) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	for {
		select {
		case q.ch <- s:
			return
		default:
			// Drop oldest to make room.
			select {
			case <-q.ch:
				q.dropped++
			default:
			}
		}
	}
}

// C exposes the queue for consumers that want to block on it.
func (q *Queue) C() <-chan types.Snapshot { return q.ch }

// DrainLatest empties the queue without blocking and returns the newest
// snapshot. skipped counts the older ones that were discarded.
func (q *Queue) DrainLatest() (latest types.Snapshot, skipped int, ok bool) {
	for {
		select {
		case s := <-q.ch:
			if ok {
				skipped++
			}
			latest, ok = s, true
		default:
			return latest, skipped, ok
		}
	}
}

// Dropped is the number of snapshots discarded by Push on overflow.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close stops further pushes and closes Done. Queued snapshots stay
// readable.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Done is closed by Close.
func (q *Queue) Done() <-chan struct{} { return q.done }
