package distribute

import (
	"context"
	"sync"

	"github.com/arya-analytics/infodb/internal/entry"
)

// queue is an unbounded FIFO of jobs drained by a single worker. Pushing
// never blocks.
type queue struct {
	name   string
	mu     sync.Mutex
	jobs   []entry.Entry
	signal chan struct{}
}

func newQueue(name string) *queue {
	return &queue{name: name, signal: make(chan struct{}, 1)}
}

func (q *queue) push(e entry.Entry) {
	q.mu.Lock()
	q.jobs = append(q.jobs, e)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *queue) pop() (entry.Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return entry.Entry{}, false
	}
	e := q.jobs[0]
	q.jobs[0] = entry.Entry{}
	q.jobs = q.jobs[1:]
	return e, true
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// drain delivers jobs one at a time until ctx is cancelled. Jobs still
// queued at cancellation are dropped.
func (q *queue) drain(ctx context.Context, deliver func(context.Context, entry.Entry)) error {
	for {
		for {
			if ctx.Err() != nil {
				return nil
			}
			e, ok := q.pop()
			if !ok {
				break
			}
			deliver(ctx, e)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-q.signal:
		}
	}
}
