package indexing

import (
	"sync"

	"github.com/standardbeagle/xref/internal/types"
)

// Queue is an ordered set of resources waiting to be indexed, plus the
// whole-index work the next batch has to do first. It is safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	order   []types.Resource
	pending map[types.Resource]bool
	resync  bool
	rebuild bool
}

func NewQueue() *Queue {
	return &Queue{pending: make(map[types.Resource]bool)}
}

// Enqueue appends resources that are not already waiting.
func (q *Queue) Enqueue(rs ...types.Resource) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, r := range rs {
		if !q.pending[r] {
			q.pending[r] = true
			q.order = append(q.order, r)
		}
	}
}

// EnqueueFront puts resources at the head of the queue, moving them if they
// are already waiting.
func (q *Queue) EnqueueFront(rs ...types.Resource) {
	q.mu.Lock()
	defer q.mu.Unlock()
	front := make([]types.Resource, 0, len(rs))
	moved := make(map[types.Resource]bool, len(rs))
	for _, r := range rs {
		if !moved[r] {
			moved[r] = true
			front = append(front, r)
		}
	}
	rest := make([]types.Resource, 0, len(q.order))
	for _, r := range q.order {
		if !moved[r] {
			rest = append(rest, r)
		}
	}
	for _, r := range front {
		q.pending[r] = true
	}
	q.order = append(front, rest...)
}

// Dequeue removes and returns the head of the queue.
func (q *Queue) Dequeue() (types.Resource, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.order) == 0 {
		return "", false
	}
	r := q.order[0]
	q.order[0] = ""
	q.order = q.order[1:]
	delete(q.pending, r)
	return r, true
}

// Len returns the number of waiting resources.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// Empty reports whether there is neither a waiting resource nor pending
// whole-index work.
func (q *Queue) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order) == 0 && !q.resync && !q.rebuild
}

// Clear drops every waiting resource.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.order = nil
	q.pending = make(map[types.Resource]bool)
}

// SetNeedsResync asks the next batch to compare the stored stamps with the
// file system.
func (q *Queue) SetNeedsResync() {
	q.mu.Lock()
	q.resync = true
	q.mu.Unlock()
}

// SetNeedsRebuild asks the next batch to index every file from scratch. It
// supersedes a pending resync.
func (q *Queue) SetNeedsRebuild() {
	q.mu.Lock()
	q.rebuild = true
	q.resync = false
	q.mu.Unlock()
}

func (q *Queue) NeedsResync() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.resync
}

func (q *Queue) NeedsRebuild() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.rebuild
}

// takeWholeIndexWork clears and returns the pending rebuild and resync flags.
func (q *Queue) takeWholeIndexWork() (rebuild, resync bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	rebuild, resync = q.rebuild, q.resync
	q.rebuild, q.resync = false, false
	return rebuild, resync
}
