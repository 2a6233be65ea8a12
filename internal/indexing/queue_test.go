package indexing

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/xref/internal/types"
)

func drain(q *Queue) []types.Resource {
	var out []types.Resource
	for {
		r, ok := q.Dequeue()
		if !ok {
			return out
		}
		out = append(out, r)
	}
}

func TestQueueDeduplicates(t *testing.T) {
	q := NewQueue()
	q.Enqueue("a.go", "b.go", "a.go")
	q.Enqueue("b.go", "c.go")

	assert.Equal(t, 3, q.Len())
	assert.Equal(t, []types.Resource{"a.go", "b.go", "c.go"}, drain(q))
	assert.True(t, q.Empty())

	// a dequeued resource can be queued again
	q.Enqueue("a.go")
	assert.Equal(t, 1, q.Len())
}

func TestEnqueueFrontMovesWaitingResources(t *testing.T) {
	q := NewQueue()
	q.Enqueue("a.go", "b.go", "c.go")
	q.EnqueueFront("c.go", "d.go", "c.go")

	assert.Equal(t, []types.Resource{"c.go", "d.go", "a.go", "b.go"}, drain(q))
}

func TestWholeIndexWork(t *testing.T) {
	q := NewQueue()
	assert.True(t, q.Empty())

	q.SetNeedsResync()
	assert.False(t, q.Empty(), "a pending resync is work")
	assert.Zero(t, q.Len())
	assert.True(t, q.NeedsResync())

	q.SetNeedsRebuild()
	assert.True(t, q.NeedsRebuild())
	assert.False(t, q.NeedsResync(), "rebuild supersedes resync")

	rebuild, resync := q.takeWholeIndexWork()
	assert.True(t, rebuild)
	assert.False(t, resync)
	assert.True(t, q.Empty())

	rebuild, resync = q.takeWholeIndexWork()
	assert.False(t, rebuild)
	assert.False(t, resync)
}

func TestQueueClear(t *testing.T) {
	q := NewQueue()
	q.Enqueue("a.go", "b.go")
	q.Clear()
	assert.Zero(t, q.Len())

	q.Enqueue("a.go")
	assert.Equal(t, []types.Resource{"a.go"}, drain(q))
}

func TestQueueConcurrentUse(t *testing.T) {
	q := NewQueue()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < 100; n++ {
				q.Enqueue(types.Resource(string(rune('a'+n%26)) + ".go"))
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 26, q.Len())
}
