package index_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "github.com/standardbeagle/xref/internal/errors"
	"github.com/standardbeagle/xref/internal/index"
	"github.com/standardbeagle/xref/internal/types"
)

func newInstance(t *testing.T, c *counters) *index.Instance {
	t.Helper()
	cfg, err := index.Build(testRegistrations(c), index.StandardLayers())
	require.NoError(t, err)
	return cfg.Instantiate()
}

func processorIDs(procs []*index.Realized) []index.ProcessorID {
	var ids []index.ProcessorID
	for _, p := range procs {
		ids = append(ids, p.Info.ID)
	}
	return ids
}

func TestFindProcessorsRoutesByExtension(t *testing.T) {
	c := &counters{}
	inst := newInstance(t, c)

	procs, err := inst.FindProcessors("pkg/a.t")
	require.NoError(t, err)
	assert.Equal(t, []index.ProcessorID{declProcessor, refsProcessor}, processorIDs(procs))

	procs, err = inst.FindProcessors("pkg/A.T2")
	require.NoError(t, err)
	assert.Equal(t, []index.ProcessorID{declProcessor}, processorIDs(procs))

	procs, err = inst.FindProcessors("README.md")
	require.NoError(t, err)
	assert.Empty(t, procs)

	procs, err = inst.FindProcessors("Makefile")
	require.NoError(t, err)
	assert.Empty(t, procs)
}

func TestFindProcessorsCachesAndRealizesOnce(t *testing.T) {
	c := &counters{}
	inst := newInstance(t, c)
	assert.Empty(t, inst.Realized(), "processors are realized lazily")

	first, err := inst.FindProcessors("a.t")
	require.NoError(t, err)
	second, err := inst.FindProcessors("b.T")
	require.NoError(t, err)
	require.Len(t, second, len(first))
	for i := range first {
		assert.Same(t, first[i], second[i])
	}

	other, err := inst.FindProcessors("c.t2")
	require.NoError(t, err)
	assert.Same(t, first[0].Processor, other[0].Processor, "a processor shared by extensions is created once")
	assert.Equal(t, int32(2), c.created.Load())
	assert.Len(t, inst.Realized(), 2)
}

func TestFindProcessorsConcurrentFirstUse(t *testing.T) {
	c := &counters{}
	inst := newInstance(t, c)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := types.Resource("a.t")
			if i%2 == 0 {
				r = "b.t2"
			}
			_, err := inst.FindProcessors(r)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(2), c.created.Load())
}

func TestUsedProcessorsRealizedFirst(t *testing.T) {
	c := &counters{}
	inst := newInstance(t, c)

	// the references processor fails Initialize unless the declarations processor is wired in
	procs, err := inst.FindProcessors("a.t")
	require.NoError(t, err)
	refs, ok := procs[1].Processor.(*references)
	require.True(t, ok)
	assert.Same(t, procs[0].Processor, refs.decl)
	assert.True(t, procs[1].Contributes(index.LayerUnresolved))
	assert.False(t, procs[1].Contributes(index.LayerDeclarations))
}

type failingInit struct{ references }

func (p *failingInit) Initialize(index.InitContext) error { return errors.New("no grammar") }

func TestInitializeFailureIsConfigurationError(t *testing.T) {
	cfg, err := index.Build([]index.Registration{{
		Info:    index.ProcessorInfo{ID: "broken", Extensions: []string{".x"}},
		Factory: func() index.Processor { return &failingInit{} },
	}}, nil)
	require.NoError(t, err)
	inst := cfg.Instantiate()

	_, err = inst.FindProcessors("a.x")
	var ce *xerrors.ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "broken", ce.Processor)
	assert.Empty(t, inst.Realized())
}

func TestIsIndexedResource(t *testing.T) {
	inst := newInstance(t, &counters{})
	assert.True(t, inst.IsIndexedResource("x/y.t"))
	assert.True(t, inst.IsIndexedResource("x/Y.T2"))
	assert.False(t, inst.IsIndexedResource("x/y.go"))
	assert.False(t, inst.IsIndexedResource("t"))
}

func TestIsIndexedResourceAgreesWithFindProcessors(t *testing.T) {
	c := &counters{}
	inst := newInstance(t, c)
	for _, r := range []types.Resource{"a.t", "b.T2", "c.go", "Makefile", "d.t"} {
		procs, err := inst.FindProcessors(r)
		require.NoError(t, err)
		assert.Equal(t, len(procs) > 0, inst.IsIndexedResource(r), "resource %s", r)
	}
	assert.Equal(t, int32(2), c.created.Load())

	cfg, err := index.Build([]index.Registration{{
		Info:    index.ProcessorInfo{ID: "broken", Extensions: []string{".x"}},
		Factory: func() index.Processor { return &failingInit{} },
	}}, nil)
	require.NoError(t, err)
	broken := cfg.Instantiate()
	assert.False(t, broken.IsIndexedResource("a.x"), "no processor can serve it")
}

func TestGatherTimeSpentParsing(t *testing.T) {
	c := &counters{}
	inst := newInstance(t, c)
	assert.Zero(t, inst.GatherTimeSpentParsing())

	_, err := inst.FindProcessors("a.t")
	require.NoError(t, err)
	c.parseNanos.Store(int64(3 * time.Millisecond))
	assert.Equal(t, 3*time.Millisecond, inst.GatherTimeSpentParsing())
	assert.Zero(t, inst.GatherTimeSpentParsing(), "gathering resets the counters")
}

func TestParseClock(t *testing.T) {
	var clock index.ParseClock
	clock.Since(time.Now().Add(-time.Second))
	assert.GreaterOrEqual(t, clock.Take(), time.Second)
	assert.Zero(t, clock.Take())
}
