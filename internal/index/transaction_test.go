package index_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "github.com/standardbeagle/xref/internal/errors"
	"github.com/standardbeagle/xref/internal/index"
	"github.com/standardbeagle/xref/internal/storage"
	"github.com/standardbeagle/xref/internal/storage/memstore"
	"github.com/standardbeagle/xref/internal/storage/sqlstore"
	"github.com/standardbeagle/xref/internal/types"
)

type fixture struct {
	t     *testing.T
	ctx   context.Context
	c     *counters
	inst  *index.Instance
	store storage.Store
}

var backends = []struct {
	name string
	open func(t *testing.T) storage.Store
}{
	{"memstore", func(t *testing.T) storage.Store { return memstore.New() }},
	{"sqlstore", func(t *testing.T) storage.Store {
		s, err := sqlstore.Open(t.TempDir())
		require.NoError(t, err)
		return s
	}},
}

// forEachBackend runs fn once per storage backend, each on a fresh fixture.
func forEachBackend(t *testing.T, fn func(t *testing.T, f *fixture)) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			fn(t, newFixture(t, b.open(t)))
		})
	}
}

func newFixture(t *testing.T, store storage.Store) *fixture {
	c := &counters{}
	f := &fixture{t: t, ctx: context.Background(), c: c, inst: newInstance(t, c), store: store}
	t.Cleanup(func() { f.store.Close() })
	return f
}

func (f *fixture) begin() *index.Transaction {
	f.t.Helper()
	tx, err := f.store.Begin(f.ctx)
	require.NoError(f.t, err)
	return index.NewTransaction(tx, f.inst)
}

func (f *fixture) index(files map[types.Resource]string) map[types.Resource][]types.Resource {
	f.t.Helper()
	tx := f.begin()
	affected := make(map[types.Resource][]types.Resource)
	for _, r := range sortedKeys(files) {
		affected[r] = tx.IndexTarget(f.ctx, index.NewMemoryTarget(r, []byte(files[r]), 1))
	}
	require.Empty(f.t, tx.Errors())
	require.NoError(f.t, tx.Close(f.ctx))
	return affected
}

func (f *fixture) remove(r types.Resource) []types.Resource {
	f.t.Helper()
	tx := f.begin()
	affected := tx.RemoveTarget(f.ctx, r)
	require.Empty(f.t, tx.Errors())
	require.NoError(f.t, tx.Close(f.ctx))
	return affected
}

func (f *fixture) sources(layer types.LayerID, loc types.Location) []types.Location {
	f.t.Helper()
	info, err := f.store.ReadLocationInfo(f.ctx, layer, loc)
	require.NoError(f.t, err)
	if info == nil {
		return nil
	}
	return info.Sources
}

func (f *fixture) names(layer types.LayerID) []string {
	f.t.Helper()
	names, err := f.store.Names(f.ctx, layer)
	require.NoError(f.t, err)
	return names
}

// snapshot captures everything queries can observe.
func (f *fixture) snapshot() map[string]interface{} {
	f.t.Helper()
	snap := make(map[string]interface{})
	res, err := f.store.Resources(f.ctx)
	require.NoError(f.t, err)
	snap["resources"] = res
	var locs []types.Location
	for _, rs := range res {
		fi, err := f.store.ReadFileInfo(f.ctx, rs.Resource)
		require.NoError(f.t, err)
		snap["file:"+string(rs.Resource)] = fi
		locs = append(locs, fi.SourceLocations...)
	}
	for _, l := range f.inst.Layers() {
		names := f.names(l.ID())
		snap["names:"+string(l.ID())] = names
		for _, n := range names {
			locs = append(locs, types.NameLocation(n))
		}
	}
	for _, l := range f.inst.Layers() {
		for _, loc := range locs {
			info, err := f.store.ReadLocationInfo(f.ctx, l.ID(), loc)
			require.NoError(f.t, err)
			snap["edges:"+string(l.ID())+":"+loc.String()] = info
		}
	}
	return snap
}

func sortedKeys(m map[types.Resource]string) []types.Resource {
	keys := make([]types.Resource, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	types.SortResources(keys)
	return keys
}

func TestIndexRecordsFacts(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		f.index(map[types.Resource]string{
			"a.t": "def Foo\nin Foo Bar",
			"b.t": "use Foo",
		})

		foo := declLoc("a.t", "Foo", 4)
		bar := declLoc("a.t", "Bar", 15)
		assert.Equal(t, []types.Location{useLoc("b.t", "Foo", 4)}, f.sources(index.LayerReferences, foo))
		assert.Equal(t, []types.Location{foo}, f.sources(index.LayerContains, bar))
		assert.Equal(t, []string{"Bar", "Foo"}, f.names(index.LayerDeclarations))
		assert.Empty(t, f.names(index.LayerUnresolved))

		fi, err := f.store.ReadFileInfo(f.ctx, "a.t")
		require.NoError(t, err)
		require.NotNil(t, fi)
		assert.Equal(t, int64(1), fi.ModStamp)
		assert.ElementsMatch(t, []types.Location{foo, bar}, fi.SourceLocations)
		assert.Equal(t, []types.CrossReference{{Source: "b.t", Location: useLoc("b.t", "Foo", 4), Target: foo}}, fi.ReferencedBy)
	})
}

func TestIgnoredResource(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		tx := f.begin()
		assert.Nil(t, tx.IndexTarget(f.ctx, index.NewMemoryTarget("notes.md", []byte("def Foo"), 1)))
		assert.Nil(t, tx.RemoveTarget(f.ctx, "never-indexed.t"))
		assert.Empty(t, tx.Errors())
		require.NoError(t, tx.Close(f.ctx))
		assert.Empty(t, f.names(index.LayerDeclarations))
	})
}

func TestReindexInvalidatesVanishedDeclaration(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		f.index(map[types.Resource]string{"a.t": "def Foo", "b.t": "use Foo"})
		foo := declLoc("a.t", "Foo", 4)
		require.NotEmpty(t, f.sources(index.LayerReferences, foo))

		affected := f.index(map[types.Resource]string{"a.t": "def Baz"})

		assert.Equal(t, []types.Resource{"b.t"}, affected["a.t"])
		assert.Empty(t, f.sources(index.LayerReferences, foo))
		assert.Empty(t, f.sources(index.LayerDeclarations, types.NameLocation("Foo")))
		assert.Equal(t, []string{"Baz"}, f.names(index.LayerDeclarations))

		fi, err := f.store.ReadFileInfo(f.ctx, "a.t")
		require.NoError(t, err)
		assert.Empty(t, fi.ReferencedBy)

		// the affected resource now resolves nothing
		f.index(map[types.Resource]string{"b.t": "use Foo"})
		assert.Equal(t, []string{"Foo"}, f.names(index.LayerUnresolved))
	})
}

func TestReindexKeepsSurvivingReferences(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		f.index(map[types.Resource]string{"a.t": "def Foo", "b.t": "use Foo"})

		affected := f.index(map[types.Resource]string{"a.t": "def Foo"})
		assert.Empty(t, affected["a.t"])

		foo := declLoc("a.t", "Foo", 4)
		assert.Equal(t, []types.Location{useLoc("b.t", "Foo", 4)}, f.sources(index.LayerReferences, foo))
		fi, err := f.store.ReadFileInfo(f.ctx, "a.t")
		require.NoError(t, err)
		assert.Len(t, fi.ReferencedBy, 1)
	})
}

func TestReindexDropsOwnStaleEdges(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		f.index(map[types.Resource]string{"a.t": "def Foo", "b.t": "use Foo\nuse Foo"})
		foo := declLoc("a.t", "Foo", 4)
		require.Len(t, f.sources(index.LayerReferences, foo), 2)

		f.index(map[types.Resource]string{"b.t": "use Foo"})
		assert.Equal(t, []types.Location{useLoc("b.t", "Foo", 4)}, f.sources(index.LayerReferences, foo))

		fi, err := f.store.ReadFileInfo(f.ctx, "a.t")
		require.NoError(t, err)
		assert.Equal(t, []types.CrossReference{{Source: "b.t", Location: useLoc("b.t", "Foo", 4), Target: foo}}, fi.ReferencedBy)
	})
}

func TestDeclarationRequestsReindexOfUnresolvedUses(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		f.index(map[types.Resource]string{"b.t": "use Foo", "c.t": "use Foo"})
		assert.Equal(t, []string{"Foo"}, f.names(index.LayerUnresolved))

		affected := f.index(map[types.Resource]string{"a.t": "def Foo"})
		assert.Equal(t, []types.Resource{"b.t", "c.t"}, affected["a.t"])

		f.index(map[types.Resource]string{"b.t": "use Foo", "c.t": "use Foo"})
		assert.Empty(t, f.names(index.LayerUnresolved))
		assert.Len(t, f.sources(index.LayerReferences, declLoc("a.t", "Foo", 4)), 2)
	})
}

func TestRemoveTargetReportsReferrers(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		f.index(map[types.Resource]string{"a.t": "def Foo", "b.t": "use Foo", "c.t": "def Other"})

		affected := f.remove("a.t")
		assert.Equal(t, []types.Resource{"b.t"}, affected)
		assert.Empty(t, f.sources(index.LayerReferences, declLoc("a.t", "Foo", 4)))
		assert.Equal(t, []string{"Other"}, f.names(index.LayerDeclarations))

		fi, err := f.store.ReadFileInfo(f.ctx, "a.t")
		require.NoError(t, err)
		assert.Nil(t, fi)
	})
}

func TestRemovalSymmetry(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		f.index(map[types.Resource]string{"a.t": "def Foo\nin Foo Member", "b.t": "use Foo\nuse Missing"})
		before := f.snapshot()

		f.index(map[types.Resource]string{"c.t": "def Extra\nin Extra Field\nuse Foo\nuse Missing\nuse Nowhere"})
		require.NotEqual(t, before, f.snapshot())

		f.remove("c.t")
		assert.Equal(t, before, f.snapshot())
	})
}

func TestRemovingEveryTargetLeavesNoLocations(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		for i := 0; i < 20; i++ {
			pad := strings.Repeat("\n", i)
			f.index(map[types.Resource]string{
				"a.t": pad + "def Foo\nin Foo Member",
				"b.t": pad + "use Foo\nuse Missing",
			})
		}
		n, err := f.store.LocationCount(f.ctx)
		require.NoError(t, err)
		assert.Positive(t, n)

		f.remove("b.t")
		f.remove("a.t")
		n, err = f.store.LocationCount(f.ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Empty(t, f.snapshot()["resources"])
	})
}

func TestBatchErrorIsolation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		tx := f.begin()
		targets := []struct {
			r       types.Resource
			content string
		}{
			{"a.t", "def First"},
			{"b.t", "def Second\nfail"},
			{"c.t", "def Third"},
		}
		for _, tt := range targets {
			tx.IndexTarget(f.ctx, index.NewMemoryTarget(tt.r, []byte(tt.content), 1))
		}
		require.NoError(t, tx.Close(f.ctx))

		require.Len(t, tx.Errors(), 1)
		assert.Equal(t, []types.Resource{"b.t"}, tx.TargetsWithErrors())
		assert.ErrorIs(t, tx.Errors()[0], errScripted)
		var ie *xerrors.IndexingError
		require.ErrorAs(t, tx.Errors()[0], &ie)
		assert.Equal(t, types.Resource("b.t"), ie.Resource)

		assert.Equal(t, []string{"First", "Third"}, f.names(index.LayerDeclarations), "the failing target leaves no partial facts")
	})
}

func TestFailedReindexKeepsPriorFacts(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		f.index(map[types.Resource]string{"a.t": "def Foo", "b.t": "use Foo"})
		before := f.snapshot()

		tx := f.begin()
		assert.Nil(t, tx.IndexTarget(f.ctx, index.NewMemoryTarget("a.t", []byte("def Bar\nfail"), 2)))
		require.NoError(t, tx.Close(f.ctx))
		require.Len(t, tx.Errors(), 1)

		assert.Equal(t, before, f.snapshot())
	})
}

func TestPanickingProcessorIsRecorded(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		tx := f.begin()
		tx.IndexTarget(f.ctx, index.NewMemoryTarget("a.t", []byte("def Foo\npanic"), 1))
		tx.IndexTarget(f.ctx, index.NewMemoryTarget("b.t", []byte("def Bar"), 1))
		require.NoError(t, tx.Close(f.ctx))

		require.Len(t, tx.Errors(), 1)
		var ie *xerrors.IndexingError
		require.ErrorAs(t, tx.Errors()[0], &ie)
		assert.Equal(t, xerrors.ErrorTypePanic, ie.Type)
		assert.Equal(t, types.Resource("a.t"), ie.Resource)
		assert.Equal(t, []string{"Bar"}, f.names(index.LayerDeclarations))
	})
}

func TestUpdaterRejectsForeignLayer(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		tx := f.begin()
		tx.IndexTarget(f.ctx, index.NewMemoryTarget("a.t", []byte("bad"), 1))
		require.NoError(t, tx.Close(f.ctx))
		require.Len(t, tx.Errors(), 1)
		assert.ErrorIs(t, tx.Errors()[0], index.ErrLayerNotContributed)
	})
}

func TestCloseNotifiesProcessors(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		f.c.endErr = errors.New("diagnostics unavailable")

		tx := f.begin()
		tx.IndexTarget(f.ctx, index.NewMemoryTarget("a.t", []byte("def Foo"), 1))
		require.NoError(t, tx.Close(f.ctx), "a failing end hook must not block the commit")
		assert.Equal(t, int32(1), f.c.ended.Load())
		assert.Equal(t, []string{"Foo"}, f.names(index.LayerDeclarations))
	})
}

func TestClosedTransaction(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		tx := f.begin()
		require.NoError(t, tx.Close(f.ctx))
		assert.ErrorIs(t, tx.Close(f.ctx), index.ErrTransactionClosed)
		assert.NoError(t, tx.Abort(f.ctx))

		assert.Nil(t, tx.IndexTarget(f.ctx, index.NewMemoryTarget("a.t", []byte("def Foo"), 1)))
		require.Len(t, tx.Errors(), 1)
		assert.ErrorIs(t, tx.Errors()[0], index.ErrTransactionClosed)
	})
}

func TestAbortDiscardsWrites(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		tx := f.begin()
		tx.IndexTarget(f.ctx, index.NewMemoryTarget("a.t", []byte("def Foo"), 1))
		require.NoError(t, tx.Abort(f.ctx))
		assert.Empty(t, f.names(index.LayerDeclarations))

		// the storage writer was released
		f.index(map[types.Resource]string{"b.t": "def Bar"})
		assert.Equal(t, []string{"Bar"}, f.names(index.LayerDeclarations))
	})
}
