// Package storagetest holds the behaviour every storage backend must share.
// Backends call Run from their own tests.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/xref/internal/storage"
	"github.com/standardbeagle/xref/internal/types"
)

const (
	declarations types.LayerID = "declarations"
	references   types.LayerID = "references"
	contains     types.LayerID = "contains"
)

// Factory returns a fresh, empty store. Run closes it.
type Factory func(t *testing.T) storage.Store

// Run executes the compliance suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Store)
	}{
		{"EmptyStoreReadsNothing", testEmptyStore},
		{"CommitPublishesFileInfo", testCommitPublishes},
		{"ReadersSeeCommittedSnapshot", testSnapshotIsolation},
		{"RollbackDiscardsWrites", testRollback},
		{"EdgeBookkeeping", testEdgeBookkeeping},
		{"ForeignSourceRejected", testForeignSource},
		{"RemoveFileInfo", testRemoveFileInfo},
		{"RemoveLocationInfoAllLayers", testRemoveLocationInfo},
		{"RemoveStaleDependencies", testRemoveStaleDependencies},
		{"RemoveStaleLocationsFromDestination", testRemoveStaleLocationsFromDestination},
		{"SavepointRollback", testSavepointRollback},
		{"SavepointRelease", testSavepointRelease},
		{"ReferrersCarriedOnReindex", testReferrersCarried},
		{"NamesOnlyListConnectedNames", testNames},
		{"Destroy", testDestroy},
		{"SingleWriter", testSingleWriter},
		{"FinishedTransactionRejectsWrites", testFinishedTransaction},
		{"LocationsDroppedWithLastFile", testLocationsDroppedWithLastFile},
		{"DroppedLocationCanReturn", testDroppedLocationCanReturn},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			tt.fn(t, s)
		})
	}
}

// Loc builds a location in r for tests.
func Loc(r types.Resource, name string, offset int) types.Location {
	return types.Location{Element: types.Element{Resource: r, Name: name}, Kind: "function", Offset: offset, Length: len(name)}
}

func locationCount(t *testing.T, s storage.Store) int {
	t.Helper()
	n, err := s.LocationCount(context.Background())
	require.NoError(t, err)
	return n
}

// removeFile drops r the way the index does: its FileInfo, then every edge of
// its source locations.
func removeFile(t *testing.T, tx storage.Transaction, r types.Resource) {
	t.Helper()
	ctx := context.Background()
	old, err := tx.RemoveFileInfo(ctx, r)
	require.NoError(t, err)
	if old == nil {
		return
	}
	for _, loc := range old.SourceLocations {
		require.NoError(t, tx.RemoveLocationInfo(ctx, loc))
	}
}

func begin(t *testing.T, s storage.Store) storage.Transaction {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	return tx
}

// writeFile indexes r with the given edges inside tx and commits the file transaction.
func writeFile(t *testing.T, tx storage.Transaction, r types.Resource, stamp int64, edges ...[3]interface{}) {
	t.Helper()
	ctx := context.Background()
	ft, err := tx.CreateFileTransaction(ctx, r)
	require.NoError(t, err)
	ft.SetModStamp(stamp)
	for _, e := range edges {
		require.NoError(t, ft.Updater().AddRelationship(ctx, e[0].(types.LayerID), e[1].(types.Location), e[2].(types.Location)))
	}
	require.NoError(t, ft.Commit(ctx))
}

func edge(layer types.LayerID, src, dst types.Location) [3]interface{} {
	return [3]interface{}{layer, src, dst}
}

func testEmptyStore(t *testing.T, s storage.Store) {
	ctx := context.Background()
	fi, err := s.ReadFileInfo(ctx, "a.go")
	require.NoError(t, err)
	assert.Nil(t, fi)

	info, err := s.ReadLocationInfo(ctx, declarations, types.NameLocation("Foo"))
	require.NoError(t, err)
	assert.Nil(t, info)

	names, err := s.Names(ctx, declarations)
	require.NoError(t, err)
	assert.Empty(t, names)

	res, err := s.Resources(ctx)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func testCommitPublishes(t *testing.T, s storage.Store) {
	ctx := context.Background()
	foo := Loc("a.go", "Foo", 10)
	tx := begin(t, s)
	writeFile(t, tx, "a.go", 7, edge(declarations, foo, types.NameLocation("Foo")))
	require.NoError(t, tx.Commit(ctx))

	fi, err := s.ReadFileInfo(ctx, "a.go")
	require.NoError(t, err)
	require.NotNil(t, fi)
	assert.Equal(t, int64(7), fi.ModStamp)
	assert.Equal(t, []types.Location{foo}, fi.SourceLocations)

	info, err := s.ReadLocationInfo(ctx, declarations, types.NameLocation("Foo"))
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, []types.Location{foo}, info.Sources)

	res, err := s.Resources(ctx)
	require.NoError(t, err)
	assert.Equal(t, []types.ResourceStamp{{Resource: "a.go", ModStamp: 7}}, res)
}

func testSnapshotIsolation(t *testing.T, s storage.Store) {
	ctx := context.Background()
	foo := Loc("a.go", "Foo", 10)
	tx := begin(t, s)
	writeFile(t, tx, "a.go", 1, edge(declarations, foo, types.NameLocation("Foo")))

	inTx, err := tx.ReadFileInfo(ctx, "a.go")
	require.NoError(t, err)
	assert.NotNil(t, inTx, "a transaction sees its own writes")

	fi, err := s.ReadFileInfo(ctx, "a.go")
	require.NoError(t, err)
	assert.Nil(t, fi, "readers must not see uncommitted writes")

	names, err := s.Names(ctx, declarations)
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, tx.Commit(ctx))
	names, err = s.Names(ctx, declarations)
	require.NoError(t, err)
	assert.Equal(t, []string{"Foo"}, names)
}

func testRollback(t *testing.T, s storage.Store) {
	ctx := context.Background()
	tx := begin(t, s)
	writeFile(t, tx, "a.go", 1, edge(declarations, Loc("a.go", "Foo", 1), types.NameLocation("Foo")))
	require.NoError(t, tx.Rollback(ctx))

	fi, err := s.ReadFileInfo(ctx, "a.go")
	require.NoError(t, err)
	assert.Nil(t, fi)

	// the writer token was released
	tx = begin(t, s)
	require.NoError(t, tx.Rollback(ctx))
}

func testEdgeBookkeeping(t *testing.T, s storage.Store) {
	ctx := context.Background()
	target := Loc("b.go", "Target", 5)
	typ := Loc("a.go", "T", 0)
	method := Loc("a.go", "T.m", 20)
	call := Loc("a.go", "Target", 30)

	tx := begin(t, s)
	writeFile(t, tx, "b.go", 1, edge(declarations, target, types.NameLocation("Target")))
	writeFile(t, tx, "a.go", 2,
		edge(contains, typ, method),
		edge(references, call, target),
	)
	require.NoError(t, tx.Commit(ctx))

	a, err := s.ReadFileInfo(ctx, "a.go")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.ElementsMatch(t, []types.Location{typ, method, call}, a.SourceLocations)
	assert.Equal(t, []types.DependentEntity{types.DependentLocation(contains, method)}, a.InternalDependencies)
	assert.ElementsMatch(t, []types.DependentEntity{
		types.DependentLocation(references, target),
		types.DependentFileInfo("b.go"),
	}, a.ExternalDependencies)

	b, err := s.ReadFileInfo(ctx, "b.go")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, []types.CrossReference{{Source: "a.go", Location: call, Target: target}}, b.ReferencedBy)

	info, err := s.ReadLocationInfo(ctx, references, target)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, []types.Location{call}, info.Sources)
	assert.Empty(t, info.Destinations)

	info, err = s.ReadLocationInfo(ctx, references, call)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, []types.Location{target}, info.Destinations)

	none, err := s.ReadLocationInfo(ctx, declarations, call)
	require.NoError(t, err)
	assert.Nil(t, none, "layers never share edges")
}

func testForeignSource(t *testing.T, s storage.Store) {
	ctx := context.Background()
	tx := begin(t, s)
	defer tx.Rollback(ctx)
	ft, err := tx.CreateFileTransaction(ctx, "a.go")
	require.NoError(t, err)
	err = ft.Updater().AddRelationship(ctx, references, Loc("b.go", "x", 1), types.NameLocation("x"))
	assert.ErrorIs(t, err, storage.ErrForeignSource)
}

func testRemoveFileInfo(t *testing.T, s storage.Store) {
	ctx := context.Background()
	foo := Loc("a.go", "Foo", 1)
	tx := begin(t, s)
	writeFile(t, tx, "a.go", 3, edge(declarations, foo, types.NameLocation("Foo")))
	require.NoError(t, tx.Commit(ctx))

	tx = begin(t, s)
	removed, err := tx.RemoveFileInfo(ctx, "a.go")
	require.NoError(t, err)
	require.NotNil(t, removed)
	assert.Equal(t, []types.Location{foo}, removed.SourceLocations)

	again, err := tx.RemoveFileInfo(ctx, "a.go")
	require.NoError(t, err)
	assert.Nil(t, again)
	require.NoError(t, tx.Commit(ctx))

	fi, err := s.ReadFileInfo(ctx, "a.go")
	require.NoError(t, err)
	assert.Nil(t, fi)
}

func testRemoveLocationInfo(t *testing.T, s storage.Store) {
	ctx := context.Background()
	decl := Loc("b.go", "Target", 5)
	member := Loc("b.go", "Target.m", 15)
	call := Loc("a.go", "Target", 30)

	tx := begin(t, s)
	writeFile(t, tx, "b.go", 1,
		edge(declarations, decl, types.NameLocation("Target")),
		edge(contains, decl, member),
	)
	writeFile(t, tx, "a.go", 1, edge(references, call, decl))
	require.NoError(t, tx.RemoveLocationInfo(ctx, decl))
	require.NoError(t, tx.Commit(ctx))

	for _, layer := range []types.LayerID{declarations, contains, references} {
		info, err := s.ReadLocationInfo(ctx, layer, decl)
		require.NoError(t, err)
		assert.Nil(t, info, "layer %s", layer)
	}
	info, err := s.ReadLocationInfo(ctx, references, call)
	require.NoError(t, err)
	assert.Nil(t, info)

	names, err := s.Names(ctx, declarations)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func testRemoveStaleDependencies(t *testing.T, s storage.Store) {
	ctx := context.Background()
	target := Loc("b.go", "Target", 5)
	staleCall := Loc("a.go", "Target", 30)
	otherCall := Loc("c.go", "Target", 30)

	tx := begin(t, s)
	writeFile(t, tx, "b.go", 1, edge(declarations, target, types.NameLocation("Target")))
	writeFile(t, tx, "a.go", 1, edge(references, staleCall, target))
	writeFile(t, tx, "c.go", 1, edge(references, otherCall, target))
	require.NoError(t, tx.RemoveStaleDependencies(ctx, "b.go", "a.go", []types.Location{staleCall}))
	require.NoError(t, tx.RemoveStaleDependencies(ctx, "missing.go", "a.go", []types.Location{staleCall}))
	require.NoError(t, tx.Commit(ctx))

	b, err := s.ReadFileInfo(ctx, "b.go")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, []types.CrossReference{{Source: "c.go", Location: otherCall, Target: target}}, b.ReferencedBy)
}

func testRemoveStaleLocationsFromDestination(t *testing.T, s storage.Store) {
	ctx := context.Background()
	dst := types.NameLocation("Foo")
	stale := Loc("a.go", "Foo", 1)
	kept := Loc("b.go", "Foo", 1)

	tx := begin(t, s)
	writeFile(t, tx, "a.go", 1, edge(declarations, stale, dst))
	writeFile(t, tx, "b.go", 1, edge(declarations, kept, dst))
	require.NoError(t, tx.RemoveStaleLocationsFromDestination(ctx, declarations, dst, []types.Location{stale}))
	require.NoError(t, tx.RemoveStaleLocationsFromDestination(ctx, references, dst, []types.Location{kept}))
	require.NoError(t, tx.Commit(ctx))

	info, err := s.ReadLocationInfo(ctx, declarations, dst)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, []types.Location{kept}, info.Sources)
}

func testSavepointRollback(t *testing.T, s storage.Store) {
	ctx := context.Background()
	foo := Loc("a.go", "Foo", 1)
	tx := begin(t, s)
	writeFile(t, tx, "a.go", 1, edge(declarations, foo, types.NameLocation("Foo")))

	sp, err := tx.Savepoint(ctx)
	require.NoError(t, err)
	_, err = tx.RemoveFileInfo(ctx, "a.go")
	require.NoError(t, err)
	require.NoError(t, tx.RemoveLocationInfo(ctx, foo))
	writeFile(t, tx, "b.go", 1, edge(declarations, Loc("b.go", "Bar", 1), types.NameLocation("Bar")))
	require.NoError(t, sp.Rollback(ctx))
	require.NoError(t, tx.Commit(ctx))

	fi, err := s.ReadFileInfo(ctx, "a.go")
	require.NoError(t, err)
	assert.NotNil(t, fi, "writes after the savepoint are undone")

	b, err := s.ReadFileInfo(ctx, "b.go")
	require.NoError(t, err)
	assert.Nil(t, b)

	names, err := s.Names(ctx, declarations)
	require.NoError(t, err)
	assert.Equal(t, []string{"Foo"}, names)
}

func testSavepointRelease(t *testing.T, s storage.Store) {
	ctx := context.Background()
	tx := begin(t, s)
	sp, err := tx.Savepoint(ctx)
	require.NoError(t, err)
	writeFile(t, tx, "a.go", 1, edge(declarations, Loc("a.go", "Foo", 1), types.NameLocation("Foo")))
	require.NoError(t, sp.Release(ctx))
	require.NoError(t, tx.Commit(ctx))

	fi, err := s.ReadFileInfo(ctx, "a.go")
	require.NoError(t, err)
	assert.NotNil(t, fi)
}

func testReferrersCarried(t *testing.T, s storage.Store) {
	ctx := context.Background()
	kept := Loc("b.go", "Kept", 5)
	gone := Loc("b.go", "Gone", 50)
	callKept := Loc("a.go", "Kept", 1)
	callGone := Loc("a.go", "Gone", 9)

	tx := begin(t, s)
	writeFile(t, tx, "b.go", 1,
		edge(declarations, kept, types.NameLocation("Kept")),
		edge(declarations, gone, types.NameLocation("Gone")),
	)
	writeFile(t, tx, "a.go", 1, edge(references, callKept, kept), edge(references, callGone, gone))
	require.NoError(t, tx.Commit(ctx))

	tx = begin(t, s)
	writeFile(t, tx, "b.go", 2, edge(declarations, kept, types.NameLocation("Kept")))
	require.NoError(t, tx.Commit(ctx))

	b, err := s.ReadFileInfo(ctx, "b.go")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, []types.CrossReference{{Source: "a.go", Location: callKept, Target: kept}}, b.ReferencedBy)
}

func testNames(t *testing.T, s storage.Store) {
	ctx := context.Background()
	tx := begin(t, s)
	writeFile(t, tx, "a.go", 1,
		edge(declarations, Loc("a.go", "Zed", 1), types.NameLocation("Zed")),
		edge(declarations, Loc("a.go", "Alpha", 10), types.NameLocation("Alpha")),
		edge(declarations, Loc("a.go", "Alpha", 40), types.NameLocation("Alpha")),
		edge(references, Loc("a.go", "call", 20), types.NameLocation("Other")),
	)
	require.NoError(t, tx.Commit(ctx))

	names, err := s.Names(ctx, declarations)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alpha", "Zed"}, names)

	names, err = s.Names(ctx, references)
	require.NoError(t, err)
	assert.Equal(t, []string{"Other"}, names)
}

func testDestroy(t *testing.T, s storage.Store) {
	ctx := context.Background()
	tx := begin(t, s)
	writeFile(t, tx, "a.go", 1, edge(declarations, Loc("a.go", "Foo", 1), types.NameLocation("Foo")))
	require.NoError(t, tx.Commit(ctx))

	require.NoError(t, s.Destroy(ctx))
	res, err := s.Resources(ctx)
	require.NoError(t, err)
	assert.Empty(t, res)
	names, err := s.Names(ctx, declarations)
	require.NoError(t, err)
	assert.Empty(t, names)
	assert.Zero(t, locationCount(t, s))
}

func testSingleWriter(t *testing.T, s storage.Store) {
	ctx := context.Background()
	tx := begin(t, s)

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err := s.Begin(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "a second writer must wait")

	require.NoError(t, tx.Commit(ctx))
	tx2 := begin(t, s)
	require.NoError(t, tx2.Rollback(ctx))
}

func testFinishedTransaction(t *testing.T, s storage.Store) {
	ctx := context.Background()
	tx := begin(t, s)
	require.NoError(t, tx.Commit(ctx))

	_, err := tx.CreateFileTransaction(ctx, "a.go")
	assert.ErrorIs(t, err, storage.ErrTransactionDone)
	assert.ErrorIs(t, tx.Commit(ctx), storage.ErrTransactionDone)
	assert.NoError(t, tx.Rollback(ctx), "rollback after commit is a no-op")
}

func testLocationsDroppedWithLastFile(t *testing.T, s storage.Store) {
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		tx := begin(t, s)
		removeFile(t, tx, "a.go")
		writeFile(t, tx, "a.go", int64(i),
			edge(declarations, Loc("a.go", "Foo", i), types.NameLocation("Foo")),
			edge(references, Loc("a.go", "Bar", i+10), types.NameLocation("Bar")),
		)
		require.NoError(t, tx.Commit(ctx))
	}
	assert.Equal(t, 4, locationCount(t, s), "two declarations plus two names stay live")

	tx := begin(t, s)
	removeFile(t, tx, "a.go")
	require.NoError(t, tx.Commit(ctx))
	assert.Zero(t, locationCount(t, s))
}

func testDroppedLocationCanReturn(t *testing.T, s storage.Store) {
	ctx := context.Background()
	decl := Loc("b.go", "Target", 5)
	call := Loc("a.go", "Target", 30)

	tx := begin(t, s)
	writeFile(t, tx, "b.go", 1, edge(declarations, decl, types.NameLocation("Target")))
	writeFile(t, tx, "a.go", 1, edge(references, call, decl))
	require.NoError(t, tx.Commit(ctx))
	info, err := s.ReadLocationInfo(ctx, references, decl)
	require.NoError(t, err)
	require.NotNil(t, info)

	tx = begin(t, s)
	removeFile(t, tx, "a.go")
	removeFile(t, tx, "b.go")
	require.NoError(t, tx.Commit(ctx))
	assert.Zero(t, locationCount(t, s))
	info, err = s.ReadLocationInfo(ctx, references, decl)
	require.NoError(t, err)
	assert.Nil(t, info)

	tx = begin(t, s)
	writeFile(t, tx, "c.go", 1, edge(declarations, Loc("c.go", "Other", 1), types.NameLocation("Other")))
	writeFile(t, tx, "b.go", 2, edge(declarations, decl, types.NameLocation("Target")))
	writeFile(t, tx, "a.go", 2, edge(references, call, decl))
	require.NoError(t, tx.Commit(ctx))

	info, err = s.ReadLocationInfo(ctx, references, decl)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, []types.Location{call}, info.Sources)
	info, err = s.ReadLocationInfo(ctx, declarations, types.NameLocation("Other"))
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, []types.Location{Loc("c.go", "Other", 1)}, info.Sources)
}
