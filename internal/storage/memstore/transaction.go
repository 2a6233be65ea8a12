package memstore

import (
	"context"

	"github.com/standardbeagle/xref/internal/debug"
	"github.com/standardbeagle/xref/internal/storage"
	"github.com/standardbeagle/xref/internal/types"
)

// transaction mutates a private clone. Every mutation pushes its inverse onto undo
// so savepoints can roll back to a mark.
type transaction struct {
	store *Store
	work  *state
	undo  []func()
	done  bool
}

func (tx *transaction) check() error {
	if tx.done {
		return storage.ErrTransactionDone
	}
	return nil
}

func (tx *transaction) putFile(r types.Resource, fi *types.FileInfo) {
	prev, had := tx.work.files[r]
	tx.work.files[r] = fi
	tx.undo = append(tx.undo, func() {
		if had {
			tx.work.files[r] = prev
		} else {
			delete(tx.work.files, r)
		}
	})
}

func (tx *transaction) deleteFile(r types.Resource) *types.FileInfo {
	prev, had := tx.work.files[r]
	if !had {
		return nil
	}
	delete(tx.work.files, r)
	tx.undo = append(tx.undo, func() { tx.work.files[r] = prev })
	return prev
}

func (tx *transaction) addEdge(layer types.LayerID, src, dst types.Location) {
	if tx.work.hasEdge(layer, src, dst) {
		return
	}
	tx.work.addEdge(layer, src, dst)
	tx.undo = append(tx.undo, func() { tx.work.removeEdge(layer, src, dst) })
}

func (tx *transaction) removeEdge(layer types.LayerID, src, dst types.Location) {
	if !tx.work.hasEdge(layer, src, dst) {
		return
	}
	tx.work.removeEdge(layer, src, dst)
	tx.undo = append(tx.undo, func() { tx.work.addEdge(layer, src, dst) })
}

func (tx *transaction) CreateFileTransaction(ctx context.Context, r types.Resource) (storage.FileTransaction, error) {
	if err := tx.check(); err != nil {
		return nil, err
	}
	return &fileTransaction{
		tx:       tx,
		resource: r,
		original: tx.work.files[r].Clone(),
		builder:  storage.NewFileInfoBuilder(r),
	}, nil
}

func (tx *transaction) ReadFileInfo(ctx context.Context, r types.Resource) (*types.FileInfo, error) {
	if err := tx.check(); err != nil {
		return nil, err
	}
	return tx.work.files[r].Clone(), nil
}

func (tx *transaction) RemoveFileInfo(ctx context.Context, r types.Resource) (*types.FileInfo, error) {
	if err := tx.check(); err != nil {
		return nil, err
	}
	return tx.deleteFile(r).Clone(), nil
}

func (tx *transaction) ReadLocationInfo(ctx context.Context, layer types.LayerID, loc types.Location) (*types.LocationInfo, error) {
	if err := tx.check(); err != nil {
		return nil, err
	}
	return tx.work.locationInfo(layer, loc), nil
}

func (tx *transaction) RemoveLocationInfo(ctx context.Context, loc types.Location) error {
	if err := tx.check(); err != nil {
		return err
	}
	for _, id := range tx.work.layerIDs() {
		l := tx.work.layers[id]
		for _, dst := range l.out[loc].Sorted() {
			tx.removeEdge(id, loc, dst)
		}
		for _, src := range l.in[loc].Sorted() {
			tx.removeEdge(id, src, loc)
		}
	}
	return nil
}

func (tx *transaction) RemoveStaleDependencies(ctx context.Context, dependent, stale types.Resource, staleLocations []types.Location) error {
	if err := tx.check(); err != nil {
		return err
	}
	fi, ok := tx.work.files[dependent]
	if !ok {
		return nil
	}
	if updated, changed := storage.WithoutStaleReferences(fi, stale, staleLocations); changed {
		tx.putFile(dependent, updated)
	}
	return nil
}

func (tx *transaction) RemoveStaleLocationsFromDestination(ctx context.Context, layer types.LayerID, destination types.Location, staleLocations []types.Location) error {
	if err := tx.check(); err != nil {
		return err
	}
	for _, src := range staleLocations {
		tx.removeEdge(layer, src, destination)
	}
	return nil
}

func (tx *transaction) Savepoint(ctx context.Context) (storage.Savepoint, error) {
	if err := tx.check(); err != nil {
		return nil, err
	}
	return &savepoint{tx: tx, mark: len(tx.undo)}, nil
}

func (tx *transaction) Commit(ctx context.Context) error {
	if err := tx.check(); err != nil {
		return err
	}
	tx.done = true
	tx.undo = nil
	tx.store.publish(tx.work)
	tx.store.release()
	debug.LogStorage("memstore: commit (%d files)\n", len(tx.work.files))
	return nil
}

func (tx *transaction) Rollback(ctx context.Context) error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.undo = nil
	tx.work = nil
	tx.store.release()
	return nil
}

type savepoint struct {
	tx   *transaction
	mark int
	done bool
}

func (sp *savepoint) Release(ctx context.Context) error {
	sp.done = true
	return sp.tx.check()
}

func (sp *savepoint) Rollback(ctx context.Context) error {
	if sp.done {
		return nil
	}
	sp.done = true
	if err := sp.tx.check(); err != nil {
		return err
	}
	for i := len(sp.tx.undo) - 1; i >= sp.mark; i-- {
		sp.tx.undo[i]()
	}
	sp.tx.undo = sp.tx.undo[:sp.mark]
	return nil
}

type fileTransaction struct {
	tx        *transaction
	resource  types.Resource
	original  *types.FileInfo
	builder   *storage.FileInfoBuilder
	stamp     int64
	committed bool
}

func (ft *fileTransaction) Resource() types.Resource          { return ft.resource }
func (ft *fileTransaction) Original() *types.FileInfo         { return ft.original }
func (ft *fileTransaction) Updater() storage.FileInfoUpdater  { return ft }
func (ft *fileTransaction) SetModStamp(stamp int64)           { ft.stamp = stamp }
func (ft *fileTransaction) SourceLocations() []types.Location { return ft.builder.Sources() }

func (ft *fileTransaction) AddRelationship(ctx context.Context, layer types.LayerID, src, dst types.Location) error {
	if err := ft.tx.check(); err != nil {
		return err
	}
	target, indexed := ft.tx.work.files[dst.Resource]
	cross, err := ft.builder.Record(layer, src, dst, indexed && !dst.IsName())
	if err != nil {
		return err
	}
	existed := ft.tx.work.hasEdge(layer, src, dst)
	ft.tx.addEdge(layer, src, dst)
	if cross && !existed {
		updated := target.Clone()
		updated.ReferencedBy = append(updated.ReferencedBy, types.CrossReference{Source: ft.resource, Location: src, Target: dst})
		ft.tx.putFile(dst.Resource, updated)
	}
	return nil
}

func (ft *fileTransaction) ReadLocationInfo(ctx context.Context, layer types.LayerID, loc types.Location) (*types.LocationInfo, error) {
	return ft.tx.ReadLocationInfo(ctx, layer, loc)
}

func (ft *fileTransaction) Commit(ctx context.Context) error {
	if err := ft.tx.check(); err != nil {
		return err
	}
	if ft.committed {
		return storage.ErrTransactionDone
	}
	ft.committed = true
	ft.tx.putFile(ft.resource, ft.builder.Build(ft.stamp, ft.tx.work.files[ft.resource]))
	return nil
}
