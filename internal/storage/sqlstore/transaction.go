package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/standardbeagle/xref/internal/debug"
	xerrors "github.com/standardbeagle/xref/internal/errors"
	"github.com/standardbeagle/xref/internal/storage"
	"github.com/standardbeagle/xref/internal/types"
)

type transaction struct {
	store *Store
	tx    *sql.Tx
	done  bool

	// pending holds ids of locations this transaction may have inserted. They reach
	// the store cache only on commit.
	pending    map[types.Location]int64
	savepoints int

	// orphans holds ids that lost a reference. Commit deletes those still unreferenced.
	orphans map[int64]struct{}
}

func (t *transaction) mayOrphan(ids ...int64) {
	for _, id := range ids {
		t.orphans[id] = struct{}{}
	}
}

// dropFileRows deletes the rows of r and remembers the locations they pointed at.
func (t *transaction) dropFileRows(ctx context.Context, r types.Resource) error {
	ids, err := fileLocationIDs(ctx, t.tx, r)
	if err != nil {
		return err
	}
	t.mayOrphan(ids...)
	return deleteFileRows(ctx, t.tx, r)
}

// dropOrphans deletes the unreferenced candidate rows and returns their locations.
func (t *transaction) dropOrphans(ctx context.Context) ([]types.Location, error) {
	var dropped []types.Location
	for id := range t.orphans {
		locs, err := queryLocations(ctx, t.tx, deleteOrphanLocation, id)
		if err != nil {
			return nil, err
		}
		for _, loc := range locs {
			delete(t.pending, loc)
			dropped = append(dropped, loc)
		}
	}
	t.orphans = make(map[int64]struct{})
	return dropped, nil
}

func (t *transaction) check() error {
	if t.done {
		return storage.ErrTransactionDone
	}
	return nil
}

// locationID resolves loc, inserting it when create is set.
func (t *transaction) locationID(ctx context.Context, loc types.Location, create bool) (int64, bool, error) {
	if id, ok := t.pending[loc]; ok {
		return id, true, nil
	}
	if id, ok := t.store.ids.Get(loc); ok {
		return id, true, nil
	}
	id, ok, err := selectLocationID(ctx, t.tx, loc)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		if !create {
			return 0, false, nil
		}
		if id, err = insertLocation(ctx, t.tx, loc); err != nil {
			return 0, false, err
		}
	}
	t.pending[loc] = id
	return id, true, nil
}

func (t *transaction) CreateFileTransaction(ctx context.Context, r types.Resource) (storage.FileTransaction, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	original, err := readFileInfo(ctx, t.tx, r)
	if err != nil {
		return nil, xerrors.NewStorageError("create file transaction", err)
	}
	return &fileTransaction{t: t, resource: r, original: original, builder: storage.NewFileInfoBuilder(r)}, nil
}

func (t *transaction) ReadFileInfo(ctx context.Context, r types.Resource) (*types.FileInfo, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	fi, err := readFileInfo(ctx, t.tx, r)
	return fi, xerrors.NewStorageError("read file info", err)
}

func (t *transaction) RemoveFileInfo(ctx context.Context, r types.Resource) (*types.FileInfo, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	fi, err := readFileInfo(ctx, t.tx, r)
	if err != nil || fi == nil {
		return nil, xerrors.NewStorageError("remove file info", err)
	}
	if err := t.dropFileRows(ctx, r); err != nil {
		return nil, xerrors.NewStorageError("remove file info", err)
	}
	return fi, nil
}

func (t *transaction) ReadLocationInfo(ctx context.Context, layer types.LayerID, loc types.Location) (*types.LocationInfo, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	id, ok, err := t.locationID(ctx, loc, false)
	if err != nil || !ok {
		return nil, xerrors.NewStorageError("read location info", err)
	}
	info, err := readLocationInfo(ctx, t.tx, layer, id)
	return info, xerrors.NewStorageError("read location info", err)
}

func (t *transaction) RemoveLocationInfo(ctx context.Context, loc types.Location) error {
	if err := t.check(); err != nil {
		return err
	}
	id, ok, err := t.locationID(ctx, loc, false)
	if err != nil || !ok {
		return xerrors.NewStorageError("remove location info", err)
	}
	ends, err := queryIDs(ctx, t.tx,
		`SELECT src_id FROM connections WHERE dst_id = ? UNION SELECT dst_id FROM connections WHERE src_id = ?`, id, id)
	if err != nil {
		return xerrors.NewStorageError("remove location info", err)
	}
	t.mayOrphan(append(ends, id)...)
	_, err = t.tx.ExecContext(ctx, `DELETE FROM connections WHERE src_id = ? OR dst_id = ?`, id, id)
	return xerrors.NewStorageError("remove location info", err)
}

func (t *transaction) RemoveStaleDependencies(ctx context.Context, dependent, stale types.Resource, staleLocations []types.Location) error {
	if err := t.check(); err != nil {
		return err
	}
	for _, loc := range staleLocations {
		id, ok, err := t.locationID(ctx, loc, false)
		if err != nil {
			return xerrors.NewStorageError("remove stale dependencies", err)
		}
		if !ok {
			continue
		}
		targets, err := queryIDs(ctx, t.tx,
			`SELECT target_id FROM file_referrers WHERE resource = ? AND source = ? AND location_id = ?`,
			string(dependent), string(stale), id)
		if err != nil {
			return xerrors.NewStorageError("remove stale dependencies", err)
		}
		t.mayOrphan(append(targets, id)...)
		_, err = t.tx.ExecContext(ctx,
			`DELETE FROM file_referrers WHERE resource = ? AND source = ? AND location_id = ?`,
			string(dependent), string(stale), id)
		if err != nil {
			return xerrors.NewStorageError("remove stale dependencies", err)
		}
	}
	return nil
}

func (t *transaction) RemoveStaleLocationsFromDestination(ctx context.Context, layer types.LayerID, destination types.Location, staleLocations []types.Location) error {
	if err := t.check(); err != nil {
		return err
	}
	dstID, ok, err := t.locationID(ctx, destination, false)
	if err != nil || !ok {
		return xerrors.NewStorageError("remove stale locations", err)
	}
	for _, loc := range staleLocations {
		srcID, ok, err := t.locationID(ctx, loc, false)
		if err != nil {
			return xerrors.NewStorageError("remove stale locations", err)
		}
		if !ok {
			continue
		}
		t.mayOrphan(srcID, dstID)
		_, err = t.tx.ExecContext(ctx,
			`DELETE FROM connections WHERE layer = ? AND src_id = ? AND dst_id = ?`, string(layer), srcID, dstID)
		if err != nil {
			return xerrors.NewStorageError("remove stale locations", err)
		}
	}
	return nil
}

func (t *transaction) Savepoint(ctx context.Context) (storage.Savepoint, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	t.savepoints++
	name := fmt.Sprintf("sp_%d", t.savepoints)
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return nil, xerrors.NewStorageError("savepoint", err)
	}
	return &savepoint{t: t, name: name}, nil
}

func (t *transaction) Commit(ctx context.Context) error {
	if err := t.check(); err != nil {
		return err
	}
	t.done = true
	defer t.store.release()
	dropped, err := t.dropOrphans(ctx)
	if err != nil {
		t.tx.Rollback()
		return xerrors.NewStorageError("commit", err)
	}

	// readers cache ids under the read lock, so no stale id survives the swap
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if err := t.tx.Commit(); err != nil {
		return xerrors.NewStorageError("commit", err)
	}
	for _, loc := range dropped {
		t.store.ids.Remove(loc)
	}
	for loc, id := range t.pending {
		t.store.ids.Add(loc, id)
	}
	debug.LogStorage("sqlstore: commit (%d location ids cached, %d dropped)\n", len(t.pending), len(dropped))
	return nil
}

func (t *transaction) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.store.release()
	return xerrors.NewStorageError("rollback", t.tx.Rollback())
}

type savepoint struct {
	t    *transaction
	name string
	done bool
}

func (sp *savepoint) Release(ctx context.Context) error {
	if sp.done {
		return nil
	}
	sp.done = true
	if err := sp.t.check(); err != nil {
		return err
	}
	_, err := sp.t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+sp.name)
	return xerrors.NewStorageError("release savepoint", err)
}

func (sp *savepoint) Rollback(ctx context.Context) error {
	if sp.done {
		return nil
	}
	sp.done = true
	if err := sp.t.check(); err != nil {
		return err
	}
	// ids inserted after the savepoint no longer exist; forget them all and let
	// lookups fall back to the database.
	sp.t.pending = make(map[types.Location]int64)
	if _, err := sp.t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+sp.name); err != nil {
		return xerrors.NewStorageError("rollback savepoint", err)
	}
	_, err := sp.t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+sp.name)
	return xerrors.NewStorageError("rollback savepoint", err)
}

type fileTransaction struct {
	t         *transaction
	resource  types.Resource
	original  *types.FileInfo
	builder   *storage.FileInfoBuilder
	stamp     int64
	committed bool
}

func (ft *fileTransaction) Resource() types.Resource          { return ft.resource }
func (ft *fileTransaction) Original() *types.FileInfo         { return ft.original.Clone() }
func (ft *fileTransaction) Updater() storage.FileInfoUpdater  { return ft }
func (ft *fileTransaction) SetModStamp(stamp int64)           { ft.stamp = stamp }
func (ft *fileTransaction) SourceLocations() []types.Location { return ft.builder.Sources() }

func (ft *fileTransaction) AddRelationship(ctx context.Context, layer types.LayerID, src, dst types.Location) error {
	if err := ft.t.check(); err != nil {
		return err
	}
	indexed := false
	if !dst.IsName() && dst.Resource != ft.resource {
		var one int
		err := ft.t.tx.QueryRowContext(ctx, `SELECT 1 FROM files WHERE resource = ?`, string(dst.Resource)).Scan(&one)
		if err != nil && !isNoRows(err) {
			return xerrors.NewStorageError("add relationship", err)
		}
		indexed = err == nil
	}
	cross, err := ft.builder.Record(layer, src, dst, indexed)
	if err != nil {
		return err
	}

	srcID, _, err := ft.t.locationID(ctx, src, true)
	if err != nil {
		return xerrors.NewStorageError("add relationship", err)
	}
	dstID, _, err := ft.t.locationID(ctx, dst, true)
	if err != nil {
		return xerrors.NewStorageError("add relationship", err)
	}
	res, err := ft.t.tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO connections(layer, src_id, dst_id) VALUES(?, ?, ?)`, string(layer), srcID, dstID)
	if err != nil {
		return xerrors.NewStorageError("add relationship", err)
	}
	if !cross {
		return nil
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}
	_, err = ft.t.tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO file_referrers(resource, source, location_id, target_id) VALUES(?, ?, ?, ?)`,
		string(dst.Resource), string(ft.resource), srcID, dstID)
	return xerrors.NewStorageError("add relationship", err)
}

func (ft *fileTransaction) ReadLocationInfo(ctx context.Context, layer types.LayerID, loc types.Location) (*types.LocationInfo, error) {
	return ft.t.ReadLocationInfo(ctx, layer, loc)
}

func (ft *fileTransaction) Commit(ctx context.Context) error {
	if err := ft.t.check(); err != nil {
		return err
	}
	if ft.committed {
		return storage.ErrTransactionDone
	}
	ft.committed = true

	current, err := readFileInfo(ctx, ft.t.tx, ft.resource)
	if err != nil {
		return xerrors.NewStorageError("commit file", err)
	}
	fi := ft.builder.Build(ft.stamp, current)
	if err := ft.t.writeFileInfo(ctx, fi); err != nil {
		return xerrors.NewStorageError("commit file", err)
	}
	return nil
}

func (t *transaction) writeFileInfo(ctx context.Context, fi *types.FileInfo) error {
	if err := t.dropFileRows(ctx, fi.Resource); err != nil {
		return err
	}
	r := string(fi.Resource)
	if _, err := t.tx.ExecContext(ctx, `INSERT INTO files(resource, mod_stamp) VALUES(?, ?)`, r, fi.ModStamp); err != nil {
		return err
	}
	for i, loc := range fi.SourceLocations {
		id, _, err := t.locationID(ctx, loc, true)
		if err != nil {
			return err
		}
		if _, err := t.tx.ExecContext(ctx,
			`INSERT INTO file_source_locations(resource, seq, location_id) VALUES(?, ?, ?)`, r, i, id); err != nil {
			return err
		}
	}
	seq := 0
	insertDeps := func(deps []types.DependentEntity, internal bool) error {
		for _, dep := range deps {
			var err error
			switch dep.Kind {
			case types.DependentFile:
				_, err = t.tx.ExecContext(ctx,
					`INSERT INTO file_dependencies(resource, seq, internal, kind, dependent) VALUES(?, ?, ?, ?, ?)`,
					r, seq, internal, dependentFileKind, string(dep.Resource))
			case types.DependentLocationKind:
				var id int64
				if id, _, err = t.locationID(ctx, dep.Location, true); err != nil {
					return err
				}
				_, err = t.tx.ExecContext(ctx,
					`INSERT INTO file_dependencies(resource, seq, internal, kind, layer, location_id) VALUES(?, ?, ?, ?, ?, ?)`,
					r, seq, internal, dependentLocationKind, string(dep.Layer), id)
			}
			if err != nil {
				return err
			}
			seq++
		}
		return nil
	}
	if err := insertDeps(fi.InternalDependencies, true); err != nil {
		return err
	}
	if err := insertDeps(fi.ExternalDependencies, false); err != nil {
		return err
	}
	for _, ref := range fi.ReferencedBy {
		srcID, _, err := t.locationID(ctx, ref.Location, true)
		if err != nil {
			return err
		}
		dstID, _, err := t.locationID(ctx, ref.Target, true)
		if err != nil {
			return err
		}
		if _, err := t.tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO file_referrers(resource, source, location_id, target_id) VALUES(?, ?, ?, ?)`,
			r, string(ref.Source), srcID, dstID); err != nil {
			return err
		}
	}
	return nil
}
