package sqlstore

import (
	"context"
	"database/sql"

	"github.com/standardbeagle/xref/internal/types"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const locationColumns = `l.resource, l.name, l.kind, l.start_offset, l.span_length`

func selectLocationID(ctx context.Context, q querier, loc types.Location) (int64, bool, error) {
	var id int64
	err := q.QueryRowContext(ctx,
		`SELECT id FROM locations WHERE resource = ? AND name = ? AND kind = ? AND start_offset = ? AND span_length = ?`,
		string(loc.Resource), loc.Name, loc.Kind, loc.Offset, loc.Length).Scan(&id)
	if isNoRows(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func insertLocation(ctx context.Context, q querier, loc types.Location) (int64, error) {
	res, err := q.ExecContext(ctx,
		`INSERT INTO locations(resource, name, kind, start_offset, span_length) VALUES(?, ?, ?, ?, ?)`,
		string(loc.Resource), loc.Name, loc.Kind, loc.Offset, loc.Length)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLocation(s rowScanner) (types.Location, error) {
	var loc types.Location
	var r string
	if err := s.Scan(&r, &loc.Name, &loc.Kind, &loc.Offset, &loc.Length); err != nil {
		return loc, err
	}
	loc.Resource = types.Resource(r)
	return loc, nil
}

func queryLocations(ctx context.Context, q querier, query string, args ...any) ([]types.Location, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.Location
	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, loc)
	}
	return out, rows.Err()
}

func readLocationInfo(ctx context.Context, q querier, layer types.LayerID, id int64) (*types.LocationInfo, error) {
	sources, err := queryLocations(ctx, q,
		`SELECT `+locationColumns+` FROM connections c JOIN locations l ON l.id = c.src_id
		 WHERE c.layer = ? AND c.dst_id = ?`, string(layer), id)
	if err != nil {
		return nil, err
	}
	destinations, err := queryLocations(ctx, q,
		`SELECT `+locationColumns+` FROM connections c JOIN locations l ON l.id = c.dst_id
		 WHERE c.layer = ? AND c.src_id = ?`, string(layer), id)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 && len(destinations) == 0 {
		return nil, nil
	}
	return &types.LocationInfo{
		Sources:      types.SortLocations(sources),
		Destinations: types.SortLocations(destinations),
	}, nil
}

func readFileInfo(ctx context.Context, q querier, r types.Resource) (*types.FileInfo, error) {
	fi := &types.FileInfo{Resource: r}
	err := q.QueryRowContext(ctx, `SELECT mod_stamp FROM files WHERE resource = ?`, string(r)).Scan(&fi.ModStamp)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	fi.SourceLocations, err = queryLocations(ctx, q,
		`SELECT `+locationColumns+` FROM file_source_locations f JOIN locations l ON l.id = f.location_id
		 WHERE f.resource = ? ORDER BY f.seq`, string(r))
	if err != nil {
		return nil, err
	}

	if err := readDependencies(ctx, q, fi); err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx,
		`SELECT r.source, `+locationColumns+`, t.resource, t.name, t.kind, t.start_offset, t.span_length
		 FROM file_referrers r
		 JOIN locations l ON l.id = r.location_id
		 JOIN locations t ON t.id = r.target_id
		 WHERE r.resource = ? ORDER BY r.rowid`, string(r))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var source, targetResource string
		var ref types.CrossReference
		err := rows.Scan(&source,
			new(string), &ref.Location.Name, &ref.Location.Kind, &ref.Location.Offset, &ref.Location.Length,
			&targetResource, &ref.Target.Name, &ref.Target.Kind, &ref.Target.Offset, &ref.Target.Length)
		if err != nil {
			return nil, err
		}
		ref.Source = types.Resource(source)
		ref.Location.Resource = ref.Source
		ref.Target.Resource = types.Resource(targetResource)
		fi.ReferencedBy = append(fi.ReferencedBy, ref)
	}
	return fi, rows.Err()
}

func readDependencies(ctx context.Context, q querier, fi *types.FileInfo) error {
	rows, err := q.QueryContext(ctx,
		`SELECT d.internal, d.kind, d.layer, d.dependent, l.resource, l.name, l.kind, l.start_offset, l.span_length
		 FROM file_dependencies d LEFT JOIN locations l ON l.id = d.location_id
		 WHERE d.resource = ? ORDER BY d.seq`, string(fi.Resource))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var internal bool
		var kind int
		var layer, dependent string
		var res, name, lkind sql.NullString
		var offset, length sql.NullInt64
		if err := rows.Scan(&internal, &kind, &layer, &dependent, &res, &name, &lkind, &offset, &length); err != nil {
			return err
		}
		var dep types.DependentEntity
		switch kind {
		case dependentFileKind:
			dep = types.DependentFileInfo(types.Resource(dependent))
		case dependentLocationKind:
			dep = types.DependentLocation(types.LayerID(layer), types.Location{
				Element: types.Element{Resource: types.Resource(res.String), Name: name.String},
				Kind:    lkind.String,
				Offset:  int(offset.Int64),
				Length:  int(length.Int64),
			})
		default:
			continue
		}
		if internal {
			fi.InternalDependencies = append(fi.InternalDependencies, dep)
		} else {
			fi.ExternalDependencies = append(fi.ExternalDependencies, dep)
		}
	}
	return rows.Err()
}

// fileLocationIDs returns the location ids the rows of r point at.
func fileLocationIDs(ctx context.Context, q querier, r types.Resource) ([]int64, error) {
	return queryIDs(ctx, q,
		`SELECT location_id FROM file_source_locations WHERE resource = ?
		 UNION SELECT location_id FROM file_dependencies WHERE resource = ? AND location_id IS NOT NULL
		 UNION SELECT location_id FROM file_referrers WHERE resource = ?
		 UNION SELECT target_id FROM file_referrers WHERE resource = ?`,
		string(r), string(r), string(r), string(r))
}

func queryIDs(ctx context.Context, q querier, query string, args ...any) ([]int64, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func deleteFileRows(ctx context.Context, q querier, r types.Resource) error {
	for _, stmt := range []string{
		`DELETE FROM file_source_locations WHERE resource = ?`,
		`DELETE FROM file_dependencies WHERE resource = ?`,
		`DELETE FROM file_referrers WHERE resource = ?`,
		`DELETE FROM files WHERE resource = ?`,
	} {
		if _, err := q.ExecContext(ctx, stmt, string(r)); err != nil {
			return err
		}
	}
	return nil
}
