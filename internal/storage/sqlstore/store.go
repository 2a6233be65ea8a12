// Package sqlstore is the persistent storage backend, an SQLite database in the
// index folder. Queries run on their own pooled connections and, with WAL, see the
// last committed state while the single write transaction is open.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite"

	"github.com/standardbeagle/xref/internal/debug"
	xerrors "github.com/standardbeagle/xref/internal/errors"
	"github.com/standardbeagle/xref/internal/storage"
	"github.com/standardbeagle/xref/internal/types"
)

// DatabaseName is the file created inside the index folder.
const DatabaseName = "index.db"

// DefaultCacheSize bounds the location-id cache.
const DefaultCacheSize = 16384

// Store is an SQLite backed storage.Store.
type Store struct {
	db   *sql.DB
	path string

	// ids caches committed location ids. Commits evict the rows they delete and
	// Destroy purges it.
	ids *lru.Cache[types.Location, int64]

	writer chan struct{}

	mu     sync.RWMutex
	closed bool
}

var _ storage.Store = (*Store)(nil)

// Open opens or creates the database in folder.
func Open(folder string) (*Store, error) {
	if err := os.MkdirAll(folder, 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	path := filepath.Join(folder, DatabaseName)

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection for the writer, the rest serve snapshot reads
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(0)

	cache, err := lru.New[types.Location, int64](DefaultCacheSize)
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, path: path, ids: cache, writer: make(chan struct{}, 1)}
	if err := s.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	debug.LogStorage("sqlstore: opened %s\n", path)
	return s, nil
}

// dsn applies the pragmas to every pooled connection, not just the first one.
func dsn(path string) string {
	pragmas := []string{
		"busy_timeout(5000)",
		"journal_mode(WAL)",
		"synchronous(NORMAL)",
		"foreign_keys(ON)",
		"temp_store(MEMORY)",
		"cache_size(-32000)",
	}
	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	return "file:" + path + "?" + q.Encode()
}

func (s *Store) initSchema(ctx context.Context) error {
	var current string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = 'schema_version'`).Scan(&current)
	if err == nil && current != SchemaVersion {
		debug.LogStorage("sqlstore: schema %s != %s, dropping\n", current, SchemaVersion)
		if _, err := s.db.ExecContext(ctx, dropSchema); err != nil {
			return err
		}
	}
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO metadata(key, value) VALUES('schema_version', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, SchemaVersion)
	return err
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) check() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return storage.ErrClosed
	}
	return nil
}

func (s *Store) ReadFileInfo(ctx context.Context, r types.Resource) (*types.FileInfo, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	fi, err := readFileInfo(ctx, s.db, r)
	return fi, xerrors.NewStorageError("read file info", err)
}

func (s *Store) ReadLocationInfo(ctx context.Context, layer types.LayerID, loc types.Location) (*types.LocationInfo, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	id, ok, err := s.committedID(ctx, loc)
	if err != nil || !ok {
		return nil, xerrors.NewStorageError("read location info", err)
	}
	info, err := readLocationInfo(ctx, s.db, layer, id)
	return info, xerrors.NewStorageError("read location info", err)
}

func (s *Store) Names(ctx context.Context, layer types.LayerID) ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT l.name FROM connections c JOIN locations l ON l.id = c.dst_id
		 WHERE c.layer = ? AND l.resource = '' ORDER BY l.name`, string(layer))
	if err != nil {
		return nil, xerrors.NewStorageError("names", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, xerrors.NewStorageError("names", err)
		}
		names = append(names, n)
	}
	return names, xerrors.NewStorageError("names", rows.Err())
}

func (s *Store) Resources(ctx context.Context) ([]types.ResourceStamp, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT resource, mod_stamp FROM files ORDER BY resource`)
	if err != nil {
		return nil, xerrors.NewStorageError("resources", err)
	}
	defer rows.Close()
	var out []types.ResourceStamp
	for rows.Next() {
		var rs types.ResourceStamp
		var r string
		if err := rows.Scan(&r, &rs.ModStamp); err != nil {
			return nil, xerrors.NewStorageError("resources", err)
		}
		rs.Resource = types.Resource(r)
		out = append(out, rs)
	}
	return out, xerrors.NewStorageError("resources", rows.Err())
}

func (s *Store) LocationCount(ctx context.Context) (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM locations`).Scan(&n)
	return n, xerrors.NewStorageError("location count", err)
}

// committedID resolves loc through the cache, then the read pool. The read lock
// keeps Destroy from purging the cache between the select and the add.
func (s *Store) committedID(ctx context.Context, loc types.Location) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.ids.Get(loc); ok {
		return id, true, nil
	}
	id, ok, err := selectLocationID(ctx, s.db, loc)
	if err == nil && ok {
		s.ids.Add(loc, id)
	}
	return id, ok, err
}

func (s *Store) acquire(ctx context.Context) error {
	select {
	case s.writer <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := s.check(); err != nil {
		<-s.writer
		return err
	}
	return nil
}

func (s *Store) release() {
	<-s.writer
}

// Begin opens the single write transaction. The transaction outlives ctx; only
// the wait for the writer token honours it.
func (s *Store) Begin(ctx context.Context) (storage.Transaction, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	sqlTx, err := s.db.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		s.release()
		return nil, xerrors.NewStorageError("begin", err)
	}
	debug.LogStorage("sqlstore: begin\n")
	return &transaction{
		store:   s,
		tx:      sqlTx,
		pending: make(map[types.Location]int64),
		orphans: make(map[int64]struct{}),
	}, nil
}

// Destroy deletes every fact.
func (s *Store) Destroy(ctx context.Context) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, clearContent); err != nil {
		return xerrors.NewStorageError("destroy", err)
	}
	s.ids.Purge()
	debug.LogStorage("sqlstore: destroyed %s\n", s.path)
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.db.Close()
}

// isNoRows reports whether err is sql.ErrNoRows.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
