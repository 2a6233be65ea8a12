// Package memstore is an in-memory storage backend. Transactions work on a private
// clone of the committed state and publish it atomically on commit, so readers see
// a consistent snapshot without waiting for the writer.
package memstore

import (
	"context"
	"sync"

	"github.com/standardbeagle/xref/internal/debug"
	"github.com/standardbeagle/xref/internal/storage"
	"github.com/standardbeagle/xref/internal/types"
)

// Store holds the committed state and the single-writer token.
type Store struct {
	mu        sync.RWMutex // guards committed and closed
	committed *state
	closed    bool

	writer chan struct{} // capacity 1; held by the open transaction
}

var _ storage.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{committed: newState(), writer: make(chan struct{}, 1)}
}

func (s *Store) snapshot() (*state, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}
	return s.committed, nil
}

func (s *Store) ReadFileInfo(ctx context.Context, r types.Resource) (*types.FileInfo, error) {
	st, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	return st.files[r].Clone(), nil
}

func (s *Store) ReadLocationInfo(ctx context.Context, layer types.LayerID, loc types.Location) (*types.LocationInfo, error) {
	st, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	return st.locationInfo(layer, loc), nil
}

func (s *Store) Names(ctx context.Context, layer types.LayerID) ([]string, error) {
	st, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	return st.names(layer), nil
}

func (s *Store) Resources(ctx context.Context) ([]types.ResourceStamp, error) {
	st, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	return st.resources(), nil
}

func (s *Store) LocationCount(ctx context.Context) (int, error) {
	st, err := s.snapshot()
	if err != nil {
		return 0, err
	}
	return st.locationCount(), nil
}

// acquire takes the writer token and returns the committed state it may build on.
func (s *Store) acquire(ctx context.Context) (*state, error) {
	select {
	case s.writer <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	st, err := s.snapshot()
	if err != nil {
		<-s.writer
		return nil, err
	}
	return st, nil
}

func (s *Store) release() {
	<-s.writer
}

// Begin opens the single write transaction.
func (s *Store) Begin(ctx context.Context) (storage.Transaction, error) {
	st, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	debug.LogStorage("memstore: begin (%d files)\n", len(st.files))
	return &transaction{store: s, work: st.clone()}, nil
}

func (s *Store) publish(st *state) {
	s.mu.Lock()
	s.committed = st
	s.mu.Unlock()
}

// Destroy empties the store.
func (s *Store) Destroy(ctx context.Context) error {
	if _, err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()
	s.publish(newState())
	debug.LogStorage("memstore: destroyed\n")
	return nil
}

// Close makes every later call fail with storage.ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
