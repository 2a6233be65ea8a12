// Package storage defines the storage collaborator the index engine writes through.
//
// A Store hands out one Transaction at a time (single writer). Reads made through the
// Store itself observe the last committed state and never block on an open transaction.
package storage

import (
	"context"
	"errors"

	"github.com/standardbeagle/xref/internal/types"
)

var (
	// ErrTransactionDone is returned by operations on a committed or rolled back transaction.
	ErrTransactionDone = errors.New("storage transaction already finished")
	// ErrForeignSource is returned when a relationship source is outside the file being written.
	ErrForeignSource = errors.New("relationship source does not belong to the file being indexed")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("storage closed")
)

// Reader exposes committed index content.
type Reader interface {
	// ReadFileInfo returns nil when the resource has no FileInfo.
	ReadFileInfo(ctx context.Context, r types.Resource) (*types.FileInfo, error)
	// ReadLocationInfo returns nil when the location has no edges in layer.
	ReadLocationInfo(ctx context.Context, layer types.LayerID, loc types.Location) (*types.LocationInfo, error)
	// Names lists, sorted, the names of name locations that are edge destinations in layer.
	Names(ctx context.Context, layer types.LayerID) ([]string, error)
	// Resources lists every resource with a FileInfo, sorted.
	Resources(ctx context.Context) ([]types.ResourceStamp, error)
	// LocationCount returns the number of distinct locations still referenced by
	// an edge or a FileInfo.
	LocationCount(ctx context.Context) (int, error)
}

// Store is a storage backend.
type Store interface {
	Reader
	// Begin waits until no other transaction is open, or ctx ends.
	Begin(ctx context.Context) (Transaction, error)
	// Destroy drops every fact. It waits for the open transaction like Begin.
	Destroy(ctx context.Context) error
	Close() error
}

// Transaction is the write side of a Store. Its own reads see its uncommitted writes.
type Transaction interface {
	CreateFileTransaction(ctx context.Context, r types.Resource) (FileTransaction, error)
	ReadFileInfo(ctx context.Context, r types.Resource) (*types.FileInfo, error)
	// RemoveFileInfo deletes and returns the FileInfo of r, or nil if there was none.
	RemoveFileInfo(ctx context.Context, r types.Resource) (*types.FileInfo, error)
	ReadLocationInfo(ctx context.Context, layer types.LayerID, loc types.Location) (*types.LocationInfo, error)
	// RemoveLocationInfo drops every edge into or out of loc, in every layer.
	RemoveLocationInfo(ctx context.Context, loc types.Location) error
	// RemoveStaleDependencies drops from dependent's FileInfo the cross references
	// written by stale from any of staleLocations.
	RemoveStaleDependencies(ctx context.Context, dependent, stale types.Resource, staleLocations []types.Location) error
	// RemoveStaleLocationsFromDestination drops the layer edges from any of
	// staleLocations to destination.
	RemoveStaleLocationsFromDestination(ctx context.Context, layer types.LayerID, destination types.Location, staleLocations []types.Location) error
	// Savepoint marks the current state so later writes can be undone as a unit.
	Savepoint(ctx context.Context) (Savepoint, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Savepoint undoes or keeps the writes made since it was taken.
type Savepoint interface {
	Release(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// FileTransaction collects the facts for one resource. Commit replaces the resource's
// FileInfo in the parent transaction.
type FileTransaction interface {
	Resource() types.Resource
	// Original is the FileInfo the resource had when the file transaction was created.
	Original() *types.FileInfo
	Updater() FileInfoUpdater
	SetModStamp(stamp int64)
	// SourceLocations returns the locations written so far.
	SourceLocations() []types.Location
	Commit(ctx context.Context) error
}

// FileInfoUpdater is the sink processors record facts through.
type FileInfoUpdater interface {
	// AddRelationship records src -> dst in layer. src must belong to the file.
	AddRelationship(ctx context.Context, layer types.LayerID, src, dst types.Location) error
	ReadLocationInfo(ctx context.Context, layer types.LayerID, loc types.Location) (*types.LocationInfo, error)
}
