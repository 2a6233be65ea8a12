package storage

import (
	"fmt"

	"github.com/standardbeagle/xref/internal/types"
)

// FileInfoBuilder accumulates the FileInfo of one resource as relationships are
// recorded. Backends share it so they agree on the edge bookkeeping:
//
//   - src joins SourceLocations
//   - dst in the same resource joins SourceLocations and InternalDependencies
//   - any other dst joins ExternalDependencies as a dependent location
//   - a dst in another indexed resource also adds that resource as a dependent file
type FileInfoBuilder struct {
	resource   types.Resource
	sources    []types.Location
	sourceSet  types.LocationSet
	internal   []types.DependentEntity
	external   []types.DependentEntity
	dependents map[types.DependentEntity]struct{}
}

// NewFileInfoBuilder returns an empty builder for r.
func NewFileInfoBuilder(r types.Resource) *FileInfoBuilder {
	return &FileInfoBuilder{
		resource:   r,
		sourceSet:  make(types.LocationSet),
		dependents: make(map[types.DependentEntity]struct{}),
	}
}

// Record books src -> dst. dstIndexed reports whether dst's resource currently has a
// FileInfo. The returned bool is true when the caller must add a CrossReference to
// the FileInfo of dst's resource.
func (b *FileInfoBuilder) Record(layer types.LayerID, src, dst types.Location, dstIndexed bool) (bool, error) {
	if src.Resource != b.resource {
		return false, fmt.Errorf("%w: %s writing from %s", ErrForeignSource, b.resource, src)
	}
	b.addSource(src)

	dep := types.DependentLocation(layer, dst)
	if dst.Resource == b.resource {
		b.addSource(dst)
		b.addDependent(dep, true)
		return false, nil
	}
	b.addDependent(dep, false)
	if dst.IsName() || !dstIndexed {
		return false, nil
	}
	b.addDependent(types.DependentFileInfo(dst.Resource), false)
	return true, nil
}

func (b *FileInfoBuilder) addSource(l types.Location) {
	if b.sourceSet.Has(l) {
		return
	}
	b.sourceSet.Add(l)
	b.sources = append(b.sources, l)
}

func (b *FileInfoBuilder) addDependent(d types.DependentEntity, internal bool) {
	if _, ok := b.dependents[d]; ok {
		return
	}
	b.dependents[d] = struct{}{}
	if internal {
		b.internal = append(b.internal, d)
	} else {
		b.external = append(b.external, d)
	}
}

// Sources returns the locations recorded so far, in recording order.
func (b *FileInfoBuilder) Sources() []types.Location {
	return append([]types.Location(nil), b.sources...)
}

// HasSource reports whether l was recorded as a source location.
func (b *FileInfoBuilder) HasSource(l types.Location) bool {
	return b.sourceSet.Has(l)
}

// Build returns the new FileInfo. Cross references held by current (the FileInfo
// the resource has right now) survive when their target is still a source location.
func (b *FileInfoBuilder) Build(stamp int64, current *types.FileInfo) *types.FileInfo {
	fi := &types.FileInfo{
		Resource:             b.resource,
		ModStamp:             stamp,
		SourceLocations:      b.Sources(),
		InternalDependencies: append([]types.DependentEntity(nil), b.internal...),
		ExternalDependencies: append([]types.DependentEntity(nil), b.external...),
	}
	if current != nil {
		for _, ref := range current.ReferencedBy {
			if b.sourceSet.Has(ref.Target) {
				fi.ReferencedBy = append(fi.ReferencedBy, ref)
			}
		}
	}
	return fi
}

// WithoutStaleReferences returns a copy of fi minus the cross references written by
// stale from one of staleLocations, and whether anything was dropped.
func WithoutStaleReferences(fi *types.FileInfo, stale types.Resource, staleLocations []types.Location) (*types.FileInfo, bool) {
	if fi == nil || len(fi.ReferencedBy) == 0 {
		return fi, false
	}
	staleSet := types.NewLocationSet(staleLocations...)
	kept := make([]types.CrossReference, 0, len(fi.ReferencedBy))
	for _, ref := range fi.ReferencedBy {
		if ref.Source == stale && staleSet.Has(ref.Location) {
			continue
		}
		kept = append(kept, ref)
	}
	if len(kept) == len(fi.ReferencedBy) {
		return fi, false
	}
	out := fi.Clone()
	out.ReferencedBy = kept
	return out, true
}
