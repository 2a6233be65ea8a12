package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/standardbeagle/xref/internal/storage"
	"github.com/standardbeagle/xref/internal/types"
)

// ErrLayerNotContributed is returned when a processor writes into a layer its
// registration does not contribute to.
var ErrLayerNotContributed = errors.New("layer not contributed by processor")

// Updater is the write handle a processor gets for one target. Writes are
// restricted to the processor's layers; reads see the open transaction.
type Updater struct {
	processor *Realized
	resource  types.Resource
	sink      storage.FileInfoUpdater
	reindex   []types.Resource
}

func newUpdater(p *Realized, r types.Resource, sink storage.FileInfoUpdater) *Updater {
	return &Updater{processor: p, resource: r, sink: sink}
}

// Resource returns the resource being indexed.
func (u *Updater) Resource() types.Resource {
	return u.resource
}

// Relate records src -> dst in layer. src must belong to the resource.
func (u *Updater) Relate(ctx context.Context, layer types.LayerID, src, dst types.Location) error {
	if !u.processor.Contributes(layer) {
		return fmt.Errorf("%w: %s writing %s", ErrLayerNotContributed, u.processor.Info.ID, layer)
	}
	return u.sink.AddRelationship(ctx, layer, src, dst)
}

// ReadLocationInfo reads any layer, including writes made earlier in the transaction.
func (u *Updater) ReadLocationInfo(ctx context.Context, layer types.LayerID, loc types.Location) (*types.LocationInfo, error) {
	return u.sink.ReadLocationInfo(ctx, layer, loc)
}

// Declarations returns the declaration locations currently known for name.
func (u *Updater) Declarations(ctx context.Context, name string) ([]types.Location, error) {
	info, err := u.sink.ReadLocationInfo(ctx, LayerDeclarations, types.NameLocation(name))
	if err != nil || info == nil {
		return nil, err
	}
	return info.Sources, nil
}

// RequestReindex asks for other resources to be indexed again, typically because
// a fact they could not resolve now exists. The transaction reports them as affected.
func (u *Updater) RequestReindex(rs ...types.Resource) {
	for _, r := range rs {
		if r != "" && r != u.resource {
			u.reindex = append(u.reindex, r)
		}
	}
}
