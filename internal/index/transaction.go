package index

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	xdebug "github.com/standardbeagle/xref/internal/debug"
	xerrors "github.com/standardbeagle/xref/internal/errors"
	"github.com/standardbeagle/xref/internal/storage"
	"github.com/standardbeagle/xref/internal/types"
)

// ErrTransactionClosed is recorded for targets handed to a closed or aborted transaction.
var ErrTransactionClosed = errors.New("index transaction closed")

type transactionState int

const (
	stateOpen transactionState = iota
	stateClosed
	stateAborted
)

// Transaction applies a batch of index and remove operations to one storage
// transaction. Failures of single targets are recorded and never abort the batch.
// A Transaction is used by one goroutine.
type Transaction struct {
	id       string
	tx       storage.Transaction
	instance *Instance
	state    transactionState
	started  time.Time

	errs    []error
	targets []types.Resource
	indexed int
	removed int
}

// NewTransaction wraps tx. The transaction owns tx from now on: Close commits it
// and Abort rolls it back.
func NewTransaction(tx storage.Transaction, instance *Instance) *Transaction {
	t := &Transaction{
		id:       uuid.NewString(),
		tx:       tx,
		instance: instance,
		started:  time.Now(),
	}
	xdebug.LogIndexing("transaction %s: begin\n", t.id)
	return t
}

// ID returns the transaction id used in logs.
func (t *Transaction) ID() string {
	return t.id
}

// IndexTarget (re)indexes target and returns the other resources that must be
// indexed again because facts they pointed at vanished, or because a processor
// asked for it. Resources no processor is registered for are ignored.
func (t *Transaction) IndexTarget(ctx context.Context, target Target) []types.Resource {
	r := target.Resource()
	if t.state != stateOpen {
		t.addErrorTarget(r, xerrors.NewIndexingError("index", ErrTransactionClosed))
		return nil
	}
	procs, err := t.instance.FindProcessors(r)
	if err != nil {
		t.addErrorTarget(r, xerrors.NewIndexingError("index", err).WithType(xerrors.ErrorTypeConfig))
		return nil
	}
	if len(procs) == 0 {
		return nil
	}

	var affected []types.Resource
	err = t.isolated(ctx, r, func() error {
		var err error
		affected, err = t.indexTarget(ctx, target, procs)
		return err
	})
	if err != nil {
		t.addErrorTarget(r, indexingError("index", err))
		return nil
	}
	t.indexed++
	return affected
}

func (t *Transaction) indexTarget(ctx context.Context, target Target, procs []*Realized) ([]types.Resource, error) {
	r := target.Resource()
	ft, err := t.tx.CreateFileTransaction(ctx, r)
	if err != nil {
		return nil, err
	}
	prior := ft.Original()
	if err := t.invalidate(ctx, prior); err != nil {
		return nil, err
	}

	ft.SetModStamp(target.ModStamp())
	affected := newResourceSet(r)
	for _, p := range procs {
		u := newUpdater(p, r, ft.Updater())
		if err := p.Processor.Process(ctx, target, u); err != nil {
			return nil, fmt.Errorf("processor %s: %w", p.Info.ID, err)
		}
		affected.add(u.reindex...)
	}

	if prior != nil {
		current := types.NewLocationSet(ft.SourceLocations()...)
		var vanished []types.Location
		for _, loc := range prior.SourceLocations {
			if !current.Has(loc) {
				vanished = append(vanished, loc)
			}
		}
		owners, err := t.dropLocations(ctx, vanished)
		if err != nil {
			return nil, err
		}
		affected.add(owners...)
	}

	if err := ft.Commit(ctx); err != nil {
		return nil, err
	}
	xdebug.LogIndexing("transaction %s: indexed %s\n", t.id, r)
	return affected.sorted(), nil
}

// RemoveTarget drops every fact of r and returns the resources that referenced
// one of its locations.
func (t *Transaction) RemoveTarget(ctx context.Context, r types.Resource) []types.Resource {
	if t.state != stateOpen {
		t.addErrorTarget(r, xerrors.NewIndexingError("remove", ErrTransactionClosed).WithType(xerrors.ErrorTypeRemove))
		return nil
	}
	var affected []types.Resource
	err := t.isolated(ctx, r, func() error {
		prior, err := t.tx.RemoveFileInfo(ctx, r)
		if err != nil || prior == nil {
			return err
		}
		if err := t.invalidate(ctx, prior); err != nil {
			return err
		}
		owners, err := t.dropLocations(ctx, prior.SourceLocations)
		if err != nil {
			return err
		}
		set := newResourceSet(r)
		set.add(owners...)
		affected = set.sorted()
		t.removed++
		xdebug.LogIndexing("transaction %s: removed %s (%d affected)\n", t.id, r, len(affected))
		return nil
	})
	if err != nil {
		ie := indexingError("remove", err)
		if ie.Type == xerrors.ErrorTypeIndexing {
			ie.Type = xerrors.ErrorTypeRemove
		}
		t.addErrorTarget(r, ie)
		return nil
	}
	return affected
}

// invalidate purges the facts other resources derived from prior's locations.
func (t *Transaction) invalidate(ctx context.Context, prior *types.FileInfo) error {
	if prior == nil || len(prior.SourceLocations) == 0 {
		return nil
	}
	stale := prior.SourceLocations
	for _, dep := range prior.Dependencies() {
		switch dep.Kind {
		case types.DependentFile:
			if err := t.tx.RemoveStaleDependencies(ctx, dep.Resource, prior.Resource, stale); err != nil {
				return err
			}
		case types.DependentLocationKind:
			if err := t.tx.RemoveStaleLocationsFromDestination(ctx, dep.Layer, dep.Location, stale); err != nil {
				return err
			}
		}
	}
	return nil
}

// dropLocations collects the owners of every edge into locs, in every layer,
// then removes all edges of locs.
func (t *Transaction) dropLocations(ctx context.Context, locs []types.Location) ([]types.Resource, error) {
	if len(locs) == 0 {
		return nil, nil
	}
	var owners []types.Resource
	layers := t.instance.Layers()
	for _, loc := range locs {
		for _, l := range layers {
			info, err := t.tx.ReadLocationInfo(ctx, l.ID(), loc)
			if err != nil {
				return nil, err
			}
			for _, src := range info.LocationsAffectedByRemovalOfSelf() {
				owners = append(owners, src.Resource)
			}
		}
	}
	for _, loc := range locs {
		if err := t.tx.RemoveLocationInfo(ctx, loc); err != nil {
			return nil, err
		}
	}
	return owners, nil
}

// isolated runs fn inside a savepoint. When fn fails or panics the target's
// writes are rolled back and the error returned.
func (t *Transaction) isolated(ctx context.Context, r types.Resource, fn func() error) (err error) {
	sp, err := t.tx.Savepoint(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			log.Printf("index: panic while processing %s: %v\n%s", r, p, debug.Stack())
			err = xerrors.NewIndexingError("process", fmt.Errorf("panic: %v", p)).WithType(xerrors.ErrorTypePanic)
		}
		if err != nil {
			if rbErr := sp.Rollback(ctx); rbErr != nil {
				err = errors.Join(err, rbErr)
			}
			return
		}
		err = sp.Release(ctx)
	}()
	return fn()
}

func indexingError(op string, err error) *xerrors.IndexingError {
	var ie *xerrors.IndexingError
	if errors.As(err, &ie) {
		return ie
	}
	return xerrors.NewIndexingError(op, xerrors.UnwrapStorage(err))
}

func (t *Transaction) addErrorTarget(r types.Resource, err *xerrors.IndexingError) {
	err = err.WithResource(r)
	xdebug.LogIndexing("transaction %s: %v\n", t.id, err)
	t.errs = append(t.errs, err)
	t.targets = append(t.targets, r)
}

// Errors returns the recorded per-target failures, parallel to TargetsWithErrors.
func (t *Transaction) Errors() []error {
	return append([]error(nil), t.errs...)
}

// TargetsWithErrors returns the resources whose indexing or removal failed.
func (t *Transaction) TargetsWithErrors() []types.Resource {
	return append([]types.Resource(nil), t.targets...)
}

// Close notifies the realized processors and commits. Processor failures are
// logged and do not prevent the commit.
func (t *Transaction) Close(ctx context.Context) error {
	if t.state != stateOpen {
		return ErrTransactionClosed
	}
	t.state = stateClosed
	for _, p := range t.instance.Realized() {
		if err := endTransaction(p); err != nil {
			log.Printf("index: processor %s failed at transaction end: %v", p.Info.ID, err)
		}
	}
	if err := t.tx.Commit(ctx); err != nil {
		return err
	}
	xdebug.LogIndexing("transaction %s: committed %d indexed, %d removed, %d errors in %v\n",
		t.id, t.indexed, t.removed, len(t.errs), time.Since(t.started))
	return nil
}

func endTransaction(p *Realized) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.Processor.TransactionEnded()
}

// Abort discards every write of the transaction.
func (t *Transaction) Abort(ctx context.Context) error {
	if t.state != stateOpen {
		return nil
	}
	t.state = stateAborted
	xdebug.LogIndexing("transaction %s: aborted\n", t.id)
	return t.tx.Rollback(ctx)
}

// resourceSet collects distinct resources other than self.
type resourceSet struct {
	self types.Resource
	m    map[types.Resource]struct{}
}

func newResourceSet(self types.Resource) *resourceSet {
	return &resourceSet{self: self, m: make(map[types.Resource]struct{})}
}

func (s *resourceSet) add(rs ...types.Resource) {
	for _, r := range rs {
		if r != "" && r != s.self {
			s.m[r] = struct{}{}
		}
	}
}

func (s *resourceSet) sorted() []types.Resource {
	if len(s.m) == 0 {
		return nil
	}
	out := make([]types.Resource, 0, len(s.m))
	for r := range s.m {
		out = append(out, r)
	}
	return types.SortResources(out)
}
