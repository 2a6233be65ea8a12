package indexing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/standardbeagle/xref/internal/config"
	"github.com/standardbeagle/xref/internal/debug"
	xerrors "github.com/standardbeagle/xref/internal/errors"
	"github.com/standardbeagle/xref/internal/index"
	"github.com/standardbeagle/xref/internal/storage"
	"github.com/standardbeagle/xref/internal/types"
)

// State is the coarse lifecycle state reported by Status.
type State string

const (
	StateNotStarted State = "not-started"
	StateIdle       State = "idle"
	StateIndexing   State = "indexing"
	StateStopped    State = "stopped"
)

// BatchReport summarises one IndexPending call.
type BatchReport struct {
	Indexed  int
	Removed  int
	Failed   int
	Rebuild  bool
	Resync   bool
	Drained  bool
	Duration time.Duration
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithWatch overrides index.watch from the configuration.
func WithWatch(enabled bool) Option {
	return func(i *Indexer) { i.watch = enabled }
}

// WithBatchDeadline overrides index.batch_deadline_ms. Zero drains the queue
// in one batch.
func WithBatchDeadline(d time.Duration) Option {
	return func(i *Indexer) { i.deadline = d }
}

// WithBatchCallback is called after every committed batch.
func WithBatchCallback(fn func(BatchReport)) Option {
	return func(i *Indexer) { i.onBatch = fn }
}

// Indexer keeps an index in sync with a project directory. A single worker
// drains the queue in batches, one index transaction per batch; queries read
// the committed state and may run concurrently with it.
type Indexer struct {
	cfg           *config.Config
	configuration *index.Configuration
	instance      *index.Instance
	store         storage.Store
	scanner       *Scanner
	queue         *Queue
	durable       bool

	watch    bool
	deadline time.Duration
	onBatch  func(BatchReport)

	batchMu sync.Mutex // one batch at a time

	mu             sync.Mutex
	state          State
	running        bool
	changed        chan struct{} // closed and replaced whenever a batch ends
	errs           map[types.Resource]error
	retried        map[types.Resource]bool
	pendingVersion bool
	persistErr     error
	parseTime      time.Duration
	lastBatch      BatchReport

	wake     chan struct{}
	cancel   context.CancelFunc
	group    *errgroup.Group
	watcher  *FileWatcher
	stopOnce sync.Once
	stopErr  error
}

// New wires an indexer. The store is owned by the indexer from here on and is
// closed by Stop.
func New(cfg *config.Config, configuration *index.Configuration, store storage.Store, opts ...Option) *Indexer {
	instance := configuration.Instantiate()
	i := &Indexer{
		cfg:           cfg,
		configuration: configuration,
		instance:      instance,
		store:         store,
		queue:         NewQueue(),
		durable:       cfg.Index.Storage != config.StorageMemory,
		watch:         cfg.Index.WatchMode,
		deadline:      cfg.BatchDeadline(),
		state:         StateNotStarted,
		changed:       make(chan struct{}),
		errs:          make(map[types.Resource]error),
		retried:       make(map[types.Resource]bool),
		wake:          make(chan struct{}, 1),
	}
	i.scanner = NewScanner(cfg, instance.IsIndexedResource)
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Prepare checks the durable index against the configuration and schedules a
// full rebuild when it cannot be used, or a resync otherwise. Start calls it;
// one-shot commands call it before driving IndexPending themselves.
func (i *Indexer) Prepare(ctx context.Context) error {
	if !i.durable {
		i.scheduleRebuild()
		return nil
	}
	err := index.CheckVersion(i.cfg.IndexDir(), i.configuration)
	switch {
	case err == nil:
		i.queue.SetNeedsResync()
		return nil
	case xerrors.IsRebuildRequired(err):
		log.Printf("Index at %s needs a full rebuild: %v", i.cfg.IndexDir(), err)
		i.scheduleRebuild()
		return nil
	default:
		return err
	}
}

// Start prepares the index and launches the worker, plus the file watcher
// when watching is enabled.
func (i *Indexer) Start(ctx context.Context) error {
	i.mu.Lock()
	if i.state != StateNotStarted {
		i.mu.Unlock()
		return fmt.Errorf("indexer already %s", i.state)
	}
	i.state = StateIdle
	i.mu.Unlock()

	if err := i.Prepare(ctx); err != nil {
		i.mu.Lock()
		i.state = StateNotStarted
		i.mu.Unlock()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	i.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	i.group = g

	if i.watch {
		w, err := NewFileWatcher(i.scanner, i.cfg.WatchDebounce(), i.onFileEvents)
		if err != nil {
			cancel()
			return fmt.Errorf("failed to create file watcher: %w", err)
		}
		w.SetResyncCallback(i.RequestResync)
		if err := w.Start(gctx); err != nil {
			cancel()
			return err
		}
		i.watcher = w
		g.Go(func() error {
			<-gctx.Done()
			return w.Stop()
		})
	}

	g.Go(func() error { return i.work(gctx) })
	i.signal()
	debug.LogIndexing("indexer started for %s\n", i.cfg.Project.Root)
	return nil
}

// Stop cancels the worker and the watcher, waits for them and closes the
// processors and the store. It is safe to call more than once.
func (i *Indexer) Stop() error {
	i.stopOnce.Do(func() {
		if i.cancel != nil {
			i.cancel()
		}
		var errs []error
		if i.group != nil {
			if err := i.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				errs = append(errs, err)
			}
		}
		// a batch driven directly through IndexPending may still be finishing
		i.batchMu.Lock()
		i.instance.Close()
		if err := i.store.Close(); err != nil {
			errs = append(errs, err)
		}
		i.batchMu.Unlock()

		i.mu.Lock()
		i.state = StateStopped
		i.notifyLocked()
		i.mu.Unlock()
		i.stopErr = errors.Join(errs...)
	})
	return i.stopErr
}

func (i *Indexer) scheduleRebuild() {
	i.queue.SetNeedsRebuild()
	if i.durable {
		i.mu.Lock()
		i.pendingVersion = true
		i.mu.Unlock()
	}
}

// RequestRebuild drops the index and indexes every file again.
func (i *Indexer) RequestRebuild() {
	i.scheduleRebuild()
	i.signal()
}

// RequestResync compares every file with its stored stamp on the next batch.
func (i *Indexer) RequestResync() {
	i.queue.SetNeedsResync()
	i.signal()
}

// Reindex puts resources at the head of the queue.
func (i *Indexer) Reindex(rs ...types.Resource) {
	i.queue.EnqueueFront(rs...)
	i.signal()
}

// Enqueue appends resources to the queue.
func (i *Indexer) Enqueue(rs ...types.Resource) {
	i.queue.Enqueue(rs...)
	i.signal()
}

// Resource maps a path to a resource of the project. Relative paths are
// taken relative to the project root.
func (i *Indexer) Resource(path string) (types.Resource, bool) {
	return resourceFor(i.scanner, path)
}

func resourceFor(s *Scanner, path string) (types.Resource, bool) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.Root(), path)
	}
	return s.Resource(filepath.Clean(path))
}

func (i *Indexer) signal() {
	select {
	case i.wake <- struct{}{}:
	default:
	}
}

func (i *Indexer) onFileEvents(removed, changed []types.Resource) {
	debug.LogWatch("indexer: %d removed, %d changed\n", len(removed), len(changed))
	i.queue.Enqueue(removed...)
	i.queue.Enqueue(changed...)
	i.signal()
}

// work is the worker loop: it sleeps until signalled, then runs batches until
// the queue is empty.
func (i *Indexer) work(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-i.wake:
		}
		for !i.queue.Empty() {
			if ctx.Err() != nil {
				return nil
			}
			if _, err := i.IndexPending(ctx, i.deadline); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.Printf("Indexing batch failed: %v", err)
				break
			}
		}
	}
}

// IndexPending runs one batch: the pending rebuild or resync first, then the
// queue until it is empty or deadline has passed (zero means no deadline). The
// batch is one transaction. It reports whether the queue was drained.
func (i *Indexer) IndexPending(ctx context.Context, deadline time.Duration) (bool, error) {
	i.batchMu.Lock()
	defer i.batchMu.Unlock()

	i.mu.Lock()
	if i.state == StateStopped {
		i.mu.Unlock()
		return false, storage.ErrClosed
	}
	i.running = true
	prevState := i.state
	i.state = StateIndexing
	i.mu.Unlock()

	report, err := i.runBatch(ctx, deadline)

	i.mu.Lock()
	i.running = false
	if prevState == StateNotStarted {
		i.state = StateNotStarted
	} else {
		i.state = StateIdle
	}
	if err == nil {
		i.lastBatch = report
	}
	i.notifyLocked()
	i.mu.Unlock()

	if err == nil && i.onBatch != nil {
		i.onBatch(report)
	}
	return report.Drained, err
}

func (i *Indexer) runBatch(ctx context.Context, deadline time.Duration) (BatchReport, error) {
	var report BatchReport
	start := time.Now()

	rebuild, resync := i.queue.takeWholeIndexWork()
	report.Rebuild, report.Resync = rebuild, resync
	switch {
	case rebuild:
		if err := i.rebuild(ctx); err != nil {
			i.queue.SetNeedsRebuild()
			return report, err
		}
	case resync:
		if err := i.resync(ctx); err != nil {
			i.queue.SetNeedsResync()
			return report, err
		}
	}

	tx, err := i.store.Begin(ctx)
	if err != nil {
		return report, err
	}
	itx := index.NewTransaction(tx, i.instance)

	var processed []types.Resource
	for deadline <= 0 || time.Since(start) < deadline {
		if ctx.Err() != nil {
			break
		}
		r, ok := i.queue.Dequeue()
		if !ok {
			break
		}
		processed = append(processed, r)
		var affected []types.Resource
		target := NewFileTarget(i.scanner.Root(), r, i.cfg.Index.MaxFileSize)
		if i.scanner.ShouldProcess(string(r), false) && i.scanner.Exists(r) && !target.Skipped() {
			affected = itx.IndexTarget(ctx, target)
			report.Indexed++
		} else {
			affected = itx.RemoveTarget(ctx, r)
			report.Removed++
		}
		i.queue.Enqueue(affected...)
	}

	if err := ctx.Err(); err != nil {
		if abortErr := itx.Abort(context.WithoutCancel(ctx)); abortErr != nil {
			log.Printf("Failed to abort index transaction: %v", abortErr)
		}
		i.queue.EnqueueFront(processed...)
		return report, err
	}
	if err := itx.Close(ctx); err != nil {
		i.queue.EnqueueFront(processed...)
		return report, xerrors.UnwrapStorage(err)
	}

	report.Failed = i.recordErrors(processed, itx.TargetsWithErrors(), itx.Errors())
	report.Drained = i.queue.Empty()
	report.Duration = time.Since(start)

	i.mu.Lock()
	i.parseTime += i.instance.GatherTimeSpentParsing()
	writeVersion := report.Drained && i.pendingVersion
	if writeVersion {
		i.pendingVersion = false
	}
	i.mu.Unlock()

	if writeVersion {
		err := index.WriteVersion(i.cfg.IndexDir(), i.configuration)
		i.mu.Lock()
		i.persistErr = err
		i.mu.Unlock()
		if err != nil {
			// the session goes on; the next start rebuilds
			log.Printf("Index is not persisted: %v", err)
		}
	}

	debug.LogIndexing("batch: %d indexed, %d removed, %d failed, drained=%v in %v\n",
		report.Indexed, report.Removed, report.Failed, report.Drained, report.Duration)
	return report, nil
}

// rebuild drops every fact and queues every file of the project.
func (i *Indexer) rebuild(ctx context.Context) error {
	if err := i.store.Destroy(ctx); err != nil {
		return err
	}
	files, err := i.scanner.Walk(ctx)
	if err != nil {
		return err
	}
	i.mu.Lock()
	i.errs = make(map[types.Resource]error)
	i.retried = make(map[types.Resource]bool)
	i.mu.Unlock()

	i.queue.Clear()
	i.queue.Enqueue(files...)
	log.Printf("Rebuilding index: %d files", len(files))
	return nil
}

// resync queues every file that is new, changed or gone since it was indexed.
func (i *Indexer) resync(ctx context.Context) error {
	stored, err := i.store.Resources(ctx)
	if err != nil {
		return err
	}
	files, err := i.scanner.Walk(ctx)
	if err != nil {
		return err
	}
	stamps, err := i.scanner.Stamps(ctx, files)
	if err != nil {
		return err
	}

	known := make(map[types.Resource]int64, len(stored))
	for _, rs := range stored {
		known[rs.Resource] = rs.ModStamp
	}
	var changed, removed int
	for _, r := range sortedKeys(stamps) {
		if prev, ok := known[r]; !ok || prev != stamps[r] {
			i.queue.Enqueue(r)
			changed++
		}
	}
	for _, rs := range stored {
		if _, ok := stamps[rs.Resource]; !ok {
			i.queue.Enqueue(rs.Resource)
			removed++
		}
	}
	debug.LogIndexing("resync: %d files, %d changed or new, %d gone\n", len(files), changed, removed)
	return nil
}

// recordErrors keeps the failures of the batch. A target failing for the
// first time is queued again; one failing twice stays in FilesWithErrors
// until it is indexed successfully.
func (i *Indexer) recordErrors(processed, failed []types.Resource, errs []error) int {
	failedErr := make(map[types.Resource]error, len(failed))
	for n, r := range failed {
		failedErr[r] = errs[n]
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	var retry []types.Resource
	for _, r := range processed {
		err, ok := failedErr[r]
		if !ok {
			delete(i.errs, r)
			delete(i.retried, r)
			continue
		}
		i.errs[r] = err
		if !i.retried[r] {
			i.retried[r] = true
			retry = append(retry, r)
		}
	}
	i.queue.Enqueue(retry...)
	return len(failedErr)
}

// FilesWithErrors returns the resources whose last indexing attempt failed.
func (i *Indexer) FilesWithErrors() map[types.Resource]error {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make(map[types.Resource]error, len(i.errs))
	for r, err := range i.errs {
		out[r] = err
	}
	return out
}

// WaitIdle blocks until the queue is empty and no batch is running.
func (i *Indexer) WaitIdle(ctx context.Context) error {
	for {
		i.mu.Lock()
		idle := !i.running && i.queue.Empty()
		stopped := i.state == StateStopped
		ch := i.changed
		i.mu.Unlock()
		if idle {
			return nil
		}
		if stopped {
			return storage.ErrClosed
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

func (i *Indexer) notifyLocked() {
	close(i.changed)
	i.changed = make(chan struct{})
}
