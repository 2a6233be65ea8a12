package indexing

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/standardbeagle/xref/internal/debug"
	"github.com/standardbeagle/xref/internal/types"
)

// FileEventType is the kind of change recorded for a path.
type FileEventType int

const (
	FileEventChange FileEventType = iota
	FileEventRemove
)

// FileWatcher watches the project tree and reports debounced batches of
// changed and removed resources.
type FileWatcher struct {
	watcher   *fsnotify.Watcher
	scanner   *Scanner
	debouncer *eventDebouncer
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu      sync.Mutex
	watched map[string]bool

	// onResync is called when a change cannot be mapped to single files,
	// such as a watched directory disappearing.
	onResync func()

	statsMu         sync.Mutex
	eventsProcessed int64
	errorCount      int64
	lastEventTime   time.Time
}

// WatchStats contains statistics about file watching.
type WatchStats struct {
	EventsProcessed int64
	ErrorCount      int64
	LastEventTime   time.Time
	WatchedDirs     int
}

// NewFileWatcher creates a watcher over scanner's project. onBatch receives
// the removed and the changed resources of each debounced batch.
func NewFileWatcher(scanner *Scanner, debounce time.Duration, onBatch func(removed, changed []types.Resource)) (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	fw := &FileWatcher{
		watcher: w,
		scanner: scanner,
		watched: make(map[string]bool),
	}
	fw.debouncer = newEventDebouncer(debounce, func(events map[types.Resource]FileEventType) {
		removed, changed := splitEvents(events)
		fw.countEvents(int64(len(events)), 0)
		onBatch(removed, changed)
	})
	return fw, nil
}

// SetResyncCallback sets the function called when the watcher lost track of
// individual files.
func (fw *FileWatcher) SetResyncCallback(fn func()) {
	fw.onResync = fn
}

// Start adds watches below the project root and begins processing events
// until ctx is cancelled or Stop is called.
func (fw *FileWatcher) Start(ctx context.Context) error {
	root := fw.scanner.Root()
	debug.LogWatch("starting file watcher for %s\n", root)
	if err := fw.addWatches(root); err != nil {
		fw.watcher.Close()
		return fmt.Errorf("failed to add watches starting from %s: %w", root, err)
	}

	ctx, fw.cancel = context.WithCancel(ctx)
	fw.wg.Add(1)
	go fw.processEvents(ctx)
	debug.LogWatch("file watcher started with %d directories\n", fw.Stats().WatchedDirs)
	return nil
}

// Stop stops watching. Events still being debounced are dropped; the next
// resync picks them up.
func (fw *FileWatcher) Stop() error {
	if fw.cancel != nil {
		fw.cancel()
	}
	err := fw.watcher.Close()
	fw.wg.Wait()
	fw.debouncer.stop()
	debug.LogWatch("file watcher stopped\n")
	return err
}

// addWatches watches dir and every directory below it that is not excluded.
// Symlinked directories are visited once by their real path.
func (fw *FileWatcher) addWatches(dir string) error {
	visited := make(map[string]bool)
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != fw.scanner.Root() {
			r, ok := fw.scanner.Resource(path)
			if !ok || !fw.scanner.ShouldProcess(string(r), true) {
				return filepath.SkipDir
			}
		}
		real, err := filepath.EvalSymlinks(path)
		if err != nil {
			return filepath.SkipDir
		}
		if visited[real] {
			return filepath.SkipDir
		}
		visited[real] = true

		if err := fw.watcher.Add(path); err != nil {
			log.Printf("Warning: failed to add watch for %s: %v", path, err)
			return nil
		}
		fw.mu.Lock()
		fw.watched[path] = true
		fw.mu.Unlock()
		return nil
	})
}

func (fw *FileWatcher) processEvents(ctx context.Context) {
	defer fw.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleEvent(event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.countEvents(0, 1)
			log.Printf("File watcher error: %v", err)
			if err == fsnotify.ErrEventOverflow && fw.onResync != nil {
				fw.onResync()
			}
		}
	}
}

func (fw *FileWatcher) handleEvent(event fsnotify.Event) {
	path := event.Name
	debug.LogWatch("event %v for %s\n", event.Op, path)
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}
	r, ok := fw.scanner.Resource(path)
	if !ok {
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		// gone: either a file or a whole watched directory
		fw.mu.Lock()
		wasDir := fw.watched[path]
		delete(fw.watched, path)
		fw.mu.Unlock()
		if wasDir {
			if fw.onResync != nil {
				fw.onResync()
			}
			return
		}
		if fw.scanner.ShouldProcess(string(r), false) {
			fw.debouncer.add(r, FileEventRemove)
		}
		return
	}

	if info.IsDir() {
		if event.Has(fsnotify.Create) && fw.scanner.ShouldProcess(string(r), true) {
			fw.addCreatedDir(path)
		}
		return
	}
	if fw.scanner.ShouldProcess(string(r), false) {
		fw.debouncer.add(r, FileEventChange)
	}
}

// addCreatedDir watches a directory that appeared and reports the files that
// were moved in with it.
func (fw *FileWatcher) addCreatedDir(path string) {
	if err := fw.addWatches(path); err != nil {
		log.Printf("Warning: failed to watch new directory %s: %v", path, err)
		return
	}
	filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if r, ok := fw.scanner.Resource(p); ok && fw.scanner.ShouldProcess(string(r), false) {
			fw.debouncer.add(r, FileEventChange)
		}
		return nil
	})
}

func (fw *FileWatcher) countEvents(events, errors int64) {
	fw.statsMu.Lock()
	defer fw.statsMu.Unlock()
	fw.eventsProcessed += events
	fw.errorCount += errors
	fw.lastEventTime = time.Now()
}

// Stats returns the current watch statistics.
func (fw *FileWatcher) Stats() WatchStats {
	fw.mu.Lock()
	dirs := len(fw.watched)
	fw.mu.Unlock()
	fw.statsMu.Lock()
	defer fw.statsMu.Unlock()
	return WatchStats{
		EventsProcessed: fw.eventsProcessed,
		ErrorCount:      fw.errorCount,
		LastEventTime:   fw.lastEventTime,
		WatchedDirs:     dirs,
	}
}

// splitEvents orders a batch: removals first, then changes, both sorted.
func splitEvents(events map[types.Resource]FileEventType) (removed, changed []types.Resource) {
	for r, t := range events {
		if t == FileEventRemove {
			removed = append(removed, r)
		} else {
			changed = append(changed, r)
		}
	}
	return types.SortResources(removed), types.SortResources(changed)
}

// eventDebouncer collects events until none arrived for the debounce period.
// The latest event for a resource wins.
type eventDebouncer struct {
	mu       sync.Mutex
	events   map[types.Resource]FileEventType
	debounce time.Duration
	timer    *time.Timer
	stopped  bool
	flushFn  func(map[types.Resource]FileEventType)
}

func newEventDebouncer(debounce time.Duration, flush func(map[types.Resource]FileEventType)) *eventDebouncer {
	return &eventDebouncer{
		events:   make(map[types.Resource]FileEventType),
		debounce: debounce,
		flushFn:  flush,
	}
}

func (d *eventDebouncer) add(r types.Resource, t FileEventType) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.events[r] = t
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.debounce, d.flush)
}

func (d *eventDebouncer) flush() {
	d.mu.Lock()
	events := d.events
	d.events = make(map[types.Resource]FileEventType)
	stopped := d.stopped
	d.mu.Unlock()
	if stopped || len(events) == 0 {
		return
	}
	debug.LogWatch("flushing %d debounced events\n", len(events))
	d.flushFn(events)
}

func (d *eventDebouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}
