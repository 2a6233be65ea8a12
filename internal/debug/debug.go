// Package debug writes component-tagged traces when debugging is switched on
// at build time, by the XREF_DEBUG environment variable or by --debug.
package debug

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EnableDebug is set with
// go build -ldflags "-X github.com/standardbeagle/xref/internal/debug.EnableDebug=true"
var EnableDebug = "false"

// Component tags a trace line with the subsystem that wrote it.
type Component string

const (
	Indexing Component = "INDEX"
	Storage  Component = "STORAGE"
	Query    Component = "QUERY"
	Watch    Component = "WATCH"
	MCP      Component = "MCP"
)

// sink is where traces go. Only a file sink survives MCP mode because stdout
// carries the protocol there.
type sink struct {
	mu      sync.Mutex
	out     io.Writer
	file    *os.File
	mcpMode bool
}

var traces sink

// SetMCPMode drops traces that are not written to a log file.
func SetMCPMode(enabled bool) {
	traces.mu.Lock()
	traces.mcpMode = enabled
	traces.mu.Unlock()
}

// SetDebugOutput routes traces to w. nil discards them.
func SetDebugOutput(w io.Writer) {
	traces.mu.Lock()
	traces.out = w
	traces.mu.Unlock()
}

// InitDebugLogFile opens a fresh log file under the temp dir and routes traces
// to it. It returns the file's path.
func InitDebugLogFile() (string, error) {
	dir := filepath.Join(os.TempDir(), "xref-debug-logs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create debug log directory: %w", err)
	}
	name := fmt.Sprintf("xref-%s-%d.log", time.Now().Format("20060102-150405"), os.Getpid())
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to open debug log: %w", err)
	}

	traces.mu.Lock()
	defer traces.mu.Unlock()
	if traces.file != nil {
		traces.file.Close()
	}
	traces.file = f
	traces.out = f
	return path, nil
}

// CloseDebugLog closes the log file opened by InitDebugLogFile, if any.
func CloseDebugLog() error {
	traces.mu.Lock()
	defer traces.mu.Unlock()
	if traces.file == nil {
		return nil
	}
	err := traces.file.Close()
	traces.file = nil
	traces.out = nil
	return err
}

// IsDebugEnabled reports whether traces are switched on.
func IsDebugEnabled() bool {
	if EnableDebug == "true" {
		return true
	}
	switch os.Getenv("XREF_DEBUG") {
	case "1", "true":
		return true
	}
	return false
}

// writer returns the current destination, or nil when traces are dropped.
func (s *sink) writer() io.Writer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mcpMode && s.file == nil {
		return nil
	}
	return s.out
}

func logf(prefix, format string, args ...interface{}) {
	if !IsDebugEnabled() {
		return
	}
	w := traces.writer()
	if w == nil {
		return
	}
	fmt.Fprintf(w, prefix+format, args...)
}

// Printf writes an untagged trace.
func Printf(format string, args ...interface{}) {
	logf("[DEBUG] ", format, args...)
}

// Log writes a trace tagged with c.
func Log(c Component, format string, args ...interface{}) {
	logf("[DEBUG:"+string(c)+"] ", format, args...)
}

func LogIndexing(format string, args ...interface{}) { Log(Indexing, format, args...) }

func LogStorage(format string, args ...interface{}) { Log(Storage, format, args...) }

func LogQuery(format string, args ...interface{}) { Log(Query, format, args...) }

func LogWatch(format string, args ...interface{}) { Log(Watch, format, args...) }

func LogMCP(format string, args ...interface{}) { Log(MCP, format, args...) }
