package debug

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate enables traces into a buffer and restores the package state after t.
func isolate(t *testing.T) *bytes.Buffer {
	t.Helper()
	t.Setenv("XREF_DEBUG", "")
	enabled := EnableDebug
	traces.mu.Lock()
	out, file, mcpMode := traces.out, traces.file, traces.mcpMode
	traces.mu.Unlock()
	t.Cleanup(func() {
		EnableDebug = enabled
		traces.mu.Lock()
		traces.out, traces.file, traces.mcpMode = out, file, mcpMode
		traces.mu.Unlock()
	})

	var buf bytes.Buffer
	SetDebugOutput(&buf)
	SetMCPMode(false)
	EnableDebug = "true"
	return &buf
}

func TestIsDebugEnabled(t *testing.T) {
	isolate(t)

	EnableDebug = "false"
	assert.False(t, IsDebugEnabled())

	EnableDebug = "true"
	assert.True(t, IsDebugEnabled())

	EnableDebug = "yes"
	assert.False(t, IsDebugEnabled())

	t.Setenv("XREF_DEBUG", "1")
	assert.True(t, IsDebugEnabled())
}

func TestLogComponents(t *testing.T) {
	buf := isolate(t)

	LogIndexing("indexed %s\n", "a.go")
	LogStorage("commit %d\n", 3)
	LogQuery("pattern %q\n", "Foo*")
	LogWatch("event %s\n", "write")

	out := buf.String()
	assert.Contains(t, out, "[DEBUG:INDEX] indexed a.go")
	assert.Contains(t, out, "[DEBUG:STORAGE] commit 3")
	assert.Contains(t, out, `[DEBUG:QUERY] pattern "Foo*"`)
	assert.Contains(t, out, "[DEBUG:WATCH] event write")
}

func TestDisabledWritesNothing(t *testing.T) {
	buf := isolate(t)
	EnableDebug = "false"

	Printf("hidden\n")
	assert.Empty(t, buf.String())
}

func TestMCPModeSuppressesOutput(t *testing.T) {
	buf := isolate(t)
	SetMCPMode(true)

	Printf("should not appear\n")
	assert.Empty(t, buf.String())
}

func TestNilOutputIsSilent(t *testing.T) {
	isolate(t)
	SetDebugOutput(nil)
	assert.NotPanics(t, func() { Printf("nothing\n") })
}

func TestDebugLogFileSurvivesMCPMode(t *testing.T) {
	isolate(t)

	path, err := InitDebugLogFile()
	require.NoError(t, err)
	defer os.Remove(path)

	SetMCPMode(true)
	LogMCP("tool call %s\n", "find_declarations")
	require.NoError(t, CloseDebugLog())
	require.NoError(t, CloseDebugLog())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[DEBUG:MCP] tool call find_declarations")
}
