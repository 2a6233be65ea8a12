// Package mcp exposes the index to agents as Model Context Protocol tools
// over stdio.
package mcp

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/standardbeagle/xref/internal/config"
	"github.com/standardbeagle/xref/internal/debug"
	"github.com/standardbeagle/xref/internal/indexing"
	"github.com/standardbeagle/xref/internal/version"
)

const serverName = "xref"

// Server serves the queries of one indexer as MCP tools.
type Server struct {
	indexer          *indexing.Indexer
	cfg              *config.Config
	server           *mcp.Server
	diagnosticLogger *DiagnosticLogger

	mu       sync.RWMutex
	handlers map[string]mcp.ToolHandler
}

// NewServer registers the tools for ix. A nil logger writes diagnostics to a
// file in the temp directory. The indexer stays owned by the caller.
func NewServer(ix *indexing.Indexer, cfg *config.Config, logger *DiagnosticLogger) (*Server, error) {
	if ix == nil {
		return nil, fmt.Errorf("mcp server needs an indexer")
	}
	if logger == nil {
		logger = NewDiagnosticLogger()
	}
	s := &Server{
		indexer:          ix,
		cfg:              cfg,
		diagnosticLogger: logger,
		handlers:         make(map[string]mcp.ToolHandler),
		server: mcp.NewServer(&mcp.Implementation{
			Name:    serverName,
			Version: version.Version,
		}, nil),
	}
	s.registerTools()
	logger.Printf("MCP server initialized for %s", cfg.Project.Root)
	return s, nil
}

func (s *Server) addTool(tool *mcp.Tool, handler mcp.ToolHandler) {
	s.mu.Lock()
	s.handlers[tool.Name] = handler
	s.mu.Unlock()
	s.server.AddTool(tool, s.logged(tool.Name, handler))
}

// logged records every call and turns handler panics into error results.
func (s *Server) logged(name string, handler mcp.ToolHandler) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (result *mcp.CallToolResult, err error) {
		defer func() {
			if r := recover(); r != nil {
				s.diagnosticLogger.Errorf("tool %s panicked: %v", name, r)
				result, err = errorResult(name, fmt.Errorf("internal error: %v", r))
			}
		}()
		debug.LogMCP("tool call %s\n", name)
		result, err = handler(ctx, req)
		if err != nil {
			s.diagnosticLogger.Errorf("tool %s: %v", name, err)
		} else if result != nil && result.IsError {
			s.diagnosticLogger.Printf("tool %s returned an error result", name)
		}
		return result, err
	}
}

func (s *Server) registerTools() {
	s.addTool(&mcp.Tool{
		Name: "find_declarations",
		Description: "Find declared names (functions, types, methods, fields, classes) matching a pattern. " +
			"Plain text is exact; '*' and '?' are wildcards; 'a|b' is OR, 'a&b' is AND; prefixes " +
			"re:, camel:, prefix:, fuzzy:, words: select other matchers. Best matches come first.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"pattern": {
					Type:        "string",
					Description: "Name pattern, e.g. 'Server', 'camel:NPE', 'handle*', 're:^Parse'",
				},
				"case_sensitive": {
					Type:        "boolean",
					Description: "Match case exactly (default from the project configuration)",
				},
				"max_results": {
					Type:        "integer",
					Description: "Maximum number of names returned",
				},
			},
			Required: []string{"pattern"},
		},
	}, s.handleFindDeclarations)

	s.addTool(&mcp.Tool{
		Name:        "find_references",
		Description: "List the declarations of a name and every use resolved to them, plus uses that did not resolve.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"name": {
					Type:        "string",
					Description: "Simple name ('Start') or qualified name ('Server.Start')",
				},
			},
			Required: []string{"name"},
		},
	}, s.handleFindReferences)

	s.addTool(&mcp.Tool{
		Name:        "index_status",
		Description: "Report the indexer state, number of indexed files, queued work and files that failed to index.",
		InputSchema: &jsonschema.Schema{
			Type:       "object",
			Properties: map[string]*jsonschema.Schema{},
		},
	}, s.handleIndexStatus)

	s.addTool(&mcp.Tool{
		Name:        "reindex",
		Description: "Queue files for indexing. Without paths, every file is compared with the index; with rebuild, the index is dropped and rebuilt.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"paths": {
					Type:        "array",
					Description: "Files to reindex, relative to the project root or absolute",
					Items:       &jsonschema.Schema{Type: "string"},
				},
				"rebuild": {
					Type:        "boolean",
					Description: "Drop the index and index every file again",
				},
				"wait": {
					Type:        "boolean",
					Description: "Return only after the queued work is done",
				},
			},
		},
	}, s.handleReindex)
}

// Start serves MCP over stdio until ctx is cancelled or the client leaves.
func (s *Server) Start(ctx context.Context) error {
	s.diagnosticLogger.Printf("Starting MCP server with stdio transport")
	debug.SetMCPMode(true)
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Connect serves one session over t and returns without waiting for it.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.server.Connect(ctx, t, nil)
}

// Close flushes the diagnostic log.
func (s *Server) Close() error {
	s.diagnosticLogger.Printf("MCP server shutdown complete")
	return s.diagnosticLogger.Close()
}
