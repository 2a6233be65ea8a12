package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/standardbeagle/xref/internal/indexing"
	"github.com/standardbeagle/xref/internal/pattern"
	"github.com/standardbeagle/xref/internal/types"
)

// FindDeclarationsParams are the arguments of find_declarations.
type FindDeclarationsParams struct {
	Pattern       string `json:"pattern"`
	CaseSensitive *bool  `json:"case_sensitive,omitempty"`
	MaxResults    int    `json:"max_results,omitempty"`
}

// DeclarationMatch is one matched name with its declaration sites.
type DeclarationMatch struct {
	Name         string              `json:"name"`
	Quality      string              `json:"quality"`
	Declarations []indexing.Position `json:"declarations"`
}

type FindDeclarationsResponse struct {
	Pattern   string             `json:"pattern"`
	Matches   []DeclarationMatch `json:"matches"`
	Truncated bool               `json:"truncated,omitempty"`
}

// FindReferencesParams are the arguments of find_references.
type FindReferencesParams struct {
	Name string `json:"name"`
}

type FindReferencesResponse struct {
	Name         string              `json:"name"`
	Declarations []indexing.Position `json:"declarations"`
	References   []indexing.Position `json:"references"`
	Unresolved   []indexing.Position `json:"unresolved,omitempty"`
}

// ReindexParams are the arguments of reindex.
type ReindexParams struct {
	Paths   []string `json:"paths,omitempty"`
	Rebuild bool     `json:"rebuild,omitempty"`
	Wait    bool     `json:"wait,omitempty"`
}

type ReindexResponse struct {
	Mode    string   `json:"mode"`
	Queued  int      `json:"queued"`
	Ignored []string `json:"ignored,omitempty"`
	Done    bool     `json:"done"`
}

// reindexWaitLimit bounds how long reindex with wait blocks.
const reindexWaitLimit = 2 * time.Minute

func decodeParams(req *mcp.CallToolRequest, v interface{}) error {
	if req == nil || req.Params == nil || len(req.Params.Arguments) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Params.Arguments, v); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	return nil
}

func (s *Server) handleFindDeclarations(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params FindDeclarationsParams
	if err := decodeParams(req, &params); err != nil {
		return errorResult("find_declarations", err)
	}
	if strings.TrimSpace(params.Pattern) == "" {
		return errorResultWithHelp("find_declarations", errors.New("pattern is required"),
			`Use: {"pattern": "Server"} or {"pattern": "camel:HR"} or {"pattern": "handle*"}`)
	}

	opts := s.cfg.SearchOptions()
	if params.CaseSensitive != nil {
		opts.CaseSensitive = *params.CaseSensitive
	}
	p, err := pattern.Compile(params.Pattern, opts)
	if err != nil {
		return errorResult("find_declarations", err)
	}

	limit := params.MaxResults
	if limit <= 0 || limit > s.cfg.Search.MaxResults {
		limit = s.cfg.Search.MaxResults
	}
	// one extra to detect truncation
	matches, err := s.indexer.FindDeclarations(ctx, p, limit+1)
	if err != nil {
		return errorResult("find_declarations", err)
	}

	resp := FindDeclarationsResponse{Pattern: p.String(), Matches: []DeclarationMatch{}}
	if len(matches) > limit {
		matches = matches[:limit]
		resp.Truncated = true
	}
	for _, m := range matches {
		resp.Matches = append(resp.Matches, DeclarationMatch{
			Name:         m.Name,
			Quality:      m.Quality.String(),
			Declarations: s.indexer.Positions(m.Declarations),
		})
	}
	return textResult(resp)
}

func (s *Server) handleFindReferences(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params FindReferencesParams
	if err := decodeParams(req, &params); err != nil {
		return errorResult("find_references", err)
	}
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return errorResultWithHelp("find_references", errors.New("name is required"),
			`Use: {"name": "Start"} or {"name": "Server.Start"}`)
	}

	decls, err := s.indexer.Declarations(ctx, name)
	if err != nil {
		return errorResult("find_references", err)
	}
	refs, err := s.indexer.FindReferences(ctx, name)
	if err != nil {
		return errorResult("find_references", err)
	}
	simple := types.Element{Name: name}.SimpleName()
	unresolved, err := s.indexer.Unresolved(ctx, simple)
	if err != nil {
		return errorResult("find_references", err)
	}

	return textResult(FindReferencesResponse{
		Name:         name,
		Declarations: s.indexer.Positions(decls),
		References:   s.indexer.Positions(refs),
		Unresolved:   s.indexer.Positions(unresolved),
	})
}

func (s *Server) handleIndexStatus(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := s.indexer.Status(ctx)
	if err != nil {
		return errorResult("index_status", err)
	}
	return textResult(st)
}

func (s *Server) handleReindex(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params ReindexParams
	if err := decodeParams(req, &params); err != nil {
		return errorResult("reindex", err)
	}

	var resp ReindexResponse
	switch {
	case params.Rebuild:
		resp.Mode = "rebuild"
		s.indexer.RequestRebuild()
	case len(params.Paths) == 0:
		resp.Mode = "resync"
		s.indexer.RequestResync()
	default:
		resp.Mode = "files"
		var rs []types.Resource
		for _, p := range params.Paths {
			r, ok := s.indexer.Resource(p)
			if !ok {
				resp.Ignored = append(resp.Ignored, p)
				continue
			}
			rs = append(rs, r)
		}
		resp.Queued = len(rs)
		s.indexer.Reindex(rs...)
	}
	s.diagnosticLogger.Printf("reindex %s: %d queued, %d ignored", resp.Mode, resp.Queued, len(resp.Ignored))

	if params.Wait {
		waitCtx, cancel := context.WithTimeout(ctx, reindexWaitLimit)
		defer cancel()
		if err := s.indexer.WaitIdle(waitCtx); err != nil {
			return errorResult("reindex", fmt.Errorf("waiting for the index: %w", err))
		}
		resp.Done = true
	}
	return textResult(resp)
}
