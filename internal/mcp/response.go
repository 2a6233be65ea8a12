package mcp

import (
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// toolError is the payload of a failed tool call.
type toolError struct {
	Tool  string `json:"tool"`
	Error string `json:"error"`
	Help  string `json:"help,omitempty"`
}

// textResult returns data as a single JSON text block.
func textResult(data interface{}) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %T: %w", data, err)
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(b)}}}, nil
}

// errorResult reports err to the agent as a tool result with IsError set.
// Protocol errors are kept for malformed requests.
func errorResult(tool string, err error) (*mcp.CallToolResult, error) {
	return errorResultWithHelp(tool, err, "")
}

func errorResultWithHelp(tool string, err error, help string) (*mcp.CallToolResult, error) {
	res, encErr := textResult(toolError{Tool: tool, Error: err.Error(), Help: help})
	if encErr != nil {
		return nil, encErr
	}
	res.IsError = true
	return res, nil
}
