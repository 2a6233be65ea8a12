package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// CallTool invokes a registered tool in process, bypassing the transport,
// and returns the text of its result. A result flagged as an error is
// returned as an error carrying that text.
func (s *Server) CallTool(ctx context.Context, toolName string, params map[string]interface{}) (string, error) {
	s.mu.RLock()
	handler, ok := s.handlers[toolName]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", toolName)
	}

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to marshal params: %w", err)
	}
	result, err := handler(ctx, &mcp.CallToolRequest{
		Params: &mcp.CallToolParamsRaw{
			Name:      toolName,
			Arguments: paramsJSON,
		},
	})
	if err != nil {
		return "", err
	}

	var text string
	for _, c := range result.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			text += tc.Text
		}
	}
	if result.IsError {
		return text, fmt.Errorf("tool %s failed: %s", toolName, text)
	}
	return text, nil
}

// ToolNames returns the names of the registered tools.
func (s *Server) ToolNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.handlers))
	for name := range s.handlers {
		names = append(names, name)
	}
	return names
}
