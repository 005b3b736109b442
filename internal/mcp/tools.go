package mcp

import (
	"context"
	"encoding/json"
	"errors"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ans-project/ans/pkg/ansclient"
	"github.com/ans-project/ans/pkg/protocol"
)

func (s *MCPServer) handleGetStatus(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	status, err := s.api.Status(ctx)
	if err != nil {
		return textError("failed to get status: " + err.Error()), nil
	}
	return textJSON(status)
}

func (s *MCPServer) handleLookupAgents(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	q := protocol.LookupQuery{
		AgentID:      req.GetString("agent_id", ""),
		Capabilities: protocol.SplitList(req.GetString("capabilities", "")),
		NamePrefix:   req.GetString("query", ""),
		TrustLevel:   req.GetString("trust_level", ""),
		Limit:        req.GetInt("limit", 0),
		PageToken:    req.GetString("page_token", ""),
	}
	if q.Limit < 0 {
		return textError("limit must not be negative"), nil
	}

	resp, err := s.api.Search(ctx, q)
	if err != nil {
		return textError("lookup failed: " + err.Error()), nil
	}
	return textJSON(resp)
}

func (s *MCPServer) handleGetAgent(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	agentID, err := req.RequireString("agent_id")
	if err != nil {
		return textError("missing required parameter: agent_id"), nil
	}
	entry, err := s.api.Get(ctx, agentID)
	if err != nil {
		if isNotFound(err) {
			return textError("agent not found: " + agentID), nil
		}
		return textError("failed to get agent: " + err.Error()), nil
	}
	return textJSON(entry)
}

func (s *MCPServer) handleResolveDID(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	ref, err := req.RequireString("did")
	if err != nil {
		return textError("missing required parameter: did"), nil
	}
	doc, err := s.api.ResolveDID(ctx, ref)
	if err != nil {
		if isNotFound(err) {
			return textError("DID not found: " + ref), nil
		}
		return textError("failed to resolve DID: " + err.Error()), nil
	}
	return textJSON(doc)
}

func isNotFound(err error) bool {
	var lerr *ansclient.LookupError
	return errors.As(err, &lerr) && lerr.NotFound()
}

// textResult returns a successful text result.
func textResult(text string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: text},
		},
	}
}

// textError returns an error text result.
func textError(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

// textJSON marshals v to indented JSON and returns it as a text result.
func textJSON(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return textError("failed to marshal response: " + err.Error()), nil
	}
	return textResult(string(data)), nil
}
