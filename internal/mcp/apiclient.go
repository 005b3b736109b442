package mcp

import (
	"context"

	"github.com/ans-project/ans/pkg/ansclient"
	"github.com/ans-project/ans/pkg/protocol"
)

// RegistryAPI is the read side of the registry the MCP tools use.
// Implemented by *ansclient.Client; tests can provide a mock.
type RegistryAPI interface {
	Search(ctx context.Context, q protocol.LookupQuery) (*protocol.LookupResponse, error)
	Get(ctx context.Context, agentID string) (*protocol.AgentEntry, error)
	ResolveDID(ctx context.Context, ref string) (*protocol.DIDDocument, error)
	Status(ctx context.Context) (*protocol.StatusResponse, error)
}

var _ RegistryAPI = (*ansclient.Client)(nil)

// NewRegistryClient builds the ansclient used by the MCP server.
func NewRegistryClient(cfg RegistryConfig) (*ansclient.Client, error) {
	opts := []ansclient.Option{ansclient.WithUserAgent("ans-mcp")}
	if cfg.APIKey != "" {
		opts = append(opts, ansclient.WithAPIKey(cfg.APIKey))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, ansclient.WithTimeout(cfg.Timeout))
	}
	return ansclient.New(cfg.URL, opts...)
}
