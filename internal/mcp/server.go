package mcp

import (
	"context"
	"log"
	"os"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
)

// MCPServer exposes registry lookups to AI assistants via MCP.
type MCPServer struct {
	api     RegistryAPI
	version string
	logger  zerolog.Logger
}

// New creates an MCPServer backed by api. Call Run() to start serving on stdio.
func New(api RegistryAPI, version string, logger zerolog.Logger) *MCPServer {
	return &MCPServer{
		api:     api,
		version: version,
		logger:  logger.With().Str("component", "mcp").Logger(),
	}
}

// Run registers the MCP tools and serves on stdio.
// It blocks until stdin is closed or the context is cancelled.
func (s *MCPServer) Run(ctx context.Context) error {
	srv := s.newServer()

	stdio := mcpserver.NewStdioServer(srv)
	stdio.SetErrorLogger(log.New(os.Stderr, "", log.LstdFlags))

	s.logger.Info().Msg("MCP server starting on stdio")
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

func (s *MCPServer) newServer() *mcpserver.MCPServer {
	srv := mcpserver.NewMCPServer(
		"ans",
		s.version,
		mcpserver.WithRecovery(),
	)
	s.registerTools(srv)
	return srv
}

func (s *MCPServer) registerTools(srv *mcpserver.MCPServer) {
	srv.AddTool(
		mcplib.NewTool("get_status",
			mcplib.WithDescription("Get ANS registry status including uptime, store backend and agent count"),
			mcplib.WithReadOnlyHintAnnotation(true),
		),
		s.handleGetStatus,
	)

	srv.AddTool(
		mcplib.NewTool("lookup_agents",
			mcplib.WithDescription("Find registered agents by agent ID, capabilities, name prefix or trust level. Results are sorted by agent ID and paginated"),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithString("agent_id", mcplib.Description("Exact agent ID, e.g. \"my-python-agent.ans\"")),
			mcplib.WithString("capabilities", mcplib.Description("Comma separated capabilities; every one must be present")),
			mcplib.WithString("query", mcplib.Description("Agent name prefix")),
			mcplib.WithString("trust_level", mcplib.Description("Verification status, e.g. \"provisional\" or \"verified\"")),
			mcplib.WithNumber("limit", mcplib.Description("Maximum results to return (default 10)")),
			mcplib.WithString("page_token", mcplib.Description("next_page_token from a previous call")),
		),
		s.handleLookupAgents,
	)

	srv.AddTool(
		mcplib.NewTool("get_agent",
			mcplib.WithDescription("Get the full registry entry for one agent, including its DID and verification status"),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithString("agent_id", mcplib.Required(), mcplib.Description("Agent ID, e.g. \"my-python-agent.ans\"")),
		),
		s.handleGetAgent,
	)

	srv.AddTool(
		mcplib.NewTool("resolve_did",
			mcplib.WithDescription("Resolve a did:ans identifier (or an agent ID) to its W3C DID document"),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithString("did", mcplib.Required(), mcplib.Description("did:ans:... identifier or agent ID")),
		),
		s.handleResolveDID,
	)
}
