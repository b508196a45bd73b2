package mcp

import (
	"log/slog"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/m3ugate/m3ugate/internal/service"
)

// MCPServer wraps the mcp-go server with the m3ugate admin tools, so an agent
// can manage users, inspect devices and read the access journal.
type MCPServer struct {
	directory *service.Directory
	journal   *service.Journal
	logger    *slog.Logger
	server    *server.MCPServer
}

// NewMCPServer creates an MCPServer with every admin tool and resource
// registered. The returned server is ready to serve over stdio or HTTP.
func NewMCPServer(directory *service.Directory, journal *service.Journal, logger *slog.Logger) *MCPServer {
	s := &MCPServer{
		directory: directory,
		journal:   journal,
		logger:    logger,
	}

	mcpServer := server.NewMCPServer(
		"m3ugate admin",
		"0.1.0",
		server.WithResourceCapabilities(true, false),
		server.WithToolCapabilities(true),
	)

	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go MCPServer instance.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio serves MCP over stdin/stdout until the client disconnects.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode")
	return server.ServeStdio(s.server)
}

// ServeHTTP listens on addr (e.g. ":3002") and serves MCP over Streamable
// HTTP without any authentication. Prefer HTTPHandler behind the admin
// middleware.
func (s *MCPServer) ServeHTTP(addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.server)
	s.logger.Info("MCP HTTP server starting", "addr", addr)
	return httpServer.Start(addr)
}

// HTTPHandler returns a Streamable HTTP handler for mounting on an existing
// router.
func (s *MCPServer) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.server)
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(true),
	}
}

func mutatingAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint:    boolPtr(false),
		DestructiveHint: boolPtr(false),
	}
}

// destructiveAnnotation marks tools that discard state the admin cannot
// restore, such as an old token or a device set.
func destructiveAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint:    boolPtr(false),
		DestructiveHint: boolPtr(true),
	}
}

func boolPtr(b bool) *bool {
	return &b
}
