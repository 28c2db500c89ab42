// Package mcp exposes the engine over the Model Context Protocol so
// agent hosts can search and read the index through stdio.
package mcp

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/quietmd/qmd"
)

const (
	// ServerName is the MCP server name advertised to hosts.
	ServerName = "qmd"
	// ServerVersion is the advertised server version.
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with the engine it serves.
type Server struct {
	mcp    *server.MCPServer
	engine *qmd.Engine
}

// NewServer builds the stdio MCP server around an open engine. The
// caller keeps ownership of the engine and closes it after Serve
// returns.
func NewServer(engine *qmd.Engine) *Server {
	s := &Server{
		mcp:    server.NewMCPServer(ServerName, ServerVersion),
		engine: engine,
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	s.mcp.AddTool(searchTool(), s.handleSearch)
	s.mcp.AddTool(vectorSearchTool(), s.handleVectorSearch)
	s.mcp.AddTool(deepSearchTool(), s.handleDeepSearch)
	s.mcp.AddTool(getTool(), s.handleGet)
	s.mcp.AddTool(multiGetTool(), s.handleMultiGet)
	s.mcp.AddTool(statusTool(), s.handleStatus)
}

// Serve runs the stdio transport until the host disconnects.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcp)
}
