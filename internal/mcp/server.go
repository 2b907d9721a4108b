// Package mcp exposes the entity registry to MCP clients over stdio.
package mcp

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/entitystore/internal/ingestion"
	"github.com/rohankatakam/entitystore/internal/query"
	"github.com/rohankatakam/entitystore/internal/registry"
	"github.com/rohankatakam/entitystore/internal/risk"
)

// StatsURI names the registry statistics resource
const StatsURI = "estore://stats"

// Deps are the long-lived components the tools operate on. Indexer and
// Root are only needed for whole-tree reindexing.
type Deps struct {
	Registry *registry.Registry
	Engine   *query.Engine
	Analyzer *risk.Analyzer
	Indexer  *ingestion.Indexer
	Root     string
	Logger   *logrus.Logger
}

// Server is an MCP server bound to one registry for its whole lifetime
type Server struct {
	deps   Deps
	server *mcp.Server
	logger *logrus.Logger
}

// NewServer registers every tool and resource
func NewServer(deps Deps, version string) *Server {
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}
	s := &Server{
		deps:   deps,
		server: mcp.NewServer(&mcp.Implementation{Name: "estore", Version: version}, nil),
		logger: deps.Logger,
	}
	s.registerTools()

	s.server.AddResource(&mcp.Resource{
		URI:         StatsURI,
		Name:        "registry-stats",
		Description: "Entity counts by type and state",
		MIMEType:    "application/json",
	}, s.readStats)
	return s
}

// Run serves on stdin/stdout until the client disconnects or ctx ends
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp server listening on stdio")
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Connect serves one session over t. Used for in-process clients.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.server.Connect(ctx, t, nil)
}

func (s *Server) readStats(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	data, err := json.Marshal(s.deps.Registry.Stats())
	if err != nil {
		return nil, err
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}
