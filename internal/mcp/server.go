package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dispatchd/internal/orchestrator"
)

// Engine is the decision engine surface the tools call.
type Engine interface {
	ListAgents() []orchestrator.AgentCapability
	ListAgentsByCategory(category orchestrator.Category) []orchestrator.AgentCapability
	AgentMetrics(ctx context.Context, agentID string) (*orchestrator.AgentMetrics, error)
	MakeDecision(ctx context.Context, execCtx orchestrator.ExecutionContext) (*orchestrator.Decision, error)
	RecordOutcome(ctx context.Context, agentID string, success bool, quality float64) error
}

// Server is an MCP server backed by a dispatch engine.
type Server struct {
	mcp     *mcp.Server
	engine  Engine
	metrics *Metrics
	logger  *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "dispatchd")
	Name string

	// Version is the server version (default: "dev")
	Version string

	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "dispatchd",
		Version: "dev",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates an MCP server and registers the dispatch tools.
func NewServer(cfg *Config, engine Engine) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		engine:  engine,
		metrics: NewMetrics(cfg.Logger),
		logger:  cfg.Logger,
	}
	s.registerTools()
	return s, nil
}

// Run serves MCP on the stdio transport until ctx is done or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}
