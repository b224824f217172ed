package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/resistsim/internal/config"
	"github.com/nvandessel/resistsim/internal/engine"
	"github.com/nvandessel/resistsim/internal/ratelimit"
	"github.com/nvandessel/resistsim/internal/registry"
	"github.com/nvandessel/resistsim/internal/store"
)

// Server wraps the MCP SDK server and exposes the simulator as tools.
type Server struct {
	server       *sdk.Server
	base         *config.SimConfig
	store        store.RunStore
	registry     *registry.Registry
	metrics      engine.Metrics
	logger       *slog.Logger
	toolLimiters ratelimit.ToolLimiters
	auditLogger  *AuditLogger
}

// Config holds server configuration.
type Config struct {
	Name    string // Server name (e.g., "resistsim")
	Version string // Server version

	// Base is the configuration tool calls start from. Nil uses defaults.
	Base *config.SimConfig

	// Store, when set, persists every simulated replicate and backs the
	// runs tool. The server takes ownership and closes it.
	Store store.RunStore

	// AuditDir, when set, receives audit.jsonl with one entry per tool call.
	AuditDir string

	Metrics engine.Metrics
	Logger  *slog.Logger
}

// NewServer creates a new MCP server with resistsim tools.
func NewServer(cfg *Config) (*Server, error) {
	base := cfg.Base
	if base == nil {
		base = config.Default()
	}
	if err := base.Validate(); err != nil {
		return nil, fmt.Errorf("invalid base configuration: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	mcpServer := sdk.NewServer(&sdk.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, &sdk.ServerOptions{
		InitializedHandler: func(ctx context.Context, req *sdk.InitializedRequest) {
			logger.Debug("mcp client initialized")
		},
	})

	s := &Server{
		server:       mcpServer,
		base:         base,
		store:        cfg.Store,
		registry:     registry.New(),
		metrics:      cfg.Metrics,
		logger:       logger,
		toolLimiters: ratelimit.NewToolLimiters(),
	}
	if cfg.AuditDir != "" {
		s.auditLogger = NewAuditLogger(cfg.AuditDir)
	}

	s.registerTools()
	return s, nil
}

// Run starts the MCP server over stdio transport.
// This blocks until the client disconnects or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	notifySignals(sigChan)

	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	err := s.server.Run(ctx, &sdk.StdioTransport{})

	if cerr := s.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Close closes the server and releases resources.
func (s *Server) Close() error {
	var firstErr error
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			firstErr = err
		}
		s.store = nil
	}
	if err := s.auditLogger.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
