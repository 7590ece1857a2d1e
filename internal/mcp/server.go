package mcp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/cura/internal/checkpoint"
	"github.com/nvandessel/cura/internal/ratelimit"
	"github.com/nvandessel/cura/internal/runner"
)

// Server wraps the MCP SDK server and exposes a runner as tools.
type Server struct {
	server       *sdk.Server
	runner       *runner.Runner
	defaults     runner.StartRequest
	toolLimiters ratelimit.ToolLimiters
	auditLogger  *AuditLogger
	logger       *slog.Logger

	checkpointDir  string
	retention      checkpoint.RetentionPolicy
}

// Config holds server configuration.
type Config struct {
	Name    string // Server name (e.g., "cura")
	Version string // Server version

	Runner   *runner.Runner
	Defaults runner.StartRequest // used for fields cura_start leaves out

	// AuditDir receives audit.jsonl. Empty disables auditing.
	AuditDir string

	// CheckpointDir confines cura_checkpoint and cura_restore paths.
	// Empty disables both tools.
	CheckpointDir string
	// CheckpointKeep is how many checkpoints cura_checkpoint retains.
	// Zero means DefaultCheckpointKeep.
	CheckpointKeep int

	Logger *slog.Logger
}

// DefaultCheckpointKeep is the retention count when Config leaves it unset.
const DefaultCheckpointKeep = 10

// NewServer creates a new MCP server with cura tools.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil || cfg.Runner == nil {
		return nil, errors.New("mcp server requires a runner")
	}

	mcpServer := sdk.NewServer(&sdk.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, nil)

	s := &Server{
		server:       mcpServer,
		runner:       cfg.Runner,
		defaults:     cfg.Defaults,
		toolLimiters: ratelimit.NewToolLimiters(),
		logger:       cfg.Logger,

		checkpointDir: cfg.CheckpointDir,
	}
	keep := cfg.CheckpointKeep
	if keep <= 0 {
		keep = DefaultCheckpointKeep
	}
	s.retention = &checkpoint.CountPolicy{MaxCount: keep}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.AuditDir != "" {
		s.auditLogger = NewAuditLogger(cfg.AuditDir)
	}

	s.registerTools()
	s.registerResources()
	return s, nil
}

// Run starts the MCP server over stdio transport.
// This blocks until the client disconnects or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
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

	s.logger.Info("mcp server running on stdio")
	err := s.server.Run(ctx, &sdk.StdioTransport{})

	if cerr := s.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Close stops the active run and closes the audit log.
func (s *Server) Close() error {
	rerr := s.runner.Close()
	aerr := s.auditLogger.Close()
	return errors.Join(rerr, aerr)
}
