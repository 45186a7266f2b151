// SPDX-License-Identifier: AGPL-3.0-only
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/jolks/persona-agent/internal/agent"
	"github.com/jolks/persona-agent/internal/config"
	"github.com/jolks/persona-agent/internal/errors"
	"github.com/jolks/persona-agent/internal/logging"
	"github.com/jolks/persona-agent/internal/model"
	"github.com/jolks/persona-agent/internal/scheduler"
)

// Make os.OpenFile mockable for testing
var osOpenFile = os.OpenFile

// TurnRunner answers one user message and records it. *agent.TurnExecutor
// is the production implementation.
type TurnRunner interface {
	Execute(ctx context.Context, message string, history []agent.Message) (*model.TurnRecord, *agent.Turn, error)
}

// ChatParams holds the parameters of the chat tool and the /api/chat body
type ChatParams struct {
	Message string          `json:"message" description:"the visitor's message"`
	History []agent.Message `json:"history,omitempty" description:"earlier messages of this conversation, oldest first"`
}

// ListParams holds the parameters of the listing tools
type ListParams struct {
	Limit int    `json:"limit,omitempty" description:"number of records to return (default 20, max 100)"`
	Since string `json:"since,omitempty" description:"only return records created after this RFC3339 time"`
}

// TurnIDParams holds the ID parameter of get_turn
type TurnIDParams struct {
	ID string `json:"id" description:"the ID of the turn to get"`
}

// ChatResponse is returned by the chat tool and /api/chat
type ChatResponse struct {
	Reply  string `json:"reply"`
	TurnID string `json:"turn_id"`
	Rounds int    `json:"rounds"`
}

// MCPServer exposes the persona agent over MCP and, in SSE mode, plain HTTP
type MCPServer struct {
	turns          TurnRunner
	turnStore      model.TurnStore
	leadStore      model.LeadStore
	scheduler      *scheduler.Scheduler
	server         *mcp.Server
	httpServer     *http.Server
	cancel         context.CancelFunc
	address        string
	port           int
	stopCh         chan struct{}
	stopOnce       sync.Once
	wg             sync.WaitGroup
	config         *config.Config
	logger         *logging.Logger
	shutdownMutex  sync.Mutex
	isShuttingDown bool
}

// NewLogger builds the process logger for cfg. In stdio mode stdout carries
// JSON-RPC, so records go to a file next to the executable unless a log
// file is configured.
func NewLogger(cfg *config.Config) (*logging.Logger, error) {
	level := logging.ParseLevel(cfg.Logging.Level)

	if cfg.Logging.FilePath != "" {
		logger, err := logging.FileLogger(cfg.Logging.FilePath, level)
		if err != nil {
			return nil, fmt.Errorf("failed to create file logger: %w", err)
		}
		return logger, nil
	}

	if cfg.Server.TransportMode != "stdio" {
		return logging.New(logging.Options{Level: level}), nil
	}

	execPath, err := os.Executable()
	if err != nil {
		execPath = cfg.Server.Name
	}
	logPath := filepath.Join(filepath.Dir(execPath), fmt.Sprintf("%s.log", cfg.Server.Name))

	logFile, err := osOpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		// Fall back to stderr to avoid corrupting stdout
		log.SetOutput(os.Stderr)
		return logging.New(logging.Options{Output: os.Stderr, Level: level}), nil
	}
	log.SetOutput(logFile)
	return logging.New(logging.Options{Output: logFile, Level: level}), nil
}

// NewMCPServer creates the chat surface. store and sched may be nil, in
// which case the tools that need them are not offered.
func NewMCPServer(cfg *config.Config, turns TurnRunner, store model.Store, sched *scheduler.Scheduler, logger *logging.Logger) (*MCPServer, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	if turns == nil {
		return nil, errors.InvalidInput("a turn runner is required")
	}

	switch cfg.Server.TransportMode {
	case "stdio":
		logger.Infof("Using stdio transport")
	case "sse":
		logger.Infof("Using SSE transport on %s:%d", cfg.Server.Address, cfg.Server.Port)
	default:
		return nil, errors.InvalidInput(fmt.Sprintf("unsupported transport mode: %s", cfg.Server.TransportMode))
	}

	mcpSrv := mcp.NewServer(&mcp.Implementation{
		Name:    cfg.Server.Name,
		Version: cfg.Server.Version,
	}, nil)

	s := &MCPServer{
		turns:     turns,
		scheduler: sched,
		server:    mcpSrv,
		address:   cfg.Server.Address,
		port:      cfg.Server.Port,
		stopCh:    make(chan struct{}),
		config:    cfg,
		logger:    logger,
	}
	if store != nil {
		s.turnStore = store
		s.leadStore = store
	}
	return s, nil
}

// Start starts the MCP server
func (s *MCPServer) Start(ctx context.Context) error {
	s.registerToolsDeclarative()

	switch s.config.Server.TransportMode {
	case "stdio":
		runCtx, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.server.Run(runCtx, &mcp.StdioTransport{}); err != nil {
				s.logger.Errorf("Error running MCP server: %v", err)
			}
			// stdin closed: the client is gone
			s.markStopped()
		}()
	case "sse":
		addr := fmt.Sprintf("%s:%d", s.address, s.port)
		s.httpServer = &http.Server{
			Addr:              addr,
			Handler:           s.httpHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.logger.Errorf("Error running MCP server: %v", err)
			}
		}()
	}

	go func() {
		select {
		case <-ctx.Done():
			if err := s.Stop(); err != nil {
				s.logger.Errorf("Error stopping MCP server: %v", err)
			}
		case <-s.stopCh:
		}
	}()

	return nil
}

// httpHandler routes /api/chat to the JSON endpoint and everything else to
// the MCP SSE handler.
func (s *MCPServer) httpHandler() http.Handler {
	sse := mcp.NewSSEHandler(func(_ *http.Request) *mcp.Server {
		return s.server
	}, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", s.handleHTTPChat)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("/", sse)
	return mux
}

// Stop stops the MCP server
func (s *MCPServer) Stop() error {
	s.shutdownMutex.Lock()
	defer s.shutdownMutex.Unlock()

	if s.isShuttingDown {
		s.logger.Debugf("Stop called but server is already shutting down, ignoring")
		return nil
	}
	s.isShuttingDown = true

	if s.cancel != nil {
		s.cancel()
	}

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return errors.Internal(fmt.Errorf("error shutting down MCP server: %w", err))
		}
	}

	s.markStopped()
	s.wg.Wait()
	return nil
}

func (s *MCPServer) markStopped() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Done is closed once the server has stopped or its transport has exited.
func (s *MCPServer) Done() <-chan struct{} {
	return s.stopCh
}

// chat runs one turn and shapes the reply. A turn that gave up still
// reports an error so the caller can tell it apart from an answer.
func (s *MCPServer) chat(ctx context.Context, params ChatParams) (*ChatResponse, error) {
	record, turn, err := s.turns.Execute(ctx, params.Message, params.History)
	if err != nil {
		return nil, err
	}
	return &ChatResponse{
		Reply:  turn.Reply,
		TurnID: record.ID,
		Rounds: turn.Rounds,
	}, nil
}

// handleChat answers a visitor message
func (s *MCPServer) handleChat(ctx context.Context, request *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params ChatParams
	if err := extractParams(request, &params); err != nil {
		return createErrorResponse(err)
	}

	s.logger.Debugf("Handling chat request (%d history messages)", len(params.History))

	resp, err := s.chat(ctx, params)
	if err != nil {
		return createErrorResponse(err)
	}
	return createJSONResponse(resp)
}

// handleListLeads lists recorded contact details
func (s *MCPServer) handleListLeads(_ context.Context, request *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	since, limit, err := extractListParams(request)
	if err != nil {
		return createErrorResponse(err)
	}

	s.logger.Debugf("Handling list_leads request (limit=%d)", limit)

	leads, err := s.leadStore.ListLeads(since, limit)
	if err != nil {
		return createErrorResponse(errors.Internal(fmt.Errorf("failed to list leads: %w", err)))
	}
	if leads == nil {
		leads = []*model.Lead{}
	}
	return createJSONResponse(leads)
}

// handleListUnknownQuestions lists questions the agent could not answer
func (s *MCPServer) handleListUnknownQuestions(_ context.Context, request *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	since, limit, err := extractListParams(request)
	if err != nil {
		return createErrorResponse(err)
	}

	s.logger.Debugf("Handling list_unknown_questions request (limit=%d)", limit)

	questions, err := s.leadStore.ListUnknownQuestions(since, limit)
	if err != nil {
		return createErrorResponse(errors.Internal(fmt.Errorf("failed to list unknown questions: %w", err)))
	}
	if questions == nil {
		questions = []*model.UnknownQuestion{}
	}
	return createJSONResponse(questions)
}

// handleGetTurn returns the audit record of one turn
func (s *MCPServer) handleGetTurn(_ context.Context, request *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params TurnIDParams
	if err := extractParams(request, &params); err != nil {
		return createErrorResponse(err)
	}
	if params.ID == "" {
		return createErrorResponse(errors.InvalidInput("turn ID is required"))
	}

	s.logger.Debugf("Handling get_turn request for turn %s", params.ID)

	turn, err := s.turnStore.GetTurn(params.ID)
	if err != nil {
		return createErrorResponse(err)
	}
	return createJSONResponse(turn)
}

// handleListJobs lists background jobs and their last outcome
func (s *MCPServer) handleListJobs(_ context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.logger.Debugf("Handling list_jobs request")
	return createJSONResponse(s.scheduler.Jobs())
}
