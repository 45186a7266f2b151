// SPDX-License-Identifier: AGPL-3.0-only
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jolks/persona-agent/internal/agent"
	"github.com/jolks/persona-agent/internal/config"
	"github.com/jolks/persona-agent/internal/logging"
	"github.com/jolks/persona-agent/internal/mailer"
	"github.com/jolks/persona-agent/internal/notify"
	"github.com/jolks/persona-agent/internal/persona"
	"github.com/jolks/persona-agent/internal/scheduler"
	"github.com/jolks/persona-agent/internal/server"
	"github.com/jolks/persona-agent/internal/singleton"
	"github.com/jolks/persona-agent/internal/store"
	"github.com/jolks/persona-agent/internal/tools"
)

var (
	configPath    = flag.String("config", "", "Path to a YAML configuration file")
	envFile       = flag.String("env-file", ".env", "Path to a .env file with API keys (ignored if missing)")
	address       = flag.String("address", "", "The address to bind the server to")
	port          = flag.Int("port", 0, "The port to bind the server to")
	transport     = flag.String("transport", "", "Transport mode: sse or stdio")
	logLevel      = flag.String("log-level", "", "Logging level: debug, info, warn, error, fatal")
	logFile       = flag.String("log-file", "", "Log file path (default: stderr)")
	version       = flag.Bool("version", false, "Show version information and exit")
	aiProvider    = flag.String("ai-provider", "", "AI provider: openai or anthropic (default: openai)")
	aiBaseURL     = flag.String("ai-base-url", "", "Custom base URL for OpenAI-compatible endpoints (e.g. Ollama, vLLM, Groq, LiteLLM)")
	aiModel       = flag.String("ai-model", "", "AI model to chat with (default: gpt-4o-mini)")
	aiMaxRounds   = flag.Int("ai-max-tool-rounds", 0, "Maximum tool rounds per message (default: 10)")
	mcpConfigPath = flag.String("mcp-config-path", "", "Path to an MCP configuration file with extra tool servers")
	dbPath        = flag.String("db-path", "", "Path to SQLite database for the audit trail (default: ~/.persona-agent/turns.db)")
	personaName   = flag.String("persona-name", "", "Name of the person the agent represents")
	summaryPath   = flag.String("summary-path", "", "Path to the persona's plain-text summary")
	profilePath   = flag.String("profile-path", "", "Path to the persona's profile (PDF or text)")
)

// newChatProvider is swapped out in tests.
var newChatProvider = agent.NewChatProvider

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if *version {
		log.Printf("%s version %s", cfg.Server.Name, cfg.Server.Version)
		os.Exit(0)
	}

	logger, err := server.NewLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	logging.SetDefaultLogger(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := createApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to create application: %v", err)
	}

	if err := app.Start(ctx); err != nil {
		logger.Fatalf("Failed to start application: %v", err)
	}

	// Wait for termination signal or server exit (e.g. stdin closed in stdio mode)
	waitForShutdown(cancel, app)
}

// loadConfig layers defaults, the YAML file, the .env file, environment
// variables and command-line flags, in that order.
func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()

	if *configPath != "" {
		if err := config.LoadFile(cfg, *configPath); err != nil {
			return nil, err
		}
	}

	if *envFile != "" {
		if err := config.LoadDotEnv(*envFile); err != nil {
			return nil, err
		}
	}

	config.FromEnv(cfg)
	applyCommandLineFlagsToConfig(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyCommandLineFlagsToConfig applies command line flags to the configuration
func applyCommandLineFlagsToConfig(cfg *config.Config) {
	if *address != "" {
		cfg.Server.Address = *address
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *transport != "" {
		cfg.Server.TransportMode = *transport
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFile != "" {
		cfg.Logging.FilePath = *logFile
	}
	if *aiProvider != "" {
		cfg.AI.Provider = *aiProvider
	}
	if *aiBaseURL != "" {
		cfg.AI.BaseURL = *aiBaseURL
	}
	if *aiModel != "" {
		cfg.AI.Model = *aiModel
	}
	if *aiMaxRounds > 0 {
		cfg.AI.MaxToolRounds = *aiMaxRounds
	}
	if *mcpConfigPath != "" {
		cfg.AI.MCPConfigFilePath = *mcpConfigPath
	}
	if *dbPath != "" {
		cfg.Store.DBPath = *dbPath
	}
	if *personaName != "" {
		cfg.Persona.Name = *personaName
	}
	if *summaryPath != "" {
		cfg.Persona.SummaryPath = *summaryPath
	}
	if *profilePath != "" {
		cfg.Persona.ProfilePath = *profilePath
	}
}

// Application represents the running application
type Application struct {
	lock       *singleton.Lock
	store      *store.SQLiteStore
	dispatcher *notify.Dispatcher
	mcpTools   *agent.MCPTools
	scheduler  *scheduler.Scheduler
	server     *server.MCPServer
	logger     *logging.Logger
}

// createApp wires every component. Anything opened before a failure is
// released again.
func createApp(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Application, error) {
	app := &Application{logger: logger}
	if err := app.wire(ctx, cfg); err != nil {
		app.release()
		return nil, err
	}
	return app, nil
}

func (a *Application) wire(ctx context.Context, cfg *config.Config) error {
	logger := a.logger

	var err error
	a.lock, err = singleton.Acquire(cfg.Store.DBPath)
	if err != nil {
		return err
	}

	a.store, err = store.NewSQLiteStore(cfg.Store.DBPath)
	if err != nil {
		return fmt.Errorf("create audit store: %w", err)
	}

	pc, err := persona.Load(cfg.Persona.Name, cfg.Persona.SummaryPath, cfg.Persona.ProfilePath)
	if err != nil {
		return fmt.Errorf("load persona: %w", err)
	}
	logger.Infof("Loaded persona %s (summary %d bytes, profile %d bytes)", pc.Name, len(pc.Summary), len(pc.Profile))

	var sender notify.Sender
	if cfg.Notify.PushoverToken != "" && cfg.Notify.PushoverUser != "" {
		sender = notify.NewPushoverSender(cfg.Notify.PushoverToken, cfg.Notify.PushoverUser)
	} else {
		logger.Warnf("Pushover credentials not set, notifications will only be logged")
		sender = notify.NewLogSender(logger)
	}
	a.dispatcher = notify.NewDispatcher(sender, cfg.Notify.QueueSize, cfg.Notify.SendTimeout, logger.WithField("component", "notify"))

	var mail mailer.Sender
	if cfg.Email.ResendAPIKey != "" {
		mail = mailer.NewResendSender(cfg.Email.ResendAPIKey)
	}

	deps := tools.Deps{
		Notifier: a.dispatcher,
		Store:    a.store,
		Mailer:   mail,
		From:     cfg.Email.From,
		To:       cfg.Email.To,
		Logger:   logger.WithField("component", "tools"),
	}
	reg, err := agent.NewRegistry(tools.Default(deps, cfg.Email.EnableTool)...)
	if err != nil {
		return fmt.Errorf("register tools: %w", err)
	}
	if cfg.AI.MCPConfigFilePath != "" {
		a.mcpTools, err = agent.LoadMCPTools(ctx, cfg.AI.MCPConfigFilePath, cfg.Server.Version, reg, logger)
		if err != nil {
			return fmt.Errorf("load MCP tools: %w", err)
		}
	}
	reg.Freeze()
	logger.Infof("Tools available: %v", reg.Names())

	provider, err := newChatProvider(&cfg.AI)
	if err != nil {
		return err
	}
	chatAgent := agent.NewAgent(provider, reg, pc, agent.LoopConfig{
		Model:            cfg.AI.Model,
		MaxToolRounds:    cfg.AI.MaxToolRounds,
		InferenceTimeout: cfg.AI.InferenceTimeout,
		ToolTimeout:      cfg.AI.ToolTimeout,
	}, logger.WithField("component", "agent"))
	turns := agent.NewTurnExecutor(chatAgent, a.store, cfg.AI.TurnTimeout, logger)

	a.scheduler = scheduler.NewScheduler(cfg.Email.JobTimeout, logger.WithField("component", "scheduler"))
	if cfg.Email.DigestSchedule != "" {
		if mail == nil {
			logger.Warnf("Digest schedule set but no Resend API key, digest disabled")
		} else {
			digest := scheduler.NewDigestJob(a.store, mail, cfg.Email.From, cfg.Email.To, pc.Name, time.Now(), logger)
			if err := a.scheduler.AddJob("digest", cfg.Email.DigestSchedule, digest.Run); err != nil {
				return err
			}
		}
	}

	a.server, err = server.NewMCPServer(cfg, turns, a.store, a.scheduler, logger)
	return err
}

// Start starts the application
func (a *Application) Start(ctx context.Context) error {
	a.scheduler.Start(ctx)
	a.logger.Infof("Job scheduler started")

	if err := a.server.Start(ctx); err != nil {
		return err
	}
	a.logger.Infof("MCP server started")

	return nil
}

// Stop stops the application
func (a *Application) Stop() error {
	a.scheduler.Stop()
	a.logger.Infof("Job scheduler stopped")

	if err := a.server.Stop(); err != nil {
		a.logger.Errorf("Error stopping MCP server: %v", err)
		return err
	}
	a.logger.Infof("MCP server stopped")

	a.release()
	return nil
}

// release closes every opened resource, in reverse order of creation.
func (a *Application) release() {
	if a.dispatcher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := a.dispatcher.Close(ctx); err != nil {
			a.logger.Warnf("Notifications still queued at shutdown: %v", err)
		}
		cancel()
	}
	a.mcpTools.Close()
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warnf("Error closing audit store: %v", err)
		}
	}
	if err := a.lock.Release(); err != nil {
		a.logger.Warnf("Error releasing instance lock: %v", err)
	}
}

// waitForShutdown waits for termination signals or server exit and performs cleanup
func waitForShutdown(cancel context.CancelFunc, app *Application) {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-signalCh:
		app.logger.Infof("Received termination signal, shutting down...")
	case <-app.server.Done():
		app.logger.Infof("Server transport exited, shutting down...")
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	shutdownDone := make(chan struct{})
	go func() {
		if err := app.Stop(); err != nil {
			app.logger.Errorf("Error during shutdown: %v", err)
		}
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
		app.logger.Infof("Graceful shutdown completed")
	case <-shutdownCtx.Done():
		app.logger.Warnf("Shutdown timed out")
	}
}
