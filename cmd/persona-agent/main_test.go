// SPDX-License-Identifier: AGPL-3.0-only
package main

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jolks/persona-agent/internal/agent"
	"github.com/jolks/persona-agent/internal/config"
	"github.com/jolks/persona-agent/internal/logging"
	"github.com/jolks/persona-agent/internal/singleton"
)

type stubProvider struct{}

func (stubProvider) CreateCompletion(context.Context, string, string, []agent.Message, []agent.ToolDefinition) (*agent.Message, error) {
	return &agent.Message{Role: agent.RoleAssistant, Content: "hello", FinishReason: agent.FinishReasonStop}, nil
}

func testLogger() *logging.Logger {
	return logging.New(logging.Options{Output: io.Discard, Level: logging.Fatal})
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	summary := filepath.Join(dir, "summary.txt")
	if err := os.WriteFile(summary, []byte("Builds analytical engines."), 0o644); err != nil {
		t.Fatalf("Failed to write summary: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.Server.TransportMode = "stdio"
	cfg.Persona.Name = "Ada Lovelace"
	cfg.Persona.SummaryPath = summary
	cfg.Persona.ProfilePath = ""
	cfg.Store.DBPath = filepath.Join(dir, "turns.db")
	return cfg
}

func stubChatProvider(t *testing.T) {
	t.Helper()
	orig := newChatProvider
	newChatProvider = func(*config.AIConfig) (agent.ChatProvider, error) { return stubProvider{}, nil }
	t.Cleanup(func() { newChatProvider = orig })
}

func TestCreateApp(t *testing.T) {
	stubChatProvider(t)
	cfg := testConfig(t)

	app, err := createApp(context.Background(), cfg, testLogger())
	if err != nil {
		t.Fatalf("Failed to create application: %v", err)
	}
	if app.server == nil || app.scheduler == nil || app.store == nil {
		t.Fatal("Expected server, scheduler and store to be wired")
	}

	// A second instance on the same database is refused.
	if _, err := createApp(context.Background(), cfg, testLogger()); !errors.Is(err, singleton.ErrAlreadyRunning) {
		t.Errorf("Expected ErrAlreadyRunning, got %v", err)
	}

	app.release()

	// Releasing frees the lock for the next run.
	again, err := createApp(context.Background(), cfg, testLogger())
	if err != nil {
		t.Fatalf("Expected re-creation after release to succeed: %v", err)
	}
	again.release()
}

func TestCreateApp_DigestJob(t *testing.T) {
	stubChatProvider(t)
	cfg := testConfig(t)
	cfg.Email.ResendAPIKey = "re_test"
	cfg.Email.From = "agent@example.com"
	cfg.Email.To = []string{"me@example.com"}
	cfg.Email.DigestSchedule = "0 9 * * *"
	cfg.Email.JobTimeout = 42 * time.Second

	app, err := createApp(context.Background(), cfg, testLogger())
	if err != nil {
		t.Fatalf("Failed to create application: %v", err)
	}
	defer app.release()

	jobs := app.scheduler.Jobs()
	if len(jobs) != 1 || jobs[0].Name != "digest" {
		t.Errorf("Expected digest job, got %+v", jobs)
	}
	if got := app.scheduler.Timeout(); got != 42*time.Second {
		t.Errorf("Expected job timeout 42s, got %v", got)
	}
}

func TestCreateApp_MissingPersonaFile(t *testing.T) {
	stubChatProvider(t)
	cfg := testConfig(t)
	cfg.Persona.ProfilePath = filepath.Join(t.TempDir(), "missing.pdf")

	if _, err := createApp(context.Background(), cfg, testLogger()); err == nil {
		t.Fatal("Expected error for missing profile")
	}

	// The failed attempt must not leave the lock behind.
	lock, err := singleton.Acquire(cfg.Store.DBPath)
	if err != nil {
		t.Fatalf("Expected lock to be released after failure: %v", err)
	}
	_ = lock.Release()
}

func TestCreateApp_ProviderError(t *testing.T) {
	cfg := testConfig(t)
	cfg.AI.OpenAIAPIKey = ""
	cfg.AI.APIKey = ""

	_, err := createApp(context.Background(), cfg, testLogger())
	if err == nil || !strings.Contains(err.Error(), "API key is not set") {
		t.Errorf("Expected missing key error, got %v", err)
	}
}

func TestApplyCommandLineFlagsToConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	*transport = "stdio"
	*port = 9999
	*aiModel = "claude-sonnet-4-5"
	*aiMaxRounds = 3
	*personaName = "Grace Hopper"
	defer func() {
		*transport = ""
		*port = 0
		*aiModel = ""
		*aiMaxRounds = 0
		*personaName = ""
	}()

	applyCommandLineFlagsToConfig(cfg)

	if cfg.Server.TransportMode != "stdio" {
		t.Errorf("Expected transport stdio, got %s", cfg.Server.TransportMode)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Expected port 9999, got %d", cfg.Server.Port)
	}
	if cfg.AI.Model != "claude-sonnet-4-5" || cfg.AI.MaxToolRounds != 3 {
		t.Errorf("Unexpected AI config %+v", cfg.AI)
	}
	if cfg.Persona.Name != "Grace Hopper" {
		t.Errorf("Expected persona Grace Hopper, got %s", cfg.Persona.Name)
	}
	if cfg.Server.Address != "localhost" {
		t.Errorf("Expected untouched address 'localhost', got %s", cfg.Server.Address)
	}
}

func TestLoadConfig_Layers(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "config.yaml")
	yaml := "persona:\n  name: Ada Lovelace\nai:\n  model: from-yaml\n  max_tool_rounds: 4\n"
	if err := os.WriteFile(yamlPath, []byte(yaml), 0o644); err != nil {
		t.Fatalf("Failed to write yaml: %v", err)
	}
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("PERSONA_AGENT_AI_MODEL=from-env\n"), 0o644); err != nil {
		t.Fatalf("Failed to write env file: %v", err)
	}
	t.Setenv("PERSONA_AGENT_AI_MODEL", "")

	*configPath = yamlPath
	*envFile = envPath
	*aiMaxRounds = 7
	defer func() {
		*configPath = ""
		*envFile = ".env"
		*aiMaxRounds = 0
	}()

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.Persona.Name != "Ada Lovelace" {
		t.Errorf("Expected persona from yaml, got %q", cfg.Persona.Name)
	}
	if cfg.AI.Model != "from-env" {
		t.Errorf("Expected env to override yaml, got %q", cfg.AI.Model)
	}
	if cfg.AI.MaxToolRounds != 7 {
		t.Errorf("Expected flag to override yaml, got %d", cfg.AI.MaxToolRounds)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	*envFile = ""
	*transport = "carrier-pigeon"
	defer func() {
		*envFile = ".env"
		*transport = ""
	}()
	t.Setenv("PERSONA_AGENT_PERSONA_NAME", "Ada Lovelace")

	if _, err := loadConfig(); err == nil {
		t.Error("Expected invalid transport to be rejected")
	}
}
