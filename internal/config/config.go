// SPDX-License-Identifier: AGPL-3.0-only
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	AI      AIConfig      `yaml:"ai"`
	Persona PersonaConfig `yaml:"persona"`
	Notify  NotifyConfig  `yaml:"notify"`
	Email   EmailConfig   `yaml:"email"`
	Store   StoreConfig   `yaml:"store"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig controls the chat surface.
type ServerConfig struct {
	Name          string `yaml:"name"`
	Version       string `yaml:"version"`
	Address       string `yaml:"address"`
	Port          int    `yaml:"port"`
	TransportMode string `yaml:"transport"` // "stdio" or "sse"
}

// AIConfig controls inference and the conversation loop.
type AIConfig struct {
	Provider          string        `yaml:"provider"` // "openai" or "anthropic"
	Model             string        `yaml:"model"`
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	OpenAIAPIKey      string        `yaml:"openai_api_key"`
	AnthropicAPIKey   string        `yaml:"anthropic_api_key"`
	MaxToolRounds     int           `yaml:"max_tool_rounds"`
	InferenceTimeout  time.Duration `yaml:"inference_timeout"`
	ToolTimeout       time.Duration `yaml:"tool_timeout"`
	TurnTimeout       time.Duration `yaml:"turn_timeout"`
	MCPConfigFilePath string        `yaml:"mcp_config_path"`
}

// PersonaConfig names the person the agent represents and where its
// background material lives.
type PersonaConfig struct {
	Name        string `yaml:"name"`
	SummaryPath string `yaml:"summary_path"`
	ProfilePath string `yaml:"profile_path"`
}

// NotifyConfig configures push notifications.
type NotifyConfig struct {
	PushoverToken string        `yaml:"pushover_token"`
	PushoverUser  string        `yaml:"pushover_user"`
	QueueSize     int           `yaml:"queue_size"`
	SendTimeout   time.Duration `yaml:"send_timeout"`
}

// EmailConfig configures transactional email.
type EmailConfig struct {
	ResendAPIKey   string   `yaml:"resend_api_key"`
	From           string   `yaml:"from"`
	To             []string `yaml:"to"`
	EnableTool     bool     `yaml:"enable_tool"`
	DigestSchedule string   `yaml:"digest_schedule"`
	// JobTimeout bounds one scheduled run, including every digest page.
	JobTimeout time.Duration `yaml:"job_timeout"`
}

// StoreConfig configures the audit database.
type StoreConfig struct {
	DBPath string `yaml:"db_path"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level    string `yaml:"level"`
	FilePath string `yaml:"file_path"`
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() *Config {
	dbPath := "persona-agent.db"
	if home, err := os.UserHomeDir(); err == nil {
		dbPath = filepath.Join(home, ".persona-agent", "turns.db")
	}

	return &Config{
		Server: ServerConfig{
			Name:          "persona-agent",
			Version:       "0.1.0",
			Address:       "localhost",
			Port:          8080,
			TransportMode: "sse",
		},
		AI: AIConfig{
			Provider:         "openai",
			Model:            "gpt-4o-mini",
			MaxToolRounds:    10,
			InferenceTimeout: 60 * time.Second,
			ToolTimeout:      15 * time.Second,
			TurnTimeout:      3 * time.Minute,
		},
		Persona: PersonaConfig{
			SummaryPath: filepath.Join("me", "summary.txt"),
			ProfilePath: filepath.Join("me", "linkedin.pdf"),
		},
		Notify: NotifyConfig{
			QueueSize:   64,
			SendTimeout: 10 * time.Second,
		},
		Email: EmailConfig{
			JobTimeout: 5 * time.Minute,
		},
		Store: StoreConfig{
			DBPath: dbPath,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFile overlays the YAML file at path onto cfg. Keys absent from the
// file keep their current values.
func LoadFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// LoadDotEnv loads a .env file into the process environment, overriding
// variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Overload(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// FromEnv overrides cfg with values from environment variables.
func FromEnv(cfg *Config) {
	setString(&cfg.Server.Address, "PERSONA_AGENT_SERVER_ADDRESS")
	setInt(&cfg.Server.Port, "PERSONA_AGENT_SERVER_PORT")
	setString(&cfg.Server.TransportMode, "PERSONA_AGENT_SERVER_TRANSPORT")

	setString(&cfg.AI.Provider, "PERSONA_AGENT_AI_PROVIDER")
	setString(&cfg.AI.Model, "PERSONA_AGENT_AI_MODEL")
	setString(&cfg.AI.BaseURL, "PERSONA_AGENT_AI_BASE_URL")
	setString(&cfg.AI.APIKey, "PERSONA_AGENT_AI_API_KEY")
	setString(&cfg.AI.OpenAIAPIKey, "OPENAI_API_KEY")
	setString(&cfg.AI.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	setInt(&cfg.AI.MaxToolRounds, "PERSONA_AGENT_AI_MAX_TOOL_ROUNDS")
	setDuration(&cfg.AI.InferenceTimeout, "PERSONA_AGENT_AI_INFERENCE_TIMEOUT")
	setDuration(&cfg.AI.ToolTimeout, "PERSONA_AGENT_AI_TOOL_TIMEOUT")
	setDuration(&cfg.AI.TurnTimeout, "PERSONA_AGENT_AI_TURN_TIMEOUT")
	setString(&cfg.AI.MCPConfigFilePath, "PERSONA_AGENT_MCP_CONFIG_PATH")

	setString(&cfg.Persona.Name, "PERSONA_AGENT_PERSONA_NAME")
	setString(&cfg.Persona.SummaryPath, "PERSONA_AGENT_PERSONA_SUMMARY_PATH")
	setString(&cfg.Persona.ProfilePath, "PERSONA_AGENT_PERSONA_PROFILE_PATH")

	setString(&cfg.Notify.PushoverToken, "PUSHOVER_TOKEN")
	setString(&cfg.Notify.PushoverUser, "PUSHOVER_USER")

	setString(&cfg.Email.ResendAPIKey, "RESEND_API_KEY")
	setString(&cfg.Email.From, "PERSONA_AGENT_EMAIL_FROM")
	if v := os.Getenv("PERSONA_AGENT_EMAIL_TO"); v != "" {
		cfg.Email.To = splitList(v)
	}
	setBool(&cfg.Email.EnableTool, "PERSONA_AGENT_EMAIL_ENABLE_TOOL")
	setString(&cfg.Email.DigestSchedule, "PERSONA_AGENT_EMAIL_DIGEST_SCHEDULE")
	setDuration(&cfg.Email.JobTimeout, "PERSONA_AGENT_EMAIL_JOB_TIMEOUT")

	setString(&cfg.Store.DBPath, "PERSONA_AGENT_DB_PATH")

	setString(&cfg.Logging.Level, "PERSONA_AGENT_LOG_LEVEL")
	setString(&cfg.Logging.FilePath, "PERSONA_AGENT_LOG_FILE")
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Server.TransportMode {
	case "stdio", "sse":
	default:
		return fmt.Errorf("invalid transport mode %q: must be stdio or sse", c.Server.TransportMode)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}

	switch strings.ToLower(c.AI.Provider) {
	case "", "openai", "anthropic":
	default:
		return fmt.Errorf("unsupported AI provider %q", c.AI.Provider)
	}
	if c.AI.Model == "" {
		return fmt.Errorf("AI model must be set")
	}
	if c.AI.MaxToolRounds < 1 {
		return fmt.Errorf("max tool rounds must be at least 1, got %d", c.AI.MaxToolRounds)
	}
	if c.AI.InferenceTimeout <= 0 || c.AI.ToolTimeout <= 0 || c.AI.TurnTimeout <= 0 {
		return fmt.Errorf("AI timeouts must be positive")
	}

	if strings.TrimSpace(c.Persona.Name) == "" {
		return fmt.Errorf("persona name must be set")
	}

	if c.Notify.QueueSize < 1 {
		return fmt.Errorf("notify queue size must be at least 1, got %d", c.Notify.QueueSize)
	}

	if c.Email.EnableTool || c.Email.DigestSchedule != "" {
		if c.Email.From == "" || len(c.Email.To) == 0 {
			return fmt.Errorf("email sender and recipients must be set when email is enabled")
		}
	}
	if c.Email.JobTimeout <= 0 {
		return fmt.Errorf("email job timeout must be positive")
	}

	if c.Store.DBPath == "" {
		return fmt.Errorf("database path must be set")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
