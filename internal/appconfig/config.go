// Package appconfig loads zeusd's runtime configuration, grounded on the
// reference configuration loader's shape (YAML file plus environment
// overrides, defaults applied in a dedicated pass) but scoped to this
// server's own components instead of the channel-gateway config schema.
package appconfig

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is zeusd's top-level runtime configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Auth    AuthConfig    `yaml:"auth"`
	LLM     LLMConfig     `yaml:"llm"`
	Sandbox SandboxConfig `yaml:"sandbox"`
	Queue   QueueConfig   `yaml:"queue"`
	Worker  WorkerConfig  `yaml:"worker"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
	APIKeys   []APIKey      `yaml:"api_keys"`
}

// APIKey declares a static credential accepted alongside JWT bearer tokens.
type APIKey struct {
	Key    string `yaml:"key"`
	UserID string `yaml:"user_id"`
	Email  string `yaml:"email"`
	Name   string `yaml:"name"`
}

type LLMConfig struct {
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	AnthropicModel  string `yaml:"anthropic_model"`

	OpenAIAPIKey string `yaml:"openai_api_key"`
	OpenAIModel  string `yaml:"openai_model"`

	VeniceAPIKey string `yaml:"venice_api_key"`
	VeniceModel  string `yaml:"venice_model"`

	// DelegateAPIKey/DelegateModel identify the larger external model the
	// delegate_to_model tool hands sub-tasks to. Reuses the Anthropic
	// client since it is the same provider shape, just a different
	// credential/model pair.
	DelegateAPIKey string `yaml:"delegate_api_key"`
	DelegateModel  string `yaml:"delegate_model"`

	BedrockRegion string `yaml:"bedrock_region"`
	BedrockModel  string `yaml:"bedrock_model"`

	PrimaryTimeout   time.Duration `yaml:"primary_timeout"`
	SecondaryTimeout time.Duration `yaml:"secondary_timeout"`
	TertiaryTimeout  time.Duration `yaml:"tertiary_timeout"`
}

type SandboxConfig struct {
	Image              string        `yaml:"image"`
	HostDataDir        string        `yaml:"host_data_dir"`
	DefaultTimeout     time.Duration `yaml:"default_timeout"`
	MemoryLimit        string        `yaml:"memory_limit"`
	PidsLimit          int           `yaml:"pids_limit"`
	MaxConcurrentExecs int64         `yaml:"max_concurrent_execs"`
}

type QueueConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type WorkerConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	CleanupSchedule string        `yaml:"cleanup_schedule"`
	StuckAfter      time.Duration `yaml:"stuck_after"`
	RetainCompleted time.Duration `yaml:"retain_completed"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads the YAML file at path (if it exists), applies defaults, then
// applies ZEUS_-prefixed environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("appconfig: read %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("appconfig: parse %s: %w", path, err)
			}
		}
	}
	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = 24 * time.Hour
	}
	if cfg.LLM.AnthropicModel == "" {
		cfg.LLM.AnthropicModel = "claude-sonnet-4-5"
	}
	if cfg.LLM.PrimaryTimeout == 0 {
		cfg.LLM.PrimaryTimeout = 180 * time.Second
	}
	if cfg.LLM.SecondaryTimeout == 0 {
		cfg.LLM.SecondaryTimeout = 300 * time.Second
	}
	if cfg.LLM.TertiaryTimeout == 0 {
		cfg.LLM.TertiaryTimeout = 300 * time.Second
	}
	if cfg.Sandbox.Image == "" {
		cfg.Sandbox.Image = "python:3.11-slim"
	}
	if cfg.Sandbox.DefaultTimeout == 0 {
		cfg.Sandbox.DefaultTimeout = 30 * time.Second
	}
	if cfg.Sandbox.MaxConcurrentExecs == 0 {
		cfg.Sandbox.MaxConcurrentExecs = 32
	}
	if cfg.Queue.SQLitePath == "" {
		cfg.Queue.SQLitePath = "zeus-tasks.db"
	}
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = 5
	}
	if cfg.Worker.CleanupSchedule == "" {
		cfg.Worker.CleanupSchedule = "0 * * * *"
	}
	if cfg.Worker.StuckAfter == 0 {
		cfg.Worker.StuckAfter = 30 * time.Minute
	}
	if cfg.Worker.RetainCompleted == 0 {
		cfg.Worker.RetainCompleted = 7 * 24 * time.Hour
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ZEUS_ANTHROPIC_API_KEY"); v != "" {
		cfg.LLM.AnthropicAPIKey = v
	}
	if v := os.Getenv("ZEUS_OPENAI_API_KEY"); v != "" {
		cfg.LLM.OpenAIAPIKey = v
	}
	if v := os.Getenv("ZEUS_VENICE_API_KEY"); v != "" {
		cfg.LLM.VeniceAPIKey = v
	}
	if v := os.Getenv("ZEUS_DELEGATE_API_KEY"); v != "" {
		cfg.LLM.DelegateAPIKey = v
	}
	if v := os.Getenv("ZEUS_BEDROCK_REGION"); v != "" {
		cfg.LLM.BedrockRegion = v
	}
	if v := os.Getenv("ZEUS_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("ZEUS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("ZEUS_SANDBOX_HOST_DATA_DIR"); v != "" {
		cfg.Sandbox.HostDataDir = v
	}
}
