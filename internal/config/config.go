// Package config loads and validates the engine's runtime configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/anthropics/midstream/internal/domain"
)

// GenerationConfig points the engine at an Ollama-compatible endpoint.
type GenerationConfig struct {
	BaseURL      string `yaml:"base_url"`
	Model        string `yaml:"model"`
	SummaryModel string `yaml:"summary_model"`
	Timeout      string `yaml:"timeout"`
}

// SessionConfig bounds a single continuation session.
type SessionConfig struct {
	MaxContinuations int     `yaml:"max_continuations"`
	ContextTokens    int     `yaml:"context_tokens"`
	CompactThreshold float64 `yaml:"compact_threshold"`
}

// OrchestratorConfig bounds the shared task pool.
type OrchestratorConfig struct {
	MaxWorkers         int    `yaml:"max_workers"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
	TaskTimeout        string `yaml:"task_timeout"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Config holds the engine's runtime configuration.
type Config struct {
	DBPath       string             `yaml:"db_path"`
	AllowedRoots []string           `yaml:"allowed_roots"`
	ListenAddr   string             `yaml:"listen_addr"`
	Generation   GenerationConfig   `yaml:"generation"`
	Session      SessionConfig      `yaml:"session"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		DBPath:       "data/midstream.db",
		AllowedRoots: []string{"."},
		ListenAddr:   ":9800",
		Generation: GenerationConfig{
			BaseURL:      "http://localhost:11434",
			Model:        "qwq:latest",
			SummaryModel: "gemma3:12b",
			Timeout:      "5m",
		},
		Session: SessionConfig{
			MaxContinuations: 5,
			ContextTokens:    32000,
			CompactThreshold: 0.9,
		},
		Orchestrator: OrchestratorConfig{
			MaxWorkers:         3,
			RateLimitPerMinute: 60,
			TaskTimeout:        "10m",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads a YAML config file over the defaults, applies environment
// overrides, and validates the result. A missing file is not an error;
// the defaults are used.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		c.Generation.BaseURL = v
	}
	if v := os.Getenv("MIDSTREAM_DB"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("MIDSTREAM_LISTEN"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("MIDSTREAM_MODEL"); v != "" {
		c.Generation.Model = v
	}
}

// Save writes the configuration to path, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// GenerationTimeout parses the generation timeout, falling back to
// five minutes when unset or unparseable.
func (c *Config) GenerationTimeout() time.Duration {
	d, err := time.ParseDuration(c.Generation.Timeout)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// TaskTimeout parses the orchestrator task timeout, falling back to
// ten minutes when unset or unparseable.
func (c *Config) TaskTimeout() time.Duration {
	d, err := time.ParseDuration(c.Orchestrator.TaskTimeout)
	if err != nil || d <= 0 {
		return 10 * time.Minute
	}
	return d
}

func (c *Config) validate() error {
	var problems []string

	if c.DBPath == "" {
		problems = append(problems, "db_path is required")
	}
	if len(c.AllowedRoots) == 0 {
		problems = append(problems, "at least one allowed root is required")
	}
	if c.Generation.BaseURL == "" {
		problems = append(problems, "generation.base_url is required")
	}
	if c.Generation.Model == "" {
		problems = append(problems, "generation.model is required")
	}
	if c.Orchestrator.MaxWorkers <= 0 {
		problems = append(problems, "orchestrator.max_workers must be positive")
	}
	if c.Session.CompactThreshold <= 0 || c.Session.CompactThreshold > 1 {
		problems = append(problems, "session.compact_threshold must be in (0, 1]")
	}

	if len(problems) > 0 {
		return &domain.EngineError{
			Code:    domain.ErrConfigInvalid.Code,
			Message: fmt.Sprintf("%s: %v", domain.ErrConfigInvalid.Message, problems),
		}
	}
	return nil
}
