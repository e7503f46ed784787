package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/anthropics/midstream/internal/domain"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.DBPath != "data/midstream.db" {
		t.Errorf("DBPath = %q, want data/midstream.db", cfg.DBPath)
	}
	if len(cfg.AllowedRoots) != 1 || cfg.AllowedRoots[0] != "." {
		t.Errorf("AllowedRoots = %v, want [.]", cfg.AllowedRoots)
	}
	if cfg.ListenAddr != ":9800" {
		t.Errorf("ListenAddr = %q, want :9800", cfg.ListenAddr)
	}
	if cfg.Generation.BaseURL != "http://localhost:11434" {
		t.Errorf("Generation.BaseURL = %q, want http://localhost:11434", cfg.Generation.BaseURL)
	}
	if cfg.Generation.Model != "qwq:latest" {
		t.Errorf("Generation.Model = %q, want qwq:latest", cfg.Generation.Model)
	}
	if cfg.Generation.SummaryModel != "gemma3:12b" {
		t.Errorf("Generation.SummaryModel = %q, want gemma3:12b", cfg.Generation.SummaryModel)
	}
	if cfg.Session.MaxContinuations != 5 {
		t.Errorf("Session.MaxContinuations = %d, want 5", cfg.Session.MaxContinuations)
	}
	if cfg.Session.ContextTokens != 32000 {
		t.Errorf("Session.ContextTokens = %d, want 32000", cfg.Session.ContextTokens)
	}
	if cfg.Session.CompactThreshold != 0.9 {
		t.Errorf("Session.CompactThreshold = %f, want 0.9", cfg.Session.CompactThreshold)
	}
	if cfg.Orchestrator.MaxWorkers != 3 {
		t.Errorf("Orchestrator.MaxWorkers = %d, want 3", cfg.Orchestrator.MaxWorkers)
	}
	if cfg.Orchestrator.RateLimitPerMinute != 60 {
		t.Errorf("Orchestrator.RateLimitPerMinute = %d, want 60", cfg.Orchestrator.RateLimitPerMinute)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Generation.Model != "qwq:latest" {
		t.Errorf("Generation.Model = %q, want default", cfg.Generation.Model)
	}
}

func TestLoad_OverlaysFileOnDefaults(t *testing.T) {
	t.Setenv("OLLAMA_HOST", "")
	path := writeConfig(t, t.TempDir(), `
db_path: /var/lib/midstream/engine.db
generation:
  model: llama3:8b
session:
  max_continuations: 2
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DBPath != "/var/lib/midstream/engine.db" {
		t.Errorf("DBPath = %q, want file value", cfg.DBPath)
	}
	if cfg.Generation.Model != "llama3:8b" {
		t.Errorf("Generation.Model = %q, want llama3:8b", cfg.Generation.Model)
	}
	if cfg.Session.MaxContinuations != 2 {
		t.Errorf("Session.MaxContinuations = %d, want 2", cfg.Session.MaxContinuations)
	}
	if cfg.Generation.BaseURL != "http://localhost:11434" {
		t.Errorf("Generation.BaseURL = %q, want untouched default", cfg.Generation.BaseURL)
	}
	if cfg.ListenAddr != ":9800" {
		t.Errorf("ListenAddr = %q, want untouched default", cfg.ListenAddr)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "db_path: [unclosed")

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationProblems(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
db_path: ""
orchestrator:
  max_workers: 0
session:
  compact_threshold: 1.5
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	engineErr, ok := err.(*domain.EngineError)
	if !ok {
		t.Fatalf("expected EngineError, got %T", err)
	}
	if engineErr.Code != domain.ErrConfigInvalid.Code {
		t.Errorf("Code = %d, want %d", engineErr.Code, domain.ErrConfigInvalid.Code)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
generation:
  base_url: http://filehost:11434
  model: file-model
`)
	t.Setenv("OLLAMA_HOST", "http://envhost:11434")
	t.Setenv("MIDSTREAM_MODEL", "env-model")
	t.Setenv("MIDSTREAM_LISTEN", ":7700")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Generation.BaseURL != "http://envhost:11434" {
		t.Errorf("Generation.BaseURL = %q, want env value", cfg.Generation.BaseURL)
	}
	if cfg.Generation.Model != "env-model" {
		t.Errorf("Generation.Model = %q, want env value", cfg.Generation.Model)
	}
	if cfg.ListenAddr != ":7700" {
		t.Errorf("ListenAddr = %q, want env value", cfg.ListenAddr)
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Generation.Model = "mistral:7b"
	cfg.AllowedRoots = []string{"/srv/work", "/tmp"}
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Generation.Model != "mistral:7b" {
		t.Errorf("Generation.Model = %q, want mistral:7b", loaded.Generation.Model)
	}
	if len(loaded.AllowedRoots) != 2 || loaded.AllowedRoots[0] != "/srv/work" {
		t.Errorf("AllowedRoots = %v, want round-tripped values", loaded.AllowedRoots)
	}
}

func TestConfig_TimeoutFallbacks(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.GenerationTimeout(); got != 5*time.Minute {
		t.Errorf("GenerationTimeout = %v, want 5m", got)
	}
	if got := cfg.TaskTimeout(); got != 10*time.Minute {
		t.Errorf("TaskTimeout = %v, want 10m", got)
	}

	cfg.Generation.Timeout = "90s"
	if got := cfg.GenerationTimeout(); got != 90*time.Second {
		t.Errorf("GenerationTimeout = %v, want 90s", got)
	}

	cfg.Orchestrator.TaskTimeout = "not-a-duration"
	if got := cfg.TaskTimeout(); got != 10*time.Minute {
		t.Errorf("TaskTimeout = %v, want fallback 10m", got)
	}
}
