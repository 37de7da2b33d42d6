package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v, want nil", err)
	}
}

func TestLoadAppliesDefaultsAndFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
operation:
  target: internal.example.com
llm:
  provider: openai
  model: gpt-4o
  api_key: test-key
budget:
  token_limit: 1000
  safety_margin: 0.8
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.Provider != "openai" {
		t.Errorf("LLM.Provider = %q, want %q", cfg.LLM.Provider, "openai")
	}
	if cfg.Budget.TokenLimit != 1000 {
		t.Errorf("Budget.TokenLimit = %d, want 1000", cfg.Budget.TokenLimit)
	}
	// Unset fields keep defaults.
	if cfg.Tools.MaxResultChars != 10000 {
		t.Errorf("Tools.MaxResultChars = %d, want default 10000", cfg.Tools.MaxResultChars)
	}
	if cfg.LLM.Timeout != 120*time.Second {
		t.Errorf("LLM.Timeout = %v, want default 120s", cfg.LLM.Timeout)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("REDLOOP_MODEL", "claude-opus-4")
	t.Setenv("REDLOOP_TOKEN_LIMIT", "50000")
	t.Setenv("REDLOOP_SAFETY_MARGIN", "0.7")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.Model != "claude-opus-4" {
		t.Errorf("LLM.Model = %q, want env override", cfg.LLM.Model)
	}
	if cfg.Budget.TokenLimit != 50000 {
		t.Errorf("Budget.TokenLimit = %d, want 50000", cfg.Budget.TokenLimit)
	}
	if cfg.Budget.SafetyMargin != 0.7 {
		t.Errorf("Budget.SafetyMargin = %v, want 0.7", cfg.Budget.SafetyMargin)
	}
}

func TestLoadEnvExpansion(t *testing.T) {
	t.Setenv("TEST_SECRET", "expanded-key")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "llm:\n  api_key: ${TEST_SECRET}\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.APIKey != "expanded-key" {
		t.Errorf("LLM.APIKey = %q, want %q", cfg.LLM.APIKey, "expanded-key")
	}
}

func TestValidateRejectsBadMargin(t *testing.T) {
	cfg := Default()
	cfg.Budget.SafetyMargin = 1.5
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() = nil, want error for safety_margin > 1")
	}

	cfg = Default()
	cfg.Budget.SafetyMargin = 0.95
	cfg.Budget.CacheRelax = 0.1
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() = nil, want error when margin + relax > 1")
	}
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	cfg := Default()
	cfg.LLM.Provider = "bedrock"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() = nil, want error for unknown provider")
	}
}
