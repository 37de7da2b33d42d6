package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML config file, expands ${ENV} references, applies
// defaults for unset fields, then applies REDLOOP_* environment overrides.
// An empty path returns defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WriteDefaults renders the default configuration as YAML.
func WriteDefaults(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(Default()); err != nil {
		return fmt.Errorf("encode defaults: %w", err)
	}
	return enc.Close()
}

// applyEnvOverrides lets the most commonly scripted settings be set without
// editing the config file.
func applyEnvOverrides(cfg *Config) {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setFloat := func(key string, dst *float64) {
		if v, ok := os.LookupEnv(key); ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}

	setString("REDLOOP_PROVIDER", &cfg.LLM.Provider)
	setString("REDLOOP_MODEL", &cfg.LLM.Model)
	setString("REDLOOP_API_KEY", &cfg.LLM.APIKey)
	setString("REDLOOP_BASE_URL", &cfg.LLM.BaseURL)
	setString("REDLOOP_TARGET", &cfg.Operation.Target)
	setString("REDLOOP_WORK_DIR", &cfg.Operation.WorkDir)
	setString("REDLOOP_MEMORY_PATH", &cfg.Memory.Path)
	setString("REDLOOP_LOG_LEVEL", &cfg.Logging.Level)
	setInt("REDLOOP_TOKEN_LIMIT", &cfg.Budget.TokenLimit)
	setInt("REDLOOP_MAX_STEPS", &cfg.Operation.MaxSteps)
	setFloat("REDLOOP_SAFETY_MARGIN", &cfg.Budget.SafetyMargin)
	setFloat("REDLOOP_CACHE_RELAX", &cfg.Budget.CacheRelax)
	setDuration("REDLOOP_MAX_DURATION", &cfg.Operation.MaxDuration)
	setDuration("REDLOOP_EXEC_TIMEOUT", &cfg.Tools.ExecTimeout)

	// API key falls back to the provider-native variables.
	if cfg.LLM.APIKey == "" {
		switch strings.ToLower(cfg.LLM.Provider) {
		case "anthropic":
			cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case "openai":
			cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
}
