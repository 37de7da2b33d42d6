// Package main provides the CLI entry point for the redloop assessment
// orchestrator.
//
// Redloop drives a long-lived, LLM-directed security assessment session:
// one model call and tool execution at a time, with token budgeting,
// human-in-the-loop pausing, and adaptive prompt overlays.
//
// # Basic Usage
//
// Start an assessment:
//
//	redloop run --config redloop.yaml --target 10.0.0.5
//
// Print the configuration schema:
//
//	redloop config schema
//
// # Environment Variables
//
//   - REDLOOP_PROVIDER / REDLOOP_MODEL: model backend selection
//   - REDLOOP_API_KEY (or ANTHROPIC_API_KEY / OPENAI_API_KEY): credentials
//   - REDLOOP_TARGET: assessment target
//   - REDLOOP_WORK_DIR: root for artifacts, overlays, and control files
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/vantasec/redloop/internal/artifacts"
	"github.com/vantasec/redloop/internal/budget"
	"github.com/vantasec/redloop/internal/config"
	"github.com/vantasec/redloop/internal/events"
	"github.com/vantasec/redloop/internal/hitl"
	"github.com/vantasec/redloop/internal/memory"
	"github.com/vantasec/redloop/internal/observability"
	"github.com/vantasec/redloop/internal/overlay"
	"github.com/vantasec/redloop/internal/provider"
	"github.com/vantasec/redloop/internal/router"
	"github.com/vantasec/redloop/internal/session"
	"github.com/vantasec/redloop/internal/tools/exec"
	"github.com/vantasec/redloop/pkg/models"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "redloop",
		Short:        "Redloop - autonomous security assessment orchestrator",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(
		buildRunCmd(),
		buildConfigCmd(),
	)
	return rootCmd
}

func buildRunCmd() *cobra.Command {
	var (
		configPath string
		target     string
		objective  string
		debug      bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an assessment session",
		Long: `Run an assessment session against the configured target.

The session loops until the model declares the assessment complete, a
step or duration limit is reached, or the operator rejects a paused
tool call. Limit exhaustion forces report finalization.

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Run with a config file
  redloop run --config redloop.yaml

  # Override the target from the command line
  redloop run --target 10.0.0.5 --objective "enumerate exposed services"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if target != "" {
				cfg.Operation.Target = target
			}
			if objective != "" {
				cfg.Operation.Objective = objective
			}
			if debug {
				cfg.Logging.Level = "debug"
			}
			if strings.TrimSpace(cfg.Operation.Target) == "" {
				return fmt.Errorf("a target is required (--target or operation.target)")
			}
			return runSession(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVarP(&target, "target", "t", "", "Assessment target (overrides config)")
	cmd.Flags().StringVarP(&objective, "objective", "o", "", "Engagement objective (overrides config)")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON Schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := config.JSONSchema()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(schema))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "defaults",
		Short: "Print the default configuration values",
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.WriteDefaults(cmd.OutOrStdout())
		},
	})
	return cmd
}

// runSession wires the full stack and drives one session to completion.
func runSession(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := observability.NewLogger(observability.LogConfig{
		Level:          cfg.Logging.Level,
		Format:         cfg.Logging.Format,
		RedactPatterns: cfg.Logging.RedactPatterns,
	})
	slog.SetDefault(logger)

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	operationID := cfg.Operation.ID
	if operationID == "" {
		operationID = uuid.NewString()
	}
	target := cfg.Operation.Target
	opDir := filepath.Join(cfg.Operation.WorkDir, target, operationID)

	logger.Info("starting assessment",
		"version", version,
		"operation", operationID,
		"target", target,
		"provider", cfg.LLM.Provider,
		"model", cfg.LLM.Model,
	)

	backend, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	var storeOpts []memory.StoreOption
	if cfg.Memory.EmbeddingModel != "" {
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			key = cfg.LLM.APIKey
		}
		storeOpts = append(storeOpts,
			memory.WithEmbedder(memory.NewOpenAIEmbedder(key, cfg.Memory.EmbeddingBaseURL, cfg.Memory.EmbeddingModel)))
	}
	store, err := memory.NewSQLiteStore(cfg.Memory.Path, storeOpts...)
	if err != nil {
		return fmt.Errorf("open memory store: %w", err)
	}
	defer store.Close()

	artifactStore, err := artifacts.NewStore(filepath.Join(cfg.Operation.WorkDir, target), operationID)
	if err != nil {
		return fmt.Errorf("open artifact store: %w", err)
	}

	frameSink := events.NewFrameSink(os.Stdout)
	var sink events.Sink = frameSink
	if cfg.Events.BatchInterval > 0 {
		batcher := events.NewBatcher(frameSink, cfg.Events.BatchSize, cfg.Events.BatchInterval)
		defer batcher.Close()
		sink = batcher
	}
	emitter := events.NewEmitter(operationID, sink)
	emitter.OnDeduplicated = func(typ models.EventType) {
		metrics.EventsEmitted.WithLabelValues(string(typ), "deduplicated").Inc()
	}
	emitter.OnDelivered = func(typ models.EventType) {
		metrics.EventsEmitted.WithLabelValues(string(typ), "written").Inc()
	}

	runner := exec.NewRunner(opDir, cfg.Tools.ExecTimeout)
	registry := router.NewRegistry()
	registry.Register(exec.NewCommandTool("generic_linux_command", runner))

	externalizer := &router.Externalizer{
		MaxResultChars:    cfg.Tools.MaxResultChars,
		ArtifactThreshold: cfg.Tools.ArtifactThresholdChars,
		InlineHeadChars:   cfg.Tools.InlineHeadChars,
		Store:             artifactStore,
		Logger:            logger,
		OnArtifact: func(tool string) {
			metrics.ArtifactsWritten.WithLabelValues(tool).Inc()
		},
	}
	toolRouter := router.New(router.Options{
		Registry:      registry,
		Runner:        runner,
		Externalizer:  externalizer,
		AllowFallback: cfg.Tools.AllowFallback == nil || *cfg.Tools.AllowFallback,
		Logger:        logger,
	})

	summarizer := session.NewModelSummarizer(backend, cfg.LLM.Model, 0)
	controller := budget.NewController(budget.Config{
		SafetyMargin:       cfg.Budget.SafetyMargin,
		CacheRelax:         cfg.Budget.CacheRelax,
		PreserveRecent:     cfg.Budget.PreserveRecent,
		ReasoningCarryover: backend.SupportsReasoningCarryover(),
	}, budget.WithSummarizer(summarizer.Summarize), budget.WithLogger(logger))
	controller.OnReduction = func(strategy, outcome string) {
		metrics.BudgetReductions.WithLabelValues(strategy, outcome).Inc()
	}
	var budgets *budget.Registry
	if cfg.Budget.TokenLimit > 0 {
		budgets = budget.NewRegistry(controller)
	}

	var (
		feedback  *hitl.Manager
		autoPause hitl.AutoPause
	)
	if cfg.HITL.Enabled {
		feedback = hitl.NewManager(hitl.Options{
			User:    cfg.Operation.User,
			Target:  target,
			Store:   store,
			Emitter: emitter,
			Logger:  logger,
		})
		feedback.OnPause = func(reason string) {
			trigger := "manual"
			switch {
			case strings.Contains(reason, "confidence"):
				trigger = "low_confidence"
			case reason != "":
				trigger = "destructive"
			}
			metrics.HITLPauses.WithLabelValues(trigger).Inc()
		}
		autoPause = hitl.AutoPause{
			PauseDestructive:    cfg.HITL.AutoPauseDestructive,
			ConfidenceThreshold: cfg.HITL.ConfidenceThreshold,
		}
		control, err := hitl.NewControlChannel(filepath.Join(opDir, "control"), feedback, logger)
		if err != nil {
			return fmt.Errorf("open control channel: %w", err)
		}
		control.Start(ctx)
		defer control.Close()
	}

	overlayStore, err := overlay.NewStore(cfg.Operation.WorkDir, target, operationID)
	if err != nil {
		return fmt.Errorf("open overlay store: %w", err)
	}
	overlays := overlay.NewManager(cfg.Overlay.CooldownSteps, cfg.Overlay.DefaultTTLSteps, overlayStore, logger)
	var optimizer *overlay.Optimizer
	if cfg.Overlay.RebuildInterval > 0 {
		optimizer = overlay.NewOptimizer(store, overlays, cfg.Overlay.RebuildInterval,
			cfg.Operation.User, target, logger)
	}

	reporter := session.NewModelReporter(session.ModelReporterOptions{
		Provider: backend,
		Store:    store,
		Dir:      opDir,
		Logger:   logger,
	})

	orchestrator, err := session.NewOrchestrator(session.OrchestratorOptions{
		Provider:  backend,
		Budgets:   budgets,
		Router:    toolRouter,
		Emitter:   emitter,
		Feedback:  feedback,
		AutoPause: autoPause,
		Overlays:  overlays,
		Optimizer: optimizer,
		Reporter:  reporter,
		Limits: session.Limits{
			MaxSteps:    cfg.Operation.MaxSteps,
			MaxDuration: cfg.Operation.MaxDuration,
		},
		MaxTokens:       cfg.LLM.MaxTokens,
		Metrics:         metrics,
		Logger:          logger,
		FeedbackTimeout: cfg.HITL.FeedbackTimeout,
	})
	if err != nil {
		return err
	}

	conv := &models.Conversation{
		Model:      cfg.LLM.Model,
		System:     systemPrompt(cfg),
		TokenLimit: cfg.Budget.TokenLimit,
	}
	conv.Append(models.NewTextMessage(models.RoleUser, initialTask(cfg)))

	s := session.New(operationID, target, cfg.Operation.User, cfg.Operation.Objective, conv)
	registry.Register(overlay.NewDirectiveTool(overlays, func() int { return s.Step }))
	if err := orchestrator.Run(ctx, s); err != nil {
		return fmt.Errorf("session %s: %w", s.ID, err)
	}

	logger.Info("assessment finished",
		"operation", operationID,
		"status", s.Status,
		"steps", s.Step,
		"elapsed", s.Elapsed().Round(time.Second),
		"report", filepath.Join(opDir, "report.md"),
	)
	return nil
}

func buildProvider(cfg *config.Config) (provider.Provider, error) {
	switch strings.ToLower(cfg.LLM.Provider) {
	case "anthropic":
		return provider.NewAnthropicProvider(provider.AnthropicConfig{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
		})
	case "openai":
		return provider.NewOpenAIProvider(provider.OpenAIConfig{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
		})
	default:
		return nil, fmt.Errorf("llm.provider %q is not supported", cfg.LLM.Provider)
	}
}

func systemPrompt(cfg *config.Config) string {
	var b strings.Builder
	b.WriteString("You are an authorized security assessment agent operating against an approved target.\n")
	fmt.Fprintf(&b, "Target: %s\n", cfg.Operation.Target)
	if cfg.Operation.Objective != "" {
		fmt.Fprintf(&b, "Objective: %s\n", cfg.Operation.Objective)
	}
	b.WriteString(`
Work methodically: enumerate before exploiting, validate findings before
reporting them, and prefer the least intrusive technique that answers the
question. Use the generic_linux_command tool for anything without a
dedicated tool. When the objective is met or no further progress is
possible, state your conclusions without calling any tool.`)
	return b.String()
}

func initialTask(cfg *config.Config) string {
	if cfg.Operation.Objective != "" {
		return fmt.Sprintf("Begin the assessment of %s. Objective: %s",
			cfg.Operation.Target, cfg.Operation.Objective)
	}
	return fmt.Sprintf("Begin the assessment of %s.", cfg.Operation.Target)
}
