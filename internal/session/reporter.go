package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vantasec/redloop/internal/memory"
	"github.com/vantasec/redloop/internal/provider"
	"github.com/vantasec/redloop/pkg/models"
)

// Reporter produces the final assessment report for a session.
type Reporter interface {
	GenerateReport(ctx context.Context, s *Session) (string, error)
}

// ModelReporter asks the model backend to write the final report from the
// accumulated findings. When the model call fails it falls back to a plain
// findings digest so forced finalization always yields a report.
type ModelReporter struct {
	provider  provider.Provider
	store     memory.Store
	dir       string
	maxTokens int
	logger    *slog.Logger
}

// ModelReporterOptions configures a ModelReporter. Dir is where report.md
// is written; empty skips the write.
type ModelReporterOptions struct {
	Provider  provider.Provider
	Store     memory.Store
	Dir       string
	MaxTokens int
	Logger    *slog.Logger
}

func NewModelReporter(opts ModelReporterOptions) *ModelReporter {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &ModelReporter{
		provider:  opts.Provider,
		store:     opts.Store,
		dir:       opts.Dir,
		maxTokens: opts.MaxTokens,
		logger:    opts.Logger,
	}
}

const reportSystemPrompt = `You are writing the final report for a completed security assessment.
Produce a concise markdown report with sections: Summary, Findings (with severity and validation status), Blocked Paths, and Recommendations. Report only what the assessment record supports.`

func (r *ModelReporter) GenerateReport(ctx context.Context, s *Session) (string, error) {
	digest := r.digest(ctx, s)

	report := digest
	if r.provider != nil {
		generated, err := r.generate(ctx, s, digest)
		if err != nil {
			r.logger.Warn("model report generation failed, using digest", "error", err)
		} else if generated != "" {
			report = generated
		}
	}

	if r.dir != "" {
		if err := r.write(report); err != nil {
			r.logger.Warn("report write failed", "error", err)
		}
	}
	return report, nil
}

func (r *ModelReporter) generate(ctx context.Context, s *Session, digest string) (string, error) {
	prompt := fmt.Sprintf("Target: %s\nObjective: %s\nSteps executed: %d\nDuration: %s\n\nAssessment record:\n\n%s",
		s.Target, s.Objective, s.Step, s.Elapsed().Round(time.Second), digest)

	resp, err := r.provider.Complete(ctx, &provider.Request{
		Model:       s.Conversation.Model,
		System:      reportSystemPrompt,
		Messages:    []models.Message{*models.NewTextMessage(models.RoleUser, prompt)},
		MaxTokens:   r.maxTokens,
		Temperature: -1,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Message.Text()), nil
}

// digest renders the memory store contents as a plain findings summary.
func (r *ModelReporter) digest(ctx context.Context, s *Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Assessment Report: %s\n\n", s.Target)
	fmt.Fprintf(&b, "Objective: %s\n\nSteps: %d, elapsed %s, status %s\n",
		s.Objective, s.Step, s.Elapsed().Round(time.Second), s.Status)

	if r.store == nil {
		return b.String()
	}

	sections := []struct {
		title    string
		category models.MemoryCategory
	}{
		{"Findings", models.MemoryCategoryFinding},
		{"Blocked Paths", models.MemoryCategoryBlocked},
		{"Tactics", models.MemoryCategoryTactic},
	}
	for _, section := range sections {
		records, err := r.store.Search(ctx, "", memory.Filters{
			Category: section.category,
			Target:   s.Target,
		})
		if err != nil {
			r.logger.Warn("memory search failed", "category", section.category, "error", err)
			continue
		}
		if len(records) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n\n", section.title)
		for _, rec := range records {
			line := rec.MemoryText
			if rec.Metadata.Severity != "" {
				line = fmt.Sprintf("[%s] %s", rec.Metadata.Severity, line)
			}
			if rec.Metadata.ValidationStatus != "" {
				line = fmt.Sprintf("%s (%s)", line, rec.Metadata.ValidationStatus)
			}
			fmt.Fprintf(&b, "- %s\n", line)
		}
	}
	return b.String()
}

func (r *ModelReporter) write(report string) error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(r.dir, "report.md")
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(report), 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
