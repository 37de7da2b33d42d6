package overlay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vantasec/redloop/internal/memory"
	"github.com/vantasec/redloop/pkg/models"
)

// Signals are the three categories the optimizer extracts from the memory
// store to steer the next directives.
type Signals struct {
	// Findings are confirmed findings: patterns worth pursuing further.
	Findings []string

	// DeadEnds are approaches blocked repeatedly against this target.
	DeadEnds []string

	// Tactics are validated successful tactics worth reinforcing.
	Tactics []string
}

// Rewriter turns extracted signals into revised execution directive text.
// The default is a deterministic template; a model-backed rewriter can be
// substituted.
type Rewriter func(ctx context.Context, signals Signals) (string, error)

// Optimizer periodically rebuilds the overlay from accumulated memory.
type Optimizer struct {
	store    memory.Store
	manager  *Manager
	interval int
	user     string
	target   string
	rewrite  Rewriter
	logger   *slog.Logger
}

// NewOptimizer creates an Optimizer. interval is in steps; 0 disables
// optimization entirely.
func NewOptimizer(store memory.Store, manager *Manager, interval int, user, target string, logger *slog.Logger) *Optimizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Optimizer{
		store:    store,
		manager:  manager,
		interval: interval,
		user:     user,
		target:   target,
		rewrite:  templateRewrite,
		logger:   logger,
	}
}

// SetRewriter replaces the rewrite function.
func (o *Optimizer) SetRewriter(r Rewriter) {
	if r != nil {
		o.rewrite = r
	}
}

// MaybeOptimize runs the optimization path when currentStep lands on the
// rebuild interval. All failures are caught and logged; the previous
// directives stay untouched.
func (o *Optimizer) MaybeOptimize(ctx context.Context, currentStep int) {
	if o.interval <= 0 || currentStep == 0 || currentStep%o.interval != 0 {
		return
	}
	if o.store == nil || o.manager == nil {
		return
	}

	signals, err := o.extract(ctx)
	if err != nil {
		o.logger.Warn("overlay optimization skipped: signal extraction failed", "error", err)
		return
	}
	if len(signals.Findings) == 0 && len(signals.DeadEnds) == 0 && len(signals.Tactics) == 0 {
		return
	}

	text, err := o.rewrite(ctx, signals)
	if err != nil {
		o.logger.Warn("overlay optimization skipped: rewrite failed", "error", err)
		return
	}
	if err := o.manager.Update(text, currentStep, "auto_optimization",
		fmt.Sprintf("rebuilt from %d findings, %d dead ends, %d tactics",
			len(signals.Findings), len(signals.DeadEnds), len(signals.Tactics))); err != nil {
		o.logger.Warn("overlay optimization skipped", "error", err)
	}
}

// extract pulls the three signal categories for this target.
func (o *Optimizer) extract(ctx context.Context) (Signals, error) {
	var signals Signals

	findings, err := o.store.Search(ctx, "", memory.Filters{
		Category:         models.MemoryCategoryFinding,
		ValidationStatus: models.ValidationConfirmed,
		Target:           o.target,
		User:             o.user,
		Limit:            10,
	})
	if err != nil {
		return signals, err
	}
	for _, rec := range findings {
		signals.Findings = append(signals.Findings, rec.MemoryText)
	}

	blocked, err := o.store.Search(ctx, "", memory.Filters{
		Category: models.MemoryCategoryBlocked,
		Target:   o.target,
		User:     o.user,
		Limit:    10,
	})
	if err != nil {
		return signals, err
	}
	for _, rec := range blocked {
		signals.DeadEnds = append(signals.DeadEnds, rec.MemoryText)
	}

	tactics, err := o.store.Search(ctx, "", memory.Filters{
		Category:         models.MemoryCategoryTactic,
		ValidationStatus: models.ValidationConfirmed,
		Target:           o.target,
		User:             o.user,
		Limit:            10,
	})
	if err != nil {
		return signals, err
	}
	for _, rec := range tactics {
		signals.Tactics = append(signals.Tactics, rec.MemoryText)
	}

	return signals, nil
}

// templateRewrite is the default deterministic rewriter: one directive per
// signal, prioritized findings first.
func templateRewrite(ctx context.Context, signals Signals) (string, error) {
	var lines []string
	for _, f := range signals.Findings {
		lines = append(lines, "Build on confirmed finding: "+f)
	}
	for _, d := range signals.DeadEnds {
		lines = append(lines, "Do not retry blocked approach: "+d)
	}
	for _, t := range signals.Tactics {
		lines = append(lines, "Keep using validated tactic: "+t)
	}
	return strings.Join(lines, "\n"), nil
}
