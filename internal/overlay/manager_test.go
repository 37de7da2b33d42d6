package overlay

import (
	"context"
	"errors"
	"testing"

	"github.com/vantasec/redloop/internal/memory"
	"github.com/vantasec/redloop/pkg/models"
)

func TestApplyCooldown(t *testing.T) {
	m := NewManager(20, 0, nil, nil)

	if err := m.Apply([]string{"enumerate subdomains first"}, "operator", 5, 0); err != nil {
		t.Fatalf("Apply() at step 5 error = %v", err)
	}
	err := m.Apply([]string{"different directive"}, "operator", 10, 0)
	if !errors.Is(err, ErrCooldown) {
		t.Errorf("Apply() at step 10 with cooldown 20 = %v, want ErrCooldown", err)
	}
	// The rejected apply must not mutate state.
	if o, active := m.View(10); !active || o.Directives[0] != "enumerate subdomains first" {
		t.Error("rejected Apply() mutated the active overlay")
	}

	m.Reset()
	if err := m.Apply([]string{"fresh start"}, "operator", 10, 0); err != nil {
		t.Errorf("Apply() after Reset() error = %v, want nil", err)
	}
}

func TestUpdateParsesDirectives(t *testing.T) {
	m := NewManager(0, 0, nil, nil)

	text := "focus on the admin panel\n\n   avoid noisy scans\nreport every credential found\n"
	if err := m.Update(text, 3, "self_correction", "tool output suggested pivot"); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	o, active := m.View(3)
	if !active {
		t.Fatal("View() reports no active overlay after Update()")
	}
	want := []string{"focus on the admin panel", "avoid noisy scans", "report every credential found"}
	if len(o.Directives) != len(want) {
		t.Fatalf("directives = %v, want %v", o.Directives, want)
	}
	for i := range want {
		if o.Directives[i] != want[i] {
			t.Errorf("directive[%d] = %q, want %q", i, o.Directives[i], want[i])
		}
	}
	if o.History[len(o.History)-1].Note != "tool output suggested pivot" {
		t.Error("Update() note not recorded in history")
	}
}

func TestAddContextRequiresActiveOverlay(t *testing.T) {
	m := NewManager(0, 0, nil, nil)

	if err := m.AddContext("extra rule", 1, "reviewer-a"); !errors.Is(err, ErrNoOverlay) {
		t.Errorf("AddContext() without overlay = %v, want ErrNoOverlay", err)
	}

	if err := m.Apply([]string{"base directive"}, "operator", 1, 0); err != nil {
		t.Fatal(err)
	}
	if err := m.AddContext("extra rule", 2, "reviewer-a"); err != nil {
		t.Fatalf("AddContext() error = %v", err)
	}

	o, _ := m.View(2)
	if len(o.Directives) != 2 || o.Directives[1] != "extra rule" {
		t.Errorf("directives = %v, want appended context", o.Directives)
	}
	last := o.History[len(o.History)-1]
	if last.Action != "add_context" || last.Reviewer != "reviewer-a" {
		t.Errorf("history entry = %+v, want add_context by reviewer-a", last)
	}
}

func TestExpiryTreatsOverlayInactive(t *testing.T) {
	m := NewManager(0, 0, nil, nil)

	if err := m.Apply([]string{"short lived"}, "operator", 10, 5); err != nil {
		t.Fatal(err)
	}
	if _, active := m.View(14); !active {
		t.Error("overlay inactive at step 14, want active until created+expires")
	}
	if _, active := m.View(15); active {
		t.Error("overlay still active at step 15, want expired (10+5 <= 15)")
	}
	// Expired overlay also blocks add_context.
	if err := m.AddContext("late addition", 15, ""); !errors.Is(err, ErrNoOverlay) {
		t.Errorf("AddContext() on expired overlay = %v, want ErrNoOverlay", err)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	root := t.TempDir()
	store, err := NewStore(root, "app.example.com", "op-1")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	m := NewManager(0, 0, store, nil)
	if err := m.Apply([]string{"persisted directive"}, "operator", 2, 0); err != nil {
		t.Fatal(err)
	}

	// A fresh manager on the same store picks up the saved overlay.
	m2 := NewManager(0, 0, store, nil)
	o, active := m2.View(2)
	if !active {
		t.Fatal("reloaded manager has no active overlay")
	}
	if o.Directives[0] != "persisted directive" {
		t.Errorf("reloaded directive = %q", o.Directives[0])
	}

	m2.Reset()
	if saved, err := store.Load(); err != nil || saved != nil {
		t.Errorf("Load() after Reset() = %v, %v, want nil, nil", saved, err)
	}
}

func TestDirectiveToolUpdateAndAddContext(t *testing.T) {
	m := NewManager(0, 0, nil, nil)
	step := 3
	tool := NewDirectiveTool(m, func() int { return step })

	result, err := tool.Execute(context.Background(), []byte(`{"action":"update","directives":"probe the API first\nkeep scans quiet","note":"pivot"}`))
	if err != nil {
		t.Fatalf("Execute(update) error = %v", err)
	}
	if result.IsError() {
		t.Fatalf("Execute(update) returned error result: %s", result.Text())
	}
	o, active := m.View(step)
	if !active || len(o.Directives) != 2 {
		t.Fatalf("directives after update = %v, want 2 active", o.Directives)
	}
	if o.Origin != "agent" {
		t.Errorf("origin = %q, want agent", o.Origin)
	}

	step = 4
	result, err = tool.Execute(context.Background(), []byte(`{"action":"add_context","context":"WAF drops bursts over 10 req/s"}`))
	if err != nil {
		t.Fatalf("Execute(add_context) error = %v", err)
	}
	if result.IsError() {
		t.Fatalf("Execute(add_context) returned error result: %s", result.Text())
	}
	o, _ = m.View(step)
	if len(o.Directives) != 3 || o.Directives[2] != "WAF drops bursts over 10 req/s" {
		t.Errorf("directives = %v, want appended context", o.Directives)
	}
}

func TestDirectiveToolReportsCooldownAsErrorResult(t *testing.T) {
	m := NewManager(20, 0, nil, nil)
	tool := NewDirectiveTool(m, func() int { return 5 })

	if result, err := tool.Execute(context.Background(), []byte(`{"action":"update","directives":"first"}`)); err != nil || result.IsError() {
		t.Fatalf("first update = %v, %v", result, err)
	}
	result, err := tool.Execute(context.Background(), []byte(`{"action":"update","directives":"second"}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.IsError() {
		t.Error("update during cooldown should return an error result")
	}

	result, err = tool.Execute(context.Background(), []byte(`{"action":"retire"}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.IsError() {
		t.Error("unknown action should return an error result")
	}
}

func TestOptimizerRebuildsFromMemory(t *testing.T) {
	store, err := memory.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	records := []*models.MemoryRecord{
		{
			User:       "operator",
			MemoryText: "admin panel on :8080 accepts default creds",
			Metadata: models.MemoryMetadata{
				Category:         models.MemoryCategoryFinding,
				ValidationStatus: models.ValidationConfirmed,
				Target:           "app.example.com",
			},
		},
		{
			User:       "operator",
			MemoryText: "sqlmap blocked by WAF",
			Metadata: models.MemoryMetadata{
				Category: models.MemoryCategoryBlocked,
				Target:   "app.example.com",
			},
		},
	}
	for _, rec := range records {
		if err := store.Add(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	manager := NewManager(0, 0, nil, nil)
	opt := NewOptimizer(store, manager, 5, "operator", "app.example.com", nil)

	// Step 4 is off-interval: nothing happens.
	opt.MaybeOptimize(ctx, 4)
	if _, active := manager.View(4); active {
		t.Error("optimizer ran off-interval")
	}

	opt.MaybeOptimize(ctx, 5)
	o, active := manager.View(5)
	if !active {
		t.Fatal("optimizer did not apply an overlay at the interval step")
	}
	if len(o.Directives) != 2 {
		t.Fatalf("directives = %v, want one per signal", o.Directives)
	}
	if o.Origin != "auto_optimization" {
		t.Errorf("origin = %q, want auto_optimization", o.Origin)
	}
}

func TestOptimizerFailureLeavesDirectives(t *testing.T) {
	store, err := memory.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	if err := store.Add(ctx, &models.MemoryRecord{
		User:       "operator",
		MemoryText: "something confirmed",
		Metadata: models.MemoryMetadata{
			Category:         models.MemoryCategoryFinding,
			ValidationStatus: models.ValidationConfirmed,
			Target:           "t",
		},
	}); err != nil {
		t.Fatal(err)
	}

	manager := NewManager(0, 0, nil, nil)
	if err := manager.Apply([]string{"original directive"}, "operator", 1, 0); err != nil {
		t.Fatal(err)
	}

	opt := NewOptimizer(store, manager, 5, "operator", "t", nil)
	opt.SetRewriter(func(ctx context.Context, signals Signals) (string, error) {
		return "", errors.New("rewrite model unavailable")
	})

	opt.MaybeOptimize(ctx, 5)
	o, active := manager.View(5)
	if !active || o.Directives[0] != "original directive" {
		t.Error("failed optimization must leave previous directives untouched")
	}
}
