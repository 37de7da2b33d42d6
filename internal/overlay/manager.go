package overlay

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrCooldown rejects an apply/update too soon after the last one.
	ErrCooldown = errors.New("overlay: cooldown in effect")

	// ErrNoOverlay rejects add_context when no overlay is active.
	ErrNoOverlay = errors.New("overlay: no active overlay")

	// ErrEmpty rejects overlays with no directives.
	ErrEmpty = errors.New("overlay: no directives")
)

// Manager owns a session's active overlay.
type Manager struct {
	mu sync.Mutex

	cooldownSteps int
	defaultTTL    int

	active           *Overlay
	lastMutationStep int
	hasMutation      bool

	store  *Store
	logger *slog.Logger
}

// NewManager creates a Manager. store is optional; when set, mutations are
// persisted and the previously saved overlay is loaded.
func NewManager(cooldownSteps, defaultTTLSteps int, store *Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		cooldownSteps: cooldownSteps,
		defaultTTL:    defaultTTLSteps,
		store:         store,
		logger:        logger,
	}
	if store != nil {
		if saved, err := store.Load(); err != nil {
			logger.Warn("saved overlay not loaded", "error", err)
		} else if saved != nil {
			m.active = saved
			m.lastMutationStep = saved.CreatedStep
			m.hasMutation = true
		}
	}
	return m
}

// Apply installs a new overlay, replacing any existing one, subject to the
// cooldown. expiresAfterSteps of 0 uses the manager default.
func (m *Manager) Apply(directives []string, trigger string, currentStep, expiresAfterSteps int) error {
	if len(directives) == 0 {
		return ErrEmpty
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkCooldownLocked(currentStep); err != nil {
		return err
	}
	if expiresAfterSteps <= 0 {
		expiresAfterSteps = m.defaultTTL
	}

	m.active = &Overlay{
		Directives:        directives,
		Origin:            trigger,
		CreatedStep:       currentStep,
		ExpiresAfterSteps: expiresAfterSteps,
		History: []HistoryEntry{{
			Step:   currentStep,
			Action: "apply",
			Note:   trigger,
			At:     time.Now().UTC(),
		}},
	}
	m.lastMutationStep = currentStep
	m.hasMutation = true
	m.persistLocked()

	m.logger.Info("overlay applied",
		"trigger", trigger,
		"step", currentStep,
		"directives", len(directives))
	return nil
}

// Update parses free-form prompt text into directives and applies it.
func (m *Manager) Update(promptText string, currentStep int, trigger, note string) error {
	directives := ParseDirectives(promptText)
	if len(directives) == 0 {
		return ErrEmpty
	}
	if err := m.Apply(directives, trigger, currentStep, 0); err != nil {
		return err
	}
	if note != "" {
		m.mu.Lock()
		if m.active != nil && len(m.active.History) > 0 {
			m.active.History[len(m.active.History)-1].Note = note
			m.persistLocked()
		}
		m.mu.Unlock()
	}
	return nil
}

// AddContext appends one directive to the active overlay, recording the
// reviewer as provenance. Not subject to the cooldown. Fails when no
// overlay is active at currentStep.
func (m *Manager) AddContext(context string, currentStep int, reviewer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil || m.active.Expired(currentStep) {
		return ErrNoOverlay
	}
	m.active.Directives = append(m.active.Directives, context)
	m.active.History = append(m.active.History, HistoryEntry{
		Step:     currentStep,
		Action:   "add_context",
		Reviewer: reviewer,
		At:       time.Now().UTC(),
	})
	m.persistLocked()
	return nil
}

// View returns a copy of the active overlay and whether one is active at
// currentStep. An expired overlay reads as inactive even if never reset.
func (m *Manager) View(currentStep int) (*Overlay, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil || m.active.Expired(currentStep) {
		return nil, false
	}
	copied := *m.active
	copied.Directives = append([]string(nil), m.active.Directives...)
	copied.History = append([]HistoryEntry(nil), m.active.History...)
	return &copied, true
}

// Reset clears the active overlay and the cooldown timer.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = nil
	m.hasMutation = false
	if m.store != nil {
		if err := m.store.Clear(); err != nil {
			m.logger.Warn("overlay file not cleared", "error", err)
		}
	}
}

func (m *Manager) checkCooldownLocked(currentStep int) error {
	if !m.hasMutation || m.cooldownSteps <= 0 {
		return nil
	}
	elapsed := currentStep - m.lastMutationStep
	if elapsed < m.cooldownSteps {
		return fmt.Errorf("%w: %d steps since last change, need %d",
			ErrCooldown, elapsed, m.cooldownSteps)
	}
	return nil
}

func (m *Manager) persistLocked() {
	if m.store == nil || m.active == nil {
		return
	}
	if err := m.store.Save(m.active); err != nil {
		m.logger.Warn("overlay not persisted", "error", err)
	}
}
