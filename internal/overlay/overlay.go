// Package overlay lets the running agent revise its own operating
// directives mid-session, layered on top of the base system prompt, with a
// cooldown against rewrite churn and step-based expiry.
package overlay

import (
	"strings"
	"time"
)

// HistoryEntry records one mutation of the active overlay.
type HistoryEntry struct {
	Step     int       `yaml:"step" json:"step"`
	Action   string    `yaml:"action" json:"action"`
	Note     string    `yaml:"note,omitempty" json:"note,omitempty"`
	Reviewer string    `yaml:"reviewer,omitempty" json:"reviewer,omitempty"`
	At       time.Time `yaml:"at" json:"at"`
}

// Overlay is a supplemental, time-boxed set of operating directives.
type Overlay struct {
	Directives []string `yaml:"directives" json:"directives"`

	// Origin is the trigger that produced this overlay ("operator",
	// "self_correction", "auto_optimization", ...).
	Origin string `yaml:"origin" json:"origin"`

	CreatedStep int `yaml:"created_step" json:"created_step"`

	// ExpiresAfterSteps bounds the overlay's lifetime; 0 means no expiry.
	ExpiresAfterSteps int `yaml:"expires_after_steps,omitempty" json:"expires_after_steps,omitempty"`

	History []HistoryEntry `yaml:"history,omitempty" json:"history,omitempty"`
}

// Expired reports whether the overlay has aged out at currentStep.
func (o *Overlay) Expired(currentStep int) bool {
	if o == nil {
		return true
	}
	if o.ExpiresAfterSteps <= 0 {
		return false
	}
	return o.CreatedStep+o.ExpiresAfterSteps <= currentStep
}

// Render produces the prompt fragment appended to the system directive.
func (o *Overlay) Render() string {
	if o == nil || len(o.Directives) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Current operating directives (supersede conflicting base instructions):\n")
	for i, d := range o.Directives {
		b.WriteString(strings.TrimSpace(d))
		if i < len(o.Directives)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

// ParseDirectives splits free-form text into an ordered directive list,
// one per non-empty line.
func ParseDirectives(text string) []string {
	var directives []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		directives = append(directives, line)
	}
	return directives
}
