package hitl

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Destructive command shapes that warrant an operator pause before
// execution. Matched case-insensitively against the flattened parameters.
var destructivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\brm\s+(-\w+\s+)*\S`),
	regexp.MustCompile(`(?i)\bshred\b`),
	regexp.MustCompile(`(?i)\bmkfs\b`),
	regexp.MustCompile(`(?i)\bdd\b.*\bof=`),
	regexp.MustCompile(`(?i)\bdrop\s+(table|database)\b`),
	regexp.MustCompile(`(?i)\btruncate\s+table\b`),
	regexp.MustCompile(`(?i)\bdel\s+/[fsq]\b`),
	regexp.MustCompile(`(?i)--(delete|remove|purge|wipe)\b`),
}

// Editor-style operations that delete content.
var destructiveOperations = map[string]bool{
	"delete":     true,
	"remove":     true,
	"delete_all": true,
}

// AutoPause evaluates tool calls for conditions that should interrupt the
// loop before execution: destructive parameter shapes and low model
// confidence.
type AutoPause struct {
	// PauseDestructive enables the destructive-pattern check.
	PauseDestructive bool

	// ConfidenceThreshold pauses calls whose reported confidence is below
	// this value. 0 disables the check.
	ConfidenceThreshold float64
}

// Evaluate reports whether the call should pause, and why. confidence < 0
// means the model reported none.
func (a AutoPause) Evaluate(toolName string, params json.RawMessage, confidence float64) (bool, string) {
	if a.PauseDestructive && isDestructive(params) {
		return true, "parameters match a destructive operation pattern"
	}
	if a.ConfidenceThreshold > 0 && confidence >= 0 && confidence < a.ConfidenceThreshold {
		return true, "reported confidence below threshold"
	}
	return false, ""
}

// isDestructive checks the operation field and all scalar string values
// against the destructive patterns.
func isDestructive(params json.RawMessage) bool {
	if len(params) == 0 {
		return false
	}
	var decoded map[string]any
	if err := json.Unmarshal(params, &decoded); err != nil {
		return matchesDestructive(string(params))
	}

	if op, ok := decoded["operation"].(string); ok {
		if destructiveOperations[strings.ToLower(strings.TrimSpace(op))] {
			return true
		}
	}
	for _, v := range decoded {
		if s, ok := v.(string); ok && matchesDestructive(s) {
			return true
		}
	}
	return false
}

func matchesDestructive(s string) bool {
	for _, re := range destructivePatterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
