package router

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Parameter keys that name the thing being operated on. They are placed
// directly after the options field, in this precedence order.
var targetKeys = []string{"target", "host", "url", "ip"}

// SynthesizeCommand builds a shell-style command line from a tool name and
// its input: name, then options, then the first present target-like field,
// then remaining scalar parameters as sorted --key value flags.
func SynthesizeCommand(name string, input json.RawMessage) string {
	params := decodeParams(input)

	parts := []string{name}

	if options, ok := params["options"]; ok {
		if s := scalarString(options); s != "" {
			parts = append(parts, s)
		}
	}

	usedTarget := ""
	for _, key := range targetKeys {
		if v, ok := params[key]; ok {
			if s := scalarString(v); s != "" {
				parts = append(parts, s)
				usedTarget = key
				break
			}
		}
	}

	var flagKeys []string
	for key, v := range params {
		if key == "options" || key == usedTarget {
			continue
		}
		if scalarString(v) == "" {
			continue
		}
		flagKeys = append(flagKeys, key)
	}
	sort.Strings(flagKeys)
	for _, key := range flagKeys {
		parts = append(parts, "--"+key, scalarString(params[key]))
	}

	return strings.Join(parts, " ")
}

// decodeParams coerces tool input into a parameter map. Raw strings are
// first tried as serialized maps, then wrapped under an options key.
func decodeParams(input json.RawMessage) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}

	var m map[string]any
	if err := json.Unmarshal(input, &m); err == nil {
		return m
	}

	var s string
	if err := json.Unmarshal(input, &s); err == nil {
		var nested map[string]any
		if err := json.Unmarshal([]byte(s), &nested); err == nil {
			return nested
		}
		return map[string]any{"options": s}
	}

	return map[string]any{"options": string(input)}
}

// scalarString renders scalar values for the command line; compound values
// (maps, slices) render empty and are skipped.
func scalarString(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case bool:
		return fmt.Sprintf("%t", value)
	case float64:
		// JSON numbers decode as float64; render integers without the
		// fractional part.
		if value == float64(int64(value)) {
			return fmt.Sprintf("%d", int64(value))
		}
		return fmt.Sprintf("%g", value)
	case json.Number:
		return value.String()
	default:
		return ""
	}
}
