package parser

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// frontmatterKeys are consumed into typed feature fields; every other key is
// copied into feature metadata with a "fm_" prefix.
var frontmatterKeys = map[string]bool{
	"status":       true,
	"created":      true,
	"stakeholders": true,
	"tags":         true,
}

// frontmatterKeyPattern matches the "key:" line a YAML frontmatter block opens with.
var frontmatterKeyPattern = regexp.MustCompile(`^[A-Za-z_][\w-]*\s*:(\s|$)`)

// splitFrontmatter separates YAML frontmatter (between --- delimiters) from
// the Markdown body. Returns an empty map and the full line set when the
// first line is not "---", no closing delimiter exists, or the block does
// not open with a "key:" line (a leading horizontal rule).
func splitFrontmatter(lines []string) (map[string]interface{}, []string, error) {
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return map[string]interface{}{}, lines, nil
	}

	closeIdx := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			closeIdx = i
			break
		}
	}
	if closeIdx == -1 || !opensWithKey(lines[1:closeIdx]) {
		return map[string]interface{}{}, lines, nil
	}

	fm := make(map[string]interface{})
	if err := yaml.Unmarshal([]byte(strings.Join(lines[1:closeIdx], "\n")), &fm); err != nil {
		return nil, nil, fmt.Errorf("invalid YAML frontmatter: %w", err)
	}
	if fm == nil {
		fm = map[string]interface{}{}
	}

	return fm, lines[closeIdx+1:], nil
}

// opensWithKey reports whether the first non-blank line of block is a YAML
// mapping key. An all-blank block counts as empty frontmatter.
func opensWithKey(block []string) bool {
	for _, line := range block {
		if strings.TrimSpace(line) == "" {
			continue
		}
		return frontmatterKeyPattern.MatchString(line)
	}
	return true
}

// frontmatterString reads a scalar frontmatter value as a trimmed string.
func frontmatterString(fm map[string]interface{}, key string) string {
	raw, ok := fm[key]
	if !ok || raw == nil {
		return ""
	}
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v)
	case time.Time:
		return v.Format("2006-01-02")
	default:
		return fmt.Sprintf("%v", v)
	}
}

// frontmatterList reads a list value, accepting both YAML sequences and
// comma-separated strings. Empty items are dropped.
func frontmatterList(fm map[string]interface{}, key string) []string {
	raw, ok := fm[key]
	if !ok {
		return nil
	}

	var out []string
	switch v := raw.(type) {
	case []interface{}:
		for _, item := range v {
			if item == nil {
				continue
			}
			if s := strings.TrimSpace(fmt.Sprintf("%v", item)); s != "" {
				out = append(out, s)
			}
		}
	case string:
		out = splitList(v)
	}
	return out
}

// extraFrontmatter returns the keys not consumed by typed fields, prefixed
// with "fm_", with values converted to JSON-encodable forms.
func extraFrontmatter(fm map[string]interface{}) map[string]interface{} {
	keys := make([]string, 0, len(fm))
	for k := range fm {
		if !frontmatterKeys[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make(map[string]interface{}, len(keys))
	for _, k := range keys {
		out["fm_"+k] = jsonSafe(fm[k])
	}
	return out
}

// jsonSafe converts YAML-decoded values so encoding/json accepts them.
// Maps with non-string keys are re-keyed by their formatted key.
func jsonSafe(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, item := range t {
			out[k] = jsonSafe(item)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, item := range t {
			out[fmt.Sprintf("%v", k)] = jsonSafe(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = jsonSafe(item)
		}
		return out
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return v
	}
}
