package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// EnvPrefix heads every environment override. A variable like
// ZEPTOCLAW_AGENTS_DEFAULTS_MAX_TOKENS=8192 overrides agents.defaults.max_tokens.
const EnvPrefix = "ZEPTOCLAW_"

// Load reads the config file (JSON5 or YAML by extension; empty path means
// defaults only), applies environment overrides, and returns the config
// plus unknown-key warnings.
func Load(path string) (*Config, []string, error) {
	raw := map[string]any{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, fmt.Errorf("read config: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		raw, err = parseByExtension([]byte(expanded), path)
		if err != nil {
			return nil, nil, fmt.Errorf("parse config: %w", err)
		}
	}

	warnings := unknownKeys(raw, reflect.TypeOf(Config{}), "")

	applyEnvOverrides(raw, os.Environ())

	cfg := Default()
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("normalize config: %w", err)
	}
	if err := json.Unmarshal(encoded, cfg); err != nil {
		return nil, nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, warnings, nil
}

func parseByExtension(data []byte, path string) (map[string]any, error) {
	raw := map[string]any{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	default:
		if err := json5.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	}
	return raw, nil
}

// applyEnvOverrides writes ZEPTOCLAW_* variables into the raw document.
// Path segments are matched greedily against struct json tags, longest
// join first, so MAX_TOKENS resolves to max_tokens rather than a nested
// max.tokens.
func applyEnvOverrides(raw map[string]any, environ []string) {
	rootType := reflect.TypeOf(Config{})
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		key, value, ok := strings.Cut(strings.TrimPrefix(kv, EnvPrefix), "=")
		if !ok || key == "" {
			continue
		}
		segments := strings.Split(strings.ToLower(key), "_")
		setOverride(raw, rootType, segments, value)
	}
}

func setOverride(raw map[string]any, t reflect.Type, segments []string, value string) bool {
	if len(segments) == 0 {
		return false
	}
	fields := taggedFields(t)

	for take := len(segments); take >= 1; take-- {
		name := strings.Join(segments[:take], "_")
		field, ok := fields[name]
		if !ok {
			continue
		}
		rest := segments[take:]
		if len(rest) == 0 {
			parsed, ok := parseScalar(field.Type, value)
			if !ok {
				return false
			}
			raw[name] = parsed
			return true
		}
		if field.Type.Kind() == reflect.Struct {
			child, ok := raw[name].(map[string]any)
			if !ok {
				child = map[string]any{}
				raw[name] = child
			}
			if setOverride(child, field.Type, rest, value) {
				return true
			}
		}
	}
	return false
}

// parseScalar converts an env string to the field's JSON-compatible value.
func parseScalar(t reflect.Type, value string) (any, bool) {
	switch t.Kind() {
	case reflect.String:
		return value, true
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		return b, err == nil
	case reflect.Int, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		return n, err == nil
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		return f, err == nil
	case reflect.Slice:
		if t.Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			out := make([]any, 0, len(parts))
			for _, p := range parts {
				if trimmed := strings.TrimSpace(p); trimmed != "" {
					out = append(out, trimmed)
				}
			}
			return out, true
		}
	}
	return nil, false
}

// taggedFields maps json tags to struct fields, inlining anonymous embeds.
func taggedFields(t reflect.Type) map[string]reflect.StructField {
	out := make(map[string]reflect.StructField)
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Anonymous && field.Type.Kind() == reflect.Struct && field.Tag.Get("json") == "" {
			for tag, embedded := range taggedFields(field.Type) {
				out[tag] = embedded
			}
			continue
		}
		tag, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if tag == "" || tag == "-" {
			continue
		}
		out[tag] = field
	}
	return out
}

// unknownKeys walks the raw document against the config schema and returns
// a warning per unrecognized key, with a did-you-mean suggestion when a
// known key is close.
func unknownKeys(raw map[string]any, t reflect.Type, prefix string) []string {
	fields := taggedFields(t)
	known := make([]string, 0, len(fields))
	for tag := range fields {
		known = append(known, tag)
	}
	sort.Strings(known)

	var warnings []string
	keys := make([]string, 0, len(raw))
	for key := range raw {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		field, ok := fields[key]
		if !ok {
			warning := fmt.Sprintf("unknown config key %q", joinPath(prefix, key))
			if suggestion := closest(key, known); suggestion != "" {
				warning += fmt.Sprintf(" (did you mean %q?)", suggestion)
			}
			warnings = append(warnings, warning)
			continue
		}
		child, isMap := raw[key].(map[string]any)
		if isMap && field.Type.Kind() == reflect.Struct {
			warnings = append(warnings, unknownKeys(child, field.Type, joinPath(prefix, key))...)
		}
	}
	return warnings
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// closest returns the known key with the smallest Levenshtein distance,
// if that distance is small enough to plausibly be a typo.
func closest(key string, known []string) string {
	best := ""
	bestDist := 3 // only suggest near-misses
	for _, candidate := range known {
		if d := levenshtein(key, candidate); d < bestDist {
			best, bestDist = candidate, d
		}
	}
	return best
}

func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
