package compiler

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/BDNK1/blockflow/flow"
	"github.com/BDNK1/blockflow/internal/registry"
)

// synthesizeConfig produces the config literal for one caller. Stored values
// are looked up by canonical key, so "Max Items" and "max_items" address the
// same field. Declared fields missing from stored get their default; stored
// keys that no field declares are passed through.
func synthesizeConfig(fields []flow.ConfigField, stored map[string]any) (map[string]any, []string) {
	values, problems := canonicalValues(stored)
	config := make(map[string]any, len(fields)+len(values))

	for _, field := range fields {
		key := registry.ConfigKey(field.Label)
		if key == "" {
			problems = append(problems, fmt.Sprintf("config field with label %q has no usable key", field.Label))
			continue
		}

		raw, ok := values[key]
		delete(values, key)
		if !ok || raw == nil {
			raw, ok = field.DefaultValue, field.DefaultValue != nil
		}
		if !ok {
			if field.Required {
				problems = append(problems, fmt.Sprintf("required config %q has no value", key))
			}
			config[key] = zeroValue(field)
			continue
		}

		v, err := coerce(field, raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("config %q: %v", key, err))
			config[key] = zeroValue(field)
			continue
		}
		if field.Type == flow.FieldSelect && len(field.Options) > 0 && !contains(field.Options, v.(string)) {
			problems = append(problems, fmt.Sprintf("config %q: %q is not one of %s", key, v, strings.Join(field.Options, ", ")))
		}
		config[key] = v
	}

	extra := make([]string, 0, len(values))
	for k := range values {
		extra = append(extra, k)
	}
	sort.Strings(extra)
	for _, k := range extra {
		config[k] = values[k]
	}

	return config, problems
}

// canonicalValues re-keys stored by canonical key. When several stored keys
// share a canonical key, the one already in canonical form wins, otherwise the
// first in sorted order, and the collision is reported.
func canonicalValues(stored map[string]any) (map[string]any, []string) {
	keys := make([]string, 0, len(stored))
	for k := range stored {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make(map[string]any, len(stored))
	source := make(map[string]string, len(stored))
	var problems []string
	for _, k := range keys {
		key := registry.ConfigKey(k)
		prev, taken := source[key]
		if taken {
			if k == key && prev != key {
				problems = append(problems, fmt.Sprintf("config keys %q and %q both map to %q, using %q", prev, k, key, k))
				values[key], source[key] = stored[k], k
			} else {
				problems = append(problems, fmt.Sprintf("config keys %q and %q both map to %q, using %q", prev, k, key, prev))
			}
			continue
		}
		values[key], source[key] = stored[k], k
	}
	return values, problems
}

func zeroValue(field flow.ConfigField) any {
	switch field.Type {
	case flow.FieldNumber:
		return 0
	case flow.FieldBoolean:
		return false
	case flow.FieldSelect:
		if len(field.Options) > 0 {
			return field.Options[0]
		}
		return ""
	case flow.FieldJSON:
		return map[string]any{}
	case flow.FieldList:
		return []any{}
	default:
		return ""
	}
}

// coerce converts raw to the Go value matching the field type, using weak
// decoding so "3" becomes 3 and 1 becomes true.
func coerce(field flow.ConfigField, raw any) (any, error) {
	switch field.Type {
	case flow.FieldNumber:
		var n float64
		if err := mapstructure.WeakDecode(raw, &n); err != nil {
			return nil, fmt.Errorf("expected a number: %w", err)
		}
		return n, nil
	case flow.FieldBoolean:
		var b bool
		if err := mapstructure.WeakDecode(raw, &b); err != nil {
			return nil, fmt.Errorf("expected a boolean: %w", err)
		}
		return b, nil
	case flow.FieldJSON:
		s, ok := raw.(string)
		if !ok {
			return normalizeJSON(raw)
		}
		var v any
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return nil, fmt.Errorf("expected JSON: %w", err)
		}
		return v, nil
	case flow.FieldList:
		if s, ok := raw.(string); ok {
			items := []any{}
			for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '\n' }) {
				if part = strings.TrimSpace(part); part != "" {
					items = append(items, part)
				}
			}
			return items, nil
		}
		var items []any
		if err := mapstructure.WeakDecode(raw, &items); err != nil {
			return nil, fmt.Errorf("expected a list: %w", err)
		}
		return normalizeJSON(items)
	default:
		var s string
		if err := mapstructure.WeakDecode(raw, &s); err != nil {
			return nil, fmt.Errorf("expected text: %w", err)
		}
		return s, nil
	}
}

// normalizeJSON converts values decoded from YAML (map[string]any with nested
// map[any]any or typed slices) into plain JSON values.
func normalizeJSON(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("value is not JSON serializable: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
