// Package snapshot compares the serialized form of a live record with a raw
// form submission. Both sides are first normalized into plain nested maps
// (map[string]any, []any, string, bool, int64, float64, nil) and then diffed
// structurally in both directions.
package snapshot

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// TimeLayout is the canonical rendering of every date leaf, always in UTC.
const TimeLayout = "2006/01/02 15:04"

// IdentityKey is ignored by the differ at every depth.
const IdentityKey = "id"

var inputTimeLayouts = []string{
	TimeLayout,
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	"02-01-2006 15:04",
}

// Rules declares how each side is normalized before diffing.
type Rules struct {
	// Current applies to the serialized live record.
	Current Table
	// Proposed applies to the raw submitted payload.
	Proposed Table
	// Absent gives the value a form omits for a path, such as an unchecked
	// checkbox. It is filled in before the Proposed rules run.
	Absent Defaults
}

// Defaults maps dotted field paths to the value a missing key stands for.
// The last segment must name a key; earlier segments may be "*".
type Defaults map[string]any

type Normalizer struct {
	current  compiledTable
	proposed compiledTable
	absent   []compiledDefault
}

func NewNormalizer(rules Rules) *Normalizer {
	return &Normalizer{
		current:  compile(rules.Current),
		proposed: compile(rules.Proposed),
		absent:   compileDefaults(rules.Absent),
	}
}

// Current normalizes the serialized live record. The input is not modified.
func (n *Normalizer) Current(record map[string]any) map[string]any {
	out, _ := n.current.apply(canonical(record), nil).(map[string]any)
	if out == nil {
		out = map[string]any{}
	}
	return out
}

// Proposed normalizes a raw submission. Entries of refs replace the
// top-level keys of the same name after the rules ran; they carry the
// resolved identifiers of related records (or nil).
func (n *Normalizer) Proposed(raw map[string]any, refs map[string]any) map[string]any {
	filled := canonical(raw)
	for _, entry := range n.absent {
		fillAbsent(filled, entry.segments, entry.value)
	}
	out, _ := n.proposed.apply(filled, nil).(map[string]any)
	if out == nil {
		out = map[string]any{}
	}
	for key, value := range refs {
		out[key] = canonical(value)
	}
	return out
}

func (t compiledTable) apply(value any, path []string) any {
	if len(path) > 0 {
		if rule, ok := t.lookup(path); ok {
			return coerce(rule, value)
		}
	}

	switch typed := value.(type) {
	case map[string]any:
		for key, child := range typed {
			childPath := append(path[:len(path):len(path)], key)
			if rule, ok := t.lookup(childPath); ok && rule == RuleDrop {
				delete(typed, key)
				continue
			}
			typed[key] = t.apply(child, childPath)
		}
		return typed
	case []any:
		for i, child := range typed {
			childPath := append(path[:len(path):len(path)], strconv.Itoa(i))
			typed[i] = t.apply(child, childPath)
		}
		return typed
	default:
		return value
	}
}

func coerce(rule Rule, value any) any {
	switch rule {
	case RuleBool:
		return Truthy(value)
	case RuleTime:
		return coerceTime(value)
	case RuleInt:
		return coerceInt(value)
	case RuleOptionList:
		return coerceOptionList(value)
	case RuleReference:
		return coerceReference(value)
	default:
		return value
	}
}

// Truthy interprets form and checkbox values the way an HTML form submits
// them: "", "0", "false", "off" and "no" are false, any other non-empty
// string is true.
func Truthy(value any) bool {
	switch typed := value.(type) {
	case nil:
		return false
	case bool:
		return typed
	case string:
		switch strings.ToLower(strings.TrimSpace(typed)) {
		case "", "0", "false", "off", "no":
			return false
		default:
			return true
		}
	case int64:
		return typed != 0
	case float64:
		return typed != 0
	case []any:
		return len(typed) > 0
	case map[string]any:
		return len(typed) > 0
	default:
		normalized := canonical(value)
		if reflect.TypeOf(normalized) == reflect.TypeOf(value) {
			return true
		}
		return Truthy(normalized)
	}
}

// ParseTime accepts the canonical layout and the common HTML/ISO forms.
func ParseTime(value string) (time.Time, bool) {
	trimmed := strings.TrimSpace(value)
	for _, layout := range inputTimeLayouts {
		if parsed, err := time.Parse(layout, trimmed); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

func coerceTime(value any) any {
	text, ok := value.(string)
	if !ok {
		return value
	}
	if parsed, ok := ParseTime(text); ok {
		return parsed.UTC().Format(TimeLayout)
	}
	return strings.TrimSpace(text)
}

func coerceInt(value any) any {
	switch typed := value.(type) {
	case string:
		trimmed := strings.TrimSpace(typed)
		if trimmed == "" {
			return nil
		}
		if parsed, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			return parsed
		}
		return trimmed
	case float64:
		if typed == math.Trunc(typed) {
			return int64(typed)
		}
		return typed
	default:
		return value
	}
}

// SplitOptions splits a comma-joined option string into trimmed entries.
// A blank string yields no options.
func SplitOptions(value string) []string {
	if strings.TrimSpace(value) == "" {
		return []string{}
	}
	parts := strings.Split(value, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func coerceOptionList(value any) any {
	switch typed := value.(type) {
	case string:
		parts := SplitOptions(typed)
		out := make([]any, len(parts))
		for i, part := range parts {
			out[i] = part
		}
		return out
	case []any:
		for i, item := range typed {
			if text, ok := item.(string); ok {
				typed[i] = strings.TrimSpace(text)
			}
		}
		return typed
	default:
		return value
	}
}

func coerceReference(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return coerceReference(typed[IdentityKey])
	case int64:
		return strconv.FormatInt(typed, 10)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case string:
		return strings.TrimSpace(typed)
	default:
		return value
	}
}

// canonical deep-copies value into the plain shapes the differ understands.
func canonical(value any) any {
	switch typed := value.(type) {
	case nil:
		return nil
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, child := range typed {
			out[key] = canonical(child)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, child := range typed {
			out[i] = canonical(child)
		}
		return out
	case string, bool, int64, float64:
		return typed
	case json.Number:
		if parsed, err := typed.Int64(); err == nil {
			return parsed
		}
		if parsed, err := typed.Float64(); err == nil {
			return parsed
		}
		return typed.String()
	case time.Time:
		if typed.IsZero() {
			return nil
		}
		return typed.UTC().Format(TimeLayout)
	case *time.Time:
		if typed == nil {
			return nil
		}
		return canonical(*typed)
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return canonical(rv.Elem().Interface())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = canonical(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return value
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = canonical(iter.Value().Interface())
		}
		return out
	default:
		return value
	}
}
