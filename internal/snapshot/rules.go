package snapshot

import (
	"strconv"
	"strings"
)

// Rule names the coercion applied to the value found at a field path.
type Rule int

const (
	// RuleDrop removes the key entirely.
	RuleDrop Rule = iota + 1
	// RuleBool turns checkbox and form strings into booleans.
	RuleBool
	// RuleTime renders dates in the canonical layout.
	RuleTime
	// RuleInt turns numeric form strings into int64. Blank becomes nil.
	RuleInt
	// RuleOptionList splits a comma-joined string into trimmed strings.
	RuleOptionList
	// RuleReference replaces a related record (or raw id) by its id string.
	RuleReference
)

func (r Rule) String() string {
	switch r {
	case RuleDrop:
		return "drop"
	case RuleBool:
		return "bool"
	case RuleTime:
		return "time"
	case RuleInt:
		return "int"
	case RuleOptionList:
		return "option_list"
	case RuleReference:
		return "reference"
	default:
		return "unknown"
	}
}

// Table maps dotted field paths to rules. A "*" segment matches any key or
// sequence index, so "signupLists.*.fields.*.options" covers every field of
// every signup list.
type Table map[string]Rule

type compiledRule struct {
	segments []string
	rule     Rule
}

type compiledTable []compiledRule

func compile(table Table) compiledTable {
	out := make(compiledTable, 0, len(table))
	for path, rule := range table {
		out = append(out, compiledRule{segments: strings.Split(path, "."), rule: rule})
	}
	return out
}

// lookup prefers exact segments over wildcards when two entries match.
func (t compiledTable) lookup(path []string) (Rule, bool) {
	var (
		found     Rule
		ok        bool
		wildcards = -1
	)
	for _, entry := range t {
		if len(entry.segments) != len(path) {
			continue
		}
		count, matched := 0, true
		for i, segment := range entry.segments {
			if segment == "*" {
				count++
				continue
			}
			if segment != path[i] {
				matched = false
				break
			}
		}
		if matched && (!ok || count < wildcards) {
			found, ok, wildcards = entry.rule, true, count
		}
	}
	return found, ok
}

type compiledDefault struct {
	segments []string
	value    any
}

func compileDefaults(defaults Defaults) []compiledDefault {
	out := make([]compiledDefault, 0, len(defaults))
	for path, value := range defaults {
		out = append(out, compiledDefault{segments: strings.Split(path, "."), value: canonical(value)})
	}
	return out
}

// fillAbsent sets the last segment of path to value in every map reached
// through the earlier segments that lacks the key. Present keys are kept,
// including explicit nils.
func fillAbsent(node any, path []string, value any) {
	if len(path) == 0 {
		return
	}
	switch typed := node.(type) {
	case map[string]any:
		if len(path) == 1 {
			if _, ok := typed[path[0]]; !ok {
				typed[path[0]] = canonical(value)
			}
			return
		}
		for key, child := range typed {
			if path[0] == "*" || path[0] == key {
				fillAbsent(child, path[1:], value)
			}
		}
	case []any:
		if len(path) == 1 {
			return
		}
		for i, child := range typed {
			if path[0] == "*" || path[0] == strconv.Itoa(i) {
				fillAbsent(child, path[1:], value)
			}
		}
	}
}
