package snapshot

import (
	"reflect"
	"strconv"
)

// Result holds both directions of a structural comparison. Removed carries
// the values of the current side that the proposed side lacks or changes;
// Added carries the proposed values that the current side lacks or holds
// differently. Identity keys are already stripped, empty leaves are not.
type Result struct {
	Removed map[string]any `json:"removed"`
	Added   map[string]any `json:"added"`
}

// Diff compares two normalized snapshots in both directions.
func Diff(current, proposed map[string]any) Result {
	removed := subtract(current, proposed)
	added := subtract(proposed, current)
	stripKey(removed, IdentityKey)
	stripKey(added, IdentityKey)
	return Result{Removed: removed, Added: added}
}

// Equal reports whether two normalized snapshots carry the same information,
// ignoring identity keys and empty leaves.
func Equal(a, b map[string]any) bool {
	return !Diff(a, b).Significant()
}

// Significant reports whether either direction survives pruning.
func (r Result) Significant() bool {
	return len(Prune(r.Removed)) > 0 || len(Prune(r.Added)) > 0
}

// Pruned returns the result with empty leaves removed from both directions.
func (r Result) Pruned() Result {
	return Result{Removed: Prune(r.Removed), Added: Prune(r.Added)}
}

// subtract returns the entries of a that b lacks or disagrees on. A nested
// value facing a scalar (or nothing) is recorded whole; two nested values
// are compared recursively.
func subtract(a, b map[string]any) map[string]any {
	difference := map[string]any{}
	for key, value := range a {
		other, present := b[key]
		if isNested(value) {
			if !present || !isNested(other) {
				difference[key] = clone(value)
				continue
			}
			if nested := subtract(asMap(value), asMap(other)); len(nested) > 0 {
				difference[key] = nested
			}
			continue
		}
		if !present || !strictEqual(value, other) {
			difference[key] = value
		}
	}
	return difference
}

func isNested(value any) bool {
	switch value.(type) {
	case map[string]any, []any:
		return true
	default:
		return false
	}
}

// asMap views a sequence as a mapping keyed by index.
func asMap(value any) map[string]any {
	switch typed := value.(type) {
	case map[string]any:
		return typed
	case []any:
		out := make(map[string]any, len(typed))
		for i, item := range typed {
			out[strconv.Itoa(i)] = item
		}
		return out
	default:
		return nil
	}
}

// strictEqual is type-sensitive: "1" != 1 and true != 1.
func strictEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}

func stripKey(value any, key string) {
	switch typed := value.(type) {
	case map[string]any:
		delete(typed, key)
		for _, child := range typed {
			stripKey(child, key)
		}
	case []any:
		for _, child := range typed {
			stripKey(child, key)
		}
	}
}

func clone(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, child := range typed {
			out[key] = clone(child)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, child := range typed {
			out[i] = clone(child)
		}
		return out
	default:
		return value
	}
}
