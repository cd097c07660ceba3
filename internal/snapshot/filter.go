package snapshot

// Prune drops empty strings, nils, empty sequences and empty mappings at any
// depth, together with any mapping emptied by the removal. false and 0 are
// kept. The input is not modified.
func Prune(diff map[string]any) map[string]any {
	out := make(map[string]any, len(diff))
	for key, value := range diff {
		pruned := pruneValue(value)
		if isEmpty(pruned) {
			continue
		}
		out[key] = pruned
	}
	return out
}

func pruneValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return Prune(typed)
	case []any:
		out := make([]any, 0, len(typed))
		for _, item := range typed {
			pruned := pruneValue(item)
			if isEmpty(pruned) {
				continue
			}
			out = append(out, pruned)
		}
		return out
	default:
		return value
	}
}

func isEmpty(value any) bool {
	switch typed := value.(type) {
	case nil:
		return true
	case string:
		return typed == ""
	case map[string]any:
		return len(typed) == 0
	case []any:
		return len(typed) == 0
	default:
		return false
	}
}
