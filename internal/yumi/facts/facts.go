// Package facts models durable per-user facts and extracts new ones from
// chat messages, first by asking the language model for JSON and otherwise
// by matching common self-introduction phrasings.
package facts

import (
	"sort"
	"strings"
)

// Facts maps a fact key such as "name" or "location" to its value. Each key
// holds a single value.
type Facts map[string]string

// NormalizeKey lowercases key and joins its words with underscores.
func NormalizeKey(key string) string {
	return strings.Join(strings.Fields(strings.ToLower(key)), "_")
}

// Clone returns an independent copy; nil stays nil.
func (f Facts) Clone() Facts {
	if f == nil {
		return nil
	}
	out := make(Facts, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Keys returns the keys in sorted order.
func (f Facts) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Merge returns a new record holding existing overlaid with update: keys in
// update win, every other existing key is kept. Empty keys or values in
// update are ignored. Neither argument is modified.
func Merge(existing, update Facts) Facts {
	out := make(Facts, len(existing)+len(update))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range update {
		k = NormalizeKey(k)
		v = strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}

// Changed returns the entries of update that would alter existing.
func Changed(existing, update Facts) Facts {
	out := Facts{}
	for k, v := range update {
		k = NormalizeKey(k)
		v = strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		if existing[k] != v {
			out[k] = v
		}
	}
	return out
}
