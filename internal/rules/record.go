package rules

import (
	"sort"
	"strconv"
)

// Record is the set of extracted values rules are evaluated against. A
// parameter may carry several values, e.g. one per ROI name.
type Record map[string][]string

// Set replaces the values of key.
func (r Record) Set(key string, vals ...string) Record {
	r[key] = vals
	return r
}

// SetInt stores an integer value.
func (r Record) SetInt(key string, v int) Record {
	return r.Set(key, strconv.Itoa(v))
}

// Values returns the values of key, or a single empty string when the
// parameter is missing.
func (r Record) Values(key string) []string {
	if vals, ok := r[key]; ok && len(vals) > 0 {
		return vals
	}
	return []string{""}
}

// Keys returns the parameter names in sorted order.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
