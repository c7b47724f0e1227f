// Package cache holds paginated search results keyed by a canonical query
// fingerprint, with TTL validity and ordered writes.
package cache

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"
)

// KeyPrefix is prepended to every fingerprint.
const KeyPrefix = "opp:"

// DefaultPageSize applies when a query leaves PageSize unset.
const DefaultPageSize = 25

// Sort orders a result page.
type Sort struct {
	Field     string `json:"field,omitempty"`
	Direction string `json:"direction,omitempty"`
}

// Query is a paginated search request.
type Query struct {
	Filters  map[string]any `json:"filters,omitempty"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
	Sort     Sort           `json:"sort"`
}

// Normalize returns the canonical form of the query: filter keys and string
// values trimmed, empty values dropped, slices treated as sets (sorted and
// de-duplicated), page defaulted to 1, page size defaulted, and sort
// direction lowercased with desc as the default.
func (q Query) Normalize() Query {
	out := Query{
		Filters:  canonicalMap(q.Filters),
		Page:     q.Page,
		PageSize: q.PageSize,
		Sort: Sort{
			Field:     strings.TrimSpace(q.Sort.Field),
			Direction: strings.ToLower(strings.TrimSpace(q.Sort.Direction)),
		},
	}
	if out.Page < 1 {
		out.Page = 1
	}
	if out.PageSize <= 0 {
		out.PageSize = DefaultPageSize
	}
	if out.Sort.Field == "" {
		out.Sort.Direction = ""
	} else if out.Sort.Direction != "asc" {
		out.Sort.Direction = "desc"
	}
	return out
}

// Fingerprint returns the cache key for a query. Semantically equal queries
// share a fingerprint regardless of map ordering or set ordering.
func Fingerprint(q Query) string {
	data, err := json.Marshal(q.Normalize())
	if err != nil {
		// Unencodable filter values fall back to their printed form.
		data = []byte(fmt.Sprintf("%#v", q.Normalize()))
	}
	h := sha256.Sum256(data)
	return fmt.Sprintf("%s%x", KeyPrefix, h[:16])
}

func canonicalMap(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	raw := make([]string, 0, len(m))
	for k := range m {
		raw = append(raw, k)
	}
	// Keys that collide once trimmed resolve to the last raw key in sorted order.
	sort.Strings(raw)

	out := make(map[string]any, len(m))
	for _, k := range raw {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		if cv, ok := canonicalValue(m[k]); ok {
			out[key] = cv
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// canonicalValue reports false for values that carry no filter meaning.
func canonicalValue(v any) (any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case string:
		s := strings.TrimSpace(t)
		return s, s != ""
	case time.Time:
		if t.IsZero() {
			return nil, false
		}
		return t.UTC().Format(time.RFC3339Nano), true
	case map[string]any:
		m := canonicalMap(t)
		return m, m != nil
	case []string:
		items := make([]any, len(t))
		for i, s := range t {
			items[i] = s
		}
		return canonicalSet(items)
	case []any:
		return canonicalSet(t)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return canonicalSet(items)
	case reflect.Ptr:
		if rv.IsNil() {
			return nil, false
		}
		return canonicalValue(rv.Elem().Interface())
	}
	return v, true
}

// canonicalSet sorts and de-duplicates by encoded form so mixed element
// types still order deterministically.
func canonicalSet(items []any) (any, bool) {
	type member struct {
		enc string
		val any
	}
	seen := make(map[string]bool, len(items))
	var members []member
	for _, it := range items {
		cv, ok := canonicalValue(it)
		if !ok {
			continue
		}
		enc, err := json.Marshal(cv)
		if err != nil {
			enc = []byte(fmt.Sprintf("%#v", cv))
		}
		if seen[string(enc)] {
			continue
		}
		seen[string(enc)] = true
		members = append(members, member{enc: string(enc), val: cv})
	}
	if len(members) == 0 {
		return nil, false
	}
	sort.Slice(members, func(i, j int) bool { return members[i].enc < members[j].enc })
	out := make([]any, len(members))
	for i, m := range members {
		out[i] = m.val
	}
	return out, true
}
