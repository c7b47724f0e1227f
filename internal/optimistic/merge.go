// Package optimistic applies edits to a local record before the server has
// confirmed them and commits or reverts them as one unit.
package optimistic

import (
	"bytes"
	"encoding/json"
	"reflect"
	"sort"
	"strings"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/rotisserie/eris"
)

// Fields maps JSON field names to their new values.
type Fields map[string]any

// Names returns the field names in sorted order.
func (f Fields) Names() []string {
	names := make([]string, 0, len(f))
	for k := range f {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// MergeJSON returns a copy of base with updates applied as a JSON merge
// patch (RFC 7386): a null value clears the field and a nested object is
// merged into the existing one. Top-level names that T does not declare are
// rejected so that no update is silently dropped. base is not modified.
func MergeJSON[T any](base T, updates Fields) (T, error) {
	var zero T
	known := jsonFields(reflect.TypeOf(base))
	var unknown []string
	for name := range updates {
		if known != nil && !known[name] {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return zero, eris.Errorf("optimistic: unknown fields: %s", strings.Join(unknown, ", "))
	}

	doc, err := json.Marshal(base)
	if err != nil {
		return zero, eris.Wrap(err, "optimistic: encode record")
	}
	if updates == nil {
		updates = Fields{}
	}
	patch, err := json.Marshal(updates)
	if err != nil {
		return zero, eris.Wrap(err, "optimistic: encode updates")
	}
	merged, err := jsonpatch.MergePatch(doc, patch)
	if err != nil {
		return zero, eris.Wrap(err, "optimistic: merge updates")
	}

	var out T
	dec := json.NewDecoder(bytes.NewReader(merged))
	if known != nil {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(&out); err != nil {
		return zero, eris.Wrap(err, "optimistic: apply updates")
	}
	return out, nil
}

// jsonFields lists the JSON names of a struct type, following embedded
// structs. It returns nil for non-struct types, which accept any name.
func jsonFields(t reflect.Type) map[string]bool {
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil
	}
	out := make(map[string]bool)
	collectFields(t, out)
	return out
}

func collectFields(t reflect.Type, out map[string]bool) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		if f.Anonymous && name == "" {
			ft := f.Type
			if ft.Kind() == reflect.Ptr {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				collectFields(ft, out)
				continue
			}
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}
		out[name] = true
	}
}
