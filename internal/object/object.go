// Package object defines the entity model shared by every store backend:
// a catalog of entity types, identity-bearing attribute records, and the
// composite-key ("ident") scheme used to address records across stores.
//
// Records are schemaless attribute maps, but every value is normalized to
// its JSON shape (string, bool, float64, []any, nil) at construction time.
// This makes records survive a marshal/unmarshal round trip through any
// backend unchanged, so equality checks between stores compare content,
// not encoding artifacts.
package object

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// IdentSeparator joins ident attribute values into the composite key.
const IdentSeparator = ";"

// Record is a single entity instance: a type name plus its attributes.
// Attribute values are always in normalized JSON shape; use New to build
// records from arbitrary Go values.
type Record struct {
	Type  string
	Attrs map[string]any
}

// New builds a record of the given type, normalizing all attribute values.
func New(typeName string, attrs map[string]any) Record {
	norm := make(map[string]any, len(attrs))
	for k, v := range attrs {
		norm[k] = Normalize(v)
	}
	return Record{Type: typeName, Attrs: norm}
}

// Normalize converts v to its JSON shape: numbers become float64, string
// slices become []any, nested maps are normalized recursively. Values that
// already have a JSON shape are returned as-is.
func Normalize(v any) any {
	switch x := v.(type) {
	case nil, string, bool, float64:
		return x
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case float32:
		return float64(x)
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = Normalize(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = Normalize(e)
		}
		return out
	default:
		return fmt.Sprint(x)
	}
}

// Ident returns the record's composite key: the string form of each ident
// attribute of its type, joined with IdentSeparator. Records of unknown
// types have no ident and return "".
func (r Record) Ident() string {
	t, ok := Lookup(r.Type)
	if !ok {
		return ""
	}
	parts := make([]string, len(t.IdentAttrs))
	for i, attr := range t.IdentAttrs {
		parts[i] = AttrString(r, attr)
	}
	return strings.Join(parts, IdentSeparator)
}

// IdentFilter returns a filter matching exactly this record's ident
// attributes. Used for point lookups during merge.
func (r Record) IdentFilter() map[string][]string {
	t, ok := Lookup(r.Type)
	if !ok {
		return nil
	}
	f := make(map[string][]string, len(t.IdentAttrs))
	for _, attr := range t.IdentAttrs {
		f[attr] = []string{AttrString(r, attr)}
	}
	return f
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	return Record{Type: r.Type, Attrs: cloneMap(r.Attrs)}
}

// CloneIdentOnly returns a copy of the record reduced to its type's ident
// attributes. The starting point for building update candidates.
func (r Record) CloneIdentOnly() Record {
	t, _ := Lookup(r.Type)
	attrs := make(map[string]any, len(t.IdentAttrs))
	for _, attr := range t.IdentAttrs {
		attrs[attr] = r.Attrs[attr]
	}
	return Record{Type: r.Type, Attrs: attrs}
}

// Equal reports whether two records have the same type and attributes,
// ignoring the attributes named in exclude. A nil attribute and an absent
// attribute are treated as equal.
func Equal(a, b Record, exclude ...string) bool {
	if a.Type != b.Type {
		return false
	}
	skip := make(map[string]bool, len(exclude))
	for _, e := range exclude {
		skip[e] = true
	}
	for _, key := range attrKeys(a.Attrs, b.Attrs) {
		if skip[key] {
			continue
		}
		av, bv := a.Attrs[key], b.Attrs[key]
		if av == nil && bv == nil {
			continue
		}
		if !reflect.DeepEqual(av, bv) {
			return false
		}
	}
	return true
}

// AttrString returns the string form of an attribute, or "" when the
// attribute is absent or nil. Non-string scalars are formatted the way
// they would appear in a filter value.
func AttrString(r Record, attr string) string {
	switch v := r.Attrs[attr].(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// AttrStrings returns a list-valued attribute as a string slice.
// Scalars are returned as a one-element slice; absent values as nil.
func AttrStrings(r Record, attr string) []string {
	switch v := r.Attrs[attr].(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, len(v))
		for i, e := range v {
			out[i] = fmt.Sprint(e)
		}
		return out
	default:
		return []string{AttrString(r, attr)}
	}
}

// SetEqual reports whether two string slices hold the same set of values,
// ignoring order and duplicates.
func SetEqual(a, b []string) bool {
	as := make(map[string]bool, len(a))
	for _, v := range a {
		as[v] = true
	}
	bs := make(map[string]bool, len(b))
	for _, v := range b {
		bs[v] = true
	}
	if len(as) != len(bs) {
		return false
	}
	for v := range as {
		if !bs[v] {
			return false
		}
	}
	return true
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	case map[string]any:
		return cloneMap(x)
	default:
		return x
	}
}

func attrKeys(maps ...map[string]any) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, m := range maps {
		for k := range m {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}
