package table

import (
	"sort"

	"github.com/helixir/unpaywall-client/internal/domain"
)

// Fields exploded into their own rows by the extended format.
const (
	LocationsField = "oa_locations"
	AuthorsField   = "z_authors"
)

// Flatten turns one decoded record into table rows.
//
// The raw format yields a single row holding the top-level fields as they
// are. The extended format flattens nested objects into dotted columns and
// emits one row per entry of oa_locations and z_authors, each carrying the
// parent columns, doi included. A record with neither list yields its parent row alone.
func Flatten(record map[string]any, format domain.Format) (*Table, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}

	t := New()
	if len(record) == 0 {
		return t, nil
	}

	if format == domain.FormatRaw {
		row := make(Row, len(record))
		for k, v := range record {
			row[k] = v
		}
		t.Append(sortedKeys(row), row)
		return t, nil
	}

	parent := make(Row)
	var lists []string
	for _, k := range sortedKeys(record) {
		if k == LocationsField || k == AuthorsField {
			if _, ok := record[k].([]any); ok {
				lists = append(lists, k)
				continue
			}
		}
		flattenInto(parent, k, record[k])
	}
	parentKeys := sortedKeys(parent)

	var children []Row
	for _, field := range lists {
		for _, item := range record[field].([]any) {
			child := make(Row, len(parent))
			for k, v := range parent {
				child[k] = v
			}
			flattenInto(child, field, item)
			children = append(children, child)
		}
	}

	if len(children) == 0 {
		t.Append(parentKeys, parent)
		return t, nil
	}
	t.Append(parentKeys, children...)
	return t, nil
}

// flattenInto writes v under prefix, descending into objects with dotted names.
// An empty object is kept as a single nil column.
func flattenInto(row Row, prefix string, v any) {
	obj, ok := v.(map[string]any)
	if !ok {
		row[prefix] = v
		return
	}
	if len(obj) == 0 {
		row[prefix] = nil
		return
	}
	for _, k := range sortedKeys(obj) {
		flattenInto(row, prefix+"."+k, obj[k])
	}
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
