// Package table flattens Unpaywall JSON records into rows and renders them as CSV or JSON.
package table

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// Row maps column names to values. Values are the decoded JSON values:
// nil, bool, float64, string, []any or map[string]any.
type Row map[string]any

// Table is an ordered list of rows sharing a column set.
// Columns are kept in first-seen order. The zero value is an empty table.
type Table struct {
	columns []string
	known   map[string]struct{}
	rows    []Row
}

// New creates an empty table.
func New() *Table {
	return &Table{known: make(map[string]struct{})}
}

// Append adds rows. keys gives the column order of the new rows; columns of
// a row missing from keys are appended in sorted order.
func (t *Table) Append(keys []string, rows ...Row) {
	if t.known == nil {
		t.known = make(map[string]struct{})
	}
	for _, k := range keys {
		t.addColumn(k)
	}
	for _, r := range rows {
		for _, k := range sortedKeys(r) {
			t.addColumn(k)
		}
		t.rows = append(t.rows, r)
	}
}

// Concat appends all rows of other.
func (t *Table) Concat(other *Table) {
	if other == nil {
		return
	}
	t.Append(other.columns, other.rows...)
}

func (t *Table) addColumn(name string) {
	if _, ok := t.known[name]; ok {
		return
	}
	t.known[name] = struct{}{}
	t.columns = append(t.columns, name)
}

// Columns returns the column names in first-seen order.
func (t *Table) Columns() []string {
	return append([]string(nil), t.columns...)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rows)
}

// Row returns row i. Missing columns read as nil.
func (t *Table) Row(i int) Row {
	return t.rows[i]
}

// Column returns the values of one column, nil where a row lacks it.
func (t *Table) Column(name string) []any {
	out := make([]any, len(t.rows))
	for i, r := range t.rows {
		out[i] = r[name]
	}
	return out
}

// Records returns every row with all columns present, missing ones as nil.
func (t *Table) Records() []Row {
	out := make([]Row, len(t.rows))
	for i, r := range t.rows {
		full := make(Row, len(t.columns))
		for _, c := range t.columns {
			full[c] = r[c]
		}
		out[i] = full
	}
	return out
}

// WriteCSV writes a header line followed by one line per row.
// Lists and objects are written as JSON.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.columns); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}

	line := make([]string, len(t.columns))
	for _, r := range t.rows {
		for i, c := range t.columns {
			s, err := cell(r[c])
			if err != nil {
				return fmt.Errorf("column %s: %w", c, err)
			}
			line[i] = s
		}
		if err := cw.Write(line); err != nil {
			return fmt.Errorf("writing csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteJSON writes the rows as a JSON array of objects.
func (t *Table) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(t.Records()); err != nil {
		return fmt.Errorf("writing json: %w", err)
	}
	return nil
}

// MarshalJSON encodes the table like WriteJSON.
func (t *Table) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Records())
}

func cell(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case bool:
		return strconv.FormatBool(x), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case json.Number:
		return x.String(), nil
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}
