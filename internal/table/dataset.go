// Package table is the in-memory tabular model the pipeline stages work on,
// plus the stores that read and write it as workbook sheets or CSV files.
//
// A Dataset is column-ordered and every cell is a string; an absent cell
// reads as "". That matches how the stages treat spreadsheet exports, where
// blank and missing are the same thing.
package table

import (
	"fmt"
	"strings"
)

// Row is a single record keyed by column name.
type Row map[string]string

// Get returns the trimmed value of col, or "" when absent.
func (r Row) Get(col string) string {
	return strings.TrimSpace(r[col])
}

// Dataset is an ordered set of columns and the rows that fill them.
type Dataset struct {
	Columns []string
	Rows    []Row
}

// New returns an empty dataset with the given columns.
func New(columns ...string) *Dataset {
	cols := make([]string, len(columns))
	copy(cols, columns)
	return &Dataset{Columns: cols}
}

// FromRecords builds a dataset from a header row and value rows. Short rows
// are padded with empty cells; cells beyond the header are ignored.
func FromRecords(header []string, records [][]string) *Dataset {
	d := New(header...)
	for _, rec := range records {
		row := make(Row, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = rec[i]
			} else {
				row[col] = ""
			}
		}
		d.Rows = append(d.Rows, row)
	}
	return d
}

// Records returns the rows as value slices in column order.
func (d *Dataset) Records() [][]string {
	out := make([][]string, 0, len(d.Rows))
	for _, row := range d.Rows {
		rec := make([]string, len(d.Columns))
		for i, col := range d.Columns {
			rec[i] = row[col]
		}
		out = append(out, rec)
	}
	return out
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Rows)
}

// Has reports whether the dataset carries col.
func (d *Dataset) Has(col string) bool {
	for _, c := range d.Columns {
		if c == col {
			return true
		}
	}
	return false
}

// Append adds a row, registering any columns the dataset did not have yet.
func (d *Dataset) Append(r Row) {
	for col := range r {
		if !d.Has(col) {
			d.Columns = append(d.Columns, col)
		}
	}
	d.Rows = append(d.Rows, r)
}

// Clone returns a deep copy.
func (d *Dataset) Clone() *Dataset {
	out := New(d.Columns...)
	out.Rows = make([]Row, 0, len(d.Rows))
	for _, row := range d.Rows {
		out.Rows = append(out.Rows, cloneRow(row))
	}
	return out
}

// Filter returns a copy holding the rows for which keep is true.
func (d *Dataset) Filter(keep func(Row) bool) *Dataset {
	out := New(d.Columns...)
	for _, row := range d.Rows {
		if keep(row) {
			out.Rows = append(out.Rows, cloneRow(row))
		}
	}
	return out
}

// Partition splits the rows in two: those matching pred and the rest. Every
// row lands in exactly one of the results.
func (d *Dataset) Partition(pred func(Row) bool) (match, rest *Dataset) {
	match, rest = New(d.Columns...), New(d.Columns...)
	for _, row := range d.Rows {
		if pred(row) {
			match.Rows = append(match.Rows, cloneRow(row))
		} else {
			rest.Rows = append(rest.Rows, cloneRow(row))
		}
	}
	return match, rest
}

// Count returns how many rows satisfy pred.
func (d *Dataset) Count(pred func(Row) bool) int {
	n := 0
	for _, row := range d.Rows {
		if pred(row) {
			n++
		}
	}
	return n
}

// Drop removes the named columns in place and reports which of them were
// missing. Dropping an absent column is not an error.
func (d *Dataset) Drop(cols ...string) (missing []string) {
	for _, col := range cols {
		idx := d.index(col)
		if idx < 0 {
			missing = append(missing, col)
			continue
		}
		d.Columns = append(d.Columns[:idx], d.Columns[idx+1:]...)
		for _, row := range d.Rows {
			delete(row, col)
		}
	}
	return missing
}

// Project returns a copy restricted to cols, in that order. Columns the
// dataset does not have are skipped.
func (d *Dataset) Project(cols ...string) *Dataset {
	var keep []string
	for _, col := range cols {
		if d.Has(col) {
			keep = append(keep, col)
		}
	}
	out := New(keep...)
	for _, row := range d.Rows {
		r := make(Row, len(keep))
		for _, col := range keep {
			r[col] = row[col]
		}
		out.Rows = append(out.Rows, r)
	}
	return out
}

// Column returns every value of col in row order.
func (d *Dataset) Column(col string) []string {
	out := make([]string, 0, len(d.Rows))
	for _, row := range d.Rows {
		out = append(out, row[col])
	}
	return out
}

// AllEmpty reports whether every value of col is blank. An empty dataset
// counts as all empty.
func (d *Dataset) AllEmpty(col string) bool {
	for _, row := range d.Rows {
		if row.Get(col) != "" {
			return false
		}
	}
	return true
}

// Set assigns col on every row from fn, adding the column if needed.
func (d *Dataset) Set(col string, fn func(Row) string) {
	if !d.Has(col) {
		d.Columns = append(d.Columns, col)
	}
	for _, row := range d.Rows {
		row[col] = fn(row)
	}
}

// Map rewrites every cell with fn.
func (d *Dataset) Map(fn func(col, val string) string) {
	for _, row := range d.Rows {
		for _, col := range d.Columns {
			row[col] = fn(col, row[col])
		}
	}
}

// DedupBy keeps the first row for each distinct value of col. Rows with a
// blank col are all kept.
func (d *Dataset) DedupBy(col string) *Dataset {
	out := New(d.Columns...)
	seen := make(map[string]bool, len(d.Rows))
	for _, row := range d.Rows {
		key := row.Get(col)
		if key != "" && seen[key] {
			continue
		}
		seen[key] = true
		out.Rows = append(out.Rows, cloneRow(row))
	}
	return out
}

// LeftJoin matches every row of d against right on the paired key columns.
// Rows without a match keep blank right-hand values; rows with several
// matches are repeated once per match. A row whose key columns are all
// blank matches nothing. Right-hand columns whose name
// collides with a left-hand column get suffix appended, and the right-hand
// key columns are kept only when their names differ from the left keys.
func (d *Dataset) LeftJoin(right *Dataset, leftKeys, rightKeys []string, suffix string) (*Dataset, error) {
	if len(leftKeys) == 0 || len(leftKeys) != len(rightKeys) {
		return nil, fmt.Errorf("join needs matching key lists, got %d and %d", len(leftKeys), len(rightKeys))
	}

	sameKey := make(map[string]bool, len(rightKeys))
	for i, rk := range rightKeys {
		if rk == leftKeys[i] {
			sameKey[rk] = true
		}
	}

	cols := append([]string(nil), d.Columns...)
	rename := make(map[string]string, len(right.Columns))
	for _, col := range right.Columns {
		if sameKey[col] {
			continue
		}
		name := col
		if d.Has(col) {
			name = col + suffix
		}
		rename[col] = name
		cols = append(cols, name)
	}

	index := make(map[string][]Row, len(right.Rows))
	for _, row := range right.Rows {
		k, ok := joinKey(row, rightKeys)
		if !ok {
			continue
		}
		index[k] = append(index[k], row)
	}

	out := New(cols...)
	for _, left := range d.Rows {
		var matches []Row
		if k, ok := joinKey(left, leftKeys); ok {
			matches = index[k]
		}
		if len(matches) == 0 {
			row := cloneRow(left)
			for _, name := range rename {
				row[name] = ""
			}
			out.Rows = append(out.Rows, row)
			continue
		}
		for _, m := range matches {
			row := cloneRow(left)
			for col, name := range rename {
				row[name] = m[col]
			}
			out.Rows = append(out.Rows, row)
		}
	}
	return out, nil
}

// Concat stacks datasets, taking the union of their columns in first-seen
// order.
func Concat(sets ...*Dataset) *Dataset {
	out := New()
	for _, s := range sets {
		if s == nil {
			continue
		}
		for _, col := range s.Columns {
			if !out.Has(col) {
				out.Columns = append(out.Columns, col)
			}
		}
		for _, row := range s.Rows {
			out.Rows = append(out.Rows, cloneRow(row))
		}
	}
	return out
}

func (d *Dataset) index(col string) int {
	for i, c := range d.Columns {
		if c == col {
			return i
		}
	}
	return -1
}

// joinKey builds the lookup key of r. ok is false when every key column is
// blank.
func joinKey(r Row, keys []string) (key string, ok bool) {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = r.Get(k)
		if parts[i] != "" {
			ok = true
		}
	}
	return strings.Join(parts, "\x00"), ok
}

func cloneRow(r Row) Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
