// Package report produces the operator-facing outputs of a run: the
// pivot-style summary tables written next to each reviewed dataset, and the
// communication sent once an event has been reconciled.
package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/TobiSchelling/demoproc/internal/table"
)

// SummarySheet is the sheet the summary tables are written to.
const SummarySheet = "Summary"

// Func is an aggregation applied to a value field.
type Func int

const (
	// Count counts the non-blank values of the field.
	Count Func = iota
	// CountDistinct counts the distinct non-blank values of the field.
	CountDistinct
)

// ValueField is one aggregated column of a summary table.
type ValueField struct {
	Field   string
	Caption string
	Func    Func
}

// TableSpec describes one summary table. Row and Col are the 1-based cell
// of its preferred top-left corner on the summary sheet; a table that would
// overlap one written before it is moved down below that table.
type TableSpec struct {
	Name    string
	Row     int
	Col     int
	Rows    []string
	Filters []string
	Values  []ValueField
}

// Summarizer writes summary tables for a sheet of a workbook.
type Summarizer interface {
	BuildSummary(path, sourceSheet string, specs []TableSpec) error
}

// Group is one line of an aggregated table.
type Group struct {
	Keys   []string
	Values []int
}

// Aggregate groups d by spec.Rows and applies spec.Values to each group.
// Groups are sorted by their keys; a grand total is returned separately.
func Aggregate(d *table.Dataset, spec TableSpec) (groups []Group, total []int, err error) {
	var missing []string
	for _, f := range append(append(append([]string(nil), spec.Rows...), spec.Filters...), fieldsOf(spec.Values)...) {
		if !d.Has(f) {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return nil, nil, &table.MissingColumnError{Dataset: spec.Name, Columns: dedup(missing)}
	}

	type acc struct {
		keys     []string
		counts   []int
		distinct []map[string]bool
	}
	byKey := map[string]*acc{}
	total = make([]int, len(spec.Values))
	totalDistinct := make([]map[string]bool, len(spec.Values))
	for i := range totalDistinct {
		totalDistinct[i] = map[string]bool{}
	}

	for _, row := range d.Rows {
		keys := make([]string, len(spec.Rows))
		for i, f := range spec.Rows {
			keys[i] = row.Get(f)
		}
		k := strings.Join(keys, "\x00")
		a, ok := byKey[k]
		if !ok {
			a = &acc{keys: keys, counts: make([]int, len(spec.Values)), distinct: make([]map[string]bool, len(spec.Values))}
			for i := range a.distinct {
				a.distinct[i] = map[string]bool{}
			}
			byKey[k] = a
		}
		for i, v := range spec.Values {
			val := row.Get(v.Field)
			if val == "" {
				continue
			}
			switch v.Func {
			case CountDistinct:
				if !a.distinct[i][val] {
					a.distinct[i][val] = true
					a.counts[i]++
				}
				if !totalDistinct[i][val] {
					totalDistinct[i][val] = true
					total[i]++
				}
			default:
				a.counts[i]++
				total[i]++
			}
		}
	}

	for _, a := range byKey {
		groups = append(groups, Group{Keys: a.keys, Values: a.counts})
	}
	sort.Slice(groups, func(i, j int) bool {
		return strings.Join(groups[i].Keys, "\x00") < strings.Join(groups[j].Keys, "\x00")
	})
	return groups, total, nil
}

// XLSXSummarizer writes summary tables to a "Summary" sheet of the workbook
// that holds the source sheet.
type XLSXSummarizer struct {
	store table.Store
}

// NewXLSXSummarizer returns a summarizer reading source data through store.
func NewXLSXSummarizer(store table.Store) *XLSXSummarizer {
	return &XLSXSummarizer{store: store}
}

// BuildSummary implements Summarizer. The summary sheet is rebuilt from
// scratch on every call.
func (s *XLSXSummarizer) BuildSummary(path, sourceSheet string, specs []TableSpec) error {
	data, err := s.store.Read(path, sourceSheet)
	if err != nil {
		return err
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	if idx, _ := f.GetSheetIndex(SummarySheet); idx >= 0 {
		if err := f.DeleteSheet(SummarySheet); err != nil {
			return fmt.Errorf("clearing summary: %w", err)
		}
	}
	if _, err := f.NewSheet(SummarySheet); err != nil {
		return fmt.Errorf("creating summary: %w", err)
	}

	var placed []extent
	for _, spec := range specs {
		groups, total, err := Aggregate(data, spec)
		if err != nil {
			return fmt.Errorf("summary %s: %w", spec.Name, err)
		}
		at := place(tableExtent(spec, len(groups)), placed)
		placed = append(placed, at)
		if err := writeTable(f, spec, at.top, groups, total); err != nil {
			return fmt.Errorf("summary %s: %w", spec.Name, err)
		}
	}

	if err := f.Save(); err != nil {
		return fmt.Errorf("saving summary: %w", err)
	}
	return nil
}

// extent is the block of cells a table covers, inclusive.
type extent struct {
	top, bottom, left, right int
}

func (e extent) overlaps(o extent) bool {
	return e.top <= o.bottom && o.top <= e.bottom && e.left <= o.right && o.left <= e.right
}

// tableExtent is the block writeTable fills for spec with n groups.
func tableExtent(spec TableSpec, n int) extent {
	height := 1 + n
	if len(spec.Filters) > 0 {
		height += len(spec.Filters) + 1
	}
	if len(spec.Values) > 0 {
		height++
	}
	width := len(spec.Rows) + len(spec.Values)
	if len(spec.Filters) > 0 && width < 2 {
		width = 2
	}
	if width < 1 {
		width = 1
	}
	return extent{top: spec.Row, bottom: spec.Row + height - 1, left: spec.Col, right: spec.Col + width - 1}
}

// place moves e down until it clears every placed table, leaving one blank
// row under the table it was pushed past.
func place(e extent, placed []extent) extent {
	for moved := true; moved; {
		moved = false
		for _, p := range placed {
			if e.overlaps(p) {
				shift := p.bottom + 2 - e.top
				e.top += shift
				e.bottom += shift
				moved = true
			}
		}
	}
	return e
}

func writeTable(f *excelize.File, spec TableSpec, row int, groups []Group, total []int) error {
	put := func(r, c int, v any) error {
		cell, err := excelize.CoordinatesToCellName(c, r)
		if err != nil {
			return err
		}
		return f.SetCellValue(SummarySheet, cell, v)
	}

	for _, filter := range spec.Filters {
		if err := put(row, spec.Col, filter); err != nil {
			return err
		}
		if err := put(row, spec.Col+1, "(All)"); err != nil {
			return err
		}
		row++
	}
	if len(spec.Filters) > 0 {
		row++
	}

	col := spec.Col
	for _, name := range spec.Rows {
		if err := put(row, col, name); err != nil {
			return err
		}
		col++
	}
	for _, v := range spec.Values {
		if err := put(row, col, v.Caption); err != nil {
			return err
		}
		col++
	}
	row++

	for _, g := range groups {
		col = spec.Col
		for _, k := range g.Keys {
			if k == "" {
				k = "(blank)"
			}
			if err := put(row, col, k); err != nil {
				return err
			}
			col++
		}
		for _, n := range g.Values {
			if err := put(row, col, n); err != nil {
				return err
			}
			col++
		}
		row++
	}

	if len(spec.Values) == 0 {
		return nil
	}
	if err := put(row, spec.Col, "Grand Total"); err != nil {
		return err
	}
	col = spec.Col + len(spec.Rows)
	for _, n := range total {
		if err := put(row, col, n); err != nil {
			return err
		}
		col++
	}
	return nil
}

func fieldsOf(values []ValueField) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, v.Field)
	}
	return out
}

func dedup(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
