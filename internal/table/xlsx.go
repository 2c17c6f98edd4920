package table

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/xuri/excelize/v2"
)

const defaultSheet = "Sheet1"

// XLSXStore reads and writes .xlsx workbooks on disk. The first row of a
// sheet is its header; every cell is read and written as text.
type XLSXStore struct{}

// NewXLSXStore returns a workbook store.
func NewXLSXStore() *XLSXStore {
	return &XLSXStore{}
}

// Read implements Store.
func (s *XLSXStore) Read(path, label string) (*Dataset, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()
	return readSheet(f, path, label)
}

// ReadIndex implements Store.
func (s *XLSXStore) ReadIndex(path string, index int) (*Dataset, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	list := f.GetSheetList()
	if index < 0 || index >= len(list) {
		return nil, fmt.Errorf("%w: index %d in %s", ErrSheetNotFound, index, path)
	}
	return readSheet(f, path, list[index])
}

// Sheets implements Store.
func (s *XLSXStore) Sheets(path string) ([]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()
	return f.GetSheetList(), nil
}

// Write implements Store. In Append mode a missing file is created.
func (s *XLSXStore) Write(path string, mode Mode, sheets ...Sheet) error {
	if len(sheets) == 0 {
		return nil
	}

	var f *excelize.File
	fresh := true
	if mode == Append {
		if _, err := os.Stat(path); err == nil {
			f, err = excelize.OpenFile(path)
			if err != nil {
				return fmt.Errorf("opening workbook: %w", err)
			}
			fresh = false
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("checking workbook: %w", err)
		}
	}
	if f == nil {
		f = excelize.NewFile()
	}
	defer f.Close()

	keepDefault := false
	for _, sh := range sheets {
		if sh.Label == defaultSheet {
			keepDefault = true
		}
		if err := writeSheet(f, sh); err != nil {
			return fmt.Errorf("writing sheet %q: %w", sh.Label, err)
		}
	}

	if fresh && !keepDefault {
		if err := f.DeleteSheet(defaultSheet); err != nil {
			return fmt.Errorf("removing default sheet: %w", err)
		}
	}
	if idx, err := f.GetSheetIndex(sheets[0].Label); err == nil && idx >= 0 {
		f.SetActiveSheet(idx)
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving workbook: %w", err)
	}
	return nil
}

func readSheet(f *excelize.File, path, label string) (*Dataset, error) {
	idx, err := f.GetSheetIndex(label)
	if err != nil || idx < 0 {
		return nil, fmt.Errorf("%w: %q in %s", ErrSheetNotFound, label, path)
	}
	rows, err := f.GetRows(label)
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", label, err)
	}
	if len(rows) == 0 {
		return New(), nil
	}
	return FromRecords(uniqueHeader(rows[0]), rows[1:]), nil
}

// writeSheet fills a sheet named sh.Label, replacing any sheet already
// carrying that label.
func writeSheet(f *excelize.File, sh Sheet) error {
	existing, err := f.GetSheetIndex(sh.Label)
	if err != nil {
		return err
	}
	const replaced = "~replaced"
	if existing >= 0 {
		if err := f.SetSheetName(sh.Label, replaced); err != nil {
			return err
		}
	}
	if _, err := f.NewSheet(sh.Label); err != nil {
		return err
	}
	if existing >= 0 {
		if err := f.DeleteSheet(replaced); err != nil {
			return err
		}
	}

	data := sh.Data
	if data == nil {
		data = New()
	}
	header := make([]interface{}, len(data.Columns))
	for i, col := range data.Columns {
		header[i] = col
	}
	if err := f.SetSheetRow(sh.Label, "A1", &header); err != nil {
		return err
	}
	for i, rec := range data.Records() {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		vals := make([]interface{}, len(rec))
		for j, v := range rec {
			vals[j] = v
		}
		if err := f.SetSheetRow(sh.Label, cell, &vals); err != nil {
			return err
		}
	}
	return nil
}

// uniqueHeader suffixes repeated column names with ".1", ".2", ...
func uniqueHeader(header []string) []string {
	out := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, h := range header {
		name := h
		if n, ok := seen[h]; ok {
			name = h + "." + strconv.Itoa(n)
		}
		seen[h]++
		out[i] = name
	}
	return out
}
