package table

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReadCSV loads a comma-separated file whose first record is the header.
func ReadCSV(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err == io.EOF {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return FromRecords(uniqueHeader(header), records), nil
}

// WriteCSV writes d as UTF-8 CSV with a header row and no index column.
func WriteCSV(path string, d *Dataset) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(d.Columns); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := w.WriteAll(d.Records()); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}
