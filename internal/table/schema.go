package table

import (
	"fmt"
	"strings"
)

// Schema declares the columns a dataset role must carry when it is read.
type Schema struct {
	Name    string
	Columns []string
}

// MissingColumnError reports the expected columns a dataset lacked.
type MissingColumnError struct {
	Dataset string
	Columns []string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("%s is missing column(s): %s", e.Dataset, strings.Join(e.Columns, ", "))
}

// Validate checks that d has every column the schema declares.
func (s Schema) Validate(d *Dataset) error {
	var missing []string
	for _, col := range s.Columns {
		if !d.Has(col) {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return &MissingColumnError{Dataset: s.Name, Columns: missing}
	}
	return nil
}

// ReadAs reads a sheet and validates it against schema.
func ReadAs(store Store, path, label string, schema Schema) (*Dataset, error) {
	d, err := store.Read(path, label)
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(d); err != nil {
		return nil, err
	}
	return d, nil
}
