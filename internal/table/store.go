package table

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"sync"
)

// ErrSheetNotFound is returned when a workbook has no sheet with the
// requested label.
var ErrSheetNotFound = errors.New("sheet not found")

// Mode selects whether Write replaces the whole file or adds to it.
type Mode int

const (
	// Overwrite replaces the file, keeping only the sheets written.
	Overwrite Mode = iota
	// Append keeps the file's other sheets and replaces any sheet with the
	// same label.
	Append
)

// Sheet is a labelled dataset written as one worksheet.
type Sheet struct {
	Label string
	Data  *Dataset
}

// Store reads and writes datasets as labelled sheets of a workbook file.
type Store interface {
	// Read returns the sheet with the given label.
	Read(path, label string) (*Dataset, error)
	// ReadIndex returns the sheet at a zero-based position.
	ReadIndex(path string, index int) (*Dataset, error)
	// Write stores the sheets in order.
	Write(path string, mode Mode, sheets ...Sheet) error
	// Sheets lists the labels in the file, in order.
	Sheets(path string) ([]string, error)
}

// Exists reports whether the file holds a sheet with label.
func Exists(store Store, path, label string) (bool, error) {
	labels, err := store.Sheets(path)
	if err != nil {
		return false, err
	}
	for _, l := range labels {
		if l == label {
			return true, nil
		}
	}
	return false, nil
}

// MemoryStore keeps workbooks in memory. Paths are opaque keys.
type MemoryStore struct {
	mu    sync.Mutex
	files map[string]*memFile
}

type memFile struct {
	order  []string
	sheets map[string]*Dataset
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{files: make(map[string]*memFile)}
}

// Read implements Store.
func (s *MemoryStore) Read(path, label string) (*Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[path]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", path, fs.ErrNotExist)
	}
	d, ok := f.sheets[label]
	if !ok {
		return nil, fmt.Errorf("%w: %q in %s", ErrSheetNotFound, label, path)
	}
	return d.Clone(), nil
}

// ReadIndex implements Store.
func (s *MemoryStore) ReadIndex(path string, index int) (*Dataset, error) {
	labels, err := s.Sheets(path)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(labels) {
		return nil, fmt.Errorf("%w: index %d in %s", ErrSheetNotFound, index, path)
	}
	return s.Read(path, labels[index])
}

// Write implements Store.
func (s *MemoryStore) Write(path string, mode Mode, sheets ...Sheet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[path]
	if !ok || mode == Overwrite {
		f = &memFile{sheets: make(map[string]*Dataset)}
		s.files[path] = f
	}
	for _, sh := range sheets {
		if _, exists := f.sheets[sh.Label]; !exists {
			f.order = append(f.order, sh.Label)
		}
		f.sheets[sh.Label] = sh.Data.Clone()
	}
	return nil
}

// Sheets implements Store.
func (s *MemoryStore) Sheets(path string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[path]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", path, fs.ErrNotExist)
	}
	return append([]string(nil), f.order...), nil
}

// Paths lists every file the store holds, sorted.
func (s *MemoryStore) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.files))
	for p := range s.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Remove drops a file from the store.
func (s *MemoryStore) Remove(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, path)
}
