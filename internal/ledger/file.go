package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// FileStore persists the ledger as a single JSON object on disk. Every call
// re-reads the file; nothing is cached between calls.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by the JSON file at path. The file is
// created on first Initialize.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the ledger file location.
func (s *FileStore) Path() string { return s.path }

// Initialize implements Store.
func (s *FileStore) Initialize(keys []string) error {
	all := make(map[string]Entry, len(keys))
	for _, k := range keys {
		all[k] = DefaultEntry()
	}
	return s.save(all)
}

// Update implements Store.
func (s *FileStore) Update(key string, updates Updates) error {
	if err := validate(updates); err != nil {
		return err
	}
	all, err := s.load()
	if err != nil {
		return err
	}
	entry, ok := all[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, key)
	}
	if entry == nil {
		entry = DefaultEntry()
	}
	for name, v := range updates {
		entry[name] = v.clone()
	}
	all[key] = entry
	return s.save(all)
}

// Get implements Store.
func (s *FileStore) Get(key, name string) (Value, error) {
	if !Known(name) {
		return Value{}, fmt.Errorf("%w: %s is not a valid metric", ErrUnknownMetric, name)
	}
	all, err := s.load()
	if err != nil {
		return Value{}, err
	}
	entry, ok := all[key]
	if !ok {
		return Value{}, fmt.Errorf("%w: %s", ErrUnknownEvent, key)
	}
	return lookup(entry, name), nil
}

// GetAll implements Store.
func (s *FileStore) GetAll(key string) (Entry, error) {
	all, err := s.load()
	if err != nil {
		return nil, err
	}
	entry, ok := all[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, key)
	}
	return filled(entry), nil
}

// Events implements Store.
func (s *FileStore) Events() ([]string, error) {
	all, err := s.load()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *FileStore) load() (map[string]Entry, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading ledger: %w", err)
	}
	all := map[string]Entry{}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("parsing ledger %s: %w", s.path, err)
	}
	return all, nil
}

// save writes to a temp file in the same directory and renames it over the
// ledger, so a crash mid-write leaves the previous ledger intact.
func (s *FileStore) save(all map[string]Entry) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding ledger: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating ledger directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".ledger-*.json")
	if err != nil {
		return fmt.Errorf("creating temp ledger: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing ledger: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replacing ledger: %w", err)
	}
	return nil
}
