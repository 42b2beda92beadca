// Package presence records which credential keys have a saved secret.
//
// The index is a small JSON file kept next to the rest of biokey's state. It
// is readable without any authentication, which is what lets callers ask
// "is there a credential?" without prompting the user.
package presence

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Record is the persisted state of one key.
type Record struct {
	CreatedAt int64 `json:"created_at"` // Unix timestamp
	UpdatedAt int64 `json:"updated_at"` // Unix timestamp
}

// Index is a file-backed set of keys with a saved credential. The file is
// written atomically with 0600 permissions.
type Index struct {
	path    string
	mu      sync.RWMutex
	records map[string]Record
	now     func() time.Time
	logger  *slog.Logger
}

// Open loads the index at path. A missing file is an empty index.
func Open(path string) (*Index, error) {
	idx := &Index{
		path:    path,
		records: make(map[string]Record),
		now:     time.Now,
		logger:  slog.With("component", "presence"),
	}
	if err := idx.Reload(); err != nil {
		return nil, err
	}
	return idx, nil
}

// Path returns the file backing the index.
func (idx *Index) Path() string {
	return idx.path
}

// Has reports whether key is marked present.
func (idx *Index) Has(key string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.records[key]
	return ok
}

// Get returns the record for key.
func (idx *Index) Get(key string) (Record, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	rec, ok := idx.records[key]
	return rec, ok
}

// Mark records key as present and persists the index. The in-memory state is
// only changed once the file has been written.
func (idx *Index) Mark(key string) error {
	err := idx.update(func(records map[string]Record) bool {
		now := idx.now().Unix()
		rec, ok := records[key]
		if !ok {
			rec.CreatedAt = now
		}
		rec.UpdatedAt = now
		records[key] = rec
		return true
	})
	if err != nil {
		return fmt.Errorf("marking %q: %w", key, err)
	}
	return nil
}

// Clear removes key from the index. Clearing an absent key is a no-op.
func (idx *Index) Clear(key string) error {
	err := idx.update(func(records map[string]Record) bool {
		if _, ok := records[key]; !ok {
			return false
		}
		delete(records, key)
		return true
	})
	if err != nil {
		return fmt.Errorf("clearing %q: %w", key, err)
	}
	return nil
}

// update re-reads the file, applies fn and writes the result back while
// holding the index lock file, so that other processes sharing the file
// never have their changes overwritten. fn reports whether it changed
// anything.
func (idx *Index) update(fn func(records map[string]Record) bool) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(idx.path), 0700); err != nil {
		return err
	}
	unlock, err := lockFile(idx.path + ".lock")
	if err != nil {
		return fmt.Errorf("locking presence index: %w", err)
	}
	defer unlock()

	records, err := idx.loadUnsafe()
	if err != nil {
		return err
	}
	if fn(records) {
		if err := idx.saveUnsafe(records); err != nil {
			return err
		}
	}
	idx.records = records
	return nil
}

// Keys returns all present keys in sorted order.
func (idx *Index) Keys() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	keys := make([]string, 0, len(idx.records))
	for k := range idx.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Reload replaces the in-memory state with the contents of the file.
func (idx *Index) Reload() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	records, err := idx.loadUnsafe()
	if err != nil {
		return err
	}
	idx.records = records
	return nil
}

func (idx *Index) loadUnsafe() (map[string]Record, error) {
	data, err := os.ReadFile(idx.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return make(map[string]Record), nil
		}
		return nil, fmt.Errorf("reading presence index: %w", err)
	}

	records := make(map[string]Record)
	if len(data) == 0 {
		return records, nil
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parsing presence index: %w", err)
	}
	return records, nil
}

func (idx *Index) saveUnsafe(records map[string]Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}

	// CreateTemp makes the file 0600 with a name unique to this writer.
	tmp, err := os.CreateTemp(filepath.Dir(idx.path), filepath.Base(idx.path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), idx.path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
