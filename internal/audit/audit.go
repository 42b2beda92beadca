// Package audit provides append-only structured logging for credential
// operations.
//
// Every save, verify and delete is recorded to an audit log at
// ~/.biokey/audit.log as newline-delimited JSON. Secret values are never
// recorded.
package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Action describes what happened.
type Action string

const (
	ActionSave   Action = "credential_save"
	ActionVerify Action = "credential_verify"
	ActionDelete Action = "credential_delete"
)

// Entry is a single audit log record.
type Entry struct {
	Timestamp time.Time `json:"ts"`
	Action    Action    `json:"action"`
	Key       string    `json:"key"`
	Policy    string    `json:"policy,omitempty"`
	Actor     string    `json:"actor,omitempty"` // "cli", "daemon"
	Code      string    `json:"code,omitempty"`  // stable error code on failure
	Error     string    `json:"error,omitempty"`
}

var (
	// ErrInvalidEntry is returned for an entry that does not describe a
	// credential operation.
	ErrInvalidEntry = errors.New("invalid audit entry")
	// ErrClosed is returned by Log after Close.
	ErrClosed = errors.New("audit log closed")
)

func (a Action) valid() bool {
	switch a {
	case ActionSave, ActionVerify, ActionDelete:
		return true
	}
	return false
}

// Logger appends entries to the audit log. It is safe for concurrent use.
type Logger struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// NewLogger opens the audit log at path for appending, creating it and its
// directory owner-only when missing.
func NewLogger(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating audit log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	return &Logger{file: f, path: path}, nil
}

// Log appends one entry as a single line. Entries without a known action or
// a key are rejected, and timestamps are stored in UTC.
func (l *Logger) Log(entry Entry) error {
	if !entry.Action.valid() {
		return fmt.Errorf("%w: action %q", ErrInvalidEntry, entry.Action)
	}
	if entry.Key == "" {
		return fmt.Errorf("%w: %s without a key", ErrInvalidEntry, entry.Action)
	}
	if entry.Error != "" && entry.Code == "" {
		return fmt.Errorf("%w: %s error without a code", ErrInvalidEntry, entry.Action)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	entry.Timestamp = entry.Timestamp.UTC()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling audit entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return ErrClosed
	}
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing audit entry: %w", err)
	}
	return nil
}

// Close closes the log. Closing twice is a no-op.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Read returns the last n entries of the log at path, oldest first. n <= 0
// returns every entry. A missing log has no entries.
func Read(path string, n int) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for line := 1; scanner.Scan(); line++ {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("parsing audit log line %d: %w", line, err)
		}
		entries = append(entries, e)
		if n > 0 && len(entries) > n {
			entries = entries[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading audit log: %w", err)
	}
	return entries, nil
}
