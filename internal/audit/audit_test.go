package audit

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoggerWritesEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l, err := NewLogger(path)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer l.Close()

	ts := time.Date(2026, 2, 19, 10, 30, 0, 0, time.UTC)

	l.Log(Entry{
		Timestamp: ts,
		Action:    ActionSave,
		Key:       "login",
		Policy:    "device-owner",
		Actor:     "cli",
	})

	l.Log(Entry{
		Timestamp: ts.Add(time.Hour),
		Action:    ActionVerify,
		Key:       "login",
		Actor:     "daemon",
		Code:      "USER_CANCELED",
	})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	var e1 Entry
	json.Unmarshal([]byte(lines[0]), &e1)
	if e1.Action != ActionSave {
		t.Errorf("expected credential_save, got %v", e1.Action)
	}
	if e1.Key != "login" {
		t.Errorf("expected login, got %q", e1.Key)
	}
	if e1.Policy != "device-owner" {
		t.Errorf("expected device-owner, got %q", e1.Policy)
	}

	var e2 Entry
	json.Unmarshal([]byte(lines[1]), &e2)
	if e2.Action != ActionVerify {
		t.Errorf("expected credential_verify, got %v", e2.Action)
	}
	if e2.Code != "USER_CANCELED" {
		t.Errorf("expected USER_CANCELED, got %q", e2.Code)
	}
}

func TestLoggerAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")

	l1, _ := NewLogger(path)
	l1.Log(Entry{Action: ActionSave, Key: "first"})
	l1.Close()

	l2, _ := NewLogger(path)
	l2.Log(Entry{Action: ActionDelete, Key: "second"})
	l2.Close()

	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
}

func TestLoggerDefaultTimestamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l, _ := NewLogger(path)
	defer l.Close()

	before := time.Now().UTC()
	l.Log(Entry{Action: ActionVerify, Key: "test"})
	after := time.Now().UTC()

	data, _ := os.ReadFile(path)
	var e Entry
	json.Unmarshal(data, &e)

	if e.Timestamp.Before(before) || e.Timestamp.After(after) {
		t.Errorf("timestamp %v not between %v and %v", e.Timestamp, before, after)
	}
}

func TestLoggerFilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l, _ := NewLogger(path)
	l.Close()

	info, _ := os.Stat(path)
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("expected 0600, got %o", perm)
	}
}

func TestLoggerCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state", "biokey")
	path := filepath.Join(dir, "audit.log")

	l, err := NewLogger(path)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer l.Close()

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0700 {
		t.Errorf("expected 0700, got %o", perm)
	}
}

func TestLoggerRejectsInvalidEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l, err := NewLogger(path)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer l.Close()

	tests := []struct {
		name  string
		entry Entry
	}{
		{"empty action", Entry{Key: "login"}},
		{"unknown action", Entry{Action: "credential_export", Key: "login"}},
		{"empty key", Entry{Action: ActionSave}},
		{"error without code", Entry{Action: ActionVerify, Key: "login", Error: "boom"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := l.Log(tt.entry); !errors.Is(err, ErrInvalidEntry) {
				t.Errorf("Log = %v, want ErrInvalidEntry", err)
			}
		})
	}

	data, _ := os.ReadFile(path)
	if len(data) != 0 {
		t.Errorf("rejected entries were written: %q", data)
	}
}

func TestLoggerStoresUTC(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l, _ := NewLogger(path)

	local := time.FixedZone("AEST", 10*60*60)
	ts := time.Date(2026, 2, 19, 20, 30, 0, 0, local)
	if err := l.Log(Entry{Timestamp: ts, Action: ActionDelete, Key: "login"}); err != nil {
		t.Fatalf("Log: %v", err)
	}
	l.Close()

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), `"ts":"2026-02-19T10:30:00Z"`) {
		t.Errorf("timestamp not stored in UTC: %s", data)
	}
}

func TestLoggerClosed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l, _ := NewLogger(path)

	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := l.Log(Entry{Action: ActionSave, Key: "login"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Log after Close = %v, want ErrClosed", err)
	}
}

func TestReadTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l, _ := NewLogger(path)
	for _, k := range []string{"a", "b", "c", "d"} {
		l.Log(Entry{Action: ActionSave, Key: k})
	}
	l.Close()

	entries, err := Read(path, 2)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Key != "c" || entries[1].Key != "d" {
		t.Errorf("got keys %q, %q; want c, d", entries[0].Key, entries[1].Key)
	}

	all, err := Read(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 {
		t.Errorf("expected 4 entries, got %d", len(all))
	}
}

func TestReadMissingLog(t *testing.T) {
	entries, err := Read(filepath.Join(t.TempDir(), "missing.log"), 10)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries, got %d", len(entries))
	}
}

func TestReadCorruptLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	os.WriteFile(path, []byte("{\"action\":\"credential_save\"}\nnot json\n"), 0600)

	if _, err := Read(path, 0); err == nil {
		t.Fatal("expected parse error")
	}
}
