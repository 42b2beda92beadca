package presence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"
)

func openTemp(t *testing.T) *Index {
	t.Helper()
	idx, err := Open(filepath.Join(t.TempDir(), "presence.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return idx
}

func TestOpenMissingFile(t *testing.T) {
	t.Parallel()
	idx := openTemp(t)
	if idx.Has("login") {
		t.Error("expected empty index")
	}
	if keys := idx.Keys(); len(keys) != 0 {
		t.Errorf("Keys() = %v, want empty", keys)
	}
}

func TestOpenEmptyFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "presence.json")
	if err := os.WriteFile(path, nil, 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err != nil {
		t.Fatalf("Open empty file: %v", err)
	}
}

func TestOpenCorruptFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "presence.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err == nil {
		t.Fatal("expected error for corrupt index")
	}
}

func TestMarkAndClear(t *testing.T) {
	t.Parallel()
	idx := openTemp(t)

	if err := idx.Mark("login"); err != nil {
		t.Fatalf("Mark: %v", err)
	}
	if !idx.Has("login") {
		t.Error("expected login to be present")
	}
	if err := idx.Clear("login"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if idx.Has("login") {
		t.Error("expected login to be cleared")
	}
}

func TestClearAbsentKey(t *testing.T) {
	t.Parallel()
	idx := openTemp(t)
	if err := idx.Clear("missing"); err != nil {
		t.Fatalf("Clear absent key: %v", err)
	}
}

func TestMarkPersists(t *testing.T) {
	t.Parallel()
	idx := openTemp(t)
	if err := idx.Mark("login"); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(idx.Path())
	if err != nil {
		t.Fatal(err)
	}
	if !reopened.Has("login") {
		t.Error("expected login after reopen")
	}

	info, err := os.Stat(idx.Path())
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("permissions = %o, want 600", perm)
	}
}

func TestMarkKeepsCreatedAt(t *testing.T) {
	t.Parallel()
	idx := openTemp(t)

	clock := time.Unix(1000, 0)
	idx.now = func() time.Time { return clock }
	if err := idx.Mark("login"); err != nil {
		t.Fatal(err)
	}
	clock = time.Unix(2000, 0)
	if err := idx.Mark("login"); err != nil {
		t.Fatal(err)
	}

	rec, ok := idx.Get("login")
	if !ok {
		t.Fatal("expected record")
	}
	if rec.CreatedAt != 1000 {
		t.Errorf("CreatedAt = %d, want 1000", rec.CreatedAt)
	}
	if rec.UpdatedAt != 2000 {
		t.Errorf("UpdatedAt = %d, want 2000", rec.UpdatedAt)
	}
}

func TestMarkFailureLeavesStateUnchanged(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "presence.json")
	idx, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	// A directory in place of the file makes the re-read fail.
	if err := os.Mkdir(path, 0700); err != nil {
		t.Fatal(err)
	}

	if err := idx.Mark("login"); err == nil {
		t.Fatal("expected Mark to fail")
	}
	if idx.Has("login") {
		t.Error("failed Mark must not change the index")
	}
}

func TestSharedFileKeepsBothWriters(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "presence.json")
	cli, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	daemon, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := cli.Mark("login"); err != nil {
		t.Fatal(err)
	}
	if err := daemon.Mark("work"); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	keys := reopened.Keys()
	if len(keys) != 2 || keys[0] != "login" || keys[1] != "work" {
		t.Fatalf("Keys() = %v, want [login work]", keys)
	}
	if !daemon.Has("login") {
		t.Error("writer did not pick up the other handle's key")
	}
}

func TestSharedFileClearNotResurrected(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "presence.json")
	cli, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := cli.Mark("login"); err != nil {
		t.Fatal(err)
	}
	daemon, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := cli.Clear("login"); err != nil {
		t.Fatal(err)
	}
	// daemon still believes login is present until it re-reads the file.
	if err := daemon.Mark("work"); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if reopened.Has("login") {
		t.Error("cleared key came back after another handle wrote")
	}
	if !reopened.Has("work") {
		t.Error("expected work to be present")
	}
}

func TestConcurrentHandles(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("no advisory file locks")
	}
	t.Parallel()
	path := filepath.Join(t.TempDir(), "presence.json")

	const n = 8
	handles := make([]*Index, n)
	for i := range handles {
		h, err := Open(path)
		if err != nil {
			t.Fatal(err)
		}
		handles[i] = h
	}

	var wg sync.WaitGroup
	for i, h := range handles {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.Mark(fmt.Sprintf("key-%d", i)); err != nil {
				t.Errorf("Mark: %v", err)
			}
		}()
	}
	wg.Wait()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("Open after concurrent writes: %v", err)
	}
	if keys := reopened.Keys(); len(keys) != n {
		t.Errorf("Keys() = %v, want %d keys", keys, n)
	}

	leftovers, _ := filepath.Glob(path + ".*.tmp")
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}

func TestKeysSorted(t *testing.T) {
	t.Parallel()
	idx := openTemp(t)
	for _, k := range []string{"work", "alpha", "login"} {
		if err := idx.Mark(k); err != nil {
			t.Fatal(err)
		}
	}
	keys := idx.Keys()
	want := []string{"alpha", "login", "work"}
	if len(keys) != len(want) {
		t.Fatalf("Keys() = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("Keys()[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestWatchReloadsExternalChanges(t *testing.T) {
	t.Parallel()
	watched := openTemp(t)
	writer, err := Open(watched.Path())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- watched.Watch(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for !watched.Has("login") {
		if time.Now().After(deadline) {
			t.Fatal("watcher did not pick up external change")
		}
		// Rewrite until the watcher has been registered and seen an event.
		if err := writer.Mark("login"); err != nil {
			t.Fatal(err)
		}
		time.Sleep(300 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("Watch did not return after cancel")
	}
}
