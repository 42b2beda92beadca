//go:build integration

package keychain

import (
	"testing"

	"github.com/benaskins/biokey/internal/policy"
)

// Integration tests use the real platform store.
// Run with: go test -tags integration ./internal/keychain/
//
// Requires an unlocked login Keychain (macOS) or a running Secret Service
// (Linux) and an interactive session.

const integrationNamespace = "com.benaskins.biokey.test"

func cleanupIntegration(t *testing.T, s *SystemStore, keys ...string) {
	t.Helper()
	for _, k := range keys {
		s.Delete(k)
	}
}

func TestSystemPutAndGet(t *testing.T) {
	s := NewSystemStore(integrationNamespace)
	key := "test/integration-put-get"
	defer cleanupIntegration(t, s, key)

	if err := s.Put(key, []byte("hello-keychain"), policy.DeviceOwner); err != nil {
		t.Fatalf("Put: %v", err)
	}

	val, found, err := s.Get(key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found || val != "hello-keychain" {
		t.Errorf("expected 'hello-keychain', got %q (found=%v)", val, found)
	}
}

func TestSystemOverwrite(t *testing.T) {
	s := NewSystemStore(integrationNamespace)
	key := "test/integration-overwrite"
	defer cleanupIntegration(t, s, key)

	s.Put(key, []byte("first"), policy.DeviceOwner)
	s.Put(key, []byte("second"), policy.DeviceOwner)

	val, _, err := s.Get(key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if val != "second" {
		t.Errorf("expected 'second', got %q", val)
	}
}

func TestSystemDeleteIdempotent(t *testing.T) {
	s := NewSystemStore(integrationNamespace)
	key := "test/integration-delete"

	s.Put(key, []byte("to-delete"), policy.DeviceOwner)
	if err := s.Delete(key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(key); err != nil {
		t.Fatalf("second Delete: %v", err)
	}

	_, found, err := s.Get(key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found {
		t.Error("expected entry gone after delete")
	}
}
