// Package keychain provides the protected entry store that holds credential
// secrets.
//
// Entries are stored as generic passwords with:
//   - Service: the application namespace (default "com.benaskins.biokey")
//   - Account: the logical credential key (e.g. "login")
//   - Label: "biokey: <key>"
//
// On darwin entries are never synced and are only readable on this device
// while it is unlocked. The policy an entry was written under is kept in its
// description attribute, and a write under a different policy is refused.
// Other platforms store entries in the OS keyring.
//
// Low-level status codes are translated into a StoreError exactly once, here.
package keychain

import (
	"github.com/benaskins/biokey/internal/policy"
)

// DefaultNamespace is the service attribute shared by all biokey entries.
const DefaultNamespace = "com.benaskins.biokey"

// Store is the interface for protected entry operations.
//
// Get reports a missing entry as found == false with a nil error. Delete of a
// missing entry succeeds.
type Store interface {
	Put(key string, secret []byte, p policy.Policy) error
	Get(key string) (value string, found bool, err error)
	Delete(key string) error
}
