//go:build darwin

package keychain

import (
	"errors"
	"fmt"
	"log/slog"

	gokeychain "github.com/keybase/go-keychain"

	"github.com/benaskins/biokey/internal/policy"
)

// SystemStore provides protected entries in the macOS/iOS Keychain.
//
// The access-control descriptor an entry was created under is recorded in
// its description attribute. An update under a different descriptor fails
// with interaction-not-allowed, the same way the platform refuses to rewrite
// an entry whose protection class no longer matches.
type SystemStore struct {
	service string
	logger  *slog.Logger
}

// NewSystemStore creates a Keychain-backed entry store scoped to namespace.
func NewSystemStore(namespace string) *SystemStore {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &SystemStore{
		service: namespace,
		logger:  slog.With("component", "keychain"),
	}
}

func (s *SystemStore) baseQuery(key string) gokeychain.Item {
	q := gokeychain.NewItem()
	q.SetSecClass(gokeychain.SecClassGenericPassword)
	q.SetService(s.service)
	q.SetAccount(key)
	return q
}

// Put creates the entry for key or updates it in place.
func (s *SystemStore) Put(key string, secret []byte, p policy.Policy) error {
	if key == "" {
		return FromStatus("put", key, StatusParam)
	}

	// Attribute-only lookup: never touches the protected data, so it
	// cannot raise an authentication prompt.
	lookup := s.baseQuery(key)
	lookup.SetMatchLimit(gokeychain.MatchLimitOne)
	lookup.SetReturnAttributes(true)
	existing, err := gokeychain.QueryItem(lookup)
	if err != nil && statusOf(err) != StatusInteractionNotAllowed {
		return s.fail("put", key, err)
	}

	if len(existing) == 0 && err == nil {
		item := gokeychain.NewGenericPassword(s.service, key, fmt.Sprintf("biokey: %s", key), secret, "")
		item.SetDescription(p.String())
		item.SetSynchronizable(gokeychain.SynchronizableNo)
		item.SetAccessible(gokeychain.AccessibleWhenUnlockedThisDeviceOnly)
		if err := gokeychain.AddItem(item); err != nil {
			return s.fail("add", key, err)
		}
		return nil
	}

	if len(existing) == 1 && existing[0].Description != p.String() {
		return FromStatus("update", key, StatusInteractionNotAllowed)
	}

	update := gokeychain.NewItem()
	update.SetData(secret)
	if err := gokeychain.UpdateItem(s.baseQuery(key), update); err != nil {
		return s.fail("update", key, err)
	}
	return nil
}

// Get retrieves the entry for key. A missing entry is not an error.
func (s *SystemStore) Get(key string) (string, bool, error) {
	q := s.baseQuery(key)
	q.SetMatchLimit(gokeychain.MatchLimitOne)
	q.SetReturnData(true)
	results, err := gokeychain.QueryItem(q)
	if err != nil {
		return "", false, s.fail("get", key, err)
	}
	if len(results) == 0 {
		return "", false, nil
	}
	val, err := decode(key, results[0].Data)
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Delete removes the entry for key. Deleting a missing entry succeeds.
func (s *SystemStore) Delete(key string) error {
	err := gokeychain.DeleteItem(s.baseQuery(key))
	if err != nil && !errors.Is(err, gokeychain.ErrorItemNotFound) {
		return s.fail("delete", key, err)
	}
	return nil
}

func (s *SystemStore) fail(op, key string, err error) *StoreError {
	serr := FromStatus(op, key, statusOf(err))
	s.logger.Warn("keychain operation failed", "op", op, "key", key, "status", serr.Status, "error", err)
	return serr
}

// statusOf recovers the raw OSStatus from a go-keychain error. Errors raised
// before the Security framework was reached are unexpected.
func statusOf(err error) int {
	var kcErr gokeychain.Error
	if errors.As(err, &kcErr) {
		return int(kcErr)
	}
	return StatusUnexpected
}
