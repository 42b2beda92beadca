//go:build !darwin

package keychain

import (
	"errors"
	"log/slog"

	"github.com/zalando/go-keyring"

	"github.com/benaskins/biokey/internal/policy"
)

// SystemStore provides protected entries in the OS keyring (the freedesktop
// Secret Service on Linux, Credential Manager on Windows).
//
// The keyring enforces no access-control descriptor; the policy is accepted
// and every access is gated by the authentication challenge instead.
type SystemStore struct {
	service string
	logger  *slog.Logger
}

// NewSystemStore creates a keyring-backed entry store scoped to namespace.
func NewSystemStore(namespace string) *SystemStore {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &SystemStore{
		service: namespace,
		logger:  slog.With("component", "keychain"),
	}
}

func (s *SystemStore) Put(key string, secret []byte, _ policy.Policy) error {
	if key == "" {
		return FromStatus("put", key, StatusParam)
	}
	if _, err := decode(key, secret); err != nil {
		return FromStatus("put", key, StatusConversionError)
	}
	if err := keyring.Set(s.service, key, string(secret)); err != nil {
		return s.fail("put", key, err)
	}
	return nil
}

func (s *SystemStore) Get(key string) (string, bool, error) {
	val, err := keyring.Get(s.service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", false, nil
		}
		return "", false, s.fail("get", key, err)
	}
	val, err = decode(key, []byte(val))
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *SystemStore) Delete(key string) error {
	err := keyring.Delete(s.service, key)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return s.fail("delete", key, err)
	}
	return nil
}

func (s *SystemStore) fail(op, key string, err error) *StoreError {
	serr := FromStatus(op, key, statusOf(err))
	s.logger.Warn("keyring operation failed", "op", op, "key", key, "code", serr.Code, "error", err)
	return serr
}

// statusOf maps keyring failures onto the security-store status space.
func statusOf(err error) int {
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return StatusItemNotFound
	case errors.Is(err, keyring.ErrSetDataTooBig):
		return StatusParam
	case errors.Is(err, keyring.ErrUnsupportedPlatform):
		return StatusNoSuchKeychain
	default:
		return StatusUnexpected
	}
}
