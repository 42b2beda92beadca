// Package vault is the credential lifecycle controller. It ties the entry
// store, the presence index and the authentication orchestrator together
// into the five caller-facing operations: Has, Save, Verify, Delete and
// IsAvailable.
//
// Each key is either absent or present. Presence is answered from the index
// alone, so Has never prompts. Save and Verify pass through a challenge
// before touching the store; a canceled or failed challenge leaves both the
// store and the index untouched.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/benaskins/biokey/internal/audit"
	"github.com/benaskins/biokey/internal/auth"
	"github.com/benaskins/biokey/internal/errcode"
	"github.com/benaskins/biokey/internal/keychain"
	"github.com/benaskins/biokey/internal/policy"
)

// DefaultSaveReason is the prompt shown when a save requires authentication.
const DefaultSaveReason = "Authenticate to save your credential"

// Flags is the persisted set of keys that have a saved credential.
type Flags interface {
	Has(key string) bool
	Mark(key string) error
	Clear(key string) error
	Keys() []string
}

// Vault implements the credential lifecycle.
type Vault struct {
	store        keychain.Store
	flags        Flags
	resolver     *policy.Resolver
	auth         *auth.Orchestrator
	audit        *audit.Logger
	actor        string
	saveReason   string
	strictDelete bool
	locks        *keyLocks
	logger       *slog.Logger
}

// Option configures a Vault.
type Option func(*Vault)

// WithAudit records every save, verify and delete to l under actor.
func WithAudit(l *audit.Logger, actor string) Option {
	return func(v *Vault) {
		v.audit = l
		v.actor = actor
	}
}

// WithStrictDelete makes Delete remove the store entry first and clear the
// presence flag only once the store has confirmed the deletion.
func WithStrictDelete(strict bool) Option {
	return func(v *Vault) { v.strictDelete = strict }
}

// WithSaveReason sets the prompt shown for authenticated saves.
func WithSaveReason(reason string) Option {
	return func(v *Vault) {
		if reason != "" {
			v.saveReason = reason
		}
	}
}

// New creates a Vault. Entries are written under the orchestrator's policy,
// which is the policy the resolver fixed at startup.
func New(store keychain.Store, flags Flags, resolver *policy.Resolver, orchestrator *auth.Orchestrator, opts ...Option) *Vault {
	v := &Vault{
		store:      store,
		flags:      flags,
		resolver:   resolver,
		auth:       orchestrator,
		saveReason: DefaultSaveReason,
		locks:      newKeyLocks(),
		logger:     slog.With("component", "vault"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Policy returns the access policy entries are written under.
func (v *Vault) Policy() policy.Policy {
	return v.auth.Policy()
}

// IsAvailable reports the biometric modality backing the resolved policy.
// It fails with errcode.BiometricsNotAvailable when the policy cannot be
// evaluated.
func (v *Vault) IsAvailable() (policy.Modality, error) {
	a, err := v.resolver.Available()
	if err != nil {
		return "", err
	}
	return a.Modality, nil
}

// Has reports whether a credential has been saved for key. It reads the
// presence index only.
func (v *Vault) Has(key string) bool {
	return v.flags.Has(key)
}

// Keys lists every key with a saved credential.
func (v *Vault) Keys() []string {
	return v.flags.Keys()
}

// Save stores secret under key, replacing any previous value. The old entry
// is deleted before the new one is written so the entry always carries the
// current policy. The presence flag is set only after the write succeeds.
func (v *Vault) Save(ctx context.Context, key, secret string, requireAuth bool) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", errcode.InvalidArgument)
	}

	_, err := auth.RunGuarded(ctx, v.auth, v.saveReason, requireAuth, func() (struct{}, error) {
		unlock := v.locks.lock(key)
		defer unlock()

		if err := v.store.Delete(key); err != nil {
			return struct{}{}, err
		}
		if err := v.store.Put(key, []byte(secret), v.Policy()); err != nil {
			return struct{}{}, err
		}
		if err := v.flags.Mark(key); err != nil {
			return struct{}{}, fmt.Errorf("recording presence: %w", err)
		}
		return struct{}{}, nil
	})

	v.record(audit.ActionSave, key, err)
	if err != nil {
		v.logger.Warn("save failed", "key", key, "require_auth", requireAuth, "code", errcode.Of(err), "error", err)
		return err
	}
	v.logger.Info("credential saved", "key", key, "policy", v.Policy(), "require_auth", requireAuth)
	return nil
}

// Verify challenges the user and returns the secret saved under key. An
// empty reason is replaced by the orchestrator's default prompt.
//
// A key that was never saved fails with errcode.UserNotFound without
// prompting. A key whose entry has disappeared from the store since it was
// saved fails with errcode.KeychainExpired.
func (v *Vault) Verify(ctx context.Context, key, reason string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("%w: empty key", errcode.InvalidArgument)
	}
	if !v.flags.Has(key) {
		v.record(audit.ActionVerify, key, errcode.UserNotFound)
		return "", errcode.UserNotFound
	}

	secret, err := auth.RunGuarded(ctx, v.auth, reason, true, func() (string, error) {
		unlock := v.locks.lock(key)
		defer unlock()

		val, found, err := v.store.Get(key)
		if err != nil {
			return "", err
		}
		if !found {
			return "", errcode.KeychainExpired
		}
		return val, nil
	})

	v.record(audit.ActionVerify, key, err)
	if err != nil {
		v.logger.Warn("verify failed", "key", key, "code", errcode.Of(err), "error", err)
		return "", err
	}
	v.logger.Info("credential verified", "key", key)
	return secret, nil
}

// Delete removes the credential for key. Deleting an absent key succeeds.
//
// By default the presence flag is cleared first and stays cleared even if
// the store deletion then fails. With WithStrictDelete the store entry is
// removed first and the flag is cleared only after that succeeds.
func (v *Vault) Delete(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", errcode.InvalidArgument)
	}

	unlock := v.locks.lock(key)
	err := v.deleteLocked(key)
	unlock()

	v.record(audit.ActionDelete, key, err)
	if err != nil {
		v.logger.Warn("delete failed", "key", key, "strict", v.strictDelete, "code", errcode.Of(err), "error", err)
		return err
	}
	v.logger.Info("credential deleted", "key", key)
	return nil
}

func (v *Vault) deleteLocked(key string) error {
	if v.strictDelete {
		if err := v.store.Delete(key); err != nil {
			return err
		}
		if err := v.flags.Clear(key); err != nil {
			return fmt.Errorf("clearing presence: %w", err)
		}
		return nil
	}

	if err := v.flags.Clear(key); err != nil {
		return fmt.Errorf("clearing presence: %w", err)
	}
	return v.store.Delete(key)
}

func (v *Vault) record(action audit.Action, key string, opErr error) {
	if v.audit == nil {
		return
	}
	entry := audit.Entry{
		Action: action,
		Key:    key,
		Policy: v.Policy().String(),
		Actor:  v.actor,
	}
	if opErr != nil {
		entry.Code = errcode.Of(opErr)
		var code errcode.Code
		if !errors.As(opErr, &code) || opErr.Error() != string(code) {
			entry.Error = opErr.Error()
		}
	}
	if err := v.audit.Log(entry); err != nil {
		v.logger.Error("audit write failed", "action", action, "key", key, "error", err)
	}
}
