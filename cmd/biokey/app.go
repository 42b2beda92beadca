package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/benaskins/biokey/internal/api"
	"github.com/benaskins/biokey/internal/audit"
	"github.com/benaskins/biokey/internal/auth"
	"github.com/benaskins/biokey/internal/biometry"
	"github.com/benaskins/biokey/internal/config"
	"github.com/benaskins/biokey/internal/errcode"
	"github.com/benaskins/biokey/internal/keychain"
	"github.com/benaskins/biokey/internal/policy"
	"github.com/benaskins/biokey/internal/presence"
	"github.com/benaskins/biokey/internal/vault"
)

// loadConfig reads the config file and fills in defaults.
func loadConfig() (*config.Config, error) {
	home, err := biokeyHome()
	if err != nil {
		return nil, fmt.Errorf("locating home directory: %w", err)
	}
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	cfg.Resolve(home)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// session is a fully wired vault plus the resources it holds open.
type session struct {
	cfg   *config.Config
	vault *vault.Vault
	index *presence.Index
	audit *audit.Logger
}

// openSession wires the platform authenticator, entry store, presence index
// and audit log into a vault. actor is recorded in audit entries.
func openSession(cfg *config.Config, actor string) (*session, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.IndexPath), 0700); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}

	platform := biometry.New(biometry.Options{PolkitAction: cfg.PolkitAction})
	resolver := policy.NewResolver(platform)
	orch := auth.NewOrchestrator(resolver.Policy(), platform, auth.Options{
		Timeout:       cfg.ChallengeTimeout.Duration,
		DefaultReason: cfg.DefaultReason,
	})

	index, err := presence.Open(cfg.IndexPath)
	if err != nil {
		return nil, err
	}

	// The audit trail is best effort; a vault without one still works.
	auditLog, err := audit.NewLogger(cfg.AuditLog)
	if err != nil {
		slog.Warn("audit log disabled", "path", cfg.AuditLog, "error", err)
		auditLog = nil
	}

	v := vault.New(keychain.NewSystemStore(cfg.Namespace), index, resolver, orch,
		vault.WithAudit(auditLog, actor),
		vault.WithStrictDelete(cfg.StrictDelete),
		vault.WithSaveReason(cfg.SaveReason),
	)
	return &session{cfg: cfg, vault: v, index: index, audit: auditLog}, nil
}

func (r *session) Close() error {
	if r.audit != nil {
		return r.audit.Close()
	}
	return nil
}

// backend runs the credential operations either in-process or through the
// daemon.
type backend interface {
	IsAvailable(ctx context.Context) (policy.Modality, error)
	Has(ctx context.Context, key string) (bool, error)
	Save(ctx context.Context, key, secret string, requireAuth bool) error
	Verify(ctx context.Context, key, reason string) (string, error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

// openBackend returns the daemon client with --remote, else a local vault.
func openBackend() (backend, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if remote {
		return remoteBackend{api.NewClient(cfg.Socket)}, nil
	}
	rt, err := openSession(cfg, "cli")
	if err != nil {
		return nil, err
	}
	return localBackend{rt}, nil
}

type localBackend struct {
	*session
}

func (b localBackend) IsAvailable(context.Context) (policy.Modality, error) {
	return b.vault.IsAvailable()
}

func (b localBackend) Has(_ context.Context, key string) (bool, error) {
	return b.vault.Has(key), nil
}

func (b localBackend) Save(ctx context.Context, key, secret string, requireAuth bool) error {
	return b.vault.Save(ctx, key, secret, requireAuth)
}

func (b localBackend) Verify(ctx context.Context, key, reason string) (string, error) {
	return b.vault.Verify(ctx, key, reason)
}

func (b localBackend) Delete(_ context.Context, key string) error {
	return b.vault.Delete(key)
}

func (b localBackend) Keys(context.Context) ([]string, error) {
	return b.vault.Keys(), nil
}

type remoteBackend struct {
	client *api.Client
}

func (b remoteBackend) IsAvailable(ctx context.Context) (policy.Modality, error) {
	payload, err := b.client.Exec(ctx, "isAvailable")
	if err != nil {
		return "", err
	}
	var m policy.Modality
	if err := json.Unmarshal(payload, &m); err != nil {
		return "", fmt.Errorf("decoding modality: %w", err)
	}
	return m, nil
}

func (b remoteBackend) Has(ctx context.Context, key string) (bool, error) {
	_, err := b.client.Exec(ctx, "has", key)
	if errors.Is(err, errcode.UserNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (b remoteBackend) Save(ctx context.Context, key, secret string, requireAuth bool) error {
	_, err := b.client.Exec(ctx, "save", key, secret, requireAuth)
	return err
}

func (b remoteBackend) Verify(ctx context.Context, key, reason string) (string, error) {
	payload, err := b.client.Exec(ctx, "verify", key, reason)
	if err != nil {
		return "", err
	}
	var secret string
	if err := json.Unmarshal(payload, &secret); err != nil {
		return "", fmt.Errorf("decoding secret: %w", err)
	}
	return secret, nil
}

func (b remoteBackend) Delete(ctx context.Context, key string) error {
	_, err := b.client.Exec(ctx, "delete", key)
	return err
}

func (b remoteBackend) Keys(ctx context.Context) ([]string, error) {
	return b.client.Keys(ctx)
}

func (b remoteBackend) Close() error { return nil }
