//go:build linux

package biometry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/godbus/dbus/v5"
	"golang.org/x/sys/unix"

	"github.com/benaskins/biokey/internal/policy"
)

const (
	polkitDest  = "org.freedesktop.PolicyKit1"
	polkitPath  = dbus.ObjectPath("/org/freedesktop/PolicyKit1/Authority")
	polkitIface = "org.freedesktop.PolicyKit1.Authority"

	polkitCancelled = "org.freedesktop.PolicyKit1.Error.Cancelled"

	// CheckAuthorizationFlags: AllowUserInteraction.
	polkitAllowUserInteraction uint32 = 1
)

type polkitSubject struct {
	Kind    string
	Details map[string]dbus.Variant
}

type polkitResult struct {
	IsAuthorized bool
	IsChallenge  bool
	Details      map[string]string
}

// Platform evaluates the device-owner policy through polkit.
type Platform struct {
	action string
	seq    atomic.Uint64
	logger *slog.Logger
}

// New returns the polkit platform.
func New(opts Options) *Platform {
	action := opts.PolkitAction
	if action == "" {
		action = DefaultPolkitAction
	}
	return &Platform{
		action: action,
		logger: slog.With("component", "biometry", "backend", "polkit"),
	}
}

func (p *Platform) authority() (dbus.BusObject, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("%w: system bus: %w", ErrNotAvailable, err)
	}
	return conn.Object(polkitDest, polkitPath), nil
}

// CanEvaluate reports whether polkit is reachable. polkit cannot tell which
// sensor backs the agent, so the modality is always none, and there is no
// biometric-only policy.
func (p *Platform) CanEvaluate(pol policy.Policy) (policy.Modality, error) {
	if pol != policy.DeviceOwner {
		return "", fmt.Errorf("%w: polkit cannot evaluate %s", ErrNotAvailable, pol)
	}
	obj, err := p.authority()
	if err != nil {
		return "", err
	}
	if _, err := obj.GetProperty(polkitIface + ".BackendName"); err != nil {
		return "", fmt.Errorf("%w: polkit authority: %w", ErrNotAvailable, err)
	}
	return policy.ModalityNone, nil
}

// Evaluate asks polkit to authorize the configured action for this process,
// letting the session's authentication agent prompt the user. It returns
// immediately; reply is invoked from another goroutine.
func (p *Platform) Evaluate(ctx context.Context, pol policy.Policy, reason string, reply func(ok bool, code int)) {
	go func() {
		ok, code := p.check(ctx, pol, reason)
		p.logger.Debug("challenge finished", "policy", pol, "code", code)
		reply(ok, code)
	}()
}

func (p *Platform) check(ctx context.Context, pol policy.Policy, reason string) (bool, int) {
	if pol != policy.DeviceOwner {
		return false, CodeBiometryNotAvailable
	}
	obj, err := p.authority()
	if err != nil {
		p.logger.Warn("polkit unreachable", "error", err)
		return false, CodeBiometryNotAvailable
	}

	cancelID := fmt.Sprintf("biokey-%d-%d", os.Getpid(), p.seq.Add(1))
	subject := polkitSubject{
		Kind: "unix-process",
		Details: map[string]dbus.Variant{
			"pid":        dbus.MakeVariant(uint32(os.Getpid())),
			"start-time": dbus.MakeVariant(uint64(0)),
			"uid":        dbus.MakeVariant(int32(unix.Getuid())),
		},
	}
	details := map[string]string{"polkit.message": reason}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			obj.Call(polkitIface+".CancelCheckAuthorization", 0, cancelID)
		case <-stop:
		}
	}()

	var result polkitResult
	err = obj.CallWithContext(ctx, polkitIface+".CheckAuthorization", 0,
		subject, p.action, details, polkitAllowUserInteraction, cancelID).Store(&result)
	if err != nil && ctx.Err() == nil {
		p.logger.Warn("polkit check failed", "action", p.action, "error", err)
	}
	return polkitOutcome(result, err, ctx.Err() != nil)
}

// polkitOutcome translates a CheckAuthorization reply into a platform code.
func polkitOutcome(result polkitResult, err error, canceled bool) (bool, int) {
	if err != nil {
		var dbusErr dbus.Error
		if canceled || (errors.As(err, &dbusErr) && dbusErr.Name == polkitCancelled) {
			return false, CodeAppCancel
		}
		return false, CodeNotInteractive
	}

	switch {
	case result.IsAuthorized:
		return true, CodeSuccess
	case result.Details["polkit.dismissed"] != "":
		return false, CodeUserCancel
	default:
		return false, CodeAuthenticationFailed
	}
}
