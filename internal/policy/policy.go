// Package policy decides which authentication strength guards stored
// credentials.
//
// The policy is resolved once, when the process starts, by probing what the
// platform can actually evaluate. It is never re-evaluated per call.
package policy

import (
	"fmt"
	"log/slog"

	"github.com/benaskins/biokey/internal/errcode"
)

// Policy is the authentication requirement attached to stored entries and
// presented by challenges.
type Policy int

const (
	// DeviceOwner accepts a biometric match or the device's primary
	// credential as fallback.
	DeviceOwner Policy = iota + 1
	// BiometricOnly accepts a biometric match only.
	BiometricOnly
)

func (p Policy) String() string {
	switch p {
	case DeviceOwner:
		return "device-owner"
	case BiometricOnly:
		return "biometric-only"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

func (p Policy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Modality is the biometric sensor available to satisfy a policy. Its string
// form is the payload returned by the isAvailable call.
type Modality string

const (
	ModalityNone        Modality = "none"
	ModalityFingerprint Modality = "finger"
	ModalityFace        Modality = "face"
)

// Checker reports whether the platform can currently evaluate a policy and, if
// so, which biometric modality backs it.
type Checker interface {
	CanEvaluate(p Policy) (Modality, error)
}

// Availability describes an evaluable policy.
type Availability struct {
	Policy   Policy   `json:"policy"`
	Modality Modality `json:"modality"`
}

// Resolve picks the strongest policy the platform supports: DeviceOwner when
// it can be evaluated, BiometricOnly otherwise.
func Resolve(checker Checker) Policy {
	if _, err := checker.CanEvaluate(DeviceOwner); err == nil {
		return DeviceOwner
	}
	return BiometricOnly
}

// Resolver holds the policy resolved at startup.
type Resolver struct {
	policy  Policy
	checker Checker
	logger  *slog.Logger
}

// NewResolver checks the platform once and fixes the policy for the lifetime
// of the returned Resolver.
func NewResolver(checker Checker) *Resolver {
	r := &Resolver{
		policy:  Resolve(checker),
		checker: checker,
		logger:  slog.With("component", "policy"),
	}
	r.logger.Debug("access policy resolved", "policy", r.policy)
	return r
}

// Policy returns the resolved policy.
func (r *Resolver) Policy() Policy {
	return r.policy
}

// Available reports whether the resolved policy can be evaluated right now
// (hardware present, enrolled, not locked out). Failures carry
// errcode.BiometricsNotAvailable.
func (r *Resolver) Available() (Availability, error) {
	modality, err := r.checker.CanEvaluate(r.policy)
	if err != nil {
		r.logger.Info("authentication not available", "policy", r.policy, "error", err)
		return Availability{}, fmt.Errorf("%w: %w", errcode.BiometricsNotAvailable, err)
	}
	if modality == "" {
		modality = ModalityNone
	}
	return Availability{Policy: r.policy, Modality: modality}, nil
}
