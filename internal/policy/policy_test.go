package policy

import (
	"errors"
	"testing"

	"github.com/benaskins/biokey/internal/errcode"
)

type fakeChecker struct {
	supported map[Policy]Modality
	calls     int
}

func (p *fakeChecker) CanEvaluate(pol Policy) (Modality, error) {
	p.calls++
	m, ok := p.supported[pol]
	if !ok {
		return "", errors.New("policy not evaluable")
	}
	return m, nil
}

func TestResolvePrefersDeviceOwner(t *testing.T) {
	checker := &fakeChecker{supported: map[Policy]Modality{
		DeviceOwner:   ModalityFace,
		BiometricOnly: ModalityFace,
	}}
	if got := Resolve(checker); got != DeviceOwner {
		t.Errorf("Resolve = %v, want %v", got, DeviceOwner)
	}
}

func TestResolveFallsBackToBiometricOnly(t *testing.T) {
	checker := &fakeChecker{supported: map[Policy]Modality{}}
	if got := Resolve(checker); got != BiometricOnly {
		t.Errorf("Resolve = %v, want %v", got, BiometricOnly)
	}
}

func TestResolverFixedAtConstruction(t *testing.T) {
	checker := &fakeChecker{supported: map[Policy]Modality{DeviceOwner: ModalityFingerprint}}
	r := NewResolver(checker)

	// Capability changes after startup must not change the policy.
	delete(checker.supported, DeviceOwner)
	checker.supported[BiometricOnly] = ModalityFingerprint

	if r.Policy() != DeviceOwner {
		t.Errorf("Policy = %v, want %v", r.Policy(), DeviceOwner)
	}
}

func TestAvailableReportsModality(t *testing.T) {
	checker := &fakeChecker{supported: map[Policy]Modality{DeviceOwner: ModalityFace}}
	r := NewResolver(checker)

	info, err := r.Available()
	if err != nil {
		t.Fatalf("Available: %v", err)
	}
	if info.Modality != ModalityFace {
		t.Errorf("Modality = %q, want %q", info.Modality, ModalityFace)
	}
	if info.Policy != DeviceOwner {
		t.Errorf("Policy = %v, want %v", info.Policy, DeviceOwner)
	}
}

func TestAvailableDefaultsEmptyModalityToNone(t *testing.T) {
	checker := &fakeChecker{supported: map[Policy]Modality{DeviceOwner: ""}}
	info, err := NewResolver(checker).Available()
	if err != nil {
		t.Fatalf("Available: %v", err)
	}
	if info.Modality != ModalityNone {
		t.Errorf("Modality = %q, want none", info.Modality)
	}
}

func TestAvailableUnavailable(t *testing.T) {
	checker := &fakeChecker{supported: map[Policy]Modality{}}
	_, err := NewResolver(checker).Available()
	if !errors.Is(err, errcode.BiometricsNotAvailable) {
		t.Fatalf("expected BIOMETRICS_NOT_AVAILABLE, got %v", err)
	}
	if errcode.Of(err) != "BIOMETRICS_NOT_AVAILABLE" {
		t.Errorf("Of = %q", errcode.Of(err))
	}
}

func TestPolicyString(t *testing.T) {
	if DeviceOwner.String() != "device-owner" {
		t.Errorf("got %q", DeviceOwner.String())
	}
	if BiometricOnly.String() != "biometric-only" {
		t.Errorf("got %q", BiometricOnly.String())
	}
	if Policy(42).String() != "policy(42)" {
		t.Errorf("got %q", Policy(42).String())
	}
}
