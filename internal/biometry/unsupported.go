//go:build !darwin && !linux

package biometry

import (
	"context"
	"fmt"

	"github.com/benaskins/biokey/internal/policy"
)

// Platform reports every policy as unavailable.
type Platform struct{}

// New returns a Platform that cannot evaluate any policy.
func New(Options) *Platform {
	return &Platform{}
}

func (p *Platform) CanEvaluate(pol policy.Policy) (policy.Modality, error) {
	return "", fmt.Errorf("%w: %s", ErrNotAvailable, pol)
}

func (p *Platform) Evaluate(_ context.Context, _ policy.Policy, _ string, reply func(ok bool, code int)) {
	go reply(false, CodeBiometryNotAvailable)
}
