// Package auth runs interactive authentication challenges and guards
// operations behind them.
//
// A challenge resolves to exactly one Outcome. The platform may reply late,
// twice or never; the orchestrator takes the first reply, turns a cancelled
// context or an expired timeout into Canceled, and discards everything after.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/benaskins/biokey/internal/biometry"
	"github.com/benaskins/biokey/internal/errcode"
	"github.com/benaskins/biokey/internal/policy"
)

// DefaultReason is shown when the caller supplies no prompt text. Platform
// prompts refuse an empty reason.
const DefaultReason = "Authenticate to access your credential"

// Evaluator starts a platform challenge and reports its result through
// reply, possibly from another goroutine.
type Evaluator interface {
	Evaluate(ctx context.Context, p policy.Policy, reason string, reply func(ok bool, code int))
}

// Result is the kind of an Outcome.
type Result int

const (
	Succeeded Result = iota
	Canceled
	Failed
)

func (r Result) String() string {
	switch r {
	case Succeeded:
		return "succeeded"
	case Canceled:
		return "canceled"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

// Outcome is the transient result of one challenge.
type Outcome struct {
	Result Result
	// Code is the raw platform code, for diagnostics.
	Code int
}

// Err translates the outcome into a stable error, or nil on success.
func (o Outcome) Err() error {
	switch o.Result {
	case Succeeded:
		return nil
	case Canceled:
		return errcode.UserCanceled
	default:
		return MapCode(o.Code)
	}
}

// MapCode translates a platform failure code into USER_CANCELED or
// AUTH_FAILED. Unrecognized codes are AUTH_FAILED.
func MapCode(code int) errcode.Code {
	switch code {
	case biometry.CodeUserCancel,
		biometry.CodeUserFallback,
		biometry.CodeSystemCancel,
		biometry.CodeAppCancel,
		userCanceledStatus:
		return errcode.UserCanceled
	default:
		return errcode.AuthFailed
	}
}

// userCanceledStatus is the security store's errSecUserCanceled.
const userCanceledStatus = -128

// Options configures an Orchestrator.
type Options struct {
	// Timeout bounds a challenge; zero waits for as long as the platform does.
	Timeout time.Duration
	// DefaultReason replaces empty prompt text.
	DefaultReason string
}

// Orchestrator presents challenges under the resolved policy.
type Orchestrator struct {
	policy    policy.Policy
	evaluator Evaluator
	timeout   time.Duration
	reason    string
	logger    *slog.Logger
}

// NewOrchestrator creates an orchestrator bound to the process-wide policy.
func NewOrchestrator(p policy.Policy, evaluator Evaluator, opts Options) *Orchestrator {
	reason := opts.DefaultReason
	if strings.TrimSpace(reason) == "" {
		reason = DefaultReason
	}
	return &Orchestrator{
		policy:    p,
		evaluator: evaluator,
		timeout:   opts.Timeout,
		reason:    reason,
		logger:    slog.With("component", "auth"),
	}
}

// Policy returns the policy challenges are evaluated under.
func (o *Orchestrator) Policy() policy.Policy {
	return o.policy
}

// Challenge presents a prompt and blocks until it resolves.
func (o *Orchestrator) Challenge(ctx context.Context, reason string) Outcome {
	if strings.TrimSpace(reason) == "" {
		reason = o.reason
	}
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	// Buffered so a late reply never blocks the platform's goroutine.
	results := make(chan Outcome, 1)
	var once sync.Once
	reply := func(ok bool, code int) {
		once.Do(func() {
			out := Outcome{Result: Succeeded, Code: code}
			if !ok {
				out.Result = Failed
				if MapCode(code) == errcode.UserCanceled {
					out.Result = Canceled
				}
			}
			results <- out
		})
	}

	evalCtx, stop := context.WithCancel(ctx)
	defer stop()
	o.evaluator.Evaluate(evalCtx, o.policy, reason, reply)

	var out Outcome
	select {
	case out = <-results:
	case <-ctx.Done():
		// Claim the slot so any later reply is dropped. A platform reply
		// that got there first, success or failure, is kept.
		reply(false, biometry.CodeAppCancel)
		out = <-results
	}

	o.logger.Debug("challenge resolved", "policy", o.policy, "result", out.Result, "code", out.Code)
	return out
}

// RunGuarded runs op once a challenge has succeeded. When requireAuth is
// false op runs immediately. A canceled or failed challenge returns its
// stable error and op never runs.
func RunGuarded[T any](ctx context.Context, o *Orchestrator, reason string, requireAuth bool, op func() (T, error)) (T, error) {
	if requireAuth {
		if err := o.Challenge(ctx, reason).Err(); err != nil {
			var zero T
			return zero, err
		}
	}
	return op()
}
