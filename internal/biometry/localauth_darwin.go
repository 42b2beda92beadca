//go:build darwin

package biometry

/*
#cgo CFLAGS: -x objective-c -fobjc-arc
#cgo LDFLAGS: -framework LocalAuthentication -framework Foundation

#import <LocalAuthentication/LocalAuthentication.h>
#import <Foundation/Foundation.h>
#import <dispatch/dispatch.h>
#include <stdlib.h>

static int biokey_la_can_evaluate(int policy, int *biometry) {
	@autoreleasepool {
		LAContext *context = [[LAContext alloc] init];
		NSError *error = nil;
		BOOL ok = [context canEvaluatePolicy:(LAPolicy)policy error:&error];
		*biometry = 0;
		if (@available(macOS 10.13.2, iOS 11.0, *)) {
			*biometry = (int)context.biometryType;
		}
		if (!ok) {
			return error ? (int)[error code] : -1;
		}
		return 0;
	}
}

static void *biokey_la_context_new(void) {
	LAContext *context = [[LAContext alloc] init];
	// An empty title hides the secondary "Enter Password" button.
	context.localizedFallbackTitle = @"";
	return (__bridge_retained void *)context;
}

static void biokey_la_context_invalidate(void *handle) {
	LAContext *context = (__bridge LAContext *)handle;
	[context invalidate];
}

static void biokey_la_context_release(void *handle) {
	LAContext *context = (__bridge_transfer LAContext *)handle;
	context = nil;
}

static int biokey_la_evaluate(void *handle, int policy, const char *cReason) {
	@autoreleasepool {
		LAContext *context = (__bridge LAContext *)handle;
		NSString *reason = [NSString stringWithUTF8String:cReason];
		dispatch_semaphore_t sema = dispatch_semaphore_create(0);
		__block int code = 0;

		[context evaluatePolicy:(LAPolicy)policy
		        localizedReason:reason
		                  reply:^(BOOL success, NSError * _Nullable error) {
		                      code = success ? 0 : (error ? (int)[error code] : -1);
		                      dispatch_semaphore_signal(sema);
		                  }];

		dispatch_semaphore_wait(sema, DISPATCH_TIME_FOREVER);
		return code;
	}
}
*/
import "C"

import (
	"context"
	"fmt"
	"log/slog"
	"unsafe"

	"github.com/benaskins/biokey/internal/policy"
)

const (
	laPolicyBiometrics  = 1 // LAPolicyDeviceOwnerAuthenticationWithBiometrics
	laPolicyDeviceOwner = 2 // LAPolicyDeviceOwnerAuthentication
)

// Platform evaluates policies with LocalAuthentication.
type Platform struct {
	logger *slog.Logger
}

// New returns the LocalAuthentication platform. Options are ignored on darwin.
func New(Options) *Platform {
	return &Platform{logger: slog.With("component", "biometry")}
}

func laPolicy(p policy.Policy) C.int {
	if p == policy.BiometricOnly {
		return laPolicyBiometrics
	}
	return laPolicyDeviceOwner
}

// CanEvaluate reports whether p can be evaluated now and which sensor backs it.
func (p *Platform) CanEvaluate(pol policy.Policy) (policy.Modality, error) {
	var biometry C.int
	code := int(C.biokey_la_can_evaluate(laPolicy(pol), &biometry))
	if code != CodeSuccess {
		return "", fmt.Errorf("%w: %s (code %d)", ErrNotAvailable, pol, code)
	}
	switch biometry {
	case 1: // LABiometryTypeTouchID
		return policy.ModalityFingerprint, nil
	case 2: // LABiometryTypeFaceID
		return policy.ModalityFace, nil
	default:
		return policy.ModalityNone, nil
	}
}

// Evaluate presents the system authentication prompt and returns immediately.
// reply is invoked from another goroutine once the user or the system
// finishes the prompt. Cancelling ctx dismisses the prompt.
func (p *Platform) Evaluate(ctx context.Context, pol policy.Policy, reason string, reply func(ok bool, code int)) {
	handle := C.biokey_la_context_new()
	cReason := C.CString(reason)

	go func() {
		stop := make(chan struct{})
		watched := make(chan struct{})
		go func() {
			defer close(watched)
			select {
			case <-ctx.Done():
				C.biokey_la_context_invalidate(handle)
			case <-stop:
			}
		}()

		code := int(C.biokey_la_evaluate(handle, laPolicy(pol), cReason))

		close(stop)
		<-watched
		C.biokey_la_context_release(handle)
		C.free(unsafe.Pointer(cReason))

		p.logger.Debug("challenge finished", "policy", pol, "code", code)
		reply(code == CodeSuccess, code)
	}()
}
