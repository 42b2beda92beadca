// Package biometry talks to the platform authentication service: it checks
// which policies can be evaluated and runs interactive challenges.
//
// On darwin it uses the LocalAuthentication framework through cgo. On Linux
// it asks polkit over the system D-Bus, which covers the device-owner policy
// (password or any PAM-enrolled biometric). Other platforms report
// ErrNotAvailable.
//
// Challenge outcomes are reported through a reply callback carrying a raw
// platform code; translating codes into stable errors is the caller's job.
package biometry

import "errors"

// ErrNotAvailable is returned when the platform cannot evaluate a policy.
var ErrNotAvailable = errors.New("biometry: authentication not available")

// Platform codes delivered to reply callbacks. The values follow
// LocalAuthentication's LAError; the polkit backend reports the same values.
const (
	CodeSuccess              = 0
	CodeAuthenticationFailed = -1
	CodeUserCancel           = -2
	CodeUserFallback         = -3
	CodeSystemCancel         = -4
	CodePasscodeNotSet       = -5
	CodeBiometryNotAvailable = -6
	CodeBiometryNotEnrolled  = -7
	CodeBiometryLockout      = -8
	CodeAppCancel            = -9
	CodeInvalidContext       = -10
	CodeNotInteractive       = -1004
)

// Options configures a Platform.
type Options struct {
	// PolkitAction is the polkit action checked on Linux.
	PolkitAction string
}

// DefaultPolkitAction is the action id installed with biokey's polkit policy.
const DefaultPolkitAction = "com.benaskins.biokey.unlock"
