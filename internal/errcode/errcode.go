// Package errcode defines the stable, machine-readable error codes returned to
// callers of the credential vault.
//
// Codes are short strings, never localized sentences and never raw platform
// status numbers, so that a presentation layer can translate them uniformly.
package errcode

import "errors"

// Code is a stable error code. It implements error so it can be wrapped with
// fmt.Errorf("...: %w", code) and matched with errors.Is.
type Code string

func (c Code) Error() string { return string(c) }

const (
	BiometricsNotAvailable Code = "BIOMETRICS_NOT_AVAILABLE"
	UserNotFound           Code = "USER_NOT_FOUND"
	KeychainExpired        Code = "KEYCHAIN_EXPIRED"
	InvalidArgument        Code = "INVALID_ARGUMENT"
	UserCanceled           Code = "USER_CANCELED"
	AuthFailed             Code = "AUTH_FAILED"
	RateLimited            Code = "RATE_LIMITED"

	// Unexpected is reported for errors that carry no code at all.
	Unexpected Code = "server.error"
)

// Coder is implemented by errors that carry their own code, such as the
// store-layer errors raised by the keychain package.
type Coder interface {
	ErrorCode() string
}

// Of extracts the outermost stable code from err. A nil error yields "".
func Of(err error) string {
	if err == nil {
		return ""
	}
	var c Code
	if errors.As(err, &c) {
		return string(c)
	}
	var coder Coder
	if errors.As(err, &coder) {
		return coder.ErrorCode()
	}
	return string(Unexpected)
}
