package keychain

import (
	"fmt"
	"unicode/utf8"
)

// Platform security-store status values.
const (
	StatusSuccess               = 0
	StatusParam                 = -50
	StatusUserCanceled          = -128
	StatusAuthFailed            = -25293
	StatusNoSuchKeychain        = -25294
	StatusInvalidKeychain       = -25295
	StatusDuplicateKeychain     = -25296
	StatusDuplicateCallback     = -25297
	StatusInvalidCallback       = -25298
	StatusDuplicateItem         = -25299
	StatusItemNotFound          = -25300
	StatusInteractionNotAllowed = -25308
	StatusConversionError       = -67594
	StatusUnexpected            = -99999
)

// Store-layer codes surfaced to callers.
const (
	CodeSuccess           = "success"
	CodeParam             = "param.invalid"
	CodeUserCanceled      = "user.canceled"
	CodeAuthFailed        = "auth.failed"
	CodeNoSuchKeychain    = "keychain.notfound"
	CodeInvalidKeychain   = "keychain.invalid"
	CodeDuplicateKeychain = "keychain.duplicate"
	CodeDuplicateCallback = "callback.duplicate"
	CodeInvalidCallback   = "callback.invalid"
	CodeDuplicateItem     = "keychain_item.duplicate"
	CodeItemNotFound      = "keychain_item.notfound"
	CodeConversion        = "conversion.error"
	CodeUnexpected        = "server.error"
)

var statusCodes = map[int]string{
	StatusSuccess:           CodeSuccess,
	StatusParam:             CodeParam,
	StatusUserCanceled:      CodeUserCanceled,
	StatusAuthFailed:        CodeAuthFailed,
	StatusNoSuchKeychain:    CodeNoSuchKeychain,
	StatusInvalidKeychain:   CodeInvalidKeychain,
	StatusDuplicateKeychain: CodeDuplicateKeychain,
	StatusDuplicateCallback: CodeDuplicateCallback,
	StatusInvalidCallback:   CodeInvalidCallback,
	StatusDuplicateItem:     CodeDuplicateItem,
	StatusItemNotFound:      CodeItemNotFound,
	StatusConversionError:   CodeConversion,
}

// StoreError is a failed store operation. Code is stable; Status is the raw
// platform value, kept for diagnostics only.
type StoreError struct {
	Op     string
	Key    string
	Code   string
	Status int
}

func (e *StoreError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("keychain %s: %s (status %d)", e.Op, e.Code, e.Status)
	}
	return fmt.Sprintf("keychain %s %q: %s (status %d)", e.Op, e.Key, e.Code, e.Status)
}

// ErrorCode implements errcode.Coder.
func (e *StoreError) ErrorCode() string { return e.Code }

// Is matches any StoreError with the same code, so callers can test against
// the package sentinels (ErrConversion, ErrNotFound) with errors.Is.
func (e *StoreError) Is(target error) bool {
	t, ok := target.(*StoreError)
	return ok && t.Op == "" && t.Code == e.Code
}

var (
	// ErrConversion matches payloads that are not valid UTF-8 text.
	ErrConversion = &StoreError{Code: CodeConversion, Status: StatusConversionError}
	// ErrNotFound matches item-not-found failures. Get and Delete never
	// return it; it surfaces only from lower-level queries.
	ErrNotFound = &StoreError{Code: CodeItemNotFound, Status: StatusItemNotFound}
)

// CodeFor maps a platform status to its stable code. Unmapped statuses are
// unexpected errors.
func CodeFor(status int) string {
	if code, ok := statusCodes[status]; ok {
		return code
	}
	return CodeUnexpected
}

// FromStatus builds the StoreError for a failed operation.
func FromStatus(op, key string, status int) *StoreError {
	return &StoreError{Op: op, Key: key, Code: CodeFor(status), Status: status}
}

// decode validates a stored payload as UTF-8 text.
func decode(key string, data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", &StoreError{Op: "get", Key: key, Code: CodeConversion, Status: StatusConversionError}
	}
	return string(data), nil
}
