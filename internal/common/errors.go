// Package common defines the error taxonomy and small helpers shared by the
// vault engine packages. Callers should match errors with errors.Is/As.
package common

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Session errors.
	ErrLocked = errors.New("vault session is locked")

	// ErrAuth means invalid or expired credentials. Never retried automatically.
	ErrAuth = errors.New("authentication failed")

	// ErrDecryption means a wrong key or a malformed ciphertext.
	ErrDecryption = errors.New("decryption failed")

	// Container codec errors.
	ErrCorruptContainer = errors.New("corrupt container")
	ErrWrongPassword    = errors.New("wrong container password")

	// ErrNetwork is transient and eligible for bounded retry.
	ErrNetwork = errors.New("network error")

	// ErrConflict means remote state changed concurrently.
	ErrConflict = errors.New("remote conflict")

	// ErrEmptyVaultBlocked is the empty-remote safety gate. Non-fatal.
	ErrEmptyVaultBlocked = errors.New("empty remote vault blocked")

	// Timeline errors.
	ErrUnknownField        = errors.New("unknown field label")
	ErrRevertConflict      = errors.New("record was toggled concurrently")
	ErrRevertTargetMissing = errors.New("revert target missing")

	// Validation errors.
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrAlreadyInitialized = errors.New("vault is already initialized")
)

// HTTPError describes a non-2xx response from a remote service.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

// Unwrap classifies the status code into the taxonomy.
func (e *HTTPError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return ErrAuth
	case e.StatusCode == http.StatusConflict || e.StatusCode == http.StatusPreconditionFailed:
		return ErrConflict
	case e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500:
		return ErrNetwork
	default:
		return nil
	}
}

// Transient reports whether err is worth retrying.
func Transient(err error) bool {
	return errors.Is(err, ErrNetwork)
}
