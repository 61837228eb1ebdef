// Package ferrors defines the closed error-kind taxonomy of spec.md §7
// and a small typed wrapper, in the style of azcopy's small per-concern
// error types (ste/ErrorExt.go) rather than a general-purpose error
// library: the taxonomy is closed by design, so there is nothing a
// stack-trace-capturing wrapper would add here.
package ferrors

import (
	"errors"
	"fmt"
)

// Kind is the closed set of error kinds the core ever produces.
type Kind string

const (
	Auth          Kind = "auth"
	NotFound      Kind = "not_found"
	Ambiguous     Kind = "ambiguous"
	Conflict      Kind = "conflict"
	RateLimited   Kind = "rate_limited"
	Transient     Kind = "transient"
	Fatal         Kind = "fatal"
	CryptoVersion Kind = "crypto_version"
	CryptoAuth    Kind = "crypto_auth"
	CorruptChunk  Kind = "corrupt_chunk"
	HashMismatch  Kind = "hash_mismatch"
	InvalidPath   Kind = "invalid_path"
	IO            Kind = "io"
	Canceled      Kind = "canceled"
)

// Error is the typed error every core operation returns on failure.
type Error struct {
	Kind       Kind
	Op         string // operation that failed, e.g. "backend.PutChunk"
	RetryAfter int    // seconds; only meaningful for RateLimited
	Err        error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is makes errors.Is(err, target) match when target is any *Error with
// the same Kind, whatever its Op or cause (for example errors.Is(err,
// ferrors.New(ferrors.Auth, "", nil))).
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// KindOf extracts the Kind from err with ok true. If err is not a *Error
// it returns Fatal with ok false; if err is nil it returns "" with ok
// false.
func KindOf(err error) (Kind, bool) {
	if err == nil {
		return "", false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return Fatal, false
}

// Retryable reports whether the engine should retry automatically:
// only transient and rate-limited errors qualify, per spec.md §4.2/§7.
func Retryable(err error) bool {
	k, ok := KindOf(err)
	if !ok {
		return false
	}
	return k == Transient || k == RateLimited
}

// Sentinel instances for errors.Is comparisons where no extra context is
// needed.
var (
	ErrAuth        = &Error{Kind: Auth}
	ErrNotFound    = &Error{Kind: NotFound}
	ErrAmbiguous   = &Error{Kind: Ambiguous}
	ErrCanceled    = &Error{Kind: Canceled}
	ErrInvalidPath = &Error{Kind: InvalidPath}
)
