// Package common provides shared utilities and types used across the application.
package common

import (
	"errors"
	"fmt"
)

// Common application errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrRateLimit indicates that an API rate limit has been exceeded.
	ErrRateLimit = errors.New("rate limit exceeded")
	// ErrMaxRetries indicates that all retry attempts have been exhausted.
	ErrMaxRetries = errors.New("max retries exceeded")
)

// ValidationError reports malformed caller input. Validation fails fast
// with no side effects.
type ValidationError struct {
	ItemID  string
	Message string
}

func (e *ValidationError) Error() string {
	if e.ItemID != "" {
		return fmt.Sprintf("validation failed for %s: %s", e.ItemID, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NewValidationError creates a validation error for the given item.
func NewValidationError(itemID, format string, args ...any) error {
	return &ValidationError{ItemID: itemID, Message: fmt.Sprintf(format, args...)}
}

// ConflictError reports a stale remote version on the ledger side. It is
// recoverable per item: the caller records the conflict and moves on.
type ConflictError struct {
	ItemID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict: %s was modified externally", e.ItemID)
}

// ConcurrentUpdateError reports a rule version race in the rule store.
// The caller must re-read the rule and retry the update.
type ConcurrentUpdateError struct {
	RuleID   string
	Expected int
	Found    int
}

func (e *ConcurrentUpdateError) Error() string {
	return fmt.Sprintf("rule %q was modified concurrently: expected version %d, found %d; reload and retry",
		e.RuleID, e.Expected, e.Found)
}

// StoreIntegrityError reports a structurally corrupt rule document. This is
// fatal and needs operator intervention.
type StoreIntegrityError struct {
	Path string
	Err  error
}

func (e *StoreIntegrityError) Error() string {
	return fmt.Sprintf("rule store %s is corrupt: %v", e.Path, e.Err)
}

func (e *StoreIntegrityError) Unwrap() error {
	return e.Err
}

// LockTimeoutError reports that rule-document write contention exceeded the
// configured bound.
type LockTimeoutError struct {
	Path    string
	Timeout string
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("could not lock %s within %s", e.Path, e.Timeout)
}

// ExternalKind classifies failures from external collaborators.
type ExternalKind string

// External error kinds.
const (
	KindUnauthorized ExternalKind = "unauthorized"
	KindNotFound     ExternalKind = "not_found"
	KindRateLimited  ExternalKind = "rate_limited"
	KindGeneric      ExternalKind = "generic"
)

// ExternalServiceError wraps a failure from the ledger, statistical store,
// or reasoning provider with its classified kind.
type ExternalServiceError struct {
	Err        error
	Service    string
	Kind       ExternalKind
	RetryAfter int
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Service, e.Kind, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// Is lets rate-limited service errors satisfy errors.Is(err, ErrRateLimit)
// so the retry helper backs off on them.
func (e *ExternalServiceError) Is(target error) bool {
	return target == ErrRateLimit && e.Kind == KindRateLimited
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrRateLimit) {
		return true
	}
	var svcErr *ExternalServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Kind == KindRateLimited
	}
	return false
}
