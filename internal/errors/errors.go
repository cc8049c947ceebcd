package errors

import (
	"errors"
	"fmt"
)

// Kind categorizes a failure so callers and the orchestrator can decide
// whether it is fatal, skippable, retryable, or caller-facing.
type Kind int

const (
	// KindRetrievalFailure - data package could not be fetched/decrypted; fatal per package
	KindRetrievalFailure Kind = iota
	// KindConsentDenied - stage scope not granted; stage is skipped, not failed
	KindConsentDenied
	// KindStageFailure - analyzer call failed or timed out; non-fatal, per-stage skip
	KindStageFailure
	// KindDependencyFailure - graph or store unavailable; retried with backoff, then alerted
	KindDependencyFailure
	// KindStaleStateConflict - optimistic concurrency check failed; caller must re-fetch
	KindStaleStateConflict
	// KindNotFound - target entity does not exist; caller-facing, non-retryable
	KindNotFound
	// KindForbidden - ownership mismatch; caller-facing, non-retryable
	KindForbidden
	// KindInvalidInput - malformed edits or drafts; caller-facing, non-retryable
	KindInvalidInput
	// KindInternal - unexpected internal state
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindRetrievalFailure:
		return "RETRIEVAL_FAILURE"
	case KindConsentDenied:
		return "CONSENT_DENIED"
	case KindStageFailure:
		return "STAGE_FAILURE"
	case KindDependencyFailure:
		return "DEPENDENCY_FAILURE"
	case KindStaleStateConflict:
		return "STALE_STATE_CONFLICT"
	case KindNotFound:
		return "NOT_FOUND"
	case KindForbidden:
		return "FORBIDDEN"
	case KindInvalidInput:
		return "INVALID_INPUT"
	default:
		return "INTERNAL"
	}
}

// Error is a structured error carrying a taxonomy kind plus free-form context
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on kind so errors.Is works across wrapped instances
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithContext attaches a key/value pair for logging
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Retryable reports whether the failure may succeed on re-invocation
func (e *Error) Retryable() bool {
	return e.Kind == KindDependencyFailure
}

// New creates an error of the given kind
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with formatting
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a kind; returns nil if err is nil
func Wrap(err error, kind Kind, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: err}
}

// Convenience constructors for the common kinds

func RetrievalFailure(err error, packageID string) *Error {
	return Wrap(err, KindRetrievalFailure, "package retrieval failed").WithContext("package_id", packageID)
}

func ConsentDenied(scope, reason string) *Error {
	e := Newf(KindConsentDenied, "consent denied for scope %s", scope)
	if reason != "" {
		e = e.WithContext("reason", reason)
	}
	return e
}

func StageFailure(err error, stageID string) *Error {
	return Wrap(err, KindStageFailure, "analysis stage failed").WithContext("stage_id", stageID)
}

func DependencyFailure(err error, dependency string) *Error {
	return Wrap(err, KindDependencyFailure, dependency+" unavailable")
}

func StaleStateConflict(candidateID string, expected, actual string) *Error {
	return Newf(KindStaleStateConflict, "candidate %s status is %q, expected %q", candidateID, actual, expected)
}

func NotFound(what, id string) *Error {
	return Newf(KindNotFound, "%s %s not found", what, id)
}

func Forbidden(ownerID string) *Error {
	return New(KindForbidden, "resource does not belong to owner").WithContext("owner_id", ownerID)
}

func InvalidInput(message string) *Error {
	return New(KindInvalidInput, message)
}

// IsKind reports whether err (or anything it wraps) carries the given kind
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the kind from err, defaulting to KindInternal
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
