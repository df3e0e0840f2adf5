package paysaga

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a step failure. The orchestrator uses it to decide
// between retrying, rejecting and failing the saga.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindValidation
	KindRejection
	KindTransient
	KindFatal
	KindCancelled
	KindSuspended
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindRejection:
		return "rejection"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	case KindCancelled:
		return "cancelled"
	case KindSuspended:
		return "suspended"
	default:
		return "unknown"
	}
}

var (
	// ErrCancelled is returned by a Runtime once the saga has been cancelled
	// from outside.
	ErrCancelled = errors.New("saga cancelled")

	// ErrSuspended is returned by a Runtime that is shutting down. The saga
	// stops where it is, without compensating, and can be resumed later from
	// its last checkpoint.
	ErrSuspended = errors.New("saga suspended")

	// ErrNotFound is returned by stores and registries for unknown keys.
	ErrNotFound = errors.New("not found")
)

// ValidationError reports a payment request that failed business validation.
// Reasons are kept individually and joined for display.
type ValidationError struct {
	Reasons []string
}

// Invalid builds a ValidationError from one or more reasons.
func Invalid(reasons ...string) error {
	return &ValidationError{Reasons: reasons}
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Reasons, ", ")
}

// RejectionError is a business rule failure (compliance or manual rejection).
// It is terminal and never retried.
type RejectionError struct {
	Step   StepName
	Reason string
}

// Rejected wraps a business rejection of the given step.
func Rejected(step StepName, reason string) error {
	return &RejectionError{Step: step, Reason: reason}
}

func (e *RejectionError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s rejected", e.Step)
	}
	return fmt.Sprintf("%s rejected: %s", e.Step, e.Reason)
}

// TransientError marks a failure worth retrying: the remote side could not be
// reached or did not answer in time.
type TransientError struct {
	error
}

// Transient wraps err as retryable.
func Transient(err error) error {
	return &TransientError{fmt.Errorf("transient: %w", err)}
}

func (e *TransientError) Unwrap() error { return e.error }

// FatalError is an activity failure that survived every retry.
type FatalError struct {
	Activity ActivityName
	Attempts int
	Err      error
}

// Fatal escalates err after the given number of attempts.
func Fatal(activity ActivityName, attempts int, err error) error {
	return &FatalError{Activity: activity, Attempts: attempts, Err: err}
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Activity, e.Attempts, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// CompensationError is recorded, never returned, when an undo action fails.
type CompensationError struct {
	Compensation Compensation
	Err          error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("compensation %s failed: %v", e.Compensation, e.Err)
}

func (e *CompensationError) Unwrap() error { return e.Err }

// Classify returns the ErrorKind of err. Cancellation and suspension take
// precedence over whatever error the cancelled operation reported.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	if errors.Is(err, ErrSuspended) {
		return KindSuspended
	}
	if errors.Is(err, ErrCancelled) {
		return KindCancelled
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return KindValidation
	}
	var rejectionErr *RejectionError
	if errors.As(err, &rejectionErr) {
		return KindRejection
	}
	var fatalErr *FatalError
	if errors.As(err, &fatalErr) {
		return KindFatal
	}
	var transientErr *TransientError
	if errors.As(err, &transientErr) {
		return KindTransient
	}
	return KindUnknown
}

// Retryable reports whether an activity failure may be attempted again.
// Unclassified errors are retried; business outcomes are not.
func Retryable(err error) bool {
	switch Classify(err) {
	case KindValidation, KindRejection, KindCancelled, KindSuspended, KindFatal:
		return false
	default:
		return true
	}
}
