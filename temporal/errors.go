package temporal

import (
	"context"
	"errors"

	"go.temporal.io/sdk/temporal"

	"github.com/fortressi/paysaga"
)

// Application error types carried across the Temporal boundary.
const (
	ErrTypeValidation = "Validation"
	ErrTypeRejection  = "Rejection"
	ErrTypeTransient  = "Transient"
	ErrTypeFatal      = "Fatal"
)

// nonRetryable are the error types Temporal must not retry.
var nonRetryable = []string{ErrTypeValidation, ErrTypeRejection, ErrTypeFatal}

type rejectionDetails struct {
	Step   paysaga.StepName `json:"step"`
	Reason string           `json:"reason"`
}

// ToApplicationError converts a classified activity error into the
// ApplicationError the worker reports to the server. Unclassified errors are
// returned as they are and retried by the server.
func ToApplicationError(err error) error {
	if err == nil {
		return nil
	}
	switch paysaga.Classify(err) {
	case paysaga.KindValidation:
		var v *paysaga.ValidationError
		errors.As(err, &v)
		return temporal.NewNonRetryableApplicationError(v.Error(), ErrTypeValidation, err, v.Reasons)
	case paysaga.KindRejection:
		var r *paysaga.RejectionError
		errors.As(err, &r)
		return temporal.NewNonRetryableApplicationError(r.Error(), ErrTypeRejection, err,
			rejectionDetails{Step: r.Step, Reason: r.Reason})
	case paysaga.KindTransient:
		return temporal.NewApplicationErrorWithCause(err.Error(), ErrTypeTransient, err)
	case paysaga.KindFatal:
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeFatal, err)
	default:
		return err
	}
}

// ErrorMiddleware applies ToApplicationError to every activity result.
func ErrorMiddleware(name paysaga.ActivityName, next paysaga.Invoker) paysaga.Invoker {
	return func(ctx context.Context, input any) (any, error) {
		out, err := next(ctx, input)
		if err != nil {
			return nil, ToApplicationError(err)
		}
		return out, nil
	}
}

// FromActivityError converts the error of a finished activity back into the
// saga's taxonomy. Whatever is neither a business outcome nor a cancellation
// has used up its retries and is fatal.
func FromActivityError(name paysaga.ActivityName, attempts int, err error) error {
	if err == nil {
		return nil
	}
	if temporal.IsCanceledError(err) {
		return errors.Join(paysaga.ErrCancelled, err)
	}

	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		switch appErr.Type() {
		case ErrTypeValidation:
			var reasons []string
			if appErr.HasDetails() {
				_ = appErr.Details(&reasons)
			}
			if len(reasons) == 0 {
				reasons = []string{appErr.Message()}
			}
			return paysaga.Invalid(reasons...)
		case ErrTypeRejection:
			var d rejectionDetails
			if appErr.HasDetails() {
				_ = appErr.Details(&d)
			}
			if d.Reason == "" {
				d.Reason = appErr.Message()
			}
			return paysaga.Rejected(d.Step, d.Reason)
		}
	}
	return paysaga.Fatal(name, attempts, err)
}
