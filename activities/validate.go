package activities

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fortressi/paysaga"
)

// Validator checks incoming payment requests.
type Validator struct {
	Ceiling decimal.Decimal
	clock   func() time.Time
}

// NewValidator returns a validator enforcing ceiling; a zero ceiling uses
// the default.
func NewValidator(ceiling decimal.Decimal) *Validator {
	if ceiling.IsZero() {
		ceiling = paysaga.DefaultAmountCeiling
	}
	return &Validator{Ceiling: ceiling, clock: time.Now}
}

// Validate reports an invalid request as an unapproved result carrying every
// violated rule.
func (v *Validator) Validate(_ context.Context, req paysaga.PaymentRequest) (paysaga.ValidationResult, error) {
	result := paysaga.ValidationResult{Approved: true, ValidatedAt: v.clock()}
	err := req.Validate(v.Ceiling)
	if err == nil {
		return result, nil
	}

	var invalid *paysaga.ValidationError
	if !errors.As(err, &invalid) {
		return paysaga.ValidationResult{}, err
	}
	result.Approved = false
	result.Reason = invalid.Error()
	return result, nil
}
