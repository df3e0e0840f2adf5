package paysaga

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// DefaultAmountCeiling is the largest charge amount accepted by validation.
var DefaultAmountCeiling = decimal.NewFromInt(50000)

// PaymentRequest is the immutable input of a payment saga.
type PaymentRequest struct {
	Amount             decimal.Decimal `json:"amount" validate:"gt=0"`
	ChargeCurrency     string          `json:"charge_currency" validate:"required,iso4217"`
	SettlementCurrency string          `json:"settlement_currency" validate:"required,iso4217"`
	Customer           Customer        `json:"customer"`
	Merchant           Merchant        `json:"merchant"`
	// Reference is the caller's own identifier for the payment. The saga ID
	// is used when it is empty.
	Reference string `json:"reference,omitempty" validate:"omitempty,max=128"`
}

// Customer identifies the paying business.
type Customer struct {
	BusinessName string `json:"business_name" validate:"required"`
	Email        string `json:"email" validate:"required,email"`
}

// Merchant identifies the payee.
type Merchant struct {
	Name    string `json:"name" validate:"required"`
	Country string `json:"country" validate:"required,len=2"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// decimal.Decimal is a struct; compare it as a number.
		validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
			if d, ok := field.Interface().(decimal.Decimal); ok {
				f, _ := d.Float64()
				return f
			}
			return nil
		}, decimal.Decimal{})
	})
	return validate
}

// ParseRequest decodes a strictly typed PaymentRequest. Unknown fields are
// rejected; business rules are left to Validate.
func ParseRequest(r io.Reader) (PaymentRequest, error) {
	var req PaymentRequest
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return PaymentRequest{}, fmt.Errorf("failed to decode payment request: %w", err)
	}
	if dec.More() {
		return PaymentRequest{}, errors.New("failed to decode payment request: trailing data")
	}
	return req, nil
}

// ParseRequestBytes is ParseRequest over a byte slice.
func ParseRequestBytes(data []byte) (PaymentRequest, error) {
	return ParseRequest(bytes.NewReader(data))
}

// Validate checks the request against the payment rules and returns a
// *ValidationError listing every violated rule, or nil.
func (r PaymentRequest) Validate(ceiling decimal.Decimal) error {
	var reasons []string
	add := func(reason string) {
		for _, existing := range reasons {
			if existing == reason {
				return
			}
		}
		reasons = append(reasons, reason)
	}

	if err := requestValidator().Struct(r); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("failed to validate payment request: %w", err)
		}
		for _, fe := range fieldErrs {
			add(reasonFor(fe))
		}
	}

	if ceiling.IsPositive() && r.Amount.GreaterThan(ceiling) {
		add(fmt.Sprintf("Amount exceeds maximum allowed (%s)", ceiling.StringFixed(0)))
	}

	if len(reasons) == 0 {
		return nil
	}
	return Invalid(reasons...)
}

func reasonFor(fe validator.FieldError) string {
	ns := fe.StructNamespace()
	switch {
	case strings.HasPrefix(ns, "PaymentRequest.Customer"):
		return "Customer information incomplete"
	case strings.HasPrefix(ns, "PaymentRequest.Merchant"):
		return "Merchant information incomplete"
	}

	switch fe.StructField() {
	case "Amount":
		return "Amount must be positive"
	case "ChargeCurrency":
		if fe.Tag() == "required" {
			return "Currency must be specified"
		}
		return fmt.Sprintf("Currency %q is not an ISO-4217 code", fe.Value())
	case "SettlementCurrency":
		if fe.Tag() == "required" {
			return "Settlement currency must be specified"
		}
		return fmt.Sprintf("Settlement currency %q is not an ISO-4217 code", fe.Value())
	case "Reference":
		return "Reference is too long"
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}

// SettlementAmount converts amount at rate, rounded to cents.
func SettlementAmount(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Round(2)
}

// Fee returns round(settlement * rate, 2).
func Fee(settlement, rate decimal.Decimal) decimal.Decimal {
	return settlement.Mul(rate).Round(2)
}
