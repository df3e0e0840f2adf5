package paysaga

import (
	"time"

	"github.com/shopspring/decimal"
)

// ActivityName is the registered name of an activity. Names are stable: they
// are how a restored saga finds its activities again.
type ActivityName string

const (
	ActivityValidateTransaction  ActivityName = "ValidateTransaction"
	ActivityLockRate             ActivityName = "LockExchangeRate"
	ActivityReleaseRateLock      ActivityName = "ReleaseRateLock"
	ActivityCheckFraud           ActivityName = "CheckFraud"
	ActivityCheckAML             ActivityName = "CheckAML"
	ActivityCheckSanctions       ActivityName = "CheckSanctions"
	ActivityAuthorizePayment     ActivityName = "AuthorizePayment"
	ActivityReleaseAuthorization ActivityName = "ReleaseAuthorization"
	ActivityCapturePayment       ActivityName = "CapturePayment"
	ActivityRefundPayment        ActivityName = "RefundPayment"
	ActivityUpdateLedgers        ActivityName = "UpdateLedgers"
	ActivitySendNotifications    ActivityName = "SendNotifications"
)

// AllActivities lists every activity the saga may invoke.
var AllActivities = []ActivityName{
	ActivityValidateTransaction,
	ActivityLockRate,
	ActivityReleaseRateLock,
	ActivityCheckFraud,
	ActivityCheckAML,
	ActivityCheckSanctions,
	ActivityAuthorizePayment,
	ActivityReleaseAuthorization,
	ActivityCapturePayment,
	ActivityRefundPayment,
	ActivityUpdateLedgers,
	ActivitySendNotifications,
}

// CheckActivity returns the activity that runs check.
func CheckActivity(check CheckType) ActivityName {
	switch check {
	case CheckFraud:
		return ActivityCheckFraud
	case CheckAML:
		return ActivityCheckAML
	default:
		return ActivityCheckSanctions
	}
}

// Idempotency declares what a retry of an activity may do.
type Idempotency string

const (
	// Idempotent activities may be retried freely.
	Idempotent Idempotency = "idempotent"
	// AtMostOnce activities have a side effect that must not be repeated;
	// they are keyed by a caller-supplied reference.
	AtMostOnce Idempotency = "at_most_once"
)

// RetryPolicy bounds the attempts of one activity.
type RetryPolicy struct {
	MaxAttempts        int           `mapstructure:"max_attempts" json:"max_attempts" validate:"gte=1"`
	InitialInterval    time.Duration `mapstructure:"initial_interval" json:"initial_interval" validate:"gt=0"`
	BackoffCoefficient float64       `mapstructure:"backoff_coefficient" json:"backoff_coefficient" validate:"gte=1"`
	MaxInterval        time.Duration `mapstructure:"max_interval" json:"max_interval" validate:"gtefield=InitialInterval"`
}

// Delay returns the wait before the given retry (attempt starts at 1).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := float64(p.InitialInterval)
	for i := 1; i < attempt; i++ {
		d *= p.BackoffCoefficient
		if p.MaxInterval > 0 && time.Duration(d) >= p.MaxInterval {
			return p.MaxInterval
		}
	}
	return time.Duration(d)
}

// ActivityOptions is the invocation contract of one activity.
type ActivityOptions struct {
	StartToCloseTimeout time.Duration `mapstructure:"start_to_close_timeout" json:"start_to_close_timeout" validate:"gt=0"`
	RetryPolicy         RetryPolicy   `mapstructure:"retry" json:"retry"`
	Idempotency         Idempotency   `mapstructure:"idempotency" json:"idempotency" validate:"oneof=idempotent at_most_once"`
}

// ActivityCatalog maps every activity to its options.
type ActivityCatalog map[ActivityName]ActivityOptions

// Options returns the options for name, falling back to the defaults.
func (c ActivityCatalog) Options(name ActivityName) ActivityOptions {
	if opts, ok := c[name]; ok {
		return opts
	}
	if opts, ok := DefaultActivityCatalog()[name]; ok {
		return opts
	}
	return defaultOptions(Idempotent)
}

func defaultOptions(idem Idempotency) ActivityOptions {
	return ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: RetryPolicy{
			MaxAttempts:        3,
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaxInterval:        30 * time.Second,
		},
		Idempotency: idem,
	}
}

// DefaultActivityCatalog returns the options the saga uses when none are
// configured.
func DefaultActivityCatalog() ActivityCatalog {
	catalog := ActivityCatalog{}
	for _, name := range AllActivities {
		catalog[name] = defaultOptions(Idempotent)
	}

	validate := catalog[ActivityValidateTransaction]
	validate.StartToCloseTimeout = 10 * time.Second
	validate.RetryPolicy.MaxAttempts = 1
	catalog[ActivityValidateTransaction] = validate

	for _, name := range []ActivityName{ActivityCheckFraud, ActivityCheckAML, ActivityCheckSanctions} {
		check := catalog[name]
		check.StartToCloseTimeout = time.Minute
		check.RetryPolicy.MaxAttempts = 5
		catalog[name] = check
	}

	for _, name := range []ActivityName{ActivityCapturePayment, ActivityRefundPayment, ActivityAuthorizePayment} {
		opts := catalog[name]
		opts.Idempotency = AtMostOnce
		catalog[name] = opts
	}

	// Undo actions get more patience; they run once the saga has already
	// given up on the forward path.
	for _, name := range []ActivityName{ActivityReleaseRateLock, ActivityReleaseAuthorization, ActivityRefundPayment} {
		opts := catalog[name]
		opts.RetryPolicy.MaxAttempts = 5
		catalog[name] = opts
	}
	return catalog
}

// ValidationResult is the output of ValidateTransaction.
type ValidationResult struct {
	Approved    bool      `json:"approved"`
	Reason      string    `json:"reason,omitempty"`
	ValidatedAt time.Time `json:"validated_at"`
}

// LockRateInput asks the FX service to hold a rate.
type LockRateInput struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ReleaseRateLockInput releases a held rate.
type ReleaseRateLockInput struct {
	LockID string `json:"lock_id"`
}

// ReleaseResult is returned by the release activities.
type ReleaseResult struct {
	Success bool `json:"success"`
}

// ComplianceInput is the request screened by the compliance checks.
type ComplianceInput struct {
	SagaID           string          `json:"saga_id"`
	Request          PaymentRequest  `json:"request"`
	SettlementAmount decimal.Decimal `json:"settlement_amount"`
}

// PaymentInput is used by authorize and capture. Reference keys the side
// effect so a redelivered call returns the first result.
type PaymentInput struct {
	Reference       string          `json:"reference"`
	AuthorizationID string          `json:"authorization_id,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	ChargeAmount    decimal.Decimal `json:"charge_amount"`
	ChargeCurrency  string          `json:"charge_currency"`
	Rate            decimal.Decimal `json:"rate"`
}

// ReleaseAuthorizationInput releases an authorization hold.
type ReleaseAuthorizationInput struct {
	AuthorizationID string `json:"authorization_id"`
}

// RefundInput reverses a capture.
type RefundInput struct {
	Reference     string          `json:"reference"`
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
}

// RefundResult is returned by RefundPayment.
type RefundResult struct {
	RefundID   string    `json:"refund_id"`
	RefundedAt time.Time `json:"refunded_at"`
}

// LedgerInput carries the amounts posted for a captured payment.
type LedgerInput struct {
	TransactionID      string          `json:"transaction_id"`
	ChargeAmount       decimal.Decimal `json:"charge_amount"`
	ChargeCurrency     string          `json:"charge_currency"`
	SettlementAmount   decimal.Decimal `json:"settlement_amount"`
	SettlementCurrency string          `json:"settlement_currency"`
	Fee                decimal.Decimal `json:"fee"`
}

// LedgerResult lists the written entries.
type LedgerResult struct {
	Entries []LedgerEntry `json:"entries"`
}

// NotifyInput describes the settled payment to the notifier.
type NotifyInput struct {
	SagaID           string          `json:"saga_id"`
	Request          PaymentRequest  `json:"request"`
	TransactionID    string          `json:"transaction_id"`
	SettlementAmount decimal.Decimal `json:"settlement_amount"`
	Status           Status          `json:"status"`
}

// NotifyResult lists the sent notifications.
type NotifyResult struct {
	Notifications []Notification `json:"notifications"`
}
