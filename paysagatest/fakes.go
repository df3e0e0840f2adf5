// Package paysagatest provides in-memory activities for testing sagas.
package paysagatest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fortressi/paysaga"
)

// DefaultRate is the exchange rate the fake FX service hands out.
var DefaultRate = decimal.RequireFromString("0.85")

// Request returns a valid payment request for amount in USD settling in EUR.
func Request(amount string) paysaga.PaymentRequest {
	return paysaga.PaymentRequest{
		Amount:             decimal.RequireFromString(amount),
		ChargeCurrency:     "USD",
		SettlementCurrency: "EUR",
		Customer: paysaga.Customer{
			BusinessName: "Acme Imports Ltd",
			Email:        "billing@acme.example",
		},
		Merchant: paysaga.Merchant{
			Name:    "Globex GmbH",
			Country: "DE",
		},
	}
}

// Activities is a scriptable implementation of every saga activity. The
// zero value is not usable; call New.
type Activities struct {
	mu sync.Mutex

	rate       decimal.Decimal
	rejections map[paysaga.CheckType]string
	failures   map[paysaga.ActivityName]*failure
	gates      map[paysaga.ActivityName]chan struct{}
	calls      []paysaga.ActivityName

	seq       int
	byRef     map[string]string
	released  []string
	refunded  []string
	notified  int
	ledgerTxn map[string][]paysaga.LedgerEntry
}

type failure struct {
	err   error
	times int // remaining; negative means always
}

// New returns activities that approve every payment.
func New() *Activities {
	return &Activities{
		rate:       DefaultRate,
		rejections: make(map[paysaga.CheckType]string),
		failures:   make(map[paysaga.ActivityName]*failure),
		gates:      make(map[paysaga.ActivityName]chan struct{}),
		byRef:      make(map[string]string),
		ledgerTxn:  make(map[string][]paysaga.LedgerEntry),
	}
}

// WithRate changes the exchange rate.
func (a *Activities) WithRate(rate string) *Activities {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rate = decimal.RequireFromString(rate)
	return a
}

// Reject makes check return a rejection with reason.
func (a *Activities) Reject(check paysaga.CheckType, reason string) *Activities {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rejections[check] = reason
	return a
}

// Fail makes every call of name return err.
func (a *Activities) Fail(name paysaga.ActivityName, err error) *Activities {
	return a.FailTimes(name, -1, err)
}

// FailTimes makes the next n calls of name return err.
func (a *Activities) FailTimes(name paysaga.ActivityName, n int, err error) *Activities {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures[name] = &failure{err: err, times: n}
	return a
}

// Block makes calls of name wait until the returned func is called or their
// context ends.
func (a *Activities) Block(name paysaga.ActivityName) (release func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	gate := make(chan struct{})
	a.gates[name] = gate
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// Calls returns every invocation in order.
func (a *Activities) Calls() []paysaga.ActivityName {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]paysaga.ActivityName, len(a.calls))
	copy(out, a.calls)
	return out
}

// Count returns how often name was invoked.
func (a *Activities) Count(name paysaga.ActivityName) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, c := range a.calls {
		if c == name {
			n++
		}
	}
	return n
}

// Released returns the IDs of released rate locks and authorizations.
func (a *Activities) Released() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.released...)
}

// Refunded returns the refunded transaction IDs.
func (a *Activities) Refunded() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.refunded...)
}

// Register adds every activity to registry.
func (a *Activities) Register(registry *paysaga.ActivityRegistry) {
	paysaga.MustRegister(registry, paysaga.ActivityValidateTransaction, a.Validate)
	paysaga.MustRegister(registry, paysaga.ActivityLockRate, a.LockRate)
	paysaga.MustRegister(registry, paysaga.ActivityReleaseRateLock, a.ReleaseRateLock)
	paysaga.MustRegister(registry, paysaga.ActivityCheckFraud, a.check(paysaga.CheckFraud))
	paysaga.MustRegister(registry, paysaga.ActivityCheckAML, a.check(paysaga.CheckAML))
	paysaga.MustRegister(registry, paysaga.ActivityCheckSanctions, a.check(paysaga.CheckSanctions))
	paysaga.MustRegister(registry, paysaga.ActivityAuthorizePayment, a.Authorize)
	paysaga.MustRegister(registry, paysaga.ActivityReleaseAuthorization, a.ReleaseAuthorization)
	paysaga.MustRegister(registry, paysaga.ActivityCapturePayment, a.Capture)
	paysaga.MustRegister(registry, paysaga.ActivityRefundPayment, a.Refund)
	paysaga.MustRegister(registry, paysaga.ActivityUpdateLedgers, a.UpdateLedgers)
	paysaga.MustRegister(registry, paysaga.ActivitySendNotifications, a.Notify)
}

// Registry returns a registry holding a's activities.
func (a *Activities) Registry(middlewares ...paysaga.Middleware) *paysaga.ActivityRegistry {
	registry := paysaga.NewActivityRegistry(middlewares...)
	a.Register(registry)
	return registry
}

// enter records the call and applies scripted failures and gates.
func (a *Activities) enter(ctx context.Context, name paysaga.ActivityName) error {
	a.mu.Lock()
	a.calls = append(a.calls, name)
	gate := a.gates[name]
	var err error
	if f, ok := a.failures[name]; ok && f.times != 0 {
		err = f.err
		if f.times > 0 {
			f.times--
		}
	}
	a.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (a *Activities) nextID(prefix string) string {
	a.seq++
	return fmt.Sprintf("%s-%04d", prefix, a.seq)
}

// Validate applies the request rules with the default ceiling.
func (a *Activities) Validate(ctx context.Context, req paysaga.PaymentRequest) (paysaga.ValidationResult, error) {
	if err := a.enter(ctx, paysaga.ActivityValidateTransaction); err != nil {
		return paysaga.ValidationResult{}, err
	}
	result := paysaga.ValidationResult{Approved: true, ValidatedAt: time.Now()}
	if err := req.Validate(paysaga.DefaultAmountCeiling); err != nil {
		var invalid *paysaga.ValidationError
		if !errors.As(err, &invalid) {
			return paysaga.ValidationResult{}, err
		}
		result.Approved = false
		result.Reason = invalid.Error()
	}
	return result, nil
}

// LockRate hands out the configured rate for one hour.
func (a *Activities) LockRate(ctx context.Context, in paysaga.LockRateInput) (paysaga.ExchangeRateLock, error) {
	if err := a.enter(ctx, paysaga.ActivityLockRate); err != nil {
		return paysaga.ExchangeRateLock{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	now := time.Now()
	return paysaga.ExchangeRateLock{
		LockID:    a.nextID("lock"),
		From:      in.From,
		To:        in.To,
		Rate:      a.rate,
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}, nil
}

// ReleaseRateLock records the release.
func (a *Activities) ReleaseRateLock(ctx context.Context, in paysaga.ReleaseRateLockInput) (paysaga.ReleaseResult, error) {
	if err := a.enter(ctx, paysaga.ActivityReleaseRateLock); err != nil {
		return paysaga.ReleaseResult{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.released = append(a.released, in.LockID)
	return paysaga.ReleaseResult{Success: true}, nil
}

func (a *Activities) check(check paysaga.CheckType) func(context.Context, paysaga.ComplianceInput) (paysaga.ComplianceResult, error) {
	return func(ctx context.Context, in paysaga.ComplianceInput) (paysaga.ComplianceResult, error) {
		if err := a.enter(ctx, paysaga.CheckActivity(check)); err != nil {
			return paysaga.ComplianceResult{}, err
		}
		a.mu.Lock()
		reason, rejected := a.rejections[check]
		a.mu.Unlock()
		if rejected {
			return paysaga.ComplianceResult{Check: check, Approved: false, Score: 0.95, Reason: reason}, nil
		}
		return paysaga.ComplianceResult{Check: check, Approved: true, Score: 0.05}, nil
	}
}

// Authorize places a hold keyed by the input reference.
func (a *Activities) Authorize(ctx context.Context, in paysaga.PaymentInput) (paysaga.Authorization, error) {
	if err := a.enter(ctx, paysaga.ActivityAuthorizePayment); err != nil {
		return paysaga.Authorization{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	id, ok := a.byRef[in.Reference]
	if !ok {
		id = a.nextID("auth")
		a.byRef[in.Reference] = id
	}
	return paysaga.Authorization{AuthorizationID: id, Amount: in.Amount, Currency: in.Currency, AuthorizedAt: time.Now()}, nil
}

// ReleaseAuthorization records the release.
func (a *Activities) ReleaseAuthorization(ctx context.Context, in paysaga.ReleaseAuthorizationInput) (paysaga.ReleaseResult, error) {
	if err := a.enter(ctx, paysaga.ActivityReleaseAuthorization); err != nil {
		return paysaga.ReleaseResult{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.released = append(a.released, in.AuthorizationID)
	return paysaga.ReleaseResult{Success: true}, nil
}

// Capture settles the payment once per reference.
func (a *Activities) Capture(ctx context.Context, in paysaga.PaymentInput) (paysaga.Capture, error) {
	if err := a.enter(ctx, paysaga.ActivityCapturePayment); err != nil {
		return paysaga.Capture{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	id, ok := a.byRef[in.Reference]
	if !ok {
		id = a.nextID("txn")
		a.byRef[in.Reference] = id
	}
	return paysaga.Capture{TransactionID: id, Amount: in.Amount, Currency: in.Currency, CapturedAt: time.Now()}, nil
}

// Refund records the refund once per transaction.
func (a *Activities) Refund(ctx context.Context, in paysaga.RefundInput) (paysaga.RefundResult, error) {
	if err := a.enter(ctx, paysaga.ActivityRefundPayment); err != nil {
		return paysaga.RefundResult{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	id, ok := a.byRef[in.Reference]
	if !ok {
		id = a.nextID("refund")
		a.byRef[in.Reference] = id
		a.refunded = append(a.refunded, in.TransactionID)
	}
	return paysaga.RefundResult{RefundID: id, RefundedAt: time.Now()}, nil
}

// UpdateLedgers writes the three postings of a transaction once.
func (a *Activities) UpdateLedgers(ctx context.Context, in paysaga.LedgerInput) (paysaga.LedgerResult, error) {
	if err := a.enter(ctx, paysaga.ActivityUpdateLedgers); err != nil {
		return paysaga.LedgerResult{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if entries, ok := a.ledgerTxn[in.TransactionID]; ok {
		return paysaga.LedgerResult{Entries: entries}, nil
	}
	entries := []paysaga.LedgerEntry{
		{EntryID: a.nextID("entry"), TransactionID: in.TransactionID, Type: paysaga.EntryDebit, Account: "customer_funds", Amount: in.ChargeAmount, Currency: in.ChargeCurrency},
		{EntryID: a.nextID("entry"), TransactionID: in.TransactionID, Type: paysaga.EntryCredit, Account: "merchant_account", Amount: in.SettlementAmount, Currency: in.SettlementCurrency},
		{EntryID: a.nextID("entry"), TransactionID: in.TransactionID, Type: paysaga.EntryFee, Account: "fx_fee", Amount: in.Fee, Currency: in.SettlementCurrency},
	}
	a.ledgerTxn[in.TransactionID] = entries
	return paysaga.LedgerResult{Entries: entries}, nil
}

// Notify pretends to email the customer and call the merchant webhook.
func (a *Activities) Notify(ctx context.Context, in paysaga.NotifyInput) (paysaga.NotifyResult, error) {
	if err := a.enter(ctx, paysaga.ActivitySendNotifications); err != nil {
		return paysaga.NotifyResult{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.notified++
	return paysaga.NotifyResult{Notifications: []paysaga.Notification{
		{Channel: "email", Recipient: in.Request.Customer.Email, Subject: "Payment " + in.TransactionID, Status: "sent"},
		{Channel: "webhook", Recipient: in.Request.Merchant.Name, Subject: "payment.completed", Status: "sent"},
	}}, nil
}
