package activities

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fortressi/paysaga"
)

// Gateway simulates the card processor. Every side effect is keyed by the
// reference the saga passes in, so a redelivered call returns the result of
// the first one.
type Gateway struct {
	store IdempotencyStore
	// Limit declines holds and captures above it; zero accepts any amount.
	Limit decimal.Decimal
	clock func() time.Time
	newID func() string
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithDeclineAbove declines authorizations and captures above limit.
func WithDeclineAbove(limit decimal.Decimal) GatewayOption {
	return func(g *Gateway) { g.Limit = limit }
}

// WithGatewayClock replaces time.Now.
func WithGatewayClock(clock func() time.Time) GatewayOption {
	return func(g *Gateway) { g.clock = clock }
}

// NewGateway creates a gateway recording its side effects in store.
func NewGateway(store IdempotencyStore, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		store: store,
		clock: time.Now,
		newID: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// once records candidate under key unless a result is already there and
// decodes whichever result won into out.
func (g *Gateway) once(ctx context.Context, key string, candidate, out any) error {
	data, err := json.Marshal(candidate)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	stored, err := g.store.Claim(ctx, key, data)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(stored, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

func (g *Gateway) declines(amount decimal.Decimal) bool {
	return g.Limit.IsPositive() && amount.GreaterThan(g.Limit)
}

// Authorize places a hold for the settlement amount.
func (g *Gateway) Authorize(ctx context.Context, in paysaga.PaymentInput) (paysaga.Authorization, error) {
	if in.Reference == "" {
		return paysaga.Authorization{}, paysaga.Invalid("authorization needs a reference")
	}
	if g.declines(in.Amount) {
		return paysaga.Authorization{}, paysaga.Rejected(paysaga.StepAuthorize,
			fmt.Sprintf("authorization declined: %s %s exceeds limit", in.Amount.StringFixed(2), in.Currency))
	}
	candidate := paysaga.Authorization{
		AuthorizationID: "auth_" + g.newID(),
		Amount:          in.Amount,
		Currency:        in.Currency,
		AuthorizedAt:    g.clock(),
	}
	var auth paysaga.Authorization
	if err := g.once(ctx, "authorize:"+in.Reference, candidate, &auth); err != nil {
		return paysaga.Authorization{}, err
	}
	return auth, nil
}

// ReleaseAuthorization drops a hold. Releasing twice is harmless.
func (g *Gateway) ReleaseAuthorization(ctx context.Context, in paysaga.ReleaseAuthorizationInput) (paysaga.ReleaseResult, error) {
	var result paysaga.ReleaseResult
	if err := g.once(ctx, "release:"+in.AuthorizationID, paysaga.ReleaseResult{Success: true}, &result); err != nil {
		return paysaga.ReleaseResult{}, err
	}
	return result, nil
}

// Capture settles the payment against its hold, if it has one.
func (g *Gateway) Capture(ctx context.Context, in paysaga.PaymentInput) (paysaga.Capture, error) {
	if in.Reference == "" {
		return paysaga.Capture{}, paysaga.Invalid("capture needs a reference")
	}
	if in.AuthorizationID != "" {
		_, released, err := g.store.Lookup(ctx, "release:"+in.AuthorizationID)
		if err != nil {
			return paysaga.Capture{}, err
		}
		if released {
			return paysaga.Capture{}, paysaga.Rejected(paysaga.StepCapture,
				fmt.Sprintf("authorization %s was released", in.AuthorizationID))
		}
	}
	if g.declines(in.Amount) {
		return paysaga.Capture{}, paysaga.Rejected(paysaga.StepCapture,
			fmt.Sprintf("capture declined: %s %s exceeds limit", in.Amount.StringFixed(2), in.Currency))
	}

	candidate := paysaga.Capture{
		TransactionID: "txn_" + g.newID(),
		Amount:        in.Amount,
		Currency:      in.Currency,
		CapturedAt:    g.clock(),
	}
	var captured paysaga.Capture
	if err := g.once(ctx, "capture:"+in.Reference, candidate, &captured); err != nil {
		return paysaga.Capture{}, err
	}
	return captured, nil
}

// Refund reverses a capture. A transaction is refunded at most once,
// whatever reference the request carries.
func (g *Gateway) Refund(ctx context.Context, in paysaga.RefundInput) (paysaga.RefundResult, error) {
	if in.TransactionID == "" {
		return paysaga.RefundResult{}, paysaga.Invalid("refund needs a transaction id")
	}
	candidate := paysaga.RefundResult{RefundID: "re_" + g.newID(), RefundedAt: g.clock()}
	var refund paysaga.RefundResult
	if err := g.once(ctx, "refund:"+in.TransactionID, candidate, &refund); err != nil {
		return paysaga.RefundResult{}, err
	}
	return refund, nil
}
