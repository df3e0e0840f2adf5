package activities

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fortressi/paysaga"
)

// LockExpiry is how long the FX service holds a rate.
const LockExpiry = time.Hour

// FXClient talks to the exchange rate service.
type FXClient struct {
	svc   *serviceClient
	clock func() time.Time
}

// NewFXClient creates a client for the FX service at opts.BaseURL.
func NewFXClient(opts ServiceOptions) *FXClient {
	return &FXClient{svc: newServiceClient("fx_service", opts), clock: time.Now}
}

type lockRateRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type lockRateResponse struct {
	Success   bool            `json:"success"`
	LockID    string          `json:"lock_id"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Rate      decimal.Decimal `json:"rate"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// LockRate holds the current rate for a currency pair.
func (c *FXClient) LockRate(ctx context.Context, in paysaga.LockRateInput) (paysaga.ExchangeRateLock, error) {
	from, to := strings.ToUpper(in.From), strings.ToUpper(in.To)

	var resp lockRateResponse
	status, err := c.svc.post(ctx, "/api/lock_rate", lockRateRequest{From: from, To: to}, &resp)
	if err != nil {
		return paysaga.ExchangeRateLock{}, err
	}
	switch {
	case status == http.StatusNotFound:
		reason := resp.Error
		if reason == "" {
			reason = fmt.Sprintf("Exchange rate not found for %s to %s", from, to)
		}
		return paysaga.ExchangeRateLock{}, paysaga.Rejected(paysaga.StepLockRate, reason)
	case !success(status):
		return paysaga.ExchangeRateLock{}, paysaga.Fatal(paysaga.ActivityLockRate, 1,
			fmt.Errorf("fx_service refused rate lock (%d): %s", status, resp.Error))
	case resp.LockID == "" || !resp.Rate.IsPositive():
		return paysaga.ExchangeRateLock{}, fmt.Errorf("fx_service returned an unusable lock for %s->%s", from, to)
	}

	now := c.clock()
	expires := now.Add(LockExpiry)
	if resp.ExpiresAt != nil {
		expires = *resp.ExpiresAt
	}
	return paysaga.ExchangeRateLock{
		LockID:    resp.LockID,
		From:      from,
		To:        to,
		Rate:      resp.Rate,
		IssuedAt:  now,
		ExpiresAt: expires,
	}, nil
}

type releaseLockRequest struct {
	LockID string `json:"lock_id"`
}

// ReleaseRateLock gives a held rate back. A lock the service no longer knows
// counts as released.
func (c *FXClient) ReleaseRateLock(ctx context.Context, in paysaga.ReleaseRateLockInput) (paysaga.ReleaseResult, error) {
	status, err := c.svc.post(ctx, "/api/release_lock", releaseLockRequest{LockID: in.LockID}, nil)
	if err != nil {
		return paysaga.ReleaseResult{}, err
	}
	if success(status) || status == http.StatusNotFound {
		return paysaga.ReleaseResult{Success: true}, nil
	}
	return paysaga.ReleaseResult{}, fmt.Errorf("fx_service refused to release lock %s: status %d", in.LockID, status)
}
