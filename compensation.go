package paysaga

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.temporal.io/sdk/log"
)

// CompensationKind tags the variant held by a Compensation.
type CompensationKind string

const (
	CompensateReleaseRateLock      CompensationKind = "release_rate_lock"
	CompensateReleaseAuthorization CompensationKind = "release_authorization"
	CompensateRefundPayment        CompensationKind = "refund_payment"
)

// Compensation is the undo action for one committed side effect. Only the
// fields of its Kind are set.
type Compensation struct {
	Kind CompensationKind `json:"kind"`

	LockID          string          `json:"lock_id,omitempty"`
	AuthorizationID string          `json:"authorization_id,omitempty"`
	TransactionID   string          `json:"transaction_id,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency,omitempty"`
}

// ReleaseRateLock undoes a rate lock.
func ReleaseRateLock(lockID string) Compensation {
	return Compensation{Kind: CompensateReleaseRateLock, LockID: lockID}
}

// ReleaseAuthorization undoes an authorization hold.
func ReleaseAuthorization(authorizationID string) Compensation {
	return Compensation{Kind: CompensateReleaseAuthorization, AuthorizationID: authorizationID}
}

// RefundPayment undoes a capture.
func RefundPayment(transactionID string, amount decimal.Decimal, currency string) Compensation {
	return Compensation{
		Kind:          CompensateRefundPayment,
		TransactionID: transactionID,
		Amount:        amount,
		Currency:      currency,
	}
}

// Step is the forward step whose side effect c reverses.
func (c Compensation) Step() StepName {
	switch c.Kind {
	case CompensateReleaseRateLock:
		return StepLockRate
	case CompensateReleaseAuthorization:
		return StepAuthorize
	case CompensateRefundPayment:
		return StepCapture
	}
	return ""
}

func (c Compensation) String() string {
	switch c.Kind {
	case CompensateReleaseRateLock:
		return fmt.Sprintf("%s(%s)", c.Kind, c.LockID)
	case CompensateReleaseAuthorization:
		return fmt.Sprintf("%s(%s)", c.Kind, c.AuthorizationID)
	case CompensateRefundPayment:
		return fmt.Sprintf("%s(%s, %s %s)", c.Kind, c.TransactionID, c.Amount.StringFixed(2), c.Currency)
	}
	return string(c.Kind)
}

// CompensationFunc executes one compensation.
type CompensationFunc func(Compensation) error

// CompensationRegistry is the LIFO stack of undo actions of a saga. At any
// point it holds exactly the compensations for side effects that committed
// and have not been undone.
type CompensationRegistry struct {
	entries []Compensation
}

// NewCompensationRegistry restores a registry from persisted entries, in push
// order.
func NewCompensationRegistry(entries []Compensation) *CompensationRegistry {
	r := &CompensationRegistry{entries: make([]Compensation, 0, len(entries)+3)}
	r.entries = append(r.entries, entries...)
	return r
}

// Push records the undo action of a side effect that just committed.
func (r *CompensationRegistry) Push(c Compensation) {
	r.entries = append(r.entries, c)
}

// Remove drops the most recent compensation of the given kind without
// running it. It reports whether one was found.
func (r *CompensationRegistry) Remove(kind CompensationKind) bool {
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].Kind == kind {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Replace swaps the most recent compensation of the given kind for c, or
// pushes c when there is none. Capture uses it so the refund takes the
// place of the authorization release it supersedes.
func (r *CompensationRegistry) Replace(kind CompensationKind, c Compensation) {
	r.Remove(kind)
	r.Push(c)
}

// Len returns the number of pending compensations.
func (r *CompensationRegistry) Len() int {
	return len(r.entries)
}

// Entries returns a copy of the pending compensations in push order.
func (r *CompensationRegistry) Entries() []Compensation {
	out := make([]Compensation, len(r.entries))
	copy(out, r.entries)
	return out
}

// PopAllAndExecute unwinds the registry in reverse push order. A compensation
// is removed only after exec returns, so an interrupted unwind resumes with
// the entry that was in flight. popped, when set, is called after each
// removal. Failures are logged and collected; they never stop the unwind.
// The registry is empty afterwards.
func (r *CompensationRegistry) PopAllAndExecute(logger log.Logger, exec CompensationFunc, popped func()) []*CompensationError {
	var failures []*CompensationError
	for len(r.entries) > 0 {
		last := len(r.entries) - 1
		c := r.entries[last]

		err := exec(c)
		r.entries = r.entries[:last]
		if popped != nil {
			popped()
		}
		if err != nil {
			if logger != nil {
				logger.Warn("Compensation failed", "compensation", c.String(), "error", err)
			}
			failures = append(failures, &CompensationError{Compensation: c, Err: err})
			continue
		}
		if logger != nil {
			logger.Info("Compensation executed", "compensation", c.String())
		}
	}
	return failures
}
