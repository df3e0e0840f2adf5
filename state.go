package paysaga

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the position of a saga in its lifecycle.
type Status string

const (
	StatusStarted           Status = "started"
	StatusValidating        Status = "validating"
	StatusRateLocked        Status = "rate_locked"
	StatusComplianceChecked Status = "compliance_checked"
	StatusAwaitingApproval  Status = "awaiting_approval"
	StatusApproved          Status = "approved"
	StatusRejected          Status = "rejected"
	StatusCaptured          Status = "captured"
	StatusCompleted         Status = "completed"
	StatusFailed            Status = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRejected, StatusFailed:
		return true
	}
	return false
}

// ExchangeRateLock is a reference to a rate held by the FX service.
type ExchangeRateLock struct {
	LockID    string          `json:"lock_id"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Rate      decimal.Decimal `json:"rate"`
	IssuedAt  time.Time       `json:"issued_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// CheckType enumerates compliance checks in reporting order.
type CheckType string

const (
	CheckFraud     CheckType = "fraud"
	CheckAML       CheckType = "aml"
	CheckSanctions CheckType = "sanctions"
)

// ComplianceChecks is the enumeration order used to pick the primary
// rejection reason.
var ComplianceChecks = []CheckType{CheckFraud, CheckAML, CheckSanctions}

// ComplianceResult is the outcome of a single compliance check.
type ComplianceResult struct {
	Check    CheckType `json:"check"`
	Approved bool      `json:"approved"`
	Score    float64   `json:"score"`
	Reason   string    `json:"reason,omitempty"`
}

// ComplianceRecord holds all three compliance results.
type ComplianceRecord struct {
	Fraud     *ComplianceResult `json:"fraud,omitempty"`
	AML       *ComplianceResult `json:"aml,omitempty"`
	Sanctions *ComplianceResult `json:"sanctions,omitempty"`
}

// Get returns the result for check, or nil.
func (c *ComplianceRecord) Get(check CheckType) *ComplianceResult {
	switch check {
	case CheckFraud:
		return c.Fraud
	case CheckAML:
		return c.AML
	case CheckSanctions:
		return c.Sanctions
	}
	return nil
}

// Set stores a result in the slot for its check.
func (c *ComplianceRecord) Set(result ComplianceResult) {
	r := result
	switch result.Check {
	case CheckFraud:
		c.Fraud = &r
	case CheckAML:
		c.AML = &r
	case CheckSanctions:
		c.Sanctions = &r
	}
}

// FirstRejection returns the first failing result in enumeration order.
func (c *ComplianceRecord) FirstRejection() *ComplianceResult {
	for _, check := range ComplianceChecks {
		if r := c.Get(check); r != nil && !r.Approved {
			return r
		}
	}
	return nil
}

// Decision is the tri-state outcome of the approval gate.
type Decision string

const (
	DecisionPending  Decision = "pending"
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// ApprovalRequest is published when a saga enters the approval gate.
type ApprovalRequest struct {
	SagaID      string          `json:"saga_id"`
	Reference   string          `json:"reference"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	RequestedAt time.Time       `json:"requested_at"`
}

// ApprovalSignal is the payload of the approve_payment signal.
type ApprovalSignal struct {
	Approved  bool   `json:"approved"`
	DecidedBy string `json:"decided_by,omitempty"`
}

// ApprovalDecision records how the gate was resolved. Once Decision is not
// pending it is never overwritten.
type ApprovalDecision struct {
	Request   ApprovalRequest `json:"request"`
	Decision  Decision        `json:"decision"`
	DecidedBy string          `json:"decided_by,omitempty"`
	DecidedAt time.Time       `json:"decided_at,omitempty"`
	Source    string          `json:"source,omitempty"` // "signal" or "timeout"
}

// Decide sets the decision if none has been made yet and reports whether it
// took effect.
func (a *ApprovalDecision) Decide(approved bool, by, source string, at time.Time) bool {
	if a.Decision != DecisionPending && a.Decision != "" {
		return false
	}
	a.Decision = DecisionRejected
	if approved {
		a.Decision = DecisionApproved
	}
	a.DecidedBy = by
	a.Source = source
	a.DecidedAt = at
	return true
}

// Authorization is a hold placed on the customer's funds.
type Authorization struct {
	AuthorizationID string          `json:"authorization_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	AuthorizedAt    time.Time       `json:"authorized_at"`
}

// Capture is the settled payment.
type Capture struct {
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	CapturedAt    time.Time       `json:"captured_at"`
}

// EntryType is the kind of a ledger entry.
type EntryType string

const (
	EntryDebit  EntryType = "debit"
	EntryCredit EntryType = "credit"
	EntryFee    EntryType = "fee"
)

// LedgerEntry is one posting written by the ledger activity.
type LedgerEntry struct {
	EntryID       string          `json:"entry_id"`
	TransactionID string          `json:"transaction_id"`
	Type          EntryType       `json:"type"`
	Account       string          `json:"account"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
}

// Notification is one message sent when the saga settles.
type Notification struct {
	Channel   string `json:"channel"` // "email" or "webhook"
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Status    string `json:"status"`
}

// WorkflowState is the aggregate owned by one saga. Only the orchestrator
// writes to it.
type WorkflowState struct {
	SagaID  string         `json:"saga_id"`
	Status  Status         `json:"status"`
	Request PaymentRequest `json:"request"`

	Validation       *ValidationResult `json:"validation,omitempty"`
	RateLock         *ExchangeRateLock `json:"rate_lock,omitempty"`
	SettlementAmount decimal.Decimal   `json:"settlement_amount"`
	Compliance       ComplianceRecord  `json:"compliance"`
	Approval         *ApprovalDecision `json:"approval,omitempty"`
	Authorization    *Authorization    `json:"authorization,omitempty"`
	Capture          *Capture          `json:"capture,omitempty"`
	Ledger           []LedgerEntry     `json:"ledger,omitempty"`
	Notifications    []Notification    `json:"notifications,omitempty"`

	Compensations []Compensation `json:"compensations"`
	Journal       []JournalEvent `json:"journal"`
	Warnings      []string       `json:"warnings,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Error         string         `json:"error,omitempty"`
	// Outcome is the terminal status the saga is unwinding towards. It is
	// only set while compensations are running.
	Outcome Status `json:"outcome,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewWorkflowState returns the initial state for a saga.
func NewWorkflowState(sagaID string, req PaymentRequest, now time.Time) *WorkflowState {
	return &WorkflowState{
		SagaID:        sagaID,
		Status:        StatusStarted,
		Request:       req,
		Compensations: []Compensation{},
		Journal:       []JournalEvent{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Reference is the idempotency root of the saga's side effects.
func (s *WorkflowState) Reference() string {
	if s.Request.Reference != "" {
		return s.Request.Reference
	}
	return s.SagaID
}

// TransactionID is set once the payment has been captured.
func (s *WorkflowState) TransactionID() string {
	if s.Capture == nil {
		return ""
	}
	return s.Capture.TransactionID
}

// Warn appends a warning.
func (s *WorkflowState) Warn(format string, args ...any) {
	s.Warnings = append(s.Warnings, fmt.Sprintf(format, args...))
}

// Clone returns a deep copy through JSON, so the copy shares nothing with s.
func (s *WorkflowState) Clone() (*WorkflowState, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	var out WorkflowState
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return &out, nil
}

// Summary is the short form of a state used in listings.
type Summary struct {
	SagaID        string    `json:"saga_id" yaml:"saga_id"`
	Status        Status    `json:"status" yaml:"status"`
	Reason        string    `json:"reason,omitempty" yaml:"reason,omitempty"`
	TransactionID string    `json:"transaction_id,omitempty" yaml:"transaction_id,omitempty"`
	Settlement    string    `json:"settlement_amount,omitempty" yaml:"settlement_amount,omitempty"`
	UpdatedAt     time.Time `json:"updated_at" yaml:"updated_at"`
}

// Summarize returns the listing view of s.
func (s *WorkflowState) Summarize() Summary {
	sum := Summary{
		SagaID:        s.SagaID,
		Status:        s.Status,
		Reason:        s.Reason,
		TransactionID: s.TransactionID(),
		UpdatedAt:     s.UpdatedAt,
	}
	if s.Status == StatusCompleted {
		sum.Settlement = s.SettlementAmount.StringFixed(2) + " " + s.Request.SettlementCurrency
	}
	return sum
}
