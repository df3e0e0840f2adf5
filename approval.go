package paysaga

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ApprovalMode selects how the approval gate ends.
type ApprovalMode string

const (
	// ApprovalWait blocks until an operator decides, however long it takes.
	ApprovalWait ApprovalMode = "wait"
	// ApprovalTimeout applies Default when no decision arrives in time.
	ApprovalTimeout ApprovalMode = "timeout"
)

// SignalApprovePayment is the name of the approval decision signal.
const SignalApprovePayment = "approve_payment"

// ApprovalPolicy configures the approval gate for a deployment. Exactly one
// mode applies.
type ApprovalPolicy struct {
	Mode      ApprovalMode    `mapstructure:"mode" json:"mode" validate:"oneof=wait timeout"`
	Threshold decimal.Decimal `mapstructure:"-" json:"threshold"`
	// Timeout and Default only apply in ApprovalTimeout mode.
	Timeout time.Duration `mapstructure:"timeout" json:"timeout,omitempty"`
	Default Decision      `mapstructure:"default" json:"default,omitempty"`
	// Heartbeat, when set, logs that the gate is still waiting.
	Heartbeat time.Duration `mapstructure:"heartbeat" json:"heartbeat,omitempty"`
}

// DefaultApprovalThreshold is the charge amount from which a payment needs
// manual approval.
var DefaultApprovalThreshold = decimal.NewFromInt(5000)

// DefaultApprovalPolicy waits indefinitely above the default threshold.
func DefaultApprovalPolicy() ApprovalPolicy {
	return ApprovalPolicy{Mode: ApprovalWait, Threshold: DefaultApprovalThreshold}
}

// Validate checks that the policy picks exactly one behaviour.
func (p ApprovalPolicy) Validate() error {
	switch p.Mode {
	case ApprovalWait:
		if p.Timeout != 0 {
			return fmt.Errorf("approval policy %q does not take a timeout", p.Mode)
		}
	case ApprovalTimeout:
		if p.Timeout <= 0 {
			return fmt.Errorf("approval policy %q needs a positive timeout", p.Mode)
		}
		if p.Default != DecisionApproved && p.Default != DecisionRejected {
			return fmt.Errorf("approval policy %q needs a default of %q or %q", p.Mode, DecisionApproved, DecisionRejected)
		}
	default:
		return fmt.Errorf("unknown approval mode %q", p.Mode)
	}
	if p.Threshold.IsNegative() {
		return fmt.Errorf("approval threshold must not be negative")
	}
	return nil
}

// Required reports whether a payment charging amount must pass the gate.
// The amount is compared as is, whatever its currency.
func (p ApprovalPolicy) Required(amount decimal.Decimal) bool {
	return amount.GreaterThanOrEqual(p.Threshold)
}

// approvalGate resolves the approval step of a saga.
type approvalGate struct {
	rt     Runtime
	policy ApprovalPolicy
}

// await blocks on the decision for state and records it. A decision already
// present in state, from before a restart, is reused.
func (g approvalGate) await(state *WorkflowState) (*ApprovalDecision, error) {
	if state.Approval != nil && state.Approval.Decision != DecisionPending {
		return state.Approval, nil
	}

	req := ApprovalRequest{
		SagaID:      state.SagaID,
		Reference:   state.Reference(),
		Amount:      state.Request.Amount,
		Currency:    state.Request.ChargeCurrency,
		RequestedAt: g.rt.Now(),
	}
	if state.Approval != nil {
		req = state.Approval.Request
	}
	state.Approval = &ApprovalDecision{Request: req, Decision: DecisionPending}

	logger := g.rt.Logger()
	logger.Info("Payment requires manual approval",
		"saga_id", req.SagaID,
		"reference", req.Reference,
		"amount", req.Amount.StringFixed(2),
		"currency", req.Currency,
		"signal", SignalApprovePayment,
		"mode", string(g.policy.Mode))

	if err := g.rt.Checkpoint(state); err != nil {
		logger.Warn("Failed to checkpoint approval request", "saga_id", req.SagaID, "error", err)
	}

	signal, received, err := g.rt.AwaitApproval(req, g.policy)
	if err != nil {
		return nil, err
	}

	if received {
		state.Approval.Decide(signal.Approved, signal.DecidedBy, "signal", g.rt.Now())
	} else {
		// Only the timeout policy returns without a signal.
		state.Approval.Decide(g.policy.Default == DecisionApproved, "policy", "timeout", g.rt.Now())
		logger.Warn("Approval window elapsed, applying default",
			"saga_id", req.SagaID, "default", string(g.policy.Default))
	}
	return state.Approval, nil
}
