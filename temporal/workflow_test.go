package temporal

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/testsuite"

	"github.com/fortressi/paysaga"
	"github.com/fortressi/paysaga/paysagatest"
)

type PaymentWorkflowSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite

	env   *testsuite.TestWorkflowEnvironment
	fakes *paysagatest.Activities
	cfg   paysaga.SagaConfig
}

func TestPaymentWorkflow(t *testing.T) {
	suite.Run(t, new(PaymentWorkflowSuite))
}

func (s *PaymentWorkflowSuite) SetupTest() {
	s.env = s.NewTestWorkflowEnvironment()
	s.fakes = paysagatest.New()
	s.cfg = paysaga.DefaultSagaConfig()
}

// start registers everything and runs the workflow to completion.
func (s *PaymentWorkflowSuite) start(req paysaga.PaymentRequest) *paysaga.WorkflowState {
	Register(s.env, NewWorkflow(s.cfg, nil), s.fakes.Registry())
	s.env.ExecuteWorkflow(WorkflowName, req)

	s.Require().True(s.env.IsWorkflowCompleted())
	s.Require().NoError(s.env.GetWorkflowError())
	var state paysaga.WorkflowState
	s.Require().NoError(s.env.GetWorkflowResult(&state))
	return &state
}

func (s *PaymentWorkflowSuite) signal(after time.Duration, approved bool) {
	s.env.RegisterDelayedCallback(func() {
		s.env.SignalWorkflow(paysaga.SignalApprovePayment, paysaga.ApprovalSignal{Approved: approved, DecidedBy: "ops@example.com"})
	}, after)
}

func (s *PaymentWorkflowSuite) TestSmallPaymentCompletes() {
	state := s.start(paysagatest.Request("1000.00"))

	s.Equal(paysaga.StatusCompleted, state.Status)
	s.True(decimal.RequireFromString("850.00").Equal(state.SettlementAmount))
	s.Nil(state.Approval)
	s.NotEmpty(state.TransactionID())
	s.Len(state.Ledger, 3)
	s.Len(state.Notifications, 2)
	s.Empty(s.fakes.Released())
	s.Empty(s.fakes.Refunded())
}

func (s *PaymentWorkflowSuite) TestValidationFailureRejects() {
	req := paysagatest.Request("60000")
	req.Customer.Email = ""
	state := s.start(req)

	s.Equal(paysaga.StatusRejected, state.Status)
	s.Equal("Customer information incomplete, Amount exceeds maximum allowed (50000)", state.Reason)
	s.Equal(0, s.fakes.Count(paysaga.ActivityLockRate))
}

func (s *PaymentWorkflowSuite) TestComplianceRejectionReleasesRateLock() {
	s.fakes.Reject(paysaga.CheckSanctions, "merchant on watch list")
	state := s.start(paysagatest.Request("1000.00"))

	s.Equal(paysaga.StatusRejected, state.Status)
	s.Equal("sanctions check failed: merchant on watch list", state.Reason)
	s.Equal([]string{state.RateLock.LockID}, s.fakes.Released())
	s.Equal(1, s.fakes.Count(paysaga.ActivityCheckFraud))
	s.Equal(1, s.fakes.Count(paysaga.ActivityCheckAML))
	s.Equal(0, s.fakes.Count(paysaga.ActivityCapturePayment))
}

func (s *PaymentWorkflowSuite) TestApprovalSignalApproves() {
	s.signal(time.Hour, true)
	state := s.start(paysagatest.Request("10000.00"))

	s.Equal(paysaga.StatusCompleted, state.Status)
	s.Require().NotNil(state.Approval)
	s.Equal(paysaga.DecisionApproved, state.Approval.Decision)
	s.Equal("ops@example.com", state.Approval.DecidedBy)
	s.Equal("signal", state.Approval.Source)
}

func (s *PaymentWorkflowSuite) TestApprovalSignalRejects() {
	s.signal(time.Minute, false)
	state := s.start(paysagatest.Request("10000.00"))

	s.Equal(paysaga.StatusRejected, state.Status)
	s.Equal("payment rejected by approver", state.Reason)
	s.Equal([]string{state.RateLock.LockID}, s.fakes.Released())
	s.Equal(0, s.fakes.Count(paysaga.ActivityAuthorizePayment))
}

func (s *PaymentWorkflowSuite) TestFirstApprovalDecisionWins() {
	s.signal(time.Minute, true)
	s.signal(2*time.Minute, false)
	state := s.start(paysagatest.Request("10000.00"))

	s.Equal(paysaga.StatusCompleted, state.Status)
	s.Equal(paysaga.DecisionApproved, state.Approval.Decision)
}

func (s *PaymentWorkflowSuite) TestApprovalTimeoutAppliesDefault() {
	s.cfg.Approval = paysaga.ApprovalPolicy{
		Mode:      paysaga.ApprovalTimeout,
		Threshold: paysaga.DefaultApprovalThreshold,
		Timeout:   24 * time.Hour,
		Default:   paysaga.DecisionRejected,
		Heartbeat: time.Hour,
	}
	state := s.start(paysagatest.Request("10000.00"))

	s.Equal(paysaga.StatusRejected, state.Status)
	s.Equal("payment rejected: approval window elapsed", state.Reason)
	s.Equal("timeout", state.Approval.Source)
}

func (s *PaymentWorkflowSuite) TestStateQueryWhileAwaitingApproval() {
	s.env.RegisterDelayedCallback(func() {
		value, err := s.env.QueryWorkflow(QueryState)
		s.Require().NoError(err)
		var state paysaga.WorkflowState
		s.Require().NoError(value.Get(&state))
		s.Equal(paysaga.StatusAwaitingApproval, state.Status)
		s.Equal(paysaga.DecisionPending, state.Approval.Decision)
	}, time.Minute)
	s.signal(time.Hour, true)

	state := s.start(paysagatest.Request("10000.00"))
	s.Equal(paysaga.StatusCompleted, state.Status)
}

func (s *PaymentWorkflowSuite) TestLedgerFailureRefundsCapture() {
	s.fakes.Fail(paysaga.ActivityUpdateLedgers, errors.New("ledger database unavailable"))
	state := s.start(paysagatest.Request("1000.00"))

	s.Equal(paysaga.StatusFailed, state.Status)
	s.Contains(state.Error, "UpdateLedgers failed after 3 attempt(s)")
	s.Equal(3, s.fakes.Count(paysaga.ActivityUpdateLedgers))
	s.Equal([]string{state.TransactionID()}, s.fakes.Refunded())
	// The hold was consumed by the capture, so only the rate lock is released.
	s.Equal([]string{state.RateLock.LockID}, s.fakes.Released())
	s.Empty(state.Compensations)
}

func (s *PaymentWorkflowSuite) TestNotificationFailureIsAWarning() {
	s.fakes.Fail(paysaga.ActivitySendNotifications, errors.New("smtp relay down"))
	state := s.start(paysagatest.Request("1000.00"))

	s.Equal(paysaga.StatusCompleted, state.Status)
	s.Require().Len(state.Warnings, 1)
	s.Contains(state.Warnings[0], "notification failed")
	s.Empty(s.fakes.Refunded())
}

func (s *PaymentWorkflowSuite) TestCancelCompensates() {
	s.env.RegisterDelayedCallback(func() {
		s.env.CancelWorkflow()
	}, time.Minute)
	state := s.start(paysagatest.Request("10000.00"))

	s.Equal(paysaga.StatusFailed, state.Status)
	s.Equal("cancelled", state.Reason)
	s.Equal([]string{state.RateLock.LockID}, s.fakes.Released())
}

func TestFromActivityErrorRoundTrip(t *testing.T) {
	s := suite.Suite{}
	s.SetT(t)

	rejection := ToApplicationError(paysaga.Rejected(paysaga.StepCompliance, "fraud check failed"))
	got := FromActivityError(paysaga.ActivityCheckFraud, 5, rejection)
	s.Equal(paysaga.KindRejection, paysaga.Classify(got))
	var r *paysaga.RejectionError
	s.Require().ErrorAs(got, &r)
	s.Equal("fraud check failed", r.Reason)
	s.Equal(paysaga.StepCompliance, r.Step)

	invalid := ToApplicationError(paysaga.Invalid("Amount must be positive"))
	s.Equal(paysaga.KindValidation, paysaga.Classify(FromActivityError(paysaga.ActivityValidateTransaction, 1, invalid)))

	plain := errors.New("connection reset")
	s.Same(plain, ToApplicationError(plain))
	s.Equal(paysaga.KindFatal, paysaga.Classify(FromActivityError(paysaga.ActivityLockRate, 3, plain)))
}
