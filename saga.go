package paysaga

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.temporal.io/sdk/log"
)

// DefaultFeeRate is the FX fee charged on the settlement amount.
var DefaultFeeRate = decimal.RequireFromString("0.01")

// SagaConfig holds the business parameters of the payment saga.
type SagaConfig struct {
	FeeRate decimal.Decimal
	// AuthorizeBeforeCapture places a hold after approval and releases it if
	// the saga unwinds before capture.
	AuthorizeBeforeCapture bool
	Approval               ApprovalPolicy
}

// DefaultSagaConfig returns the configuration used when nothing is set.
func DefaultSagaConfig() SagaConfig {
	return SagaConfig{
		FeeRate:                DefaultFeeRate,
		AuthorizeBeforeCapture: true,
		Approval:               DefaultApprovalPolicy(),
	}
}

// Saga drives one payment through its steps and owns its WorkflowState.
//
// A Saga is built from a state, which is either fresh or restored from a
// checkpoint. Steps the journal shows as succeeded are never run again; their
// results are read back from the state instead.
type Saga struct {
	cfg     SagaConfig
	rt      Runtime
	state   *WorkflowState
	journal *Journal
	comps   *CompensationRegistry
	plan    *Plan
	logger  log.Logger
}

// NewSaga prepares state to run on rt.
func NewSaga(cfg SagaConfig, rt Runtime, state *WorkflowState) (*Saga, error) {
	if state == nil {
		return nil, errors.New("saga state is required")
	}
	if err := cfg.Approval.Validate(); err != nil {
		return nil, fmt.Errorf("invalid saga config: %w", err)
	}
	plan, err := NewPaymentPlan(cfg)
	if err != nil {
		return nil, err
	}
	journal, err := RecoverJournal(state.SagaID, state.Journal)
	if err != nil {
		return nil, err
	}
	return &Saga{
		cfg:     cfg,
		rt:      rt,
		state:   state,
		journal: journal,
		comps:   NewCompensationRegistry(state.Compensations),
		plan:    plan,
		logger:  log.With(rt.Logger(), "saga_id", state.SagaID),
	}, nil
}

// State returns the live state. Callers must not modify it.
func (s *Saga) State() *WorkflowState {
	return s.state
}

// Run drives the saga until it reaches a terminal status and returns the
// final state. Rejections and failures are reported in the state, not as an
// error; an error means the saga stopped early (ErrSuspended) and can be
// resumed later.
func (s *Saga) Run() (*WorkflowState, error) {
	if s.state.Status.Terminal() {
		return s.state, nil
	}

	// An unwind was interrupted; finish it before anything else.
	if s.state.Outcome != "" {
		s.logger.Info("Resuming compensation", "outcome", string(s.state.Outcome))
		s.finish()
		return s.state, nil
	}

	err := s.forward()
	if err == nil {
		return s.state, nil
	}
	if Classify(err) == KindSuspended {
		s.logger.Info("Saga suspended", "status", string(s.state.Status))
		s.checkpoint()
		return s.state, err
	}

	s.conclude(err)
	return s.state, nil
}

func (s *Saga) forward() error {
	levels, err := s.plan.Levels()
	if err != nil {
		return err
	}
	for _, level := range levels {
		if err := s.runLevel(level); err != nil {
			return err
		}
	}

	s.transition(StatusCompleted)
	s.logger.Info("Payment completed",
		"transaction_id", s.state.TransactionID(),
		"settlement_amount", s.state.SettlementAmount.StringFixed(2),
		"currency", s.state.Request.SettlementCurrency)
	s.checkpoint()
	return nil
}

// runLevel runs one stage of the plan.
func (s *Saga) runLevel(level []StepName) error {
	if len(level) > 1 {
		// The only parallel stage is the compliance screen.
		return s.compliance(level)
	}

	switch name := level[0]; name {
	case StepValidate:
		return s.step(name, s.validate)
	case StepLockRate:
		return s.step(name, s.lockRate)
	case StepFraud, StepAML, StepSanctions:
		return s.compliance(level)
	case StepApproval:
		if !s.cfg.Approval.Required(s.state.Request.Amount) {
			return nil
		}
		return s.step(name, s.approve)
	case StepAuthorize:
		return s.step(name, s.authorize)
	case StepCapture:
		return s.step(name, s.capture)
	case StepLedger:
		return s.step(name, s.updateLedgers)
	case StepNotify:
		err := s.step(name, s.notify)
		switch Classify(err) {
		case KindCancelled, KindSuspended:
			return err
		}
		if err != nil {
			// The money has moved; a lost notification does not undo that.
			s.logger.Warn("Notification failed", "error", err)
			s.state.Warn("notification failed: %v", err)
		}
		return nil
	default:
		return fmt.Errorf("no handler for step %s", name)
	}
}

// step runs fn once for name, journaling around it.
func (s *Saga) step(name StepName, fn func() error) error {
	switch status := s.journal.Status(name); status {
	case StepSucceeded:
		s.logger.Debug("Step already completed, skipping", "step", string(name))
		return nil
	case StepNeverStarted:
		if err := s.record(name, EventStarted); err != nil {
			return err
		}
	case StepStarted:
		s.logger.Info("Re-entering interrupted step", "step", string(name))
		if err := s.record(name, EventResumed); err != nil {
			return err
		}
	default:
		return fmt.Errorf("step %s cannot run from status %s", name, status)
	}
	s.checkpoint()

	if err := fn(); err != nil {
		if Classify(err) != KindSuspended {
			if recErr := s.record(name, EventFailed); recErr != nil {
				s.logger.Warn("Failed to journal step failure", "step", string(name), "error", recErr)
			}
		}
		return err
	}

	if err := s.record(name, EventSucceeded); err != nil {
		return err
	}
	s.checkpoint()
	return nil
}

func (s *Saga) validate() error {
	s.transition(StatusValidating)

	var result ValidationResult
	if err := s.rt.Execute(ActivityValidateTransaction, s.state.Request, &result); err != nil {
		return err
	}
	s.state.Validation = &result
	if !result.Approved {
		return Invalid(result.Reason)
	}
	return nil
}

func (s *Saga) lockRate() error {
	req := s.state.Request
	var lock ExchangeRateLock
	if err := s.rt.Execute(ActivityLockRate, LockRateInput{From: req.ChargeCurrency, To: req.SettlementCurrency}, &lock); err != nil {
		return err
	}
	if lock.LockID == "" || !lock.Rate.IsPositive() {
		return fmt.Errorf("rate lock for %s->%s returned no usable rate", req.ChargeCurrency, req.SettlementCurrency)
	}

	s.state.RateLock = &lock
	s.comps.Push(ReleaseRateLock(lock.LockID))
	s.state.SettlementAmount = SettlementAmount(req.Amount, lock.Rate)
	s.transition(StatusRateLocked)
	s.logger.Info("Exchange rate locked",
		"lock_id", lock.LockID,
		"rate", lock.Rate.String(),
		"settlement_amount", s.state.SettlementAmount.StringFixed(2))
	return nil
}

// compliance runs the checks of steps that have not succeeded yet and
// evaluates all three results.
func (s *Saga) compliance(steps []StepName) error {
	var pending []CheckType
	for _, step := range steps {
		check, ok := stepCheck(step)
		if !ok {
			return fmt.Errorf("step %s is not a compliance check", step)
		}
		switch s.journal.Status(step) {
		case StepSucceeded:
			continue
		case StepNeverStarted:
			if err := s.record(step, EventStarted); err != nil {
				return err
			}
		case StepStarted:
			if err := s.record(step, EventResumed); err != nil {
				return err
			}
		default:
			return fmt.Errorf("compliance check %s cannot run from status %s", check, s.journal.Status(step))
		}
		pending = append(pending, check)
	}

	if len(pending) > 0 {
		s.checkpoint()
		input := ComplianceInput{
			SagaID:           s.state.SagaID,
			Request:          s.state.Request,
			SettlementAmount: s.state.SettlementAmount,
		}
		outcomes := screen(s.rt, input, pending)
		for _, o := range outcomes {
			step := checkStep(o.Check)
			switch {
			case o.Err == nil:
				s.state.Compliance.Set(o.Result)
				if err := s.record(step, EventSucceeded); err != nil {
					return err
				}
			case Classify(o.Err) != KindSuspended:
				if err := s.record(step, EventFailed); err != nil {
					s.logger.Warn("Failed to journal check failure", "check", string(o.Check), "error", err)
				}
			}
		}
		s.checkpoint()
		if err := complianceError(outcomes); err != nil {
			return err
		}
	}

	if err := evaluateCompliance(&s.state.Compliance); err != nil {
		return err
	}
	if s.state.Status != StatusComplianceChecked {
		s.transition(StatusComplianceChecked)
	}
	return nil
}

func (s *Saga) approve() error {
	s.transition(StatusAwaitingApproval)
	decision, err := approvalGate{rt: s.rt, policy: s.cfg.Approval}.await(s.state)
	if err != nil {
		return err
	}
	if decision.Decision != DecisionApproved {
		reason := "payment rejected by approver"
		if decision.Source == "timeout" {
			reason = "payment rejected: approval window elapsed"
		}
		return Rejected(StepApproval, reason)
	}
	s.transition(StatusApproved)
	return nil
}

func (s *Saga) paymentInput(reference string) PaymentInput {
	req := s.state.Request
	input := PaymentInput{
		Reference:      reference,
		Amount:         s.state.SettlementAmount,
		Currency:       req.SettlementCurrency,
		ChargeAmount:   req.Amount,
		ChargeCurrency: req.ChargeCurrency,
	}
	if s.state.RateLock != nil {
		input.Rate = s.state.RateLock.Rate
	}
	if s.state.Authorization != nil {
		input.AuthorizationID = s.state.Authorization.AuthorizationID
	}
	return input
}

func (s *Saga) authorize() error {
	var auth Authorization
	if err := s.rt.Execute(ActivityAuthorizePayment, s.paymentInput(s.state.Reference()+"/authorize"), &auth); err != nil {
		return err
	}
	s.state.Authorization = &auth
	s.comps.Push(ReleaseAuthorization(auth.AuthorizationID))
	return nil
}

func (s *Saga) capture() error {
	var captured Capture
	if err := s.rt.Execute(ActivityCapturePayment, s.paymentInput(s.state.Reference()+"/capture"), &captured); err != nil {
		return err
	}
	if captured.TransactionID == "" {
		return errors.New("capture returned no transaction id")
	}

	s.state.Capture = &captured
	// Capture consumes the hold; from here the refund is what undoes it.
	s.comps.Replace(CompensateReleaseAuthorization,
		RefundPayment(captured.TransactionID, captured.Amount, captured.Currency))
	s.transition(StatusCaptured)
	return nil
}

func (s *Saga) updateLedgers() error {
	req := s.state.Request
	input := LedgerInput{
		TransactionID:      s.state.TransactionID(),
		ChargeAmount:       req.Amount,
		ChargeCurrency:     req.ChargeCurrency,
		SettlementAmount:   s.state.SettlementAmount,
		SettlementCurrency: req.SettlementCurrency,
		Fee:                Fee(s.state.SettlementAmount, s.cfg.FeeRate),
	}
	var result LedgerResult
	if err := s.rt.Execute(ActivityUpdateLedgers, input, &result); err != nil {
		return err
	}
	s.state.Ledger = result.Entries
	return nil
}

func (s *Saga) notify() error {
	input := NotifyInput{
		SagaID:           s.state.SagaID,
		Request:          s.state.Request,
		TransactionID:    s.state.TransactionID(),
		SettlementAmount: s.state.SettlementAmount,
		Status:           StatusCompleted,
	}
	var result NotifyResult
	if err := s.rt.Execute(ActivitySendNotifications, input, &result); err != nil {
		return err
	}
	s.state.Notifications = result.Notifications
	return nil
}

// conclude records the outcome implied by err and unwinds.
func (s *Saga) conclude(err error) {
	kind := Classify(err)
	outcome := StatusFailed
	reason := err.Error()

	var rejection *RejectionError
	switch kind {
	case KindValidation, KindRejection:
		outcome = StatusRejected
		if errors.As(err, &rejection) {
			reason = rejection.Reason
		}
	case KindCancelled:
		reason = "cancelled"
		s.state.Error = err.Error()
	default:
		s.state.Error = err.Error()
	}

	s.logger.Warn("Saga stopping, compensating committed steps",
		"status", string(s.state.Status),
		"outcome", string(outcome),
		"kind", kind.String(),
		"error", err)

	s.state.Outcome = outcome
	s.state.Reason = reason
	s.checkpoint()
	s.finish()
}

// finish drains the compensation registry and moves to the recorded outcome.
func (s *Saga) finish() {
	rt := s.rt.Disconnected()
	failures := s.comps.PopAllAndExecute(s.logger, func(c Compensation) error {
		step := c.Step()
		event := EventUndoStarted
		if s.journal.Status(step) == StepUndoStarted {
			event = EventResumed
		}
		s.recordUndo(step, event)
		s.checkpoint()

		err := s.compensate(rt, c)
		if err != nil {
			s.recordUndo(step, EventUndoFailed)
		} else {
			s.recordUndo(step, EventUndoFinished)
		}
		return err
	}, s.checkpoint)

	for _, f := range failures {
		s.state.Warn("%v", f)
	}

	s.transition(s.state.Outcome)
	s.state.Outcome = ""
	s.checkpoint()
}

func (s *Saga) recordUndo(step StepName, event JournalEventType) {
	if err := s.record(step, event); err != nil {
		s.logger.Warn("Failed to journal compensation", "step", string(step), "error", err)
	}
}

// compensate runs the activity that reverses c.
func (s *Saga) compensate(rt Runtime, c Compensation) error {
	switch c.Kind {
	case CompensateReleaseRateLock:
		var result ReleaseResult
		if err := rt.Execute(ActivityReleaseRateLock, ReleaseRateLockInput{LockID: c.LockID}, &result); err != nil {
			return err
		}
		if !result.Success {
			return fmt.Errorf("rate lock %s was not released", c.LockID)
		}
	case CompensateReleaseAuthorization:
		var result ReleaseResult
		if err := rt.Execute(ActivityReleaseAuthorization, ReleaseAuthorizationInput{AuthorizationID: c.AuthorizationID}, &result); err != nil {
			return err
		}
		if !result.Success {
			return fmt.Errorf("authorization %s was not released", c.AuthorizationID)
		}
	case CompensateRefundPayment:
		input := RefundInput{
			Reference:     s.state.Reference() + "/refund/" + c.TransactionID,
			TransactionID: c.TransactionID,
			Amount:        c.Amount,
			Currency:      c.Currency,
		}
		var result RefundResult
		if err := rt.Execute(ActivityRefundPayment, input, &result); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown compensation kind %q", c.Kind)
	}
	return nil
}

func (s *Saga) record(step StepName, event JournalEventType) error {
	return s.journal.Record(JournalEvent{Step: step, Type: event, At: s.rt.Now()})
}

func (s *Saga) transition(to Status) {
	if s.state.Status == to {
		return
	}
	s.logger.Info("Saga status changed", "from", string(s.state.Status), "to", string(to))
	s.state.Status = to
}

// checkpoint syncs the registry and journal into the state and persists it.
// A failed checkpoint is logged; the saga keeps going on its in-memory state.
func (s *Saga) checkpoint() {
	s.state.Compensations = s.comps.Entries()
	s.state.Journal = s.journal.Events()
	s.state.UpdatedAt = s.rt.Now()
	if err := s.rt.Checkpoint(s.state); err != nil {
		s.logger.Warn("Failed to checkpoint saga state", "error", err)
	}
}
