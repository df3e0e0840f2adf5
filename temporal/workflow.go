package temporal

import (
	"fmt"

	"go.temporal.io/sdk/workflow"

	"github.com/fortressi/paysaga"
)

const (
	// WorkflowName is the registered name of the payment workflow.
	WorkflowName = "MultiCurrencyPaymentWorkflow"
	// QueryState returns the live WorkflowState.
	QueryState = "payment_state"
	// DefaultTaskQueue is the queue workers poll when none is configured.
	DefaultTaskQueue = "payment-task-queue"
)

// Workflow is the payment saga as a Temporal workflow definition.
type Workflow struct {
	Config  paysaga.SagaConfig
	Catalog paysaga.ActivityCatalog
}

// NewWorkflow returns a workflow definition for cfg.
func NewWorkflow(cfg paysaga.SagaConfig, catalog paysaga.ActivityCatalog) *Workflow {
	return &Workflow{Config: cfg, Catalog: catalog}
}

// Run executes one payment. The workflow ID doubles as the saga ID.
func (w *Workflow) Run(ctx workflow.Context, req paysaga.PaymentRequest) (*paysaga.WorkflowState, error) {
	info := workflow.GetInfo(ctx)
	state := paysaga.NewWorkflowState(info.WorkflowExecution.ID, req, workflow.Now(ctx))

	saga, err := paysaga.NewSaga(w.Config, NewRuntime(ctx, w.Catalog), state)
	if err != nil {
		return nil, err
	}
	if err := workflow.SetQueryHandler(ctx, QueryState, func() (*paysaga.WorkflowState, error) {
		return saga.State(), nil
	}); err != nil {
		return nil, fmt.Errorf("failed to register query %s: %w", QueryState, err)
	}

	workflow.GetLogger(ctx).Info("Payment workflow started",
		"reference", state.Reference(),
		"amount", req.Amount.String(),
		"charge_currency", req.ChargeCurrency,
		"settlement_currency", req.SettlementCurrency)

	return saga.Run()
}
