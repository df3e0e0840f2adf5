// Package temporal runs the payment saga as a Temporal workflow. Temporal
// provides the durability the saga relies on: activity retries, replay after
// a worker restart, and approval signals that survive both.
package temporal

import (
	"time"

	"go.temporal.io/sdk/log"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/fortressi/paysaga"
)

// Runtime implements paysaga.Runtime inside a workflow.
type Runtime struct {
	ctx     workflow.Context
	catalog paysaga.ActivityCatalog
}

var _ paysaga.Runtime = (*Runtime)(nil)

// NewRuntime binds a runtime to the workflow context.
func NewRuntime(ctx workflow.Context, catalog paysaga.ActivityCatalog) *Runtime {
	if catalog == nil {
		catalog = paysaga.DefaultActivityCatalog()
	}
	return &Runtime{ctx: ctx, catalog: catalog}
}

// ActivityOptions translates the options of name into Temporal's.
func ActivityOptions(catalog paysaga.ActivityCatalog, name paysaga.ActivityName) workflow.ActivityOptions {
	opts := catalog.Options(name)
	return workflow.ActivityOptions{
		StartToCloseTimeout: opts.StartToCloseTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        opts.RetryPolicy.InitialInterval,
			BackoffCoefficient:     opts.RetryPolicy.BackoffCoefficient,
			MaximumInterval:        opts.RetryPolicy.MaxInterval,
			MaximumAttempts:        int32(opts.RetryPolicy.MaxAttempts),
			NonRetryableErrorTypes: nonRetryable,
		},
	}
}

func (r *Runtime) start(name paysaga.ActivityName, input any) workflow.Future {
	actx := workflow.WithActivityOptions(r.ctx, ActivityOptions(r.catalog, name))
	return workflow.ExecuteActivity(actx, string(name), input)
}

// Execute implements paysaga.Runtime.
func (r *Runtime) Execute(name paysaga.ActivityName, input any, out any) error {
	return r.ExecuteAsync(name, input).Get(out)
}

// ExecuteAsync implements paysaga.Runtime.
func (r *Runtime) ExecuteAsync(name paysaga.ActivityName, input any) paysaga.Future {
	return &future{rt: r, name: name, f: r.start(name, input)}
}

type future struct {
	rt   *Runtime
	name paysaga.ActivityName
	f    workflow.Future
}

func (f *future) Get(out any) error {
	if err := f.f.Get(f.rt.ctx, out); err != nil {
		attempts := f.rt.catalog.Options(f.name).RetryPolicy.MaxAttempts
		return FromActivityError(f.name, attempts, err)
	}
	return nil
}

// AwaitApproval implements paysaga.Runtime. It blocks on the approval signal
// channel, a timer for the policy's window, and cancellation. Signals after
// the first are drained and ignored.
func (r *Runtime) AwaitApproval(req paysaga.ApprovalRequest, policy paysaga.ApprovalPolicy) (paysaga.ApprovalSignal, bool, error) {
	logger := r.Logger()
	info := workflow.GetInfo(r.ctx)
	logger.Info("Waiting for approval signal",
		"workflow_id", info.WorkflowExecution.ID,
		"namespace", info.Namespace,
		"task_queue", info.TaskQueueName,
		"signal", paysaga.SignalApprovePayment,
		"payload", `{"approved": true, "decided_by": "<operator>"}`)

	ch := workflow.GetSignalChannel(r.ctx, paysaga.SignalApprovePayment)

	var deadline time.Time
	if policy.Mode == paysaga.ApprovalTimeout {
		deadline = workflow.Now(r.ctx).Add(policy.Timeout)
	}

	for {
		wait := time.Duration(0)
		if !deadline.IsZero() {
			wait = deadline.Sub(workflow.Now(r.ctx))
			if wait <= 0 {
				return paysaga.ApprovalSignal{}, false, nil
			}
		}
		heartbeat := false
		if policy.Heartbeat > 0 && (wait == 0 || policy.Heartbeat < wait) {
			wait = policy.Heartbeat
			heartbeat = true
		}

		var (
			signal    paysaga.ApprovalSignal
			received  bool
			cancelled bool
		)
		timerCtx, cancelTimer := workflow.WithCancel(r.ctx)
		sel := workflow.NewSelector(r.ctx)
		sel.AddReceive(ch, func(c workflow.ReceiveChannel, more bool) {
			c.Receive(r.ctx, &signal)
			received = true
		})
		sel.AddReceive(r.ctx.Done(), func(c workflow.ReceiveChannel, more bool) {
			cancelled = true
		})
		if wait > 0 {
			sel.AddFuture(workflow.NewTimer(timerCtx, wait), func(workflow.Future) {})
		}
		sel.Select(r.ctx)
		cancelTimer()

		switch {
		case received:
			r.drain(ch)
			return signal, true, nil
		case cancelled:
			return paysaga.ApprovalSignal{}, false, paysaga.ErrCancelled
		case heartbeat:
			logger.Info("Still awaiting approval",
				"saga_id", req.SagaID,
				"waiting", workflow.Now(r.ctx).Sub(req.RequestedAt).String())
		}
	}
}

// drain consumes later decisions so they are logged rather than left
// unhandled.
func (r *Runtime) drain(ch workflow.ReceiveChannel) {
	workflow.Go(r.ctx, func(ctx workflow.Context) {
		for {
			var ignored paysaga.ApprovalSignal
			if !ch.Receive(ctx, &ignored) {
				return
			}
			workflow.GetLogger(ctx).Info("Ignoring approval signal, saga already decided",
				"approved", ignored.Approved, "decided_by", ignored.DecidedBy)
		}
	})
}

// Now implements paysaga.Runtime.
func (r *Runtime) Now() time.Time {
	return workflow.Now(r.ctx)
}

// Logger implements paysaga.Runtime.
func (r *Runtime) Logger() log.Logger {
	return workflow.GetLogger(r.ctx)
}

// Checkpoint implements paysaga.Runtime. Workflow history is the checkpoint;
// the state itself is served by the query handler.
func (r *Runtime) Checkpoint(*paysaga.WorkflowState) error {
	return nil
}

// Disconnected implements paysaga.Runtime.
func (r *Runtime) Disconnected() paysaga.Runtime {
	ctx, _ := workflow.NewDisconnectedContext(r.ctx)
	return &Runtime{ctx: ctx, catalog: r.catalog}
}
