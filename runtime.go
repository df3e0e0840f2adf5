package paysaga

import (
	"time"

	"go.temporal.io/sdk/log"
)

// Future is the pending result of an activity started with ExecuteAsync.
type Future interface {
	// Get blocks until the activity finishes and copies its output into
	// out, which may be nil.
	Get(out any) error
}

// Runtime is the execution substrate a Saga runs on. It owns everything that
// is not a pure decision: calling activities with their retry policy,
// blocking on signals and timers, the clock and checkpoints. The saga's own
// code stays deterministic, so a substrate that replays history can run it.
type Runtime interface {
	// Execute runs an activity to completion. Transient failures are
	// retried according to the activity's options; exhausting them yields a
	// *FatalError.
	Execute(name ActivityName, input any, out any) error

	// ExecuteAsync starts an activity and returns without waiting.
	ExecuteAsync(name ActivityName, input any) Future

	// AwaitApproval publishes req and blocks until a decision arrives or
	// the policy's timeout elapses. Signals after the first are ignored.
	AwaitApproval(req ApprovalRequest, policy ApprovalPolicy) (ApprovalSignal, bool, error)

	// Now returns the substrate's notion of the current time.
	Now() time.Time

	// Logger returns a replay-safe logger.
	Logger() log.Logger

	// Checkpoint records state so the saga can be resumed from it.
	Checkpoint(state *WorkflowState) error

	// Disconnected returns a Runtime that keeps working after this one was
	// cancelled. Compensations run on it.
	Disconnected() Runtime
}
