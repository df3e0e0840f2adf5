package paysaga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/log"
)

// LocalRuntime runs a saga in-process. Activities are invoked through an
// ActivityRegistry with the retry policy of their ActivityOptions, and every
// checkpoint is written to a Store. It offers no replay: a saga resumed on a
// LocalRuntime continues from its last checkpoint.
type LocalRuntime struct {
	ctx      context.Context
	stop     <-chan struct{}
	registry *ActivityRegistry
	catalog  ActivityCatalog
	store    Store
	logger   log.Logger
	clock    func() time.Time

	approvals    <-chan ApprovalSignal
	onApproval   func(ApprovalRequest)
	onCheckpoint func(*WorkflowState)
}

// LocalOption configures a LocalRuntime.
type LocalOption func(*LocalRuntime)

// WithStore persists checkpoints to store.
func WithStore(store Store) LocalOption {
	return func(r *LocalRuntime) { r.store = store }
}

// WithCatalog sets the activity options.
func WithCatalog(catalog ActivityCatalog) LocalOption {
	return func(r *LocalRuntime) { r.catalog = catalog }
}

// WithLogger sets the logger.
func WithLogger(logger log.Logger) LocalOption {
	return func(r *LocalRuntime) { r.logger = logger }
}

// WithClock replaces time.Now.
func WithClock(clock func() time.Time) LocalOption {
	return func(r *LocalRuntime) { r.clock = clock }
}

// WithApprovals sets the channel approval decisions arrive on, and a hook
// called when the saga starts waiting on it.
func WithApprovals(decisions <-chan ApprovalSignal, onRequest func(ApprovalRequest)) LocalOption {
	return func(r *LocalRuntime) {
		r.approvals = decisions
		r.onApproval = onRequest
	}
}

// WithStop makes the runtime suspend the saga once stop is closed.
func WithStop(stop <-chan struct{}) LocalOption {
	return func(r *LocalRuntime) { r.stop = stop }
}

// WithCheckpointHook is called with every checkpointed state.
func WithCheckpointHook(fn func(*WorkflowState)) LocalOption {
	return func(r *LocalRuntime) { r.onCheckpoint = fn }
}

// NewLocalRuntime creates a runtime bound to ctx. Cancelling ctx cancels the
// saga, which then compensates.
func NewLocalRuntime(ctx context.Context, registry *ActivityRegistry, opts ...LocalOption) *LocalRuntime {
	r := &LocalRuntime{
		ctx:      ctx,
		registry: registry,
		catalog:  DefaultActivityCatalog(),
		logger:   log.NewStructuredLogger(slog.Default()),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execute implements Runtime.
func (r *LocalRuntime) Execute(name ActivityName, input any, out any) error {
	output, err := r.execute(name, input)
	if err != nil {
		return err
	}
	return Assign(out, output)
}

func (r *LocalRuntime) execute(name ActivityName, input any) (any, error) {
	if err := r.interrupted(); err != nil {
		return nil, err
	}
	invoker, err := r.registry.Invoker(name)
	if err != nil {
		return nil, Fatal(name, 0, err)
	}

	opts := r.catalog.Options(name)
	attempts := opts.RetryPolicy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		output, err := r.attempt(invoker, opts.StartToCloseTimeout, input)
		if err == nil {
			return output, nil
		}
		if r.ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", name, ErrCancelled)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = Transient(fmt.Errorf("%s timed out after %s: %w", name, opts.StartToCloseTimeout, err))
		}
		lastErr = err
		if !Retryable(err) {
			return nil, err
		}

		r.logger.Warn("Activity attempt failed",
			"activity", string(name),
			"attempt", attempt,
			"max_attempts", attempts,
			"error", err)
		if attempt == attempts {
			break
		}
		if err := r.sleep(opts.RetryPolicy.Delay(attempt)); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil, Fatal(name, attempts, lastErr)
}

func (r *LocalRuntime) attempt(invoker Invoker, timeout time.Duration, input any) (any, error) {
	ctx := r.ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return invoker(ctx, input)
}

func (r *LocalRuntime) sleep(d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-r.ctx.Done():
		return ErrCancelled
	case <-r.stop:
		return ErrSuspended
	}
}

func (r *LocalRuntime) interrupted() error {
	if r.ctx.Err() != nil {
		return ErrCancelled
	}
	select {
	case <-r.stop:
		return ErrSuspended
	default:
		return nil
	}
}

// localFuture is the Future of a goroutine-backed activity call.
type localFuture struct {
	done   chan struct{}
	output any
	err    error
}

func (f *localFuture) Get(out any) error {
	<-f.done
	if f.err != nil {
		return f.err
	}
	return Assign(out, f.output)
}

// ExecuteAsync implements Runtime.
func (r *LocalRuntime) ExecuteAsync(name ActivityName, input any) Future {
	f := &localFuture{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.output, f.err = r.execute(name, input)
	}()
	return f
}

// AwaitApproval implements Runtime.
func (r *LocalRuntime) AwaitApproval(req ApprovalRequest, policy ApprovalPolicy) (ApprovalSignal, bool, error) {
	if r.onApproval != nil {
		r.onApproval(req)
	}

	var timeout <-chan time.Time
	if policy.Mode == ApprovalTimeout {
		timer := time.NewTimer(policy.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}
	var heartbeat <-chan time.Time
	if policy.Heartbeat > 0 {
		ticker := time.NewTicker(policy.Heartbeat)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	for {
		select {
		case signal := <-r.approvals:
			return signal, true, nil
		case <-timeout:
			return ApprovalSignal{}, false, nil
		case <-heartbeat:
			r.logger.Info("Still awaiting approval", "saga_id", req.SagaID, "waiting", r.clock().Sub(req.RequestedAt).String())
		case <-r.ctx.Done():
			return ApprovalSignal{}, false, ErrCancelled
		case <-r.stop:
			return ApprovalSignal{}, false, ErrSuspended
		}
	}
}

// Now implements Runtime.
func (r *LocalRuntime) Now() time.Time {
	return r.clock()
}

// Logger implements Runtime.
func (r *LocalRuntime) Logger() log.Logger {
	return r.logger
}

// Checkpoint implements Runtime. It saves even after cancellation, so the
// unwind of a cancelled saga is persisted too.
func (r *LocalRuntime) Checkpoint(state *WorkflowState) error {
	if r.onCheckpoint != nil {
		r.onCheckpoint(state)
	}
	if r.store == nil {
		return nil
	}
	return r.store.Save(context.WithoutCancel(r.ctx), state.SagaID, state)
}

// Disconnected implements Runtime. The returned runtime ignores both
// cancellation and shutdown so a started unwind always completes.
func (r *LocalRuntime) Disconnected() Runtime {
	d := *r
	d.ctx = context.WithoutCancel(r.ctx)
	d.stop = nil
	return &d
}
