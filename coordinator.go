package paysaga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/tidwall/btree"
	"go.temporal.io/sdk/log"
	"golang.org/x/sync/errgroup"
)

// ErrNotRunning is returned for operations on a saga that is not running in
// this coordinator.
var ErrNotRunning = errors.New("saga not running")

// Coordinator is an in-process saga execution coordinator. It starts sagas
// on a LocalRuntime, delivers approval decisions and cancellations to them,
// and resumes unfinished sagas from its Store after a restart.
type Coordinator struct {
	cfg      SagaConfig
	registry *ActivityRegistry
	catalog  ActivityCatalog
	store    Store
	logger   *slog.Logger
	metrics  *Metrics
	clock    func() time.Time

	onApproval func(ApprovalRequest)

	sagas *xsync.MapOf[string, *sagaHandle]

	mu      sync.Mutex
	index   *btree.Map[string, Summary]
	pending *btree.Map[string, ApprovalRequest]

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// sagaHandle is the coordinator's view of one running saga.
type sagaHandle struct {
	cancel    context.CancelFunc
	decisions chan ApprovalSignal
	decided   atomic.Bool
	done      chan struct{}

	final *WorkflowState
	err   error
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithCoordinatorLogger sets the logger.
func WithCoordinatorLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = logger }
}

// WithMetrics records saga and activity metrics.
func WithMetrics(m *Metrics) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = m }
}

// WithActivityCatalog sets the activity options.
func WithActivityCatalog(catalog ActivityCatalog) CoordinatorOption {
	return func(c *Coordinator) { c.catalog = catalog }
}

// WithApprovalHook is called whenever a saga starts waiting for approval.
func WithApprovalHook(fn func(ApprovalRequest)) CoordinatorOption {
	return func(c *Coordinator) { c.onApproval = fn }
}

// WithCoordinatorClock replaces time.Now.
func WithCoordinatorClock(clock func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.clock = clock }
}

// NewCoordinator creates a coordinator. Every activity the saga may call must
// already be registered.
func NewCoordinator(cfg SagaConfig, registry *ActivityRegistry, store Store, opts ...CoordinatorOption) (*Coordinator, error) {
	if err := cfg.Approval.Validate(); err != nil {
		return nil, fmt.Errorf("invalid saga config: %w", err)
	}
	if missing := registry.Missing(AllActivities...); len(missing) > 0 {
		return nil, fmt.Errorf("activities not registered: %v", missing)
	}
	if store == nil {
		store = NewMemoryStore()
	}

	c := &Coordinator{
		cfg:      cfg,
		registry: registry,
		catalog:  DefaultActivityCatalog(),
		store:    store,
		logger:   slog.Default(),
		clock:    time.Now,
		sagas:    xsync.NewMapOf[string, *sagaHandle](),
		index:    btree.NewMap[string, Summary](16),
		pending:  btree.NewMap[string, ApprovalRequest](16),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewSagaID returns a fresh workflow identifier.
func NewSagaID() string {
	return "payment-" + uuid.NewString()
}

// Start creates a saga for req and runs it in the background.
func (c *Coordinator) Start(ctx context.Context, req PaymentRequest) (string, error) {
	return c.StartWithID(ctx, NewSagaID(), req)
}

// StartWithID is Start with a caller-chosen saga ID.
func (c *Coordinator) StartWithID(ctx context.Context, sagaID string, req PaymentRequest) (string, error) {
	select {
	case <-c.stop:
		return "", errors.New("coordinator is shut down")
	default:
	}
	if _, err := c.store.Load(ctx, sagaID); err == nil {
		return "", fmt.Errorf("saga %s already exists", sagaID)
	}

	state := NewWorkflowState(sagaID, req, c.clock())
	if err := c.store.Save(ctx, sagaID, state); err != nil {
		return "", fmt.Errorf("failed to save initial state: %w", err)
	}
	if c.metrics != nil {
		c.metrics.SagasStarted.Inc()
	}
	c.launch(state)
	c.logger.Info("saga started", "saga_id", sagaID, "amount", req.Amount.String(), "currency", req.ChargeCurrency)
	return sagaID, nil
}

func (c *Coordinator) launch(state *WorkflowState) {
	ctx, cancel := context.WithCancel(context.Background())
	h := &sagaHandle{
		cancel:    cancel,
		decisions: make(chan ApprovalSignal, 1),
		done:      make(chan struct{}),
	}
	c.sagas.Store(state.SagaID, h)
	c.indexState(state)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		defer close(h.done)
		defer c.sagas.Delete(state.SagaID)

		h.final, h.err = c.run(ctx, h, state)
	}()
}

func (c *Coordinator) run(ctx context.Context, h *sagaHandle, state *WorkflowState) (*WorkflowState, error) {
	sagaID := state.SagaID
	rt := NewLocalRuntime(ctx, c.registry,
		WithStore(c.store),
		WithCatalog(c.catalog),
		WithLogger(log.NewStructuredLogger(c.logger)),
		WithClock(c.clock),
		WithStop(c.stop),
		WithApprovals(h.decisions, c.approvalRequested),
		WithCheckpointHook(c.indexState),
	)

	saga, err := NewSaga(c.cfg, rt, state)
	if err != nil {
		c.logger.Error("failed to build saga", "saga_id", sagaID, "error", err)
		return nil, err
	}
	final, err := saga.Run()
	c.clearPending(sagaID)
	if err != nil {
		c.logger.Info("saga stopped before completion", "saga_id", sagaID, "status", final.Status, "error", err)
		return final, err
	}

	if c.metrics != nil {
		c.metrics.ObserveFinished(final, countCompensationFailures(final))
	}
	c.logger.Info("saga finished",
		"saga_id", sagaID,
		"status", final.Status,
		"reason", final.Reason,
		"transaction_id", final.TransactionID())
	return final, nil
}

func countCompensationFailures(state *WorkflowState) int {
	n := 0
	for _, w := range state.Warnings {
		if strings.HasPrefix(w, "compensation ") {
			n++
		}
	}
	return n
}

func (c *Coordinator) indexState(state *WorkflowState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index.Set(state.SagaID, state.Summarize())
	if state.Status != StatusAwaitingApproval {
		c.deletePendingLocked(state.SagaID)
	}
}

func (c *Coordinator) approvalRequested(req ApprovalRequest) {
	c.mu.Lock()
	if _, existed := c.pending.Set(req.SagaID, req); !existed && c.metrics != nil {
		c.metrics.PendingApprovals.Inc()
	}
	c.mu.Unlock()

	c.logger.Info("payment awaiting approval",
		"saga_id", req.SagaID,
		"amount", req.Amount.StringFixed(2),
		"currency", req.Currency,
		"signal", SignalApprovePayment)
	if c.onApproval != nil {
		c.onApproval(req)
	}
}

func (c *Coordinator) clearPending(sagaID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletePendingLocked(sagaID)
}

func (c *Coordinator) deletePendingLocked(sagaID string) {
	if _, deleted := c.pending.Delete(sagaID); deleted && c.metrics != nil {
		c.metrics.PendingApprovals.Dec()
	}
}

// Signal delivers an approval decision to a saga waiting at the approval
// gate. Only the first decision counts; it reports whether sig was accepted.
// A running saga that has not reached the gate, or skips it, refuses sig.
func (c *Coordinator) Signal(ctx context.Context, sagaID string, sig ApprovalSignal) (bool, error) {
	h, ok := c.sagas.Load(sagaID)
	if !ok {
		if _, err := c.store.Load(ctx, sagaID); err != nil {
			return false, err
		}
		return false, fmt.Errorf("saga %s: %w", sagaID, ErrNotRunning)
	}

	c.mu.Lock()
	_, awaiting := c.pending.Get(sagaID)
	accepted := awaiting && h.decided.CompareAndSwap(false, true)
	if accepted {
		c.deletePendingLocked(sagaID)
	}
	c.mu.Unlock()

	if !accepted {
		msg := "ignoring approval decision, saga is not awaiting approval"
		if h.decided.Load() {
			msg = "ignoring approval decision, saga already decided"
		}
		c.logger.Info(msg, "saga_id", sagaID, "approved", sig.Approved)
		return false, nil
	}
	h.decisions <- sig
	c.logger.Info("approval decision delivered", "saga_id", sagaID, "approved", sig.Approved, "decided_by", sig.DecidedBy)
	return true, nil
}

// Cancel cancels a running saga. It compensates and ends Failed.
func (c *Coordinator) Cancel(ctx context.Context, sagaID string) error {
	h, ok := c.sagas.Load(sagaID)
	if !ok {
		return fmt.Errorf("saga %s: %w", sagaID, ErrNotRunning)
	}
	c.logger.Info("cancelling saga", "saga_id", sagaID)
	h.cancel()
	return nil
}

// Get returns the last checkpoint of a saga.
func (c *Coordinator) Get(ctx context.Context, sagaID string) (*WorkflowState, error) {
	return c.store.Load(ctx, sagaID)
}

// Wait blocks until the saga stops running and returns its state.
func (c *Coordinator) Wait(ctx context.Context, sagaID string) (*WorkflowState, error) {
	h, ok := c.sagas.Load(sagaID)
	if !ok {
		return c.store.Load(ctx, sagaID)
	}
	select {
	case <-h.done:
		if h.final == nil {
			return nil, h.err
		}
		return h.final, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// List returns up to limit summaries with IDs after marker, in ID order.
// An empty marker starts at the beginning.
func (c *Coordinator) List(marker string, limit int) []Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Summary
	c.index.Ascend(marker, func(id string, sum Summary) bool {
		if id == marker {
			return true
		}
		if limit > 0 && len(out) >= limit {
			return false
		}
		out = append(out, sum)
		return true
	})
	return out
}

// PendingApprovals returns the sagas currently waiting in the approval gate.
func (c *Coordinator) PendingApprovals() []ApprovalRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]ApprovalRequest, 0, c.pending.Len())
	c.pending.Scan(func(_ string, req ApprovalRequest) bool {
		out = append(out, req)
		return true
	})
	return out
}

// Recover loads every stored saga, indexes it, and resumes the ones that did
// not reach a terminal status. It returns the number resumed.
func (c *Coordinator) Recover(ctx context.Context) (int, error) {
	ids, err := c.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list sagas: %w", err)
	}

	states := make([]*WorkflowState, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			state, err := c.store.Load(gctx, id)
			if err != nil {
				return fmt.Errorf("failed to load saga %s: %w", id, err)
			}
			states[i] = state
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	resumed := 0
	for _, state := range states {
		if state.Status.Terminal() {
			c.indexState(state)
			continue
		}
		if _, running := c.sagas.Load(state.SagaID); running {
			continue
		}
		c.logger.Info("resuming saga", "saga_id", state.SagaID, "status", state.Status)
		c.launch(state)
		resumed++
	}
	return resumed, nil
}

// Shutdown suspends every running saga at its next step boundary and waits
// for them to stop. Suspended sagas are resumed by Recover. Unwinds already
// in progress finish first.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stop) })

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
