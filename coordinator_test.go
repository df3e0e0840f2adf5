package paysaga_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortressi/paysaga"
	"github.com/fortressi/paysaga/paysagatest"
)

func TestCoordinator_FirstDecisionWins(t *testing.T) {
	acts := paysagatest.New()
	requests := make(chan paysaga.ApprovalRequest, 1)
	coord := newCoordinator(t, acts, paysaga.DefaultSagaConfig(), nil,
		paysaga.WithApprovalHook(func(req paysaga.ApprovalRequest) { requests <- req }))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	id, err := coord.Start(ctx, paysagatest.Request("6000"))
	require.NoError(t, err)

	req := <-requests
	assert.Equal(t, id, req.SagaID)
	pending := coord.PendingApprovals()
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].SagaID)

	accepted, err := coord.Signal(ctx, id, paysaga.ApprovalSignal{Approved: true, DecidedBy: "alice"})
	require.NoError(t, err)
	assert.True(t, accepted)
	accepted, err = coord.Signal(ctx, id, paysaga.ApprovalSignal{Approved: false, DecidedBy: "bob"})
	require.NoError(t, err)
	assert.False(t, accepted)

	state, err := coord.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, paysaga.StatusCompleted, state.Status)
	assert.Equal(t, "alice", state.Approval.DecidedBy)
	assert.Empty(t, coord.PendingApprovals())
}

func TestCoordinator_SignalRefusedOutsideApprovalGate(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	t.Run("before the gate", func(t *testing.T) {
		acts := paysagatest.New()
		release := acts.Block(paysaga.ActivityCheckFraud)
		defer release()
		requests := make(chan paysaga.ApprovalRequest, 1)
		coord := newCoordinator(t, acts, paysaga.DefaultSagaConfig(), nil,
			paysaga.WithApprovalHook(func(req paysaga.ApprovalRequest) { requests <- req }))

		id, err := coord.Start(ctx, paysagatest.Request("6000"))
		require.NoError(t, err)
		require.Eventually(t, func() bool { return acts.Count(paysaga.ActivityCheckFraud) > 0 }, 5*time.Second, time.Millisecond)

		accepted, err := coord.Signal(ctx, id, paysaga.ApprovalSignal{Approved: true, DecidedBy: "early"})
		require.NoError(t, err)
		assert.False(t, accepted)

		release()
		<-requests
		accepted, err = coord.Signal(ctx, id, paysaga.ApprovalSignal{Approved: false, DecidedBy: "alice"})
		require.NoError(t, err)
		assert.True(t, accepted)

		state, err := coord.Wait(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, paysaga.StatusRejected, state.Status)
		assert.Equal(t, "alice", state.Approval.DecidedBy)
	})

	t.Run("below the threshold", func(t *testing.T) {
		acts := paysagatest.New()
		release := acts.Block(paysaga.ActivityCapturePayment)
		defer release()
		coord := newCoordinator(t, acts, paysaga.DefaultSagaConfig(), nil)

		id, err := coord.Start(ctx, paysagatest.Request("1000"))
		require.NoError(t, err)
		require.Eventually(t, func() bool { return acts.Count(paysaga.ActivityCapturePayment) > 0 }, 5*time.Second, time.Millisecond)

		accepted, err := coord.Signal(ctx, id, paysaga.ApprovalSignal{Approved: false})
		require.NoError(t, err)
		assert.False(t, accepted)

		release()
		state, err := coord.Wait(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, paysaga.StatusCompleted, state.Status)
		assert.Nil(t, state.Approval)
	})
}

func TestCoordinator_SignalUnknownOrFinished(t *testing.T) {
	acts := paysagatest.New()
	coord := newCoordinator(t, acts, paysaga.DefaultSagaConfig(), nil)
	ctx := context.Background()

	_, err := coord.Signal(ctx, "payment-missing", paysaga.ApprovalSignal{Approved: true})
	assert.ErrorIs(t, err, paysaga.ErrNotFound)

	state := runPayment(t, coord, paysagatest.Request("10"))
	_, err = coord.Signal(ctx, state.SagaID, paysaga.ApprovalSignal{Approved: true})
	assert.ErrorIs(t, err, paysaga.ErrNotRunning)
	assert.ErrorIs(t, coord.Cancel(ctx, state.SagaID), paysaga.ErrNotRunning)
}

func TestCoordinator_CancelCompensates(t *testing.T) {
	acts := paysagatest.New()
	release := acts.Block(paysaga.ActivityCheckFraud)
	defer release()
	coord := newCoordinator(t, acts, paysaga.DefaultSagaConfig(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	id, err := coord.Start(ctx, paysagatest.Request("1000"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return acts.Count(paysaga.ActivityCheckFraud) == 1
	}, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, coord.Cancel(ctx, id))

	state, err := coord.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, paysaga.StatusFailed, state.Status)
	assert.Equal(t, "cancelled", state.Reason)
	assert.Equal(t, []string{state.RateLock.LockID}, acts.Released())
	assert.Zero(t, acts.Count(paysaga.ActivityCapturePayment))
}

func TestCoordinator_ShutdownSuspendsAndRecoverResumes(t *testing.T) {
	store := paysaga.NewMemoryStore()
	acts := paysagatest.New()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	awaiting := make(chan string, 1)
	first, err := paysaga.NewCoordinator(paysaga.DefaultSagaConfig(), acts.Registry(), store,
		paysaga.WithCoordinatorLogger(discard),
		paysaga.WithActivityCatalog(fastCatalog()),
		paysaga.WithApprovalHook(func(req paysaga.ApprovalRequest) { awaiting <- req.SagaID }))
	require.NoError(t, err)

	id, err := first.StartWithID(ctx, "payment-restart", paysagatest.Request("6000"))
	require.NoError(t, err)
	assert.Equal(t, id, <-awaiting)

	require.NoError(t, first.Shutdown(ctx))
	_, err = first.Start(ctx, paysagatest.Request("1"))
	assert.Error(t, err)

	stored, err := store.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, paysaga.StatusAwaitingApproval, stored.Status)
	assert.Equal(t, paysaga.DecisionPending, stored.Approval.Decision)
	assert.Empty(t, acts.Released())

	var second *paysaga.Coordinator
	second = newCoordinator(t, acts, paysaga.DefaultSagaConfig(), store, decideWith(&second, true))
	resumed, err := second.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)

	state, err := second.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, paysaga.StatusCompleted, state.Status)
	assert.Equal(t, stored.Approval.Request.RequestedAt.UTC(), state.Approval.Request.RequestedAt.UTC())
	assert.Equal(t, 1, acts.Count(paysaga.ActivityLockRate))
	assert.Equal(t, 1, acts.Count(paysaga.ActivityCapturePayment))

	// A second recovery finds nothing left to do.
	resumed, err = second.Recover(ctx)
	require.NoError(t, err)
	assert.Zero(t, resumed)
}

func TestCoordinator_StartWithExistingIDFails(t *testing.T) {
	coord := newCoordinator(t, paysagatest.New(), paysaga.DefaultSagaConfig(), nil)
	ctx := context.Background()

	_, err := coord.StartWithID(ctx, "payment-dup", paysagatest.Request("10"))
	require.NoError(t, err)
	_, err = coord.StartWithID(ctx, "payment-dup", paysagatest.Request("10"))
	assert.Error(t, err)
	_, err = coord.Wait(ctx, "payment-dup")
	require.NoError(t, err)
}

func TestCoordinator_List(t *testing.T) {
	coord := newCoordinator(t, paysagatest.New(), paysaga.DefaultSagaConfig(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, id := range []string{"payment-c", "payment-a", "payment-b"} {
		_, err := coord.StartWithID(ctx, id, paysagatest.Request("10"))
		require.NoError(t, err)
		_, err = coord.Wait(ctx, id)
		require.NoError(t, err)
	}

	page := coord.List("", 2)
	require.Len(t, page, 2)
	assert.Equal(t, "payment-a", page[0].SagaID)
	assert.Equal(t, "payment-b", page[1].SagaID)
	assert.Equal(t, paysaga.StatusCompleted, page[0].Status)

	rest := coord.List(page[1].SagaID, 0)
	require.Len(t, rest, 1)
	assert.Equal(t, "payment-c", rest[0].SagaID)
	assert.NotEmpty(t, rest[0].TransactionID)
}

func TestCoordinator_RequiresEveryActivity(t *testing.T) {
	registry := paysaga.NewActivityRegistry()
	_, err := paysaga.NewCoordinator(paysaga.DefaultSagaConfig(), registry, nil)
	assert.ErrorContains(t, err, "activities not registered")
}

func TestCoordinator_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := paysaga.NewMetrics(reg)
	acts := paysagatest.New()

	coord, err := paysaga.NewCoordinator(paysaga.DefaultSagaConfig(), acts.Registry(metrics.Middleware()), nil,
		paysaga.WithCoordinatorLogger(discard),
		paysaga.WithActivityCatalog(fastCatalog()),
		paysaga.WithMetrics(metrics))
	require.NoError(t, err)
	defer func() { _ = coord.Shutdown(context.Background()) }()

	runPayment(t, coord, paysagatest.Request("1000"))
	acts.Reject(paysaga.CheckSanctions, "listed")
	runPayment(t, coord, paysagatest.Request("1000"))

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.SagasStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SagasFinished.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SagasFinished.WithLabelValues("rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ActivityAttempts.WithLabelValues("CapturePayment", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ActivityAttempts.WithLabelValues("ReleaseRateLock", "success")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.PendingApprovals))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.CompensationFails))
}
