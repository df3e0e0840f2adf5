package temporal

import (
	"context"
	"fmt"
	"log/slog"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/log"

	"github.com/fortressi/paysaga"
)

// ClientOptions selects the Temporal frontend to talk to.
type ClientOptions struct {
	HostPort  string
	Namespace string
	TaskQueue string
}

// Client submits payments to Temporal and steers running ones.
type Client struct {
	c         client.Client
	taskQueue string
}

// Dial connects to the Temporal frontend.
func Dial(opts ClientOptions, logger *slog.Logger) (*Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  opts.HostPort,
		Namespace: opts.Namespace,
		Logger:    log.NewStructuredLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("unable to connect to temporal at %s: %w", opts.HostPort, err)
	}
	return NewClient(c, opts.TaskQueue), nil
}

// NewClient wraps an existing SDK client.
func NewClient(c client.Client, taskQueue string) *Client {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	return &Client{c: c, taskQueue: taskQueue}
}

// SDK exposes the underlying SDK client, for workers.
func (c *Client) SDK() client.Client {
	return c.c
}

// Submit starts a payment workflow and returns its saga ID.
func (c *Client) Submit(ctx context.Context, req paysaga.PaymentRequest) (string, error) {
	id := paysaga.NewSagaID()
	run, err := c.c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        id,
		TaskQueue: c.taskQueue,
	}, WorkflowName, req)
	if err != nil {
		return "", fmt.Errorf("failed to start payment workflow: %w", err)
	}
	return run.GetID(), nil
}

// Status queries the live state of a payment.
func (c *Client) Status(ctx context.Context, sagaID string) (*paysaga.WorkflowState, error) {
	value, err := c.c.QueryWorkflow(ctx, sagaID, "", QueryState)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment %s: %w", sagaID, err)
	}
	var state paysaga.WorkflowState
	if err := value.Get(&state); err != nil {
		return nil, fmt.Errorf("failed to decode state of payment %s: %w", sagaID, err)
	}
	return &state, nil
}

// Decide sends an approval decision to a payment.
func (c *Client) Decide(ctx context.Context, sagaID string, signal paysaga.ApprovalSignal) error {
	if err := c.c.SignalWorkflow(ctx, sagaID, "", paysaga.SignalApprovePayment, signal); err != nil {
		return fmt.Errorf("failed to signal payment %s: %w", sagaID, err)
	}
	return nil
}

// Cancel requests cancellation of a payment. Committed steps are compensated.
func (c *Client) Cancel(ctx context.Context, sagaID string) error {
	if err := c.c.CancelWorkflow(ctx, sagaID, ""); err != nil {
		return fmt.Errorf("failed to cancel payment %s: %w", sagaID, err)
	}
	return nil
}

// Result blocks until the payment finishes and returns its final state.
func (c *Client) Result(ctx context.Context, sagaID string) (*paysaga.WorkflowState, error) {
	var state paysaga.WorkflowState
	if err := c.c.GetWorkflow(ctx, sagaID, "").Get(ctx, &state); err != nil {
		return nil, fmt.Errorf("payment %s did not complete: %w", sagaID, err)
	}
	return &state, nil
}

// Close releases the connection.
func (c *Client) Close() {
	c.c.Close()
}
