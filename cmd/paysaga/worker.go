package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/worker"

	"github.com/fortressi/paysaga/temporal"
)

func (a *app) workerCmd() *cobra.Command {
	var concurrency int

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a Temporal worker for the payment workflow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sagaCfg, catalog, err := a.sagaConfig()
			if err != nil {
				return err
			}
			metrics := a.serveMetrics(ctx)
			registry, cleanup, err := a.buildRegistry(metrics)
			if err != nil {
				return err
			}
			defer func() {
				if err := cleanup.Close(); err != nil {
					a.logger.Warn("failed to close activity resources", "error", err)
				}
			}()

			c, err := a.dial()
			if err != nil {
				return err
			}
			defer c.Close()

			wf := temporal.NewWorkflow(sagaCfg, catalog)
			w := temporal.NewWorker(c.SDK(), a.cfg.Temporal.TaskQueue, wf, registry, worker.Options{
				MaxConcurrentActivityExecutionSize: concurrency,
			})

			a.logger.Info("starting worker",
				"host_port", a.cfg.Temporal.HostPort,
				"namespace", a.cfg.Temporal.Namespace,
				"task_queue", a.cfg.Temporal.TaskQueue)
			if err := w.Run(worker.InterruptCh()); err != nil {
				return fmt.Errorf("worker stopped: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Maximum concurrent activity executions (0 uses the SDK default)")
	return cmd
}
