package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fortressi/paysaga"
)

// localFlags are shared by the in-process commands.
type localFlags struct {
	stateDir string
	decision string
	by       string
	output   string
}

func (f *localFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.stateDir, "state-dir", "", "Checkpoint sagas as files in this directory instead of the configured store")
	cmd.Flags().StringVarP(&f.decision, "decision", "d", "prompt", "Answer to approval requests: approve, reject, prompt or none")
	cmd.Flags().StringVar(&f.by, "by", os.Getenv("USER"), "Name of the reviewer")
	cmd.Flags().StringVarP(&f.output, "output", "o", "yaml", "Output format (yaml or json)")
}

// approvalHook answers approval requests according to the --decision flag.
// With "none" the saga waits until its approval window elapses.
func (f *localFlags) approvalHook(in io.Reader, out io.Writer, coord func() *paysaga.Coordinator) (func(paysaga.ApprovalRequest), error) {
	var answer func(paysaga.ApprovalRequest) (bool, bool)
	switch f.decision {
	case "approve":
		answer = func(paysaga.ApprovalRequest) (bool, bool) { return true, true }
	case "reject":
		answer = func(paysaga.ApprovalRequest) (bool, bool) { return false, true }
	case "none":
		return nil, nil
	case "prompt":
		scanner := bufio.NewScanner(in)
		answer = func(req paysaga.ApprovalRequest) (bool, bool) {
			fmt.Fprintf(out, "Payment %s of %s %s needs approval. Approve? [y/N] ",
				req.SagaID, req.Amount.StringFixed(2), req.Currency)
			if !scanner.Scan() {
				return false, false
			}
			reply := strings.ToLower(strings.TrimSpace(scanner.Text()))
			return reply == "y" || reply == "yes", true
		}
	default:
		return nil, fmt.Errorf("unknown decision %q (use approve, reject, prompt or none)", f.decision)
	}

	return func(req paysaga.ApprovalRequest) {
		go func() {
			approved, ok := answer(req)
			if !ok {
				return
			}
			sig := paysaga.ApprovalSignal{Approved: approved, DecidedBy: f.by}
			if _, err := coord().Signal(context.Background(), req.SagaID, sig); err != nil {
				fmt.Fprintf(out, "failed to deliver decision for %s: %v\n", req.SagaID, err)
			}
		}()
	}, nil
}

// newCoordinator builds an in-process coordinator wired to the production
// activities.
func (a *app) newCoordinator(ctx context.Context, cmd *cobra.Command, f *localFlags) (*paysaga.Coordinator, closers, error) {
	sagaCfg, catalog, err := a.sagaConfig()
	if err != nil {
		return nil, nil, err
	}
	metrics := a.serveMetrics(ctx)
	registry, cleanup, err := a.buildRegistry(metrics)
	if err != nil {
		return nil, nil, err
	}

	var store paysaga.Store
	if f.stateDir != "" {
		store, err = paysaga.NewFileStore(f.stateDir)
	} else {
		var storeCleanup closers
		store, storeCleanup, err = a.openStore()
		cleanup = append(cleanup, storeCleanup...)
	}
	if err != nil {
		_ = cleanup.Close()
		return nil, nil, fmt.Errorf("failed to open saga store: %w", err)
	}

	var coord *paysaga.Coordinator
	hook, err := f.approvalHook(cmd.InOrStdin(), cmd.ErrOrStderr(), func() *paysaga.Coordinator { return coord })
	if err != nil {
		_ = cleanup.Close()
		return nil, nil, err
	}

	opts := []paysaga.CoordinatorOption{
		paysaga.WithCoordinatorLogger(a.logger),
		paysaga.WithActivityCatalog(catalog),
	}
	if hook != nil {
		opts = append(opts, paysaga.WithApprovalHook(hook))
	}
	if metrics != nil {
		opts = append(opts, paysaga.WithMetrics(metrics))
	}
	coord, err = paysaga.NewCoordinator(sagaCfg, registry, store, opts...)
	if err != nil {
		_ = cleanup.Close()
		return nil, nil, err
	}
	return coord, cleanup, nil
}

// waitAll waits for the given sagas. An interrupt suspends them at their next
// step boundary; they can be picked up again with "paysaga resume".
func (a *app) waitAll(ctx context.Context, cmd *cobra.Command, coord *paysaga.Coordinator, f *localFlags, ids []string) error {
	go func() {
		<-ctx.Done()
		a.logger.Info("interrupted, suspending running sagas")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := coord.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("shutdown did not finish", "error", err)
		}
	}()

	var errs []error
	for _, id := range ids {
		state, err := coord.Wait(context.Background(), id)
		if errors.Is(err, paysaga.ErrSuspended) {
			fmt.Fprintf(cmd.ErrOrStderr(), "Saga %s suspended at status %s; run 'paysaga resume' to continue\n", id, state.Status)
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("saga %s: %w", id, err))
			continue
		}
		if err := printValue(cmd.OutOrStdout(), f.output, state.Summarize()); err != nil {
			return err
		}
		if state.Status != paysaga.StatusCompleted {
			errs = append(errs, fmt.Errorf("saga %s ended %s: %s", id, state.Status, state.Reason))
		}
	}
	return errors.Join(errs...)
}

func (a *app) runCmd() *cobra.Command {
	var (
		flags  localFlags
		sagaID string
	)

	cmd := &cobra.Command{
		Use:   "run <request.json>",
		Short: "Run a payment in-process, without Temporal",
		Long: `Run a payment saga in this process. Checkpoints go to the configured store
or to --state-dir. Interrupting suspends the saga; resume it with 'paysaga resume'.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := readRequest(args[0])
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			coord, cleanup, err := a.newCoordinator(ctx, cmd, &flags)
			if err != nil {
				return err
			}
			defer func() { _ = cleanup.Close() }()

			if sagaID == "" {
				sagaID = paysaga.NewSagaID()
			}
			id, err := coord.StartWithID(ctx, sagaID, req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Started saga %s\n", id)
			return a.waitAll(ctx, cmd, coord, &flags, []string{id})
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&sagaID, "saga-id", "", "Saga ID (generated if not provided)")
	return cmd
}

func (a *app) resumeCmd() *cobra.Command {
	var flags localFlags

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume unfinished in-process payments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			coord, cleanup, err := a.newCoordinator(ctx, cmd, &flags)
			if err != nil {
				return err
			}
			defer func() { _ = cleanup.Close() }()

			n, err := coord.Recover(ctx)
			if err != nil {
				return err
			}
			if n == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "No unfinished sagas")
				return nil
			}

			var ids []string
			for _, sum := range coord.List("", 0) {
				if !sum.Status.Terminal() {
					ids = append(ids, sum.SagaID)
				}
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Resumed %d saga(s)\n", n)
			return a.waitAll(ctx, cmd, coord, &flags, ids)
		},
	}

	flags.register(cmd)
	return cmd
}
