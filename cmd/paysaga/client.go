package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fortressi/paysaga"
)

func (a *app) submitCmd() *cobra.Command {
	var (
		wait   bool
		output string
	)

	cmd := &cobra.Command{
		Use:   "submit <request.json>",
		Short: "Start a payment on Temporal",
		Long:  "Start a payment on Temporal. Use - to read the request from stdin.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := readRequest(args[0])
			if err != nil {
				return err
			}
			c, err := a.dial()
			if err != nil {
				return err
			}
			defer c.Close()

			id, err := c.Submit(cmd.Context(), req)
			if err != nil {
				return err
			}
			if !wait {
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			}
			fmt.Fprintf(os.Stderr, "Submitted %s, waiting for completion...\n", id)
			state, err := c.Result(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printValue(cmd.OutOrStdout(), output, state.Summarize())
		},
	}

	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for the payment to finish")
	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "Output format with --wait (yaml or json)")
	return cmd
}

func (a *app) statusCmd() *cobra.Command {
	var (
		output  string
		summary bool
	)

	cmd := &cobra.Command{
		Use:   "status <saga-id>",
		Short: "Show the live state of a payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.dial()
			if err != nil {
				return err
			}
			defer c.Close()

			state, err := c.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if summary {
				return printValue(cmd.OutOrStdout(), output, state.Summarize())
			}
			return printValue(cmd.OutOrStdout(), output, state)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "Output format (yaml or json)")
	cmd.Flags().BoolVarP(&summary, "summary", "s", false, "Print only the summary")
	return cmd
}

func (a *app) decideCmd(use string, approved bool) *cobra.Command {
	var decidedBy string

	verb := "Reject"
	if approved {
		verb = "Approve"
	}

	cmd := &cobra.Command{
		Use:   use + " <saga-id>",
		Short: verb + " a payment waiting for review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.dial()
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.Decide(cmd.Context(), args[0], paysaga.ApprovalSignal{
				Approved:  approved,
				DecidedBy: decidedBy,
			}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent %s decision to %s\n", use, args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&decidedBy, "by", os.Getenv("USER"), "Name of the reviewer")
	return cmd
}

func (a *app) cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <saga-id>",
		Short: "Cancel a payment, compensating committed steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.dial()
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.Cancel(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Requested cancellation of %s\n", args[0])
			return nil
		},
	}
}
