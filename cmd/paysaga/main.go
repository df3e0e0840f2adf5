// Command paysaga runs and steers multi-currency payment sagas.
//
// Usage:
//
//	paysaga worker                 Run a Temporal worker for the payment workflow
//	paysaga submit <request.json>  Start a payment on Temporal
//	paysaga status <saga-id>       Show the live state of a payment
//	paysaga approve <saga-id>      Approve a payment waiting for review
//	paysaga reject <saga-id>       Reject a payment waiting for review
//	paysaga cancel <saga-id>       Cancel a payment, compensating committed steps
//	paysaga run <request.json>     Run a payment in-process, without Temporal
//	paysaga resume                 Resume unfinished in-process payments
//	paysaga plan                   Print the saga plan as a DOT graph
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/fortressi/paysaga/internal/config"
)

var version = "dev"

// app carries the state shared by every subcommand.
type app struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "paysaga",
		Short:         "Multi-currency payment saga orchestrator",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = cfg.Log.Logger(cmd.ErrOrStderr())
			slog.SetDefault(a.logger)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", os.Getenv("PAYSAGA_CONFIG"), "Path to the YAML config file")

	rootCmd.AddCommand(a.workerCmd())
	rootCmd.AddCommand(a.submitCmd())
	rootCmd.AddCommand(a.statusCmd())
	rootCmd.AddCommand(a.decideCmd("approve", true))
	rootCmd.AddCommand(a.decideCmd("reject", false))
	rootCmd.AddCommand(a.cancelCmd())
	rootCmd.AddCommand(a.runCmd())
	rootCmd.AddCommand(a.resumeCmd())
	rootCmd.AddCommand(a.planCmd())
	return rootCmd
}
