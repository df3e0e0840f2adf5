package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fortressi/paysaga"
)

func (a *app) planCmd() *cobra.Command {
	var levels bool

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the saga plan as a DOT graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sagaCfg, err := a.cfg.SagaConfig()
			if err != nil {
				return err
			}
			plan, err := paysaga.NewPaymentPlan(sagaCfg)
			if err != nil {
				return err
			}

			if levels {
				lv, err := plan.Levels()
				if err != nil {
					return err
				}
				for i, level := range lv {
					names := make([]string, len(level))
					for j, step := range level {
						names[j] = string(step)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%d: %s\n", i+1, strings.Join(names, ", "))
				}
				return nil
			}

			dot, err := plan.ExportToDot()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), dot)
			return nil
		},
	}

	cmd.Flags().BoolVar(&levels, "levels", false, "Print the execution levels instead of DOT")
	return cmd
}
