package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Fail ingest tasks left running by interrupted requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			n, err := app.Janitor().SweepOnce(cmd.Context())
			if err != nil {
				return fmt.Errorf("sweep ledger: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "closed %d abandoned task(s)\n", n)
			return err
		},
	}
}
