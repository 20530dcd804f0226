package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRebuildCmd() *cobra.Command {
	var months []string
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Re-derive fields and statistics from stored shards",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			report, err := appInstance.Pipeline().Rebuild(cmd.Context(), months)
			if err != nil {
				return fmt.Errorf("rebuild: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringSliceVar(&months, "month", nil, "month to rebuild as YYYY-MM (repeatable, default all)")
	return cmd
}

func newClearMonthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-month YYYY-MM",
		Short: "Delete a month's postings and statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res, err := appInstance.Pipeline().ClearMonth(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("clear month: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}
