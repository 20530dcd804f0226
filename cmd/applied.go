package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAppliedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "applied",
		Short: "Inspect or reset application click tracking",
	}
	var month string
	list := &cobra.Command{
		Use:   "list",
		Short: "List recorded applications",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			jobs, err := appInstance.Applied().GetApplications(cmd.Context(), month)
			if err != nil {
				return fmt.Errorf("list applications: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), jobs)
		},
	}
	list.Flags().StringVar(&month, "month", "", "only this month (YYYY-MM)")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show application counts per month",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			st, err := appInstance.Applied().GetStats(cmd.Context())
			if err != nil {
				return fmt.Errorf("applied stats: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every recorded application",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res, err := appInstance.Applied().ClearAll(cmd.Context())
			if err != nil {
				return fmt.Errorf("clear applications: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	cmd.AddCommand(list, stats, clearCmd)
	return cmd
}
