package main

import (
	"fmt"

	"github.com/Veraticus/chargemap/internal/cli"
	"github.com/Veraticus/chargemap/internal/config"
	"github.com/Veraticus/chargemap/internal/storage"
	"github.com/spf13/cobra"
)

func runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show the apply-run audit log",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List recent apply runs, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			customer, _ := cmd.Flags().GetString("customer")
			limit, _ := cmd.Flags().GetInt("limit")

			return withStorage(cmd.Context(), func(_ *config.Config, store *storage.SQLiteStorage) error {
				runs, err := store.ListApplyRuns(cmd.Context(), customer, limit)
				if err != nil {
					return err
				}
				if len(runs) == 0 {
					_, err := fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("No apply runs recorded."))
					return err
				}
				return cli.RenderRuns(cmd.OutOrStdout(), runs)
			})
		},
	}
	list.Flags().StringP("customer", "c", "", "only runs for this customer")
	list.Flags().Int("limit", 20, "maximum runs to show")
	cmd.AddCommand(list)

	return cmd
}
