package main

import (
	"fmt"

	"github.com/Veraticus/chargemap/internal/cli"
	"github.com/Veraticus/chargemap/internal/config"
	"github.com/Veraticus/chargemap/internal/model"
	"github.com/Veraticus/chargemap/internal/storage"
	"github.com/spf13/cobra"
)

func chargesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "charges",
		Short: "Inspect a customer's charges",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List charges in a classification state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			customer := customerFlag(cmd)
			state, err := stateFlag(cmd)
			if err != nil {
				return err
			}
			page, _ := cmd.Flags().GetInt("page")
			pageSize, _ := cmd.Flags().GetInt("page-size")

			return withStorage(cmd.Context(), func(_ *config.Config, store *storage.SQLiteStorage) error {
				if _, err := store.GetCustomer(cmd.Context(), customer); err != nil {
					return err
				}

				charges, err := store.QueryCharges(cmd.Context(), customer, model.ChargeFilter{
					State:    state,
					Page:     page,
					PageSize: pageSize,
				})
				if err != nil {
					return err
				}
				total, err := store.CountCharges(cmd.Context(), customer, state)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if len(charges) == 0 {
					_, err := fmt.Fprintln(out, cli.FormatInfo(fmt.Sprintf("No %s charges for %s.", state, customer)))
					return err
				}
				if err := cli.RenderCharges(out, charges); err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, cli.SubtleStyle.Render(fmt.Sprintf("%d of %d %s charges", len(charges), total, state)))
				return err
			})
		},
	}
	addCustomerFlag(list)
	addStateFlag(list, model.StateAll)
	list.Flags().Int("page", 1, "page number")
	list.Flags().Int("page-size", 50, "charges per page (0 for all)")
	cmd.AddCommand(list)

	return cmd
}
