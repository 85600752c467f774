package main

import (
	"fmt"

	"github.com/Veraticus/chargemap/internal/cli"
	"github.com/Veraticus/chargemap/internal/config"
	"github.com/Veraticus/chargemap/internal/model"
	"github.com/Veraticus/chargemap/internal/storage"
	"github.com/spf13/cobra"
)

func customersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "customers",
		Short: "Manage customers",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List customers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStorage(cmd.Context(), func(_ *config.Config, store *storage.SQLiteStorage) error {
				customers, err := store.ListCustomers(cmd.Context())
				if err != nil {
					return err
				}
				if len(customers) == 0 {
					_, err := fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("No customers yet. Use 'chargemap customers add' or 'chargemap seed'."))
					return err
				}
				return cli.RenderCustomers(cmd.OutOrStdout(), customers)
			})
		},
	})

	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a customer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			org, _ := cmd.Flags().GetString("org")
			return withStorage(cmd.Context(), func(_ *config.Config, store *storage.SQLiteStorage) error {
				if err := store.CreateCustomer(cmd.Context(), &model.Customer{Name: args[0], OrganizationID: org}); err != nil {
					return err
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Added customer %s", args[0])))
				return err
			})
		},
	}
	add.Flags().String("org", "", "organization ID")
	cmd.AddCommand(add)

	return cmd
}
