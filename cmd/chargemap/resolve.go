package main

import (
	"github.com/Veraticus/chargemap/internal/cli"
	"github.com/Veraticus/chargemap/internal/common"
	"github.com/Veraticus/chargemap/internal/config"
	"github.com/Veraticus/chargemap/internal/model"
	"github.com/Veraticus/chargemap/internal/storage"
	"github.com/spf13/cobra"
)

func resolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Show which rule would classify a charge",
		Long: `Resolve a charge described by flags against the customer's rules, then the
global rules. Nothing is written.

Example:
  chargemap resolve -c AmerescoFTP --charge-name "CHP Rider" --provider "Duke Energy"`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			customer := customerFlag(cmd)
			charge := chargeFromFlags(cmd, customer)
			if charge.ChargeName == "" && charge.ProviderName == "" && charge.AccountNumber == "" &&
				charge.MeterNumber == "" && charge.UsageUnit == "" && charge.ServiceType == "" && charge.Measurement == "" {
				return common.NewValidationError("charge", "describe the charge with at least one field flag")
			}

			return withStorage(cmd.Context(), func(cfg *config.Config, store *storage.SQLiteStorage) error {
				res, err := initEngine(store, cfg).ResolveCharge(cmd.Context(), customer, charge)
				if err != nil {
					return err
				}
				return cli.RenderResolution(cmd.OutOrStdout(), res)
			})
		},
	}

	addCustomerFlag(cmd)
	cmd.Flags().String("id", "adhoc", "charge ID to report")
	cmd.Flags().String("charge-name", "", "charge name")
	cmd.Flags().String("account", "", "account number")
	cmd.Flags().String("meter", "", "meter number")
	cmd.Flags().String("provider", "", "provider name")
	cmd.Flags().String("unit", "", "usage unit")
	cmd.Flags().String("service", "", "service type")
	cmd.Flags().String("measurement", "", "measurement")
	cmd.Flags().String("current", "", "current classification (default uncategorized)")

	return cmd
}

func chargeFromFlags(cmd *cobra.Command, customer string) model.Charge {
	get := func(name string) string {
		v, _ := cmd.Flags().GetString(name)
		return v
	}
	return model.Charge{
		ID:             get("id"),
		CustomerName:   customer,
		ChargeName:     get("charge-name"),
		AccountNumber:  get("account"),
		MeterNumber:    get("meter"),
		ProviderName:   get("provider"),
		UsageUnit:      get("unit"),
		ServiceType:    get("service"),
		Measurement:    get("measurement"),
		Classification: get("current"),
	}
}
