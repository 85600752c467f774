package main

import (
	"fmt"

	"github.com/Veraticus/chargemap/internal/cli"
	"github.com/Veraticus/chargemap/internal/config"
	"github.com/Veraticus/chargemap/internal/ruleset"
	"github.com/Veraticus/chargemap/internal/storage"
	"github.com/spf13/cobra"
)

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file>",
		Short: "Load customers, rules, and charges from a YAML bundle",
		Long: `Load a YAML bundle into the database. The whole bundle is validated
before anything is written. Existing customers are kept, charges with the
same ID are overwritten, and rules are always created. Rules marked
enabled: false (as written by 'rules export') are created disabled.

Example bundle:

  customers:
    - name: AmerescoFTP
  rules:
    - name: Riders are usage
      scope: global
      classification: ch.usage_charge
      priority: 10
      conditions:
        - {field: charge_name, operator: contains, value: Rider}
  charges:
    - {id: c1, customer: AmerescoFTP, charge_name: CHP Rider}`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bundle, err := ruleset.LoadFile(args[0])
			if err != nil {
				return err
			}

			return withStorage(cmd.Context(), func(_ *config.Config, store *storage.SQLiteStorage) error {
				result, err := ruleset.Seed(cmd.Context(), store, bundle)
				if err != nil {
					return err
				}

				_, err = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf(
					"Seeded %d customers (%d already present), %d rules, %d charges",
					result.CustomersCreated, result.CustomersExisted, result.RulesCreated, result.ChargesSaved)))
				if err != nil || result.RulesDisabled == 0 {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo(fmt.Sprintf("%d rule(s) seeded disabled", result.RulesDisabled)))
				return err
			})
		},
	}
}
