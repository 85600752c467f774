package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Veraticus/chargemap/internal/common"
	"github.com/Veraticus/chargemap/internal/config"
	"github.com/Veraticus/chargemap/internal/engine"
	"github.com/Veraticus/chargemap/internal/model"
	"github.com/Veraticus/chargemap/internal/pattern"
	"github.com/Veraticus/chargemap/internal/storage"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// loadConfig returns the validated configuration for this invocation.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// initStorage opens the database from config and brings its schema up to date.
func initStorage(ctx context.Context, cfg *config.Config) (*storage.SQLiteStorage, error) {
	store, err := storage.NewSQLiteStorage(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// initEngine builds an engine over store using the apply settings from cfg.
func initEngine(store engine.Store, cfg *config.Config) *engine.Engine {
	return engine.NewWithConfig(store, pattern.NewMatcher(), engine.Config{
		Retry:     cfg.Retry,
		ChunkSize: cfg.ChunkSize,
		PageSize:  cfg.PageSize,
	})
}

// withStorage loads config, opens storage, runs fn, and closes storage.
func withStorage(ctx context.Context, fn func(cfg *config.Config, store *storage.SQLiteStorage) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := initStorage(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Error("failed to close storage", "error", closeErr)
		}
	}()

	return fn(cfg, store)
}

// parseCondition parses field:operator:value. The value may contain colons.
func parseCondition(s string) (model.MatchCondition, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return model.MatchCondition{}, common.NewValidationError("when", "want field:operator:value, got %q", s)
	}

	cond := model.MatchCondition{
		Field:    model.Field(strings.TrimSpace(parts[0])),
		Operator: model.Operator(strings.TrimSpace(parts[1])),
		Value:    parts[2],
	}
	if err := pattern.ValidateCondition(cond); err != nil {
		return model.MatchCondition{}, err
	}
	return cond, nil
}

func parseConditions(specs []string) ([]model.MatchCondition, error) {
	conditions := make([]model.MatchCondition, 0, len(specs))
	for _, s := range specs {
		cond, err := parseCondition(s)
		if err != nil {
			return nil, err
		}
		conditions = append(conditions, cond)
	}
	return conditions, nil
}

// addDraftFlags registers the flags that describe a rule draft.
func addDraftFlags(cmd *cobra.Command) {
	cmd.Flags().StringArray("when", nil, "condition as field:operator:value (repeatable, all must hold)")
	cmd.Flags().String("classification", "", "target classification")
	cmd.Flags().String("name", "", "rule name")
	cmd.Flags().String("heading", "", "charge group heading")
	cmd.Flags().Int("priority", 0, "priority within scope (0 assigns the next free priority)")
	cmd.Flags().Bool("global", false, "create a global rule instead of a customer rule")
}

// draftFromFlags builds a rule draft for customer from the draft flags.
func draftFromFlags(cmd *cobra.Command, customer string) (model.RuleDraft, error) {
	specs, _ := cmd.Flags().GetStringArray("when")
	classification, _ := cmd.Flags().GetString("classification")
	name, _ := cmd.Flags().GetString("name")
	heading, _ := cmd.Flags().GetString("heading")
	priority, _ := cmd.Flags().GetInt("priority")
	global, _ := cmd.Flags().GetBool("global")

	conditions, err := parseConditions(specs)
	if err != nil {
		return model.RuleDraft{}, err
	}

	draft := model.RuleDraft{
		Name:               name,
		Classification:     classification,
		ChargeGroupHeading: heading,
		Conditions:         conditions,
		Priority:           priority,
		Scope:              model.ScopeCustom,
		CustomerName:       customer,
	}
	if global {
		draft.Scope = model.ScopeGlobal
		draft.CustomerName = ""
	}
	return draft, nil
}

// stateFlag reads the --state flag.
func stateFlag(cmd *cobra.Command) (model.ChargeState, error) {
	raw, _ := cmd.Flags().GetString("state")
	state, err := model.ParseChargeState(raw)
	if err != nil {
		return "", common.NewValidationError("state", "%v", err)
	}
	return state, nil
}

func addStateFlag(cmd *cobra.Command, def model.ChargeState) {
	cmd.Flags().String("state", string(def), "charges to consider: all, uncategorized, approval_needed, approved")
}

func addCustomerFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("customer", "c", "", "customer name")
	_ = cmd.MarkFlagRequired("customer")
}

func customerFlag(cmd *cobra.Command) string {
	customer, _ := cmd.Flags().GetString("customer")
	return customer
}
