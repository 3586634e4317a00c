package commands

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mlegall/dcabot/internal/botconfig"
	"github.com/mlegall/dcabot/internal/scoring/formula"
	"github.com/mlegall/dcabot/internal/store"
	"github.com/mlegall/dcabot/pkg/database"
	"github.com/mlegall/dcabot/pkg/logger"
)

// configCmd groups the override store commands
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration overrides",
	Long: `Reads and writes the database-backed configuration override
layer. Changes apply on the next scoring run.

Example:
  go run ./cmd/dcabot config list
  go run ./cmd/dcabot config set drawdown_cap 0.30
  go run ./cmd/dcabot config set weights.rsi14 0.4
  go run ./cmd/dcabot config del drawdown_cap`,
}

var (
	configListCmd = &cobra.Command{
		Use:   "list",
		Short: "Show the effective configuration and all overrides",
		RunE:  withStore(listConfig),
	}

	configGetCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Show one override value",
		Args:  cobra.ExactArgs(1),
		RunE:  withStore(getConfig),
	}

	configSetCmd = &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Set an override value (JSON-encoded)",
		Args:  cobra.ExactArgs(2),
		RunE:  withStore(setConfig),
	}

	configDelCmd = &cobra.Command{
		Use:   "del [key]",
		Short: "Remove an override",
		Args:  cobra.ExactArgs(1),
		RunE:  withStore(delConfig),
	}
)

// formulaCmd groups the stored formula commands
var formulaCmd = &cobra.Command{
	Use:   "formula",
	Short: "Manage scoring formulas",
	Long: `Manages operator-defined scoring formulas. A stored formula
named like a built-in replaces it; its weight supersedes the weight
table.

Example:
  go run ./cmd/dcabot formula list
  go run ./cmd/dcabot formula set dip "min(drawdown / cap, 1.0)" 0.4
  go run ./cmd/dcabot formula weight dip 0.6
  go run ./cmd/dcabot formula del dip`,
}

var (
	formulaListCmd = &cobra.Command{
		Use:   "list",
		Short: "Show stored formulas",
		RunE:  withStore(listFormulas),
	}

	formulaSetCmd = &cobra.Command{
		Use:   "set [name] [expression] [weight]",
		Short: "Create or replace a formula",
		Args:  cobra.ExactArgs(3),
		RunE:  withStore(setFormulaCmd),
	}

	formulaWeightCmd = &cobra.Command{
		Use:   "weight [name] [weight]",
		Short: "Update a formula's weight",
		Args:  cobra.ExactArgs(2),
		RunE:  withStore(setFormulaWeightCmd),
	}

	formulaDelCmd = &cobra.Command{
		Use:   "del [name]",
		Short: "Delete a formula",
		Args:  cobra.ExactArgs(1),
		RunE:  withStore(delFormula),
	}
)

// tickerCmd groups the ticker list commands
var tickerCmd = &cobra.Command{
	Use:   "ticker",
	Short: "Manage the ticker list",
	Long: `Manages the database-backed ticker list. A non-empty stored
list replaces the static one entirely.

Example:
  go run ./cmd/dcabot ticker list
  go run ./cmd/dcabot ticker add VWCE.DE
  go run ./cmd/dcabot ticker disable VWCE.DE
  go run ./cmd/dcabot ticker del VWCE.DE`,
}

var (
	tickerListCmd = &cobra.Command{
		Use:   "list",
		Short: "Show stored tickers",
		RunE:  withStore(listTickersCmd),
	}

	tickerAddCmd = &cobra.Command{
		Use:   "add [symbol]",
		Short: "Add a ticker",
		Args:  cobra.ExactArgs(1),
		RunE:  withStore(addTickerCmd),
	}

	tickerDelCmd = &cobra.Command{
		Use:   "del [symbol]",
		Short: "Remove a ticker",
		Args:  cobra.ExactArgs(1),
		RunE:  withStore(delTickerCmd),
	}

	tickerEnableCmd = &cobra.Command{
		Use:   "enable [symbol]",
		Short: "Enable a ticker",
		Args:  cobra.ExactArgs(1),
		RunE:  withStore(toggleTickerCmd(true)),
	}

	tickerDisableCmd = &cobra.Command{
		Use:   "disable [symbol]",
		Short: "Disable a ticker without removing it",
		Args:  cobra.ExactArgs(1),
		RunE:  withStore(toggleTickerCmd(false)),
	}
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configDelCmd)

	rootCmd.AddCommand(formulaCmd)
	formulaCmd.AddCommand(formulaListCmd)
	formulaCmd.AddCommand(formulaSetCmd)
	formulaCmd.AddCommand(formulaWeightCmd)
	formulaCmd.AddCommand(formulaDelCmd)

	rootCmd.AddCommand(tickerCmd)
	tickerCmd.AddCommand(tickerListCmd)
	tickerCmd.AddCommand(tickerAddCmd)
	tickerCmd.AddCommand(tickerDelCmd)
	tickerCmd.AddCommand(tickerEnableCmd)
	tickerCmd.AddCommand(tickerDisableCmd)
}

type storeAction func(ctx context.Context, repo *store.Repository, log *logger.Logger, args []string) error

// withStore wires a command that requires the override store. These
// commands fail without a configured database.
func withStore(action storeAction) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, log, err := initCore()
		if err != nil {
			return err
		}
		if cfg.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is not set, this command needs the override store")
		}

		db, err := database.New(cfg)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()

		ctx := context.Background()
		repo := store.NewRepository(db.Pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}

		return action(ctx, repo, log, args)
	}
}

func listConfig(ctx context.Context, repo *store.Repository, log *logger.Logger, args []string) error {
	overrides, err := repo.All(ctx)
	if err != nil {
		return err
	}

	cfg, _, err := initCore()
	if err != nil {
		return err
	}
	eff := botconfig.Resolve(ctx, cfg.StaticConfigPath, repo, log)

	fmt.Println("Effective configuration:")
	printSortedMap(eff.Raw())

	fmt.Println("\nOverrides:")
	if len(overrides) == 0 {
		fmt.Println("  (none)")
		return nil
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %s = %s\n", k, overrides[k])
	}
	return nil
}

func printSortedMap(m map[string]interface{}) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %s = %v\n", k, m[k])
	}
}

func getConfig(ctx context.Context, repo *store.Repository, log *logger.Logger, args []string) error {
	value, found, err := repo.Get(ctx, args[0])
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no override for key %s", args[0])
	}
	fmt.Println(value)
	return nil
}

func setConfig(ctx context.Context, repo *store.Repository, log *logger.Logger, args []string) error {
	if err := repo.Set(ctx, args[0], args[1], ""); err != nil {
		return err
	}
	fmt.Printf("%s = %s\n", args[0], args[1])
	return nil
}

func delConfig(ctx context.Context, repo *store.Repository, log *logger.Logger, args []string) error {
	if err := repo.Delete(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("%s deleted\n", args[0])
	return nil
}

func listFormulas(ctx context.Context, repo *store.Repository, log *logger.Logger, args []string) error {
	defs, err := repo.ListFormulas(ctx)
	if err != nil {
		return err
	}
	if len(defs) == 0 {
		fmt.Println("No stored formulas, the built-in set is active")
		return nil
	}

	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		def := defs[name]
		fmt.Printf("%s (weight %.3f)\n  %s\n", def.Name, def.Weight, def.Expression)
	}
	return nil
}

func setFormulaCmd(ctx context.Context, repo *store.Repository, log *logger.Logger, args []string) error {
	name, expression := args[0], args[1]
	weight, err := strconv.ParseFloat(args[2], 64)
	if err != nil || weight < 0 {
		return fmt.Errorf("weight must be a non-negative number")
	}
	if err := formula.Validate(expression); err != nil {
		return fmt.Errorf("expression does not compile: %w", err)
	}

	def := botconfig.FormulaDefinition{Name: name, Expression: expression, Weight: weight}
	if err := repo.SetFormula(ctx, def); err != nil {
		return err
	}
	fmt.Printf("Formula %s set (weight %.3f)\n", name, weight)
	return nil
}

func setFormulaWeightCmd(ctx context.Context, repo *store.Repository, log *logger.Logger, args []string) error {
	weight, err := strconv.ParseFloat(args[1], 64)
	if err != nil || weight < 0 {
		return fmt.Errorf("weight must be a non-negative number")
	}
	if err := repo.SetFormulaWeight(ctx, args[0], weight); err != nil {
		return err
	}
	fmt.Printf("Formula %s weight set to %.3f\n", args[0], weight)
	return nil
}

func delFormula(ctx context.Context, repo *store.Repository, log *logger.Logger, args []string) error {
	if err := repo.DeleteFormula(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Formula %s deleted\n", args[0])
	return nil
}

func listTickersCmd(ctx context.Context, repo *store.Repository, log *logger.Logger, args []string) error {
	all, err := repo.ListTickers(ctx, false)
	if err != nil {
		return err
	}
	enabled, err := repo.ListTickers(ctx, true)
	if err != nil {
		return err
	}

	if len(all) == 0 {
		fmt.Println("No stored tickers, the static list is active")
		return nil
	}

	enabledSet := make(map[string]struct{}, len(enabled))
	for _, symbol := range enabled {
		enabledSet[symbol] = struct{}{}
	}
	for _, symbol := range all {
		state := "disabled"
		if _, ok := enabledSet[symbol]; ok {
			state = "enabled"
		}
		fmt.Printf("  %s (%s)\n", symbol, state)
	}
	return nil
}

func addTickerCmd(ctx context.Context, repo *store.Repository, log *logger.Logger, args []string) error {
	if err := repo.AddTicker(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Ticker %s added\n", args[0])
	return nil
}

func delTickerCmd(ctx context.Context, repo *store.Repository, log *logger.Logger, args []string) error {
	if err := repo.RemoveTicker(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Ticker %s removed\n", args[0])
	return nil
}

func toggleTickerCmd(enabled bool) storeAction {
	return func(ctx context.Context, repo *store.Repository, log *logger.Logger, args []string) error {
		if err := repo.ToggleTicker(ctx, args[0], enabled); err != nil {
			return err
		}
		state := "disabled"
		if enabled {
			state = "enabled"
		}
		fmt.Printf("Ticker %s %s\n", args[0], state)
		return nil
	}
}
