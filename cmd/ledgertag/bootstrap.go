package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ledgertag/internal/cli"
	"ledgertag/internal/storage"
)

func bootstrapCmd() *cobra.Command {
	var sinceDate string

	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Seed the local history from an already-categorized budget",
		Long: `Loads every transaction from the seed budget (ynab.seed_budget_id,
falling back to ynab.budget_id) into the local store so the historical
tier has data to match against. Run once before the first sync.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			seedBudgetID := viper.GetString("ynab.seed_budget_id")
			if seedBudgetID == "" {
				seedBudgetID = app.budgetID
			}

			since, err := parseSinceDate(sinceDate)
			if err != nil {
				return err
			}

			transactions, err := app.ledger.FetchTransactions(ctx, seedBudgetID, since)
			if err != nil {
				return fmt.Errorf("fetching transactions from seed budget: %w", err)
			}
			if len(transactions) == 0 {
				fmt.Println(cli.FormatWarning("Seed budget has no transactions"))
				return nil
			}

			reporter := cli.NewReporter(os.Stdout)
			bar := reporter.ProgressBar(len(transactions), "Seeding history")

			var inserted, updated, categorized int
			for _, txn := range transactions {
				result, err := app.store.UpsertTransaction(ctx, seedBudgetID, txn)
				if err != nil {
					return fmt.Errorf("storing transaction %s: %w", txn.ID, err)
				}
				switch result.Outcome {
				case storage.UpsertInserted:
					inserted++
				case storage.UpsertUpdated:
					updated++
				}
				if txn.CategoryID != "" {
					categorized++
				}
				_ = bar.Add(1)
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf(
				"Seeded %d transactions (%d new, %d refreshed, %d categorized)",
				len(transactions), inserted, updated, categorized)))
			return nil
		},
	}

	cmd.Flags().StringVar(&sinceDate, "since", "", "Only seed transactions on or after this date (YYYY-MM-DD)")
	return cmd
}
