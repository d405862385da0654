package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"ledgertag/internal/cli"
	"ledgertag/internal/learning"
	"ledgertag/internal/model"
)

func correctCmd() *cobra.Command {
	var (
		wrongSuggestion string
		reasoning       string
	)

	cmd := &cobra.Command{
		Use:   "correct <transaction-id> <category>",
		Short: "Fix a wrong categorization and remember the correction",
		Long: `Reassigns a transaction to the given category (name or id), writes the
change to the ledger, and records the correction so future transactions
from the same payee match it before any pattern rule.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			transactionID, categoryArg := args[0], args[1]

			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			txn, err := app.store.GetTransaction(ctx, transactionID)
			if err != nil {
				return fmt.Errorf("looking up transaction %s: %w", transactionID, err)
			}

			categories, err := app.ledger.FetchCategories(ctx, app.budgetID)
			if err != nil {
				return fmt.Errorf("fetching categories: %w", err)
			}
			category := findCategory(categories, categoryArg)
			if category == nil {
				return fmt.Errorf("no category matching %q", categoryArg)
			}

			if err := app.ledger.UpdateCategory(ctx, app.budgetID, transactionID, category.ID); err != nil {
				return fmt.Errorf("updating ledger: %w", err)
			}

			if err := app.tracker().RecordCorrection(ctx, learning.Correction{
				Transaction:     *txn,
				CategoryID:      category.ID,
				CategoryName:    category.Name,
				WrongSuggestion: wrongSuggestion,
				Reasoning:       reasoning,
			}); err != nil {
				return err
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf("%s is now %s", txn.Descriptor(), category.Name)))
			return nil
		},
	}

	cmd.Flags().StringVar(&wrongSuggestion, "wrong", "", "The category that was wrongly suggested")
	cmd.Flags().StringVar(&reasoning, "reason", "", "Why this category is the right one")
	return cmd
}

// findCategory matches by id first, then case-insensitive name.
func findCategory(categories []model.Category, arg string) *model.Category {
	for i := range categories {
		if categories[i].ID == arg {
			return &categories[i]
		}
	}
	for i := range categories {
		if strings.EqualFold(categories[i].Name, arg) {
			return &categories[i]
		}
	}
	return nil
}
