package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ledgertag/internal/cli"
	"ledgertag/internal/engine"
	"ledgertag/internal/sync"
)

func syncCmd() *cobra.Command {
	var (
		limit         int
		minConfidence float64
		dryRun        bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Categorize untagged transactions and write the results back",
		Long: `Runs the tier cascade over untagged transactions and commits every
confident decision to the ledger. Transactions flagged for manual
review, transfers, and inflows are skipped. The whole batch is
validated before anything is sent.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			eng, _, err := app.buildEngine(ctx)
			if err != nil {
				return err
			}

			untagged, err := app.refreshTransactions(ctx, nil, limit)
			if err != nil {
				return err
			}
			if len(untagged) == 0 {
				fmt.Println(cli.FormatSuccess("All transactions are categorized"))
				return nil
			}

			reporter := cli.NewReporter(os.Stdout)
			bar := reporter.ProgressBar(len(untagged), "Categorizing transactions")

			var (
				items   []sync.Item
				skipped []engine.Recommendation
				summary engine.Summary
			)
			for _, txn := range untagged {
				decision := eng.Decide(ctx, txn)
				summary.Tally(decision)
				_ = bar.Add(1)

				if decision.NeedsReview || decision.NonCategorizable || decision.Confidence < minConfidence {
					skipped = append(skipped, engine.Recommendation{Transaction: txn, Decision: decision})
					continue
				}
				items = append(items, sync.Item{Decision: decision, DeclaredTotal: txn.Amount})
			}

			reporter.RenderSummary(summary)
			if len(skipped) > 0 {
				fmt.Println(cli.FormatWarning(fmt.Sprintf("%d transactions skipped, run 'ledgertag recommend' to review them", len(skipped))))
			}
			if len(items) == 0 {
				fmt.Println(cli.FormatWarning("Nothing to commit"))
				return nil
			}

			if dryRun {
				fmt.Println(cli.FormatWarning(fmt.Sprintf("Dry run, %d decisions would be committed", len(items))))
				return nil
			}

			syncer := sync.NewSyncer(app.ledger, app.tracker(), app.budgetID)
			outcome := syncer.Commit(ctx, items)
			reporter.RenderSyncOutcome(outcome)

			if outcome.Status() == sync.StatusFailed {
				return fmt.Errorf("sync failed: %d of %d items committed", outcome.Succeeded, outcome.Total)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum transactions to process (0 for all)")
	cmd.Flags().Float64Var(&minConfidence, "min-confidence", 0, "Skip decisions below this confidence")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Decide without writing anything back")
	return cmd
}
