package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ledgertag/internal/cli"
	"ledgertag/internal/engine"
)

func recommendCmd() *cobra.Command {
	var (
		limit     int
		sinceDate string
	)

	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Show category recommendations for untagged transactions",
		Long: `Fetches the latest transactions from the ledger, stores them locally,
and runs the tier cascade over everything still untagged. Nothing is
written back, use the sync command to commit recommendations.`,
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

			since, err := parseSinceDate(sinceDate)
			if err != nil {
				return err
			}

			untagged, err := app.refreshTransactions(ctx, since, limit)
			if err != nil {
				return err
			}
			if len(untagged) == 0 {
				fmt.Println(cli.FormatSuccess("All transactions are categorized"))
				return nil
			}

			reporter := cli.NewReporter(os.Stdout)
			bar := reporter.ProgressBar(len(untagged), "Categorizing transactions")

			recommendations := make([]engine.Recommendation, 0, len(untagged))
			var summary engine.Summary
			for _, txn := range untagged {
				decision := eng.Decide(ctx, txn)
				recommendations = append(recommendations, engine.Recommendation{
					Transaction: txn,
					Decision:    decision,
				})
				summary.Tally(decision)
				_ = bar.Add(1)
			}

			reporter.RenderRecommendations(recommendations)
			reporter.RenderSummary(summary)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum transactions to process (0 for all)")
	cmd.Flags().StringVar(&sinceDate, "since", "", "Only fetch transactions on or after this date (YYYY-MM-DD)")
	return cmd
}
