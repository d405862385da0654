package cli

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/schollz/progressbar/v3"

	"ledgertag/internal/engine"
	"ledgertag/internal/model"
	"ledgertag/internal/sync"
)

// Reporter renders categorization results to a terminal.
type Reporter struct {
	writer io.Writer
}

// NewReporter creates a reporter writing to w.
func NewReporter(w io.Writer) *Reporter {
	return &Reporter{writer: w}
}

// ProgressBar creates a progress bar for a batch of the given size.
func (r *Reporter) ProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(r.writer),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]"+description+"[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			if _, err := fmt.Fprintln(r.writer); err != nil {
				slog.Warn("Failed to write newline after progress bar", "error", err)
			}
		}),
	)
}

// FormatAmount renders milliunits as a signed dollar amount.
func FormatAmount(milliunits int64) string {
	dollars := float64(milliunits) / 1000
	if dollars < 0 {
		return fmt.Sprintf("-$%.2f", -dollars)
	}
	return fmt.Sprintf("$%.2f", dollars)
}

// RenderRecommendations prints one line per decided transaction.
func (r *Reporter) RenderRecommendations(recommendations []engine.Recommendation) {
	for _, rec := range recommendations {
		txn := rec.Transaction
		d := rec.Decision

		var line string
		switch {
		case d.NonCategorizable:
			line = SubtleStyle.Render(fmt.Sprintf("– %s %s: skipped (%s)",
				txn.Descriptor(), FormatAmount(txn.Amount), d.Reasoning))
		case d.NeedsReview:
			line = FormatWarning(fmt.Sprintf("%s %s: needs manual review",
				txn.Descriptor(), FormatAmount(txn.Amount)))
		case d.Type == model.DecisionSplit:
			parts := make([]string, len(d.Allocations))
			for i, alloc := range d.Allocations {
				parts[i] = fmt.Sprintf("%s %s", alloc.CategoryName, FormatAmount(alloc.Amount))
			}
			line = FormatSuccess(fmt.Sprintf("%s %s → split: %s [%s, %.0f%%]",
				txn.Descriptor(), FormatAmount(txn.Amount), strings.Join(parts, ", "),
				d.Tier, d.Confidence*100))
		default:
			line = FormatSuccess(fmt.Sprintf("%s %s → %s [%s, %.0f%%]",
				txn.Descriptor(), FormatAmount(txn.Amount), d.CategoryName,
				d.Tier, d.Confidence*100))
		}
		fmt.Fprintln(r.writer, line)
	}
}

// RenderSummary prints the batch tally box.
func (r *Reporter) RenderSummary(summary engine.Summary) {
	content := fmt.Sprintf("  • Transactions: %d\n", summary.Total) +
		fmt.Sprintf("  • Rule tier: %d\n", summary.Rule) +
		fmt.Sprintf("  • Historical tier: %d\n", summary.Historical) +
		fmt.Sprintf("  • Research tier: %d\n", summary.Research) +
		fmt.Sprintf("  • Needs review: %d\n", summary.NeedsReview) +
		fmt.Sprintf("  • Not categorizable: %d", summary.NonCategorizable)
	fmt.Fprintln(r.writer, RenderBox("Categorization Summary", content))
}

// RenderSyncOutcome prints commit results, including every per-item error.
func (r *Reporter) RenderSyncOutcome(outcome *sync.Outcome) {
	content := fmt.Sprintf("  • Total: %d\n", outcome.Total) +
		fmt.Sprintf("  • Succeeded: %d\n", outcome.Succeeded) +
		fmt.Sprintf("  • Failed: %d\n", outcome.Failed) +
		fmt.Sprintf("  • Conflicts: %d", outcome.Conflicts)

	title := "Sync " + outcome.Status()
	switch outcome.Status() {
	case sync.StatusSuccess:
		fmt.Fprintln(r.writer, RenderBox(title, SuccessStyle.Render(content)))
	case sync.StatusPartial:
		fmt.Fprintln(r.writer, RenderBox(title, WarningStyle.Render(content)))
	default:
		fmt.Fprintln(r.writer, RenderBox(title, ErrorStyle.Render(content)))
	}

	for _, itemErr := range outcome.Errors {
		fmt.Fprintln(r.writer, FormatError(fmt.Sprintf("%s [%s]: %s",
			itemErr.ItemID, itemErr.Kind, itemErr.Message)))
	}
}
