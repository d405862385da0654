package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/viper"

	"ledgertag/internal/config"
	"ledgertag/internal/engine"
	"ledgertag/internal/history"
	"ledgertag/internal/learning"
	"ledgertag/internal/llm"
	"ledgertag/internal/model"
	"ledgertag/internal/pattern"
	"ledgertag/internal/rules"
	"ledgertag/internal/storage"
	"ledgertag/internal/ynab"
)

// app bundles the wired components every command needs.
type app struct {
	store     *storage.SQLiteStorage
	ledger    *ynab.Client
	ruleStore *rules.Store
	document  *rules.Document
	budgetID  string
}

func newApp(ctx context.Context) (*app, error) {
	token := viper.GetString("ynab.token")
	if token == "" {
		return nil, fmt.Errorf("ynab.token is not configured (set LEDGERTAG_YNAB_TOKEN or the config file)")
	}
	budgetID := viper.GetString("ynab.budget_id")
	if budgetID == "" {
		return nil, fmt.Errorf("ynab.budget_id is not configured")
	}

	ledger, err := ynab.NewClient(token)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewSQLiteStorage(config.ExpandPath(viper.GetString("storage.db_path")))
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	return &app{
		store:     store,
		ledger:    ledger,
		ruleStore: rules.NewStore(config.ExpandPath(viper.GetString("rules.store_path"))),
		document:  rules.NewDocument(config.ExpandPath(viper.GetString("rules.document_path"))),
		budgetID:  budgetID,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		slog.Warn("Failed to close storage", "error", err)
	}
}

// buildEngine assembles the tier cascade. Without a reasoning-provider key
// the research tier is skipped and unmatched transactions fall through to
// the engine's manual-review default.
func (a *app) buildEngine(ctx context.Context) (*engine.Engine, []model.Category, error) {
	categories, err := a.ledger.FetchCategories(ctx, a.budgetID)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching categories: %w", err)
	}

	scoring, err := config.LoadScoring()
	if err != nil {
		return nil, nil, err
	}
	matcher := pattern.NewMatcher(scoring)
	ruleTier := engine.NewRuleStrategy(a.ruleStore, a.document, matcher, categories,
		viper.GetFloat64("thresholds.rule"))

	historicalTier := engine.NewHistoricalStrategy(
		history.NewMatcherWithFloor(a.store, viper.GetFloat64("thresholds.historical")))

	strategies := []engine.Strategy{ruleTier, historicalTier}

	if apiKey := viper.GetString("anthropic.api_key"); apiKey != "" {
		client, err := llm.NewAnthropicClient(llm.Config{
			APIKey: apiKey,
			Model:  viper.GetString("anthropic.model"),
		})
		if err != nil {
			return nil, nil, err
		}
		strategies = append(strategies, engine.NewResearchStrategy(client, a.document, categories))
	} else {
		slog.Warn("No reasoning provider configured, unmatched transactions will need manual review")
	}

	return engine.New(strategies...), categories, nil
}

func (a *app) tracker() *learning.Tracker {
	return learning.NewTracker(a.store, a.document)
}

// parseSinceDate parses an optional YYYY-MM-DD flag value.
func parseSinceDate(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", value)
	}
	return &parsed, nil
}

// refreshTransactions pulls the latest ledger state into the statistical
// store and returns what remains untagged.
func (a *app) refreshTransactions(ctx context.Context, since *time.Time, limit int) ([]model.Transaction, error) {
	transactions, err := a.ledger.FetchTransactions(ctx, a.budgetID, since)
	if err != nil {
		return nil, fmt.Errorf("fetching transactions: %w", err)
	}
	for _, txn := range transactions {
		if _, err := a.store.UpsertTransaction(ctx, a.budgetID, txn); err != nil {
			return nil, fmt.Errorf("storing transaction %s: %w", txn.ID, err)
		}
	}
	return a.store.QueryUntagged(ctx, a.budgetID, limit)
}
