package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgertag/internal/model"
	"ledgertag/internal/pattern"
	"ledgertag/internal/rules"
	"ledgertag/internal/storage"
)

type stubRuleSource struct {
	set *rules.RuleSet
	err error
}

func (s *stubRuleSource) Load() (*rules.RuleSet, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.set == nil {
		return &rules.RuleSet{}, nil
	}
	return s.set, nil
}

type stubDocSource struct {
	content *rules.DocumentContent
}

func (s *stubDocSource) Load() (*rules.DocumentContent, []rules.ParseError, error) {
	if s.content == nil {
		return &rules.DocumentContent{}, nil, nil
	}
	return s.content, nil, nil
}

type stubHistorical struct {
	match *storage.HistoricalMatch
	err   error
	calls int
}

func (s *stubHistorical) Match(context.Context, model.Transaction) (*storage.HistoricalMatch, error) {
	s.calls++
	return s.match, s.err
}

type stubLLM struct {
	reply string
	err   error
	calls int
}

func (s *stubLLM) Complete(context.Context, string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

type stubAppender struct {
	entries []string
	err     error
}

func (s *stubAppender) Append(_ context.Context, entry string) error {
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, entry)
	return nil
}

func starbucksRuleSet() *rules.RuleSet {
	return &rules.RuleSet{
		Rules: []model.Rule{
			{
				ID:   "coffee-shops",
				Name: "Coffee shop chains",
				Patterns: []model.PatternConfig{
					{Pattern: "Starbucks*", Strategy: model.StrategyPrefix, Priority: 50, Enabled: true},
				},
				Actions: []model.RuleAction{
					{Type: "categorize", CategoryID: "cat-coffee", CategoryName: "Coffee Shops"},
				},
				Version: 1,
			},
		},
	}
}

func testCategories() []model.Category {
	return []model.Category{
		{ID: "cat-coffee", Name: "Coffee Shops", GroupName: "Everyday"},
		{ID: "cat-groceries", Name: "Groceries", GroupName: "Everyday"},
		{ID: "cat-household", Name: "Household", GroupName: "Everyday"},
		{ID: "cat-subscriptions", Name: "Subscriptions", GroupName: "Monthly"},
	}
}

func newRuleTier(store RuleSetSource, doc DocumentSource) *RuleStrategy {
	return NewRuleStrategy(store, doc, pattern.NewMatcher(pattern.DefaultScoring()),
		testCategories(), DefaultThresholds().Rule)
}

func outflow(id, payee string, amount int64) model.Transaction {
	return model.Transaction{
		ID:        id,
		Date:      time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		PayeeName: payee,
		Amount:    amount,
	}
}

func TestDecide_RuleTierWins(t *testing.T) {
	historical := &stubHistorical{
		match: &storage.HistoricalMatch{CategoryID: "cat-other", CategoryName: "Other", Confidence: 0.99},
	}
	eng := New(
		newRuleTier(&stubRuleSource{set: starbucksRuleSet()}, &stubDocSource{}),
		NewHistoricalStrategy(historical),
	)

	decision := eng.Decide(context.Background(), outflow("txn-1", "Starbucks Pike Place", -4500))

	assert.Equal(t, model.TierRule, decision.Tier)
	assert.Equal(t, "Coffee Shops", decision.CategoryName)
	assert.Equal(t, "cat-coffee", decision.CategoryID)
	assert.GreaterOrEqual(t, decision.Confidence, 0.95)
	assert.Equal(t, 0, historical.calls, "a rule hit must short-circuit the historical tier")
}

func TestDecide_ContainsCorePatternDecidesAtRuleTier(t *testing.T) {
	doc := &stubDocSource{content: &rules.DocumentContent{
		CorePatterns: []rules.CoreEntry{
			{Pattern: "*netflix*", Category: "Subscriptions", Strategy: model.StrategyContains},
		},
	}}
	historical := &stubHistorical{}
	eng := New(
		newRuleTier(&stubRuleSource{}, doc),
		NewHistoricalStrategy(historical),
	)

	decision := eng.Decide(context.Background(), outflow("txn-nf", "Netflix.com", -15990))

	assert.Equal(t, model.TierRule, decision.Tier)
	assert.Equal(t, "core_pattern", decision.Method)
	assert.Equal(t, "Subscriptions", decision.CategoryName)
	assert.Equal(t, "cat-subscriptions", decision.CategoryID)
	assert.False(t, decision.NeedsReview)
	assert.Equal(t, 0, historical.calls, "a document pattern hit must short-circuit the historical tier")
}

func TestDecide_RegexStoreRuleDecidesAtRuleTier(t *testing.T) {
	set := &rules.RuleSet{
		Rules: []model.Rule{
			{
				ID:   "streaming",
				Name: "Streaming services",
				Patterns: []model.PatternConfig{
					{Pattern: "spotify", Strategy: model.StrategyRegex, Priority: 100, Enabled: true},
				},
				Actions: []model.RuleAction{
					{Type: "categorize", CategoryID: "cat-subscriptions", CategoryName: "Subscriptions"},
				},
				Version: 1,
			},
		},
	}
	historical := &stubHistorical{}
	eng := New(
		newRuleTier(&stubRuleSource{set: set}, &stubDocSource{}),
		NewHistoricalStrategy(historical),
	)

	decision := eng.Decide(context.Background(), outflow("txn-sp", "PAYPAL *SPOTIFY USA", -10990))

	assert.Equal(t, model.TierRule, decision.Tier)
	assert.Equal(t, "rule_pattern", decision.Method)
	assert.Equal(t, "Subscriptions", decision.CategoryName)
	assert.GreaterOrEqual(t, decision.Confidence, 0.95)
	assert.Equal(t, 0, historical.calls)
}

func TestDecide_TransferIsNeverCategorized(t *testing.T) {
	// Even a rule that matches the payee must not fire for transfers.
	store := &stubRuleSource{set: &rules.RuleSet{
		Rules: []model.Rule{
			{
				ID:   "transfers",
				Name: "Transfers",
				Patterns: []model.PatternConfig{
					{Pattern: "Transfer*", Strategy: model.StrategyPrefix, Priority: 100, Enabled: true},
				},
				Actions: []model.RuleAction{{Type: "categorize", CategoryID: "cat-x", CategoryName: "X"}},
				Version: 1,
			},
		},
	}}
	eng := New(newRuleTier(store, &stubDocSource{}))

	decision := eng.Decide(context.Background(), outflow("txn-1", "Transfer : Savings", -100000))

	assert.True(t, decision.NonCategorizable)
	assert.Empty(t, decision.CategoryName)
	assert.Zero(t, decision.Confidence)
}

func TestDecide_InflowIsNeverCategorized(t *testing.T) {
	eng := New(newRuleTier(&stubRuleSource{}, &stubDocSource{}))

	decision := eng.Decide(context.Background(), outflow("txn-1", "Employer Payroll", 500000))

	assert.True(t, decision.NonCategorizable)
}

func TestDecide_CorrectionOutranksRules(t *testing.T) {
	doc := &stubDocSource{content: &rules.DocumentContent{
		Corrections: []rules.CorrectionEntry{
			{Payee: "Starbucks Pike Place", CorrectCategory: "Groceries", CategoryID: "cat-groceries"},
		},
	}}
	eng := New(newRuleTier(&stubRuleSource{set: starbucksRuleSet()}, doc))

	decision := eng.Decide(context.Background(), outflow("txn-1", "Starbucks Pike Place", -4500))

	assert.Equal(t, "learned_correction", decision.Method)
	assert.Equal(t, "Groceries", decision.CategoryName)
	assert.Equal(t, "cat-groceries", decision.CategoryID)
	assert.Equal(t, 1.0, decision.Confidence)
}

func TestDecide_FallsThroughToHistorical(t *testing.T) {
	historical := &stubHistorical{
		match: &storage.HistoricalMatch{
			CategoryID:   "cat-groceries",
			CategoryName: "Groceries",
			Confidence:   0.85,
			SampleCount:  20,
		},
	}
	eng := New(
		newRuleTier(&stubRuleSource{}, &stubDocSource{}),
		NewHistoricalStrategy(historical),
	)

	decision := eng.Decide(context.Background(), outflow("txn-1", "Local Grocer", -12000))

	assert.Equal(t, model.TierHistorical, decision.Tier)
	assert.Equal(t, "Groceries", decision.CategoryName)
	assert.Equal(t, 0.85, decision.Confidence)
	assert.Contains(t, decision.Reasoning, "20 previous transactions")
}

func TestDecide_SplitPattern(t *testing.T) {
	doc := &stubDocSource{content: &rules.DocumentContent{
		SplitPatterns: []rules.SplitEntry{
			{
				Pattern:  "Costco*",
				Strategy: model.StrategyPrefix,
				Allocations: []rules.PercentAllocation{
					{Category: "Groceries", Percent: 60},
					{Category: "Household", Percent: 30},
					{Category: "Coffee Shops", Percent: 10},
				},
			},
		},
	}}
	eng := New(newRuleTier(&stubRuleSource{}, doc))

	decision := eng.Decide(context.Background(), outflow("txn-1", "Costco Wholesale #42", -10001))

	require.Equal(t, model.DecisionSplit, decision.Type)
	require.Len(t, decision.Allocations, 3)

	var sum int64
	for _, alloc := range decision.Allocations {
		sum += alloc.Amount
	}
	assert.Equal(t, int64(-10001), sum, "allocations must sum exactly to the transaction amount")
	assert.Equal(t, int64(-6000), decision.Allocations[0].Amount)
	assert.Equal(t, "cat-groceries", decision.Allocations[0].CategoryID)
	assert.Equal(t, int64(-3000), decision.Allocations[1].Amount)
	assert.Equal(t, int64(-1001), decision.Allocations[2].Amount, "remainder lands on the last allocation")
}

func TestDecide_ResearchSuccess(t *testing.T) {
	client := &stubLLM{reply: "```json\n" +
		`{"category_id": "cat-household", "category_name": "Household", "business_type": "Hardware store", "confidence": 0.7, "reasoning": "Hardware stores sell household goods"}` +
		"\n```"}
	appender := &stubAppender{}
	eng := New(
		newRuleTier(&stubRuleSource{}, &stubDocSource{}),
		NewResearchStrategy(client, appender, testCategories()),
	)

	decision := eng.Decide(context.Background(), outflow("txn-1", "Ace Hardware", -3500))

	assert.Equal(t, model.TierResearch, decision.Tier)
	assert.Equal(t, "ai_research", decision.Method)
	assert.Equal(t, "Household", decision.CategoryName)
	assert.Equal(t, "cat-household", decision.CategoryID)
	assert.Equal(t, 0.7, decision.Confidence)
	assert.False(t, decision.NeedsReview)

	require.Len(t, appender.entries, 1)
	assert.Contains(t, appender.entries[0], "Ace Hardware")
	assert.Contains(t, appender.entries[0], "Household")
}

func TestDecide_ResearchFailureYieldsManualReview(t *testing.T) {
	client := &stubLLM{err: errors.New("provider unavailable")}
	eng := New(
		newRuleTier(&stubRuleSource{}, &stubDocSource{}),
		NewResearchStrategy(client, nil, testCategories()),
	)

	decision := eng.Decide(context.Background(), outflow("txn-1", "Mystery Vendor", -999))

	assert.Equal(t, model.TierResearch, decision.Tier)
	assert.True(t, decision.NeedsReview)
	assert.Zero(t, decision.Confidence)
	assert.Equal(t, "manual_review", decision.Method)
}

func TestDecide_ResearchBadResponseYieldsManualReview(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"not json", "I think this is Groceries"},
		{"missing fields", `{"category_name": "Groceries"}`},
		{"unknown category", `{"category_id": "cat-nope", "category_name": "Nonexistent", "confidence": 0.9, "reasoning": "made up"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := New(NewResearchStrategy(&stubLLM{reply: tt.reply}, nil, testCategories()))

			decision := eng.Decide(context.Background(), outflow("txn-1", "Mystery Vendor", -999))

			assert.True(t, decision.NeedsReview)
			assert.Zero(t, decision.Confidence)
		})
	}
}

func TestDecide_StrategyErrorFallsThrough(t *testing.T) {
	historical := &stubHistorical{
		match: &storage.HistoricalMatch{CategoryID: "cat-groceries", CategoryName: "Groceries", Confidence: 0.9},
	}
	eng := New(
		newRuleTier(&stubRuleSource{err: errors.New("store unavailable")}, &stubDocSource{}),
		NewHistoricalStrategy(historical),
	)

	decision := eng.Decide(context.Background(), outflow("txn-1", "Local Grocer", -12000))

	assert.Equal(t, model.TierHistorical, decision.Tier)
}

func TestDecideBatch_Summary(t *testing.T) {
	historical := &stubHistorical{
		match: &storage.HistoricalMatch{CategoryID: "cat-groceries", CategoryName: "Groceries", Confidence: 0.9, SampleCount: 5},
	}
	eng := New(
		newRuleTier(&stubRuleSource{set: starbucksRuleSet()}, &stubDocSource{}),
		NewHistoricalStrategy(historical),
	)

	recommendations, summary := eng.DecideBatch(context.Background(), []model.Transaction{
		outflow("txn-1", "Starbucks Reserve", -4000),
		outflow("txn-2", "Local Grocer", -9000),
		outflow("txn-3", "Transfer : Savings", -50000),
	})

	require.Len(t, recommendations, 3)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 1, summary.Rule)
	assert.Equal(t, 1, summary.Historical)
	assert.Equal(t, 1, summary.NonCategorizable)
}
