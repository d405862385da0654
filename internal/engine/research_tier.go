package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ledgertag/internal/common"
	"ledgertag/internal/llm"
	"ledgertag/internal/model"
	"ledgertag/internal/rules"
)

// Appender receives learned web-research entries for the rules document.
type Appender interface {
	Append(ctx context.Context, entry string) error
}

// ResearchStrategy is the terminal decision tier. It always returns a
// decision: either the reasoning provider's categorization or a
// manual-review sentinel when the call or its output cannot be trusted.
type ResearchStrategy struct {
	client     llm.Client
	document   Appender
	categories []model.Category
	retry      common.RetryOptions
}

// NewResearchStrategy creates the research tier. The document may be nil
// when learned-rule capture is disabled.
func NewResearchStrategy(client llm.Client, document Appender, categories []model.Category) *ResearchStrategy {
	return &ResearchStrategy{
		client:     client,
		document:   document,
		categories: categories,
		retry: common.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
		},
	}
}

// Name identifies the tier in logs.
func (s *ResearchStrategy) Name() string { return "research" }

// researchResult is the JSON structure the provider is asked to produce.
// All four fields are required; anything less goes to manual review.
type researchResult struct {
	CategoryID   string  `json:"category_id"`
	CategoryName string  `json:"category_name"`
	BusinessType string  `json:"business_type"`
	Reasoning    string  `json:"reasoning"`
	Confidence   float64 `json:"confidence"`
}

// TryMatch asks the reasoning provider to research the payee. Rate limits
// are retried with backoff; every other failure mode collapses into a
// manual-review decision rather than an error.
func (s *ResearchStrategy) TryMatch(ctx context.Context, txn model.Transaction) (*model.Decision, error) {
	prompt := s.buildPrompt(txn)

	var text string
	err := common.WithRetry(ctx, func() error {
		reply, completeErr := s.client.Complete(ctx, prompt)
		if completeErr != nil {
			return completeErr
		}
		text = reply
		return nil
	}, s.retry)
	if err != nil {
		decision := ManualReviewDecision(txn.ID, fmt.Sprintf("research call failed: %v", err))
		return &decision, nil
	}

	var result researchResult
	if err := json.Unmarshal([]byte(llm.CleanCodeFence(text)), &result); err != nil {
		decision := ManualReviewDecision(txn.ID, fmt.Sprintf("unparseable research response: %v", err))
		return &decision, nil
	}
	if result.CategoryName == "" || result.Reasoning == "" || result.Confidence <= 0 {
		decision := ManualReviewDecision(txn.ID, "research response missing required fields")
		return &decision, nil
	}

	categoryID, categoryName, ok := s.resolveCategory(result.CategoryID, result.CategoryName)
	if !ok {
		decision := ManualReviewDecision(txn.ID,
			fmt.Sprintf("research suggested unknown category %q", result.CategoryName))
		return &decision, nil
	}

	confidence := result.Confidence
	if confidence > 1.0 {
		confidence = 1.0
	}

	s.recordResearch(ctx, txn, result, categoryName)

	return &model.Decision{
		TransactionID: txn.ID,
		CategoryID:    categoryID,
		CategoryName:  categoryName,
		Type:          model.DecisionSingle,
		Tier:          model.TierResearch,
		Method:        "ai_research",
		Confidence:    confidence,
		Reasoning:     result.Reasoning,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// resolveCategory checks the suggestion against the known category list,
// preferring the ID and falling back to a name lookup.
func (s *ResearchStrategy) resolveCategory(id, name string) (string, string, bool) {
	if len(s.categories) == 0 {
		return id, name, true
	}
	for _, cat := range s.categories {
		if id != "" && cat.ID == id {
			return cat.ID, cat.Name, true
		}
	}
	for _, cat := range s.categories {
		if strings.EqualFold(cat.Name, name) {
			return cat.ID, cat.Name, true
		}
	}
	return "", "", false
}

// recordResearch appends a web-research entry to the rules document so the
// next run can decide at the rule tier. Best effort: failures are logged
// and never affect the decision.
func (s *ResearchStrategy) recordResearch(ctx context.Context, txn model.Transaction, result researchResult, categoryName string) {
	if s.document == nil {
		return
	}
	entry := rules.FormatWebResearch(txn.Descriptor(), result.BusinessType, categoryName, result.Reasoning)
	if err := s.document.Append(ctx, entry); err != nil {
		slog.Warn("Failed to record research entry",
			"payee", txn.Descriptor(),
			"error", err)
	}
}

func (s *ResearchStrategy) buildPrompt(txn model.Transaction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research this financial transaction and pick the best category.\n\n")
	fmt.Fprintf(&b, "Payee: %s\n", txn.Descriptor())
	fmt.Fprintf(&b, "Amount: $%.2f\n", float64(txn.Amount)/1000)
	if txn.Memo != "" {
		fmt.Fprintf(&b, "Memo: %s\n", txn.Memo)
	}
	fmt.Fprintf(&b, "Date: %s\n\n", txn.Date.Format("2006-01-02"))

	b.WriteString("Available categories:\n")
	for _, cat := range s.categories {
		if cat.GroupName != "" {
			fmt.Fprintf(&b, "- %s: %s (%s)\n", cat.ID, cat.Name, cat.GroupName)
		} else {
			fmt.Fprintf(&b, "- %s: %s\n", cat.ID, cat.Name)
		}
	}

	b.WriteString("\nRespond with JSON only:\n")
	b.WriteString(`{"category_id": "...", "category_name": "...", "business_type": "...", "confidence": 0.0, "reasoning": "..."}`)
	return b.String()
}
