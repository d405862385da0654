package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ledgertag/internal/model"
	"ledgertag/internal/pattern"
	"ledgertag/internal/rules"
)

// RuleSetSource provides the versioned rule collection.
type RuleSetSource interface {
	Load() (*rules.RuleSet, error)
}

// DocumentSource provides the parsed human-editable rules document.
type DocumentSource interface {
	Load() (*rules.DocumentContent, []rules.ParseError, error)
}

// RuleStrategy is the first decision tier: learned corrections, then store
// rules, then the document's core and split patterns, in that order. Rule
// order is never reshuffled by confidence; the threshold gates store-rule
// matches only, hand-curated document entries win on any match.
type RuleStrategy struct {
	store      RuleSetSource
	document   DocumentSource
	matcher    *pattern.Matcher
	categories map[string]string
	threshold  float64
}

// NewRuleStrategy creates the rule tier. The category list is used to
// resolve category names from document entries back to ledger IDs.
func NewRuleStrategy(store RuleSetSource, document DocumentSource, matcher *pattern.Matcher, categories []model.Category, threshold float64) *RuleStrategy {
	index := make(map[string]string, len(categories))
	for _, cat := range categories {
		index[strings.ToLower(cat.Name)] = cat.ID
	}
	return &RuleStrategy{
		store:      store,
		document:   document,
		matcher:    matcher,
		categories: index,
		threshold:  threshold,
	}
}

// Name identifies the tier in logs.
func (s *RuleStrategy) Name() string { return "rule" }

// TryMatch runs the transaction through every rule source. Returns nil when
// nothing matches at or above the threshold.
func (s *RuleStrategy) TryMatch(ctx context.Context, txn model.Transaction) (*model.Decision, error) {
	descriptor := txn.Descriptor()
	if descriptor == "" {
		return nil, nil
	}

	content, parseErrors, err := s.document.Load()
	if err != nil {
		return nil, fmt.Errorf("loading rules document: %w", err)
	}
	if len(parseErrors) > 0 {
		slog.Debug("Rules document has unparseable entries", "count", len(parseErrors))
	}

	if decision := s.matchCorrection(txn, descriptor, content.Corrections); decision != nil {
		return decision, nil
	}

	decision, err := s.matchStoreRules(txn, descriptor)
	if err != nil {
		return nil, err
	}
	if decision != nil {
		return decision, nil
	}

	if decision := s.matchCorePatterns(txn, descriptor, content.CorePatterns); decision != nil {
		return decision, nil
	}
	return s.matchSplitPatterns(txn, descriptor, content.SplitPatterns), nil
}

// matchCorrection checks learned exact-payee corrections. These outrank
// every other rule source and carry full confidence.
func (s *RuleStrategy) matchCorrection(txn model.Transaction, descriptor string, corrections []rules.CorrectionEntry) *model.Decision {
	for _, entry := range corrections {
		if !strings.EqualFold(descriptor, entry.Payee) {
			continue
		}
		categoryID := entry.CategoryID
		if categoryID == "" {
			categoryID = s.resolveCategory(entry.CorrectCategory)
		}
		return &model.Decision{
			TransactionID: txn.ID,
			CategoryID:    categoryID,
			CategoryName:  entry.CorrectCategory,
			Type:          model.DecisionSingle,
			Tier:          model.TierRule,
			Method:        "learned_correction",
			Confidence:    1.0,
			Reasoning:     fmt.Sprintf("User previously corrected %q to %q", entry.Payee, entry.CorrectCategory),
			Timestamp:     time.Now().UTC(),
		}
	}
	return nil
}

func (s *RuleStrategy) matchStoreRules(txn model.Transaction, descriptor string) (*model.Decision, error) {
	set, err := s.store.Load()
	if err != nil {
		return nil, fmt.Errorf("loading rule store: %w", err)
	}

	for _, rule := range set.Rules {
		for _, pc := range rule.Patterns {
			if !pc.Enabled {
				continue
			}
			if !s.matcher.Matches(descriptor, pc.Pattern, pc.Strategy) {
				continue
			}
			confidence := s.matcher.Confidence(pc.Strategy, pc.Pattern, descriptor, pc.Priority)
			if confidence < s.threshold {
				continue
			}
			categoryID, categoryName := rule.Category()
			if categoryName == "" {
				continue
			}
			return &model.Decision{
				TransactionID: txn.ID,
				CategoryID:    categoryID,
				CategoryName:  categoryName,
				Type:          model.DecisionSingle,
				Tier:          model.TierRule,
				Method:        "rule_pattern",
				Confidence:    confidence,
				Reasoning:     fmt.Sprintf("Matched rule %q pattern %q (%s)", rule.Name, pc.Pattern, pc.Strategy),
				Timestamp:     time.Now().UTC(),
			}, nil
		}
	}
	return nil, nil
}

// matchCorePatterns accepts any matching document entry. Document patterns
// are curated by hand, so unlike store rules their confidence is reported
// but not gated by the threshold.
func (s *RuleStrategy) matchCorePatterns(txn model.Transaction, descriptor string, entries []rules.CoreEntry) *model.Decision {
	for _, entry := range entries {
		if !s.matcher.Matches(descriptor, entry.Pattern, entry.Strategy) {
			continue
		}
		confidence := s.matcher.Confidence(entry.Strategy, entry.Pattern, descriptor, 0)
		return &model.Decision{
			TransactionID: txn.ID,
			CategoryID:    s.resolveCategory(entry.Category),
			CategoryName:  entry.Category,
			Type:          model.DecisionSingle,
			Tier:          model.TierRule,
			Method:        "core_pattern",
			Confidence:    confidence,
			Reasoning:     fmt.Sprintf("Matched core pattern %q (%s)", entry.Pattern, entry.Strategy),
			Timestamp:     time.Now().UTC(),
		}
	}
	return nil
}

func (s *RuleStrategy) matchSplitPatterns(txn model.Transaction, descriptor string, entries []rules.SplitEntry) *model.Decision {
	for _, entry := range entries {
		if !s.matcher.Matches(descriptor, entry.Pattern, entry.Strategy) {
			continue
		}
		confidence := s.matcher.Confidence(entry.Strategy, entry.Pattern, descriptor, 0)
		allocations := s.splitAmounts(txn.Amount, entry.Allocations)
		return &model.Decision{
			TransactionID: txn.ID,
			Type:          model.DecisionSplit,
			Tier:          model.TierRule,
			Method:        "split_pattern",
			Confidence:    confidence,
			Allocations:   allocations,
			Reasoning:     fmt.Sprintf("Matched split pattern %q across %d categories", entry.Pattern, len(allocations)),
			Timestamp:     time.Now().UTC(),
		}
	}
	return nil
}

// splitAmounts divides the transaction amount by the entry's percentages
// using integer arithmetic. Truncation remainders land on the last
// allocation so the slices always sum exactly to the total.
func (s *RuleStrategy) splitAmounts(total int64, allocations []rules.PercentAllocation) []model.SplitAllocation {
	result := make([]model.SplitAllocation, len(allocations))
	var assigned int64
	for i, alloc := range allocations {
		var amount int64
		if i == len(allocations)-1 {
			amount = total - assigned
		} else {
			amount = total * int64(alloc.Percent) / 100
			assigned += amount
		}
		result[i] = model.SplitAllocation{
			CategoryID:   s.resolveCategory(alloc.Category),
			CategoryName: alloc.Category,
			Memo:         fmt.Sprintf("%d%% allocation", alloc.Percent),
			Amount:       amount,
		}
	}
	return result
}

func (s *RuleStrategy) resolveCategory(name string) string {
	return s.categories[strings.ToLower(name)]
}
