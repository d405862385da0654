package model

import "time"

// MatchStrategy selects how a pattern is compared against a descriptor.
type MatchStrategy string

// Match strategy constants, strongest to weakest.
const (
	StrategyExact    MatchStrategy = "exact"
	StrategyPrefix   MatchStrategy = "prefix"
	StrategyContains MatchStrategy = "contains"
	StrategyRegex    MatchStrategy = "regex"
)

// PatternConfig is a single matchable pattern within a rule.
type PatternConfig struct {
	Pattern  string        `json:"pattern"`
	Strategy MatchStrategy `json:"strategy"`
	Priority int           `json:"priority"`
	Enabled  bool          `json:"enabled"`
}

// RuleAction describes what a rule does when one of its patterns matches.
type RuleAction struct {
	Type         string `json:"type"`
	CategoryID   string `json:"category_id,omitempty"`
	CategoryName string `json:"category_name,omitempty"`
}

// Rule is a categorization rule held in the rule store. The ID is an
// immutable slug; Version increments by one on every successful update.
type Rule struct {
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Patterns  []PatternConfig   `json:"patterns"`
	Actions   []RuleAction      `json:"actions,omitempty"`
	Version   int               `json:"version"`
}

// Category returns the category name the rule assigns, from its first
// categorize action. Empty if the rule carries no categorize action.
func (r *Rule) Category() (id, name string) {
	for _, a := range r.Actions {
		if a.Type == "categorize" {
			return a.CategoryID, a.CategoryName
		}
	}
	return "", ""
}
