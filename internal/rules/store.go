// Package rules implements the persistent categorization rule store: a
// versioned JSON rule collection with optimistic concurrency, plus the
// human-editable rules document that absorbs learned rules.
package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"ledgertag/internal/common"
	"ledgertag/internal/model"
)

// ruleIDPattern constrains rule IDs to lowercase slugs.
var ruleIDPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// RuleSet is the full rule collection persisted as one document.
// Rule IDs are unique within the set.
type RuleSet struct {
	UpdatedAt time.Time    `json:"updated_at"`
	Rules     []model.Rule `json:"rules"`
}

// Store reads and writes the rule document at a fixed path. The path is
// injected at construction so tests can isolate stores without touching
// any package-level state.
type Store struct {
	path string
}

// NewStore creates a rule store backed by the document at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing document path.
func (s *Store) Path() string {
	return s.path
}

// rawRuleSet defers per-rule decoding so one bad entry cannot sink the
// whole set.
type rawRuleSet struct {
	UpdatedAt time.Time         `json:"updated_at"`
	Rules     []json.RawMessage `json:"rules"`
}

// Load reads the rule set. A missing document yields an empty set, not an
// error. Entries that fail to parse or validate are skipped and logged; a
// document that cannot be parsed as a whole is a StoreIntegrityError.
func (s *Store) Load() (*RuleSet, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Info("rule document not found, starting with empty set", "path", s.path)
			return &RuleSet{}, nil
		}
		return nil, fmt.Errorf("failed to read rule document: %w", err)
	}

	var raw rawRuleSet
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &common.StoreIntegrityError{Path: s.path, Err: err}
	}

	set := &RuleSet{UpdatedAt: raw.UpdatedAt}
	seen := make(map[string]bool, len(raw.Rules))
	for i, entry := range raw.Rules {
		var rule model.Rule
		if err := json.Unmarshal(entry, &rule); err != nil {
			slog.Error("skipping unparseable rule entry", "index", i, "error", err)
			continue
		}
		if err := validateRule(&rule); err != nil {
			slog.Error("skipping invalid rule entry", "index", i, "rule_id", rule.ID, "error", err)
			continue
		}
		if seen[rule.ID] {
			slog.Error("skipping duplicate rule id", "index", i, "rule_id", rule.ID)
			continue
		}
		seen[rule.ID] = true
		set.Rules = append(set.Rules, rule)
	}

	return set, nil
}

// Save writes the rule set atomically: marshal to a temporary file in the
// same directory, then rename over the target. A reader never observes a
// partially written document.
func (s *Store) Save(set *RuleSet) error {
	set.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal rule set: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create rule store directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".rules-*.json.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace rule document: %w", err)
	}

	slog.Debug("saved rule set", "path", s.path, "rules", len(set.Rules))
	return nil
}

// Get returns the rule with the given ID, or nil if it does not exist.
func (s *Store) Get(id string) (*model.Rule, error) {
	set, err := s.Load()
	if err != nil {
		return nil, err
	}
	for i := range set.Rules {
		if set.Rules[i].ID == id {
			rule := set.Rules[i]
			return &rule, nil
		}
	}
	return nil, nil
}

// UpdateOptions tunes Update behavior.
type UpdateOptions struct {
	// Validate re-checks structural constraints before persisting.
	Validate bool
	// CreateIfMissing inserts an unknown ID at version 1 instead of
	// returning ErrNotFound.
	CreateIfMissing bool
}

// UpdateResult reports the persisted version after a successful update.
type UpdateResult struct {
	UpdatedAt time.Time
	Version   int
}

// Update applies an optimistic-locked read-modify-write of a single rule.
// For an existing rule the caller's version must equal the stored version;
// a mismatch is a ConcurrentUpdateError and nothing is written. On success
// the version increments by exactly one, updated_at is refreshed, and
// created_at is preserved from the original.
func (s *Store) Update(id string, rule model.Rule, opts UpdateOptions) (*UpdateResult, error) {
	if !ruleIDPattern.MatchString(id) {
		return nil, common.NewValidationError(id, "rule id must be a lowercase slug (a-z, 0-9, hyphens)")
	}

	rule.ID = id
	if opts.Validate {
		if err := validateRule(&rule); err != nil {
			return nil, err
		}
	}

	set, err := s.Load()
	if err != nil {
		return nil, err
	}

	existing := -1
	for i := range set.Rules {
		if set.Rules[i].ID == id {
			existing = i
			break
		}
	}

	now := time.Now().UTC()
	switch {
	case existing < 0 && !opts.CreateIfMissing:
		return nil, fmt.Errorf("rule %q: %w", id, common.ErrNotFound)

	case existing < 0:
		rule.Version = 1
		rule.CreatedAt = now
		rule.UpdatedAt = now
		set.Rules = append(set.Rules, rule)
		slog.Info("created rule", "rule_id", id)

	default:
		stored := set.Rules[existing]
		if rule.Version != stored.Version {
			return nil, &common.ConcurrentUpdateError{
				RuleID:   id,
				Expected: rule.Version,
				Found:    stored.Version,
			}
		}
		rule.Version = stored.Version + 1
		rule.CreatedAt = stored.CreatedAt
		rule.UpdatedAt = now
		set.Rules[existing] = rule
		slog.Info("updated rule", "rule_id", id, "version", rule.Version)
	}

	if err := s.Save(set); err != nil {
		return nil, err
	}

	return &UpdateResult{Version: rule.Version, UpdatedAt: rule.UpdatedAt}, nil
}

// validateRule checks the structural constraints of a rule: a slug ID, at
// least one pattern, known strategies, priorities within 0-100, and
// compilable regex patterns.
func validateRule(rule *model.Rule) error {
	if !ruleIDPattern.MatchString(rule.ID) {
		return common.NewValidationError(rule.ID, "rule id must be a lowercase slug (a-z, 0-9, hyphens)")
	}
	if rule.Name == "" {
		return common.NewValidationError(rule.ID, "rule name is required")
	}
	if len(rule.Patterns) == 0 {
		return common.NewValidationError(rule.ID, "rule must have at least one pattern")
	}
	if rule.Version < 0 {
		return common.NewValidationError(rule.ID, "rule version must not be negative")
	}

	for i, p := range rule.Patterns {
		if p.Pattern == "" {
			return common.NewValidationError(rule.ID, "pattern %d is empty", i)
		}
		if p.Priority < 0 || p.Priority > 100 {
			return common.NewValidationError(rule.ID, "pattern %d priority %d out of range 0-100", i, p.Priority)
		}
		switch p.Strategy {
		case model.StrategyExact, model.StrategyPrefix, model.StrategyContains:
		case model.StrategyRegex:
			if _, err := regexp.Compile(p.Pattern); err != nil {
				return common.NewValidationError(rule.ID, "pattern %d is not a valid regex: %v", i, err)
			}
		default:
			return common.NewValidationError(rule.ID, "pattern %d has unknown strategy %q", i, p.Strategy)
		}
	}

	return nil
}
