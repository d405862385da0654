// Package pattern provides strategy-based descriptor matching with
// confidence scoring for categorization rules.
package pattern

import (
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"ledgertag/internal/model"
)

// Scoring holds the tunable confidence constants. The relative ordering
// exact > prefix > contains > regex must be preserved.
type Scoring struct {
	ExactBase       float64
	PrefixBase      float64
	ContainsBase    float64
	RegexBase       float64
	LengthBonusCap  float64
	LengthBonusRate float64
	PriorityDivisor float64
}

// DefaultScoring returns the standard score table. The bases sit close
// together so every strategy can clear the rule-tier acceptance threshold
// once length and priority bonuses apply.
func DefaultScoring() Scoring {
	return Scoring{
		ExactBase:       1.0,
		PrefixBase:      0.95,
		ContainsBase:    0.92,
		RegexBase:       0.90,
		LengthBonusCap:  0.1,
		LengthBonusRate: 0.2,
		PriorityDivisor: 1000.0,
	}
}

// Matcher evaluates patterns against normalized descriptors. Compiled
// regexes are cached; an uncompilable pattern never matches and never
// panics. Safe for concurrent use.
type Matcher struct {
	regexCache map[string]*regexp.Regexp
	scoring    Scoring
	mu         sync.RWMutex
}

// NewMatcher creates a matcher with the given scoring table.
func NewMatcher(scoring Scoring) *Matcher {
	return &Matcher{
		regexCache: make(map[string]*regexp.Regexp),
		scoring:    scoring,
	}
}

// Matches reports whether descriptor matches pattern under the given
// strategy. All strategies are case-insensitive.
func (m *Matcher) Matches(descriptor, pat string, strategy model.MatchStrategy) bool {
	descriptor = strings.ToLower(descriptor)

	switch strategy {
	case model.StrategyExact:
		return descriptor == strings.ToLower(pat)
	case model.StrategyPrefix:
		return strings.HasPrefix(descriptor, strings.ToLower(strings.TrimSuffix(pat, "*")))
	case model.StrategyContains:
		return strings.Contains(descriptor, strings.ToLower(strings.Trim(pat, "*")))
	case model.StrategyRegex:
		re := m.compile(pat)
		if re == nil {
			return false
		}
		return re.MatchString(descriptor)
	}

	slog.Error("unknown match strategy", "strategy", strategy)
	return false
}

// Confidence scores a successful match: a per-strategy base, a small bonus
// for pattern length relative to the descriptor, and an optional
// rule-priority boost, clamped to 1.0.
func (m *Matcher) Confidence(strategy model.MatchStrategy, pat, descriptor string, priority int) float64 {
	var base float64
	switch strategy {
	case model.StrategyExact:
		base = m.scoring.ExactBase
	case model.StrategyPrefix:
		base = m.scoring.PrefixBase
	case model.StrategyContains:
		base = m.scoring.ContainsBase
	case model.StrategyRegex:
		base = m.scoring.RegexBase
	default:
		base = 0.5
	}

	var lengthBonus float64
	if len(descriptor) > 0 {
		ratio := float64(len(pat)) / float64(len(descriptor))
		lengthBonus = ratio * m.scoring.LengthBonusRate
		if lengthBonus > m.scoring.LengthBonusCap {
			lengthBonus = m.scoring.LengthBonusCap
		}
	}

	var priorityBoost float64
	if priority > 0 && m.scoring.PriorityDivisor > 0 {
		priorityBoost = float64(priority) / m.scoring.PriorityDivisor
	}

	confidence := base + lengthBonus + priorityBoost
	if confidence > 1.0 {
		confidence = 1.0
	}
	return confidence
}

// compile returns a cached case-insensitive regex for pattern, or nil if
// the pattern does not compile. Failures are logged once per pattern.
func (m *Matcher) compile(pat string) *regexp.Regexp {
	m.mu.RLock()
	re, seen := m.regexCache[pat]
	m.mu.RUnlock()
	if seen {
		return re
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if re, seen = m.regexCache[pat]; seen {
		return re
	}

	re, err := regexp.Compile("(?i)" + pat)
	if err != nil {
		slog.Warn("invalid regex pattern", "pattern", pat, "error", err)
		re = nil
	}
	m.regexCache[pat] = re
	return re
}

// regexMeta are the characters whose presence classifies a bare pattern as
// a regex during strategy detection.
const regexMeta = `^$[](){}|.+?\`

// DetectStrategy classifies a bare pattern string. Precedence: regex
// metacharacters win, then a wildcard marker on both ends means contains,
// a trailing marker alone means prefix, and anything else is exact.
func DetectStrategy(pat string) model.MatchStrategy {
	if strings.ContainsAny(pat, regexMeta) {
		return model.StrategyRegex
	}
	if strings.HasPrefix(pat, "*") && strings.HasSuffix(pat, "*") && len(pat) > 2 {
		return model.StrategyContains
	}
	if strings.HasSuffix(pat, "*") && !strings.HasPrefix(pat, "*") {
		return model.StrategyPrefix
	}
	return model.StrategyExact
}
