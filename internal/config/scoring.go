// Package config provides configuration utilities for the application.
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"ledgertag/internal/pattern"
)

// LoadScoring loads the pattern confidence table from Viper, falling back
// to the standard score per field. The table is validated so that operator
// overrides cannot invert the strategy ordering.
func LoadScoring() (pattern.Scoring, error) {
	scoring := pattern.DefaultScoring()

	overrides := map[string]*float64{
		"scoring.exact_base":       &scoring.ExactBase,
		"scoring.prefix_base":      &scoring.PrefixBase,
		"scoring.contains_base":    &scoring.ContainsBase,
		"scoring.regex_base":       &scoring.RegexBase,
		"scoring.length_bonus_cap": &scoring.LengthBonusCap,
		"scoring.length_bonus":     &scoring.LengthBonusRate,
		"scoring.priority_divisor": &scoring.PriorityDivisor,
	}
	for key, field := range overrides {
		if viper.IsSet(key) {
			*field = viper.GetFloat64(key)
		}
	}

	if err := validateScoring(scoring); err != nil {
		return pattern.Scoring{}, err
	}
	return scoring, nil
}

func validateScoring(s pattern.Scoring) error {
	if !(s.ExactBase > s.PrefixBase && s.PrefixBase > s.ContainsBase && s.ContainsBase > s.RegexBase) {
		return fmt.Errorf("scoring base order must be exact > prefix > contains > regex, got %.2f/%.2f/%.2f/%.2f",
			s.ExactBase, s.PrefixBase, s.ContainsBase, s.RegexBase)
	}
	if s.RegexBase <= 0 {
		return fmt.Errorf("scoring regex base must be positive, got %.2f", s.RegexBase)
	}
	if s.LengthBonusCap < 0 || s.LengthBonusRate < 0 {
		return fmt.Errorf("scoring length bonus values must not be negative")
	}
	if s.PriorityDivisor <= 0 {
		return fmt.Errorf("scoring priority divisor must be positive, got %.2f", s.PriorityDivisor)
	}
	return nil
}
