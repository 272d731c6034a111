package calculate

import (
	"errors"
	"fmt"

	"github.com/Alias1177/HotDigits/models"
)

// ErrUnknownRule is returned when a configured augmentation rule does not exist
var ErrUnknownRule = errors.New("unknown augmentation rule")

// MissingDigitsSpan is how many recent draws are scanned for absent digits
const MissingDigitsSpan = 5

// Augmentation rule names
const (
	RulePrevious = "previous"
	RuleTwoBack  = "two_back"
	RuleMissing  = "missing"
)

// DefaultRules is the rule set applied when a tier does not name its own
var DefaultRules = []string{RulePrevious, RuleTwoBack, RuleMissing}

// Rule is a flat, non-decayed bonus over a window of draws. Tokens returns the
// tokens that receive Weight; each token is rewarded once per rule.
type Rule struct {
	Name   string
	Weight float64
	Tokens func(window []models.Draw) []string
}

var ruleRegistry = map[string]Rule{
	RulePrevious: {Name: RulePrevious, Weight: 1, Tokens: previousDrawPairs(1)},
	RuleTwoBack:  {Name: RuleTwoBack, Weight: 1, Tokens: previousDrawPairs(2)},
	RuleMissing:  {Name: RuleMissing, Weight: 1, Tokens: missingDigitPairs},
}

// LookupRules resolves rule names in the given order
func LookupRules(names []string) ([]Rule, error) {
	rules := make([]Rule, 0, len(names))
	for _, name := range names {
		r, ok := ruleRegistry[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownRule, name)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// ApplyRules adds every rule's bonus to table, rules in order
func ApplyRules(table *models.ScoreTable, window []models.Draw, rules []Rule) {
	for _, r := range rules {
		for _, token := range distinct(r.Tokens(window)) {
			table.Add(token, r.Weight)
		}
	}
}

// previousDrawPairs rewards the 2-combinations of the draw back positions before
// the end of the window (1 = most recent draw)
func previousDrawPairs(back int) func([]models.Draw) []string {
	return func(window []models.Draw) []string {
		if len(window) < back {
			return nil
		}
		return DistinctPairs(window[len(window)-back].Digits)
	}
}

func missingDigitPairs(window []models.Draw) []string {
	if len(window) == 0 {
		return nil
	}
	return Pairs(MissingDigits(window, MissingDigitsSpan))
}
