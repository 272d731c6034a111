package calculate

import (
	"fmt"

	"github.com/Alias1177/HotDigits/models"
)

// PairSource selects how pair tokens are extracted from a draw
type PairSource string

// TripletSource selects which 3-character substring of a draw is a triplet token
type TripletSource string

const (
	PairsCombinations PairSource = "combinations" // every 2-combination of the digits
	PairsSuffix       PairSource = "suffix"       // last two digits only

	TripletSuffix TripletSource = "suffix" // last three digits
	TripletPrefix TripletSource = "prefix" // first three digits
)

// SyntheticTripletWeight is the flat bonus of every hot-digit triplet
const SyntheticTripletWeight = 1.0

// GeneratorOptions configures a Generator
type GeneratorOptions struct {
	PairSource    PairSource
	TripletSource TripletSource
	Rules         []string
}

// Generator derives pair and triplet candidates from a window of draws
type Generator struct {
	pairSource    PairSource
	tripletSource TripletSource
	rules         []Rule
}

// NewGenerator validates options and resolves the augmentation rules
func NewGenerator(opts GeneratorOptions) (*Generator, error) {
	if opts.PairSource == "" {
		opts.PairSource = PairsCombinations
	}
	if opts.TripletSource == "" {
		opts.TripletSource = TripletSuffix
	}
	switch opts.PairSource {
	case PairsCombinations, PairsSuffix:
	default:
		return nil, fmt.Errorf("unknown pair source %q", opts.PairSource)
	}
	switch opts.TripletSource {
	case TripletSuffix, TripletPrefix:
	default:
		return nil, fmt.Errorf("unknown triplet source %q", opts.TripletSource)
	}

	rules, err := LookupRules(opts.Rules)
	if err != nil {
		return nil, err
	}

	return &Generator{
		pairSource:    opts.PairSource,
		tripletSource: opts.TripletSource,
		rules:         rules,
	}, nil
}

// PairTable merges the decayed pair frequencies with every augmentation bonus
func (g *Generator) PairTable(window []models.Draw, alpha float64) *models.ScoreTable {
	extract := Pairs
	if g.pairSource == PairsSuffix {
		extract = SuffixPair
	}
	table := DecayCount(tokenize(window, extract), alpha)
	ApplyRules(table, window, g.rules)
	return table
}

// Pairs returns the top k pair candidates
func (g *Generator) Pairs(window []models.Draw, alpha float64, k int) []models.ScoredToken {
	return g.PairTable(window, alpha).Top(k)
}

// TripletTable merges decayed observed triplets with the hot-digit synthetic set
func (g *Generator) TripletTable(window []models.Draw, alpha float64, hotDigit string, pairs []models.ScoredToken) *models.ScoreTable {
	table := DecayCount(tokenize(window, func(d string) []string {
		return Triplet(d, g.tripletSource)
	}), alpha)
	for _, token := range SynthesizeTriplets(hotDigit, pairs) {
		table.Add(token, SyntheticTripletWeight)
	}
	return table
}

// Triplets returns the top k triplet candidates
func (g *Generator) Triplets(window []models.Draw, alpha float64, hotDigit string, pairs []models.ScoredToken, k int) []models.ScoredToken {
	return g.TripletTable(window, alpha, hotDigit, pairs).Top(k)
}

// SynthesizeTriplets combines the hot digit with each pair as hot+pair, pair+hot
// and pair[0]+hot+pair[1]. The result is a set kept in first-occurrence order.
func SynthesizeTriplets(hotDigit string, pairs []models.ScoredToken) []string {
	if len(hotDigit) != 1 {
		return nil
	}
	out := make([]string, 0, len(pairs)*3)
	for _, p := range pairs {
		if len(p.Token) != 2 {
			continue
		}
		out = append(out,
			hotDigit+p.Token,
			p.Token+hotDigit,
			p.Token[:1]+hotDigit+p.Token[1:],
		)
	}
	return distinct(out)
}

// HotDigit returns the digit with the highest decayed frequency in the window and
// the full ranked digit table. Ties go to the digit seen first.
func HotDigit(window []models.Draw, alpha float64) (string, []models.ScoredToken) {
	ranked := DecayCount(tokenize(window, SingleDigits), alpha).Ranked()
	if len(ranked) == 0 {
		return "", nil
	}
	return ranked[0].Token, ranked
}

func tokenize(window []models.Draw, extract func(string) []string) [][]string {
	out := make([][]string, len(window))
	for i, d := range window {
		out[i] = extract(d.Digits)
	}
	return out
}
