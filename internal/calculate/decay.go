package calculate

import (
	"errors"
	"fmt"
	"math"

	"github.com/Alias1177/HotDigits/models"
)

// ErrInvalidAlpha is returned for decay rates outside (0,1]
var ErrInvalidAlpha = errors.New("alpha must be in (0,1]")

// ValidateAlpha checks that alpha is a usable decay rate
func ValidateAlpha(alpha float64) error {
	if math.IsNaN(alpha) || alpha <= 0 || alpha > 1 {
		return fmt.Errorf("%w: got %v", ErrInvalidAlpha, alpha)
	}
	return nil
}

// DecayWeight is the weight of a token seen rank draws before the most recent one
func DecayWeight(alpha float64, rank int) float64 {
	return math.Pow(alpha, float64(rank))
}

// DecayCount scores tokens by recency-decayed frequency. window holds the tokens of
// each draw in chronological order; the last entry is the most recent draw (rank 0).
// Every occurrence of a token in the list at rank i adds alpha^i.
func DecayCount(window [][]string, alpha float64) *models.ScoreTable {
	table := models.NewScoreTable()
	n := len(window)
	for j, tokens := range window {
		w := DecayWeight(alpha, n-1-j)
		for _, token := range tokens {
			table.Add(token, w)
		}
	}
	return table
}
