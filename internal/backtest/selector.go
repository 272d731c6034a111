package backtest

import (
	"context"
	"errors"
	"fmt"

	"github.com/Alias1177/HotDigits/internal/calculate"
	"github.com/Alias1177/HotDigits/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrEmptyGrid is returned when no alpha candidates are configured
var ErrEmptyGrid = errors.New("alpha grid is empty")

// Selector picks the decay rate by walk-forward replay of the draw history
type Selector struct {
	generator *calculate.Generator
	window    int
	topK      int
	logger    zerolog.Logger
}

// NewSelector creates a selector that scores the top-k pairs generated from the
// last window draws before every evaluated position
func NewSelector(generator *calculate.Generator, window, topK int) *Selector {
	return &Selector{
		generator: generator,
		window:    window,
		topK:      topK,
		logger:    log.With().Str("component", "backtest").Logger(),
	}
}

// ValidateGrid checks that the grid is non-empty and every alpha is in (0,1]
func ValidateGrid(grid []float64) error {
	if len(grid) == 0 {
		return ErrEmptyGrid
	}
	for _, a := range grid {
		if err := calculate.ValidateAlpha(a); err != nil {
			return err
		}
	}
	return nil
}

// Select replays positions minHistory..len(seq)-1. For each position the pairs are
// generated from earlier draws only, and a hit is counted when any pair has both of
// its characters somewhere in the actual draw. The alpha with most hits wins; ties
// go to the earlier grid entry, so the result is always a grid member.
func (s *Selector) Select(ctx context.Context, seq []models.Draw, grid []float64, minHistory int) (*models.BacktestResult, error) {
	if err := ValidateGrid(grid); err != nil {
		return nil, err
	}
	if minHistory < 1 {
		minHistory = 1
	}

	result := &models.BacktestResult{
		Grid:       append([]float64(nil), grid...),
		Hits:       make([]int, len(grid)),
		MinHistory: minHistory,
	}
	if len(seq) > minHistory {
		result.Positions = len(seq) - minHistory
	}

	best := 0
	for gi, alpha := range grid {
		hits, err := s.Hits(ctx, seq, alpha, minHistory)
		if err != nil {
			return nil, err
		}
		result.Hits[gi] = hits
		if hits > result.Hits[best] {
			best = gi
		}
	}
	result.Selected = grid[best]

	s.logger.Debug().
		Floats64("grid", grid).
		Ints("hits", result.Hits).
		Int("positions", result.Positions).
		Float64("selected", result.Selected).
		Msg("Alpha selected")

	return result, nil
}

// Hits counts the hit positions for a single alpha
func (s *Selector) Hits(ctx context.Context, seq []models.Draw, alpha float64, minHistory int) (int, error) {
	hits := 0
	for i := minHistory; i < len(seq); i++ {
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("backtest interrupted at position %d: %w", i, err)
		}

		start := i - s.window
		if start < 0 {
			start = 0
		}
		pairs := s.generator.Pairs(seq[start:i], alpha, s.topK)
		if anyHit(pairs, seq[i].Digits) {
			hits++
		}
	}
	return hits, nil
}

func anyHit(pairs []models.ScoredToken, actual string) bool {
	for _, p := range pairs {
		if calculate.PairHit(p.Token, actual) {
			return true
		}
	}
	return false
}
