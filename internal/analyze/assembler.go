package analyze

import (
	"context"
	"fmt"
	"time"

	"github.com/Alias1177/HotDigits/internal/backtest"
	"github.com/Alias1177/HotDigits/internal/calculate"
	"github.com/Alias1177/HotDigits/internal/config"
	"github.com/Alias1177/HotDigits/internal/draws"
	"github.com/Alias1177/HotDigits/internal/metrics"
	"github.com/Alias1177/HotDigits/internal/predictor"
	"github.com/Alias1177/HotDigits/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options configures an Assembler
type Options struct {
	Width         int
	MaxDraws      int
	Tiers         []models.Tier
	PairSource    calculate.PairSource
	TripletSource calculate.TripletSource
	BacktestTopK  int
	EnableML      bool
	ML            predictor.Options
}

// OptionsFromConfig maps application configuration onto assembler options
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Width:         cfg.DrawWidth,
		MaxDraws:      cfg.MaxDraws,
		Tiers:         cfg.Tiers,
		PairSource:    cfg.PairSource,
		TripletSource: cfg.TripletSource,
		BacktestTopK:  cfg.BacktestTopK,
		EnableML:      cfg.EnableML,
		ML: predictor.Options{
			Window:       cfg.MLWindow,
			Epochs:       cfg.MLEpochs,
			Seed:         cfg.MLSeed,
			MinHistory:   cfg.MLMinHistory,
			TargetDigits: cfg.MLTargetDigits,
		},
	}
}

type tierEngine struct {
	tier      models.Tier
	generator *calculate.Generator
	selector  *backtest.Selector
}

// Assembler turns a draw sequence into ranked candidates per tier. It holds only
// configuration, so one Assembler may serve concurrent requests.
type Assembler struct {
	opts     Options
	tiers    []tierEngine
	newModel predictor.Factory
	logger   zerolog.Logger
}

// New validates the options and prepares one generator per tier
func New(opts Options) (*Assembler, error) {
	if opts.BacktestTopK <= 0 {
		opts.BacktestTopK = 5
	}
	a := &Assembler{
		opts:     opts,
		newModel: predictor.SoftmaxFactory(opts.ML),
		logger:   log.With().Str("component", "assembler").Logger(),
	}
	for _, t := range opts.Tiers {
		gen, err := calculate.NewGenerator(calculate.GeneratorOptions{
			PairSource:    opts.PairSource,
			TripletSource: opts.TripletSource,
			Rules:         t.Rules,
		})
		if err != nil {
			return nil, fmt.Errorf("tier %q: %w", t.Name, err)
		}
		if t.FixedAlpha > 0 {
			if err := calculate.ValidateAlpha(t.FixedAlpha); err != nil {
				return nil, fmt.Errorf("tier %q: %w", t.Name, err)
			}
		} else if err := backtest.ValidateGrid(t.AlphaGrid); err != nil {
			return nil, fmt.Errorf("tier %q: %w", t.Name, err)
		}
		a.tiers = append(a.tiers, tierEngine{
			tier:      t,
			generator: gen,
			selector:  backtest.NewSelector(gen, t.Window, opts.BacktestTopK),
		})
	}
	return a, nil
}

// WithPredictor replaces the classifier factory
func (a *Assembler) WithPredictor(f predictor.Factory) *Assembler {
	clone := *a
	clone.newModel = f
	return &clone
}

// WithML returns a copy with the classifier step switched on or off
func (a *Assembler) WithML(enabled bool) *Assembler {
	clone := *a
	clone.opts.EnableML = enabled
	return &clone
}

// AnalyzeText parses raw history text and analyzes it
func (a *Assembler) AnalyzeText(ctx context.Context, text string) (*models.Analysis, error) {
	parsed, err := draws.Parse(text, a.opts.Width, a.opts.MaxDraws)
	if err != nil {
		return nil, err
	}
	if parsed.Sequence.Len() == 0 {
		return nil, draws.ErrNoDraws
	}
	analysis, err := a.Analyze(ctx, parsed.Sequence)
	if err != nil {
		return nil, err
	}
	analysis.Truncated = parsed.Truncated
	return analysis, nil
}

// Analyze runs every tier and the optional classifier over the sequence
func (a *Assembler) Analyze(ctx context.Context, seq models.DrawSequence) (*models.Analysis, error) {
	start := time.Now()

	analysis := &models.Analysis{
		DrawCount: seq.Len(),
		Width:     seq.Width,
		Tiers:     make([]models.TierResult, 0, len(a.tiers)),
	}

	for _, te := range a.tiers {
		res, err := a.analyzeTier(ctx, te, seq)
		if err != nil {
			return nil, err
		}
		analysis.Tiers = append(analysis.Tiers, res)
	}

	if a.opts.EnableML {
		ml, err := predictor.PredictNext(ctx, seq.Draws, a.opts.ML, a.newModel)
		if err != nil {
			return nil, err
		}
		result := "ok"
		if !ml.Sufficient {
			result = "insufficient"
		}
		metrics.MLPredictions.WithLabelValues(result).Inc()
		analysis.ML = ml
	}

	metrics.AnalysesTotal.Inc()
	metrics.AnalysisDuration.Observe(time.Since(start).Seconds())

	a.logger.Debug().
		Int("draws", seq.Len()).
		Int("tiers", len(analysis.Tiers)).
		Dur("elapsed", time.Since(start)).
		Msg("Analysis complete")

	return analysis, nil
}

func (a *Assembler) analyzeTier(ctx context.Context, te tierEngine, seq models.DrawSequence) (models.TierResult, error) {
	t := te.tier
	res := models.TierResult{Name: t.Name, Window: t.Window}

	need := t.RequiredHistory()
	if seq.Len() < need {
		res.Message = fmt.Sprintf("insufficient data: need at least %d draws, have %d", need, seq.Len())
		metrics.TierInsufficient.WithLabelValues(t.Name).Inc()
		return res, nil
	}

	if t.FixedAlpha > 0 {
		res.Alpha = t.FixedAlpha
		res.AlphaSource = models.AlphaSourceFixed
	} else {
		bt, err := te.selector.Select(ctx, seq.Draws, t.AlphaGrid, need)
		if err != nil {
			return res, fmt.Errorf("tier %q backtest: %w", t.Name, err)
		}
		metrics.BacktestPositions.Add(float64(bt.Positions * len(bt.Grid)))
		res.Alpha = bt.Selected
		res.AlphaSource = models.AlphaSourceBacktest
		res.Backtest = bt
	}

	window := seq.Last(t.Window)
	hot, digits := calculate.HotDigit(window, res.Alpha)
	pairs := te.generator.Pairs(window, res.Alpha, t.PairTopK)

	res.Sufficient = true
	res.HotDigit = hot
	res.Digits = digits
	res.Pairs = pairs
	res.Triplets = te.generator.Triplets(window, res.Alpha, hot, pairs, t.TripletTopK)
	return res, nil
}
