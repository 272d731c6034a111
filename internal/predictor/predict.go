package predictor

import (
	"context"
	"errors"
	"fmt"

	"github.com/Alias1177/HotDigits/models"
	"github.com/rs/zerolog/log"
)

// Options configures PredictNext
type Options struct {
	Window       int   // draws per feature vector
	Epochs       int   // SGD passes
	Seed         int64 // fixes initialisation and shuffling
	MinHistory   int   // extra gate on top of Window+MinExamples
	TargetDigits int   // 1 = last digit, 2 = last pair, 3 = last triplet
}

// RequiredHistory is the least number of draws PredictNext will accept
func (o Options) RequiredHistory() int {
	need := o.Window + MinExamples
	if o.MinHistory > need {
		need = o.MinHistory
	}
	return need
}

// Factory builds the classifier used by PredictNext
type Factory func(classes int) models.DigitPredictor

// SoftmaxFactory returns a factory producing seeded softmax classifiers
func SoftmaxFactory(o Options) Factory {
	return func(classes int) models.DigitPredictor {
		return NewSoftmaxClassifier(SoftmaxOptions{
			Classes: classes,
			Epochs:  o.Epochs,
			Seed:    o.Seed,
		})
	}
}

// PredictNext trains a fresh classifier on the history and predicts the last
// digit(s) of the next draw. Too short a history yields an informational result,
// not an error.
func PredictNext(ctx context.Context, seq []models.Draw, o Options, newModel Factory) (*models.MLResult, error) {
	if o.TargetDigits == 0 {
		o.TargetDigits = 1
	}
	res := &models.MLResult{Seed: o.Seed}

	need := o.RequiredHistory()
	if len(seq) < need {
		res.Message = fmt.Sprintf("insufficient data: need at least %d draws, have %d", need, len(seq))
		return res, nil
	}

	ds, err := BuildDataset(seq, o.Window, o.TargetDigits)
	if errors.Is(err, ErrInsufficientData) {
		res.Message = err.Error()
		return res, nil
	}
	if err != nil {
		return nil, err
	}
	res.Examples = len(ds.Labels)

	model := newModel(ds.Classes)
	if err := model.Train(ctx, ds.Features, ds.Labels); err != nil {
		return nil, fmt.Errorf("training classifier: %w", err)
	}

	class, prob, err := model.Predict(Features(seq[len(seq)-o.Window:]))
	if err != nil {
		return nil, fmt.Errorf("classifier prediction: %w", err)
	}

	res.Sufficient = true
	res.Token = FormatLabel(class, o.TargetDigits)
	res.Probability = prob

	log.Debug().
		Str("component", "predictor").
		Int("examples", res.Examples).
		Str("token", res.Token).
		Float64("probability", prob).
		Msg("Classifier prediction")

	return res, nil
}
