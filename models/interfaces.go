package models

import "context"

// DigitPredictor is the boundary of the classifier used for next-digit prediction.
// Train consumes flattened digit windows and their labels; Predict returns the most
// probable class and its probability.
type DigitPredictor interface {
	Train(ctx context.Context, features [][]float64, labels []int) error
	Predict(features []float64) (class int, probability float64, err error)
}

// DrawSource supplies raw draw history text
type DrawSource interface {
	FetchText(ctx context.Context) (string, error)
}
