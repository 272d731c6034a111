package predictor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/Alias1177/HotDigits/models"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// SoftmaxOptions configures the classifier
type SoftmaxOptions struct {
	Classes      int
	Epochs       int
	LearningRate float64
	Seed         int64
}

// SoftmaxClassifier is a multinomial logistic regression trained with SGD.
// Weight initialisation and example order come from Seed, so the same data and
// options always produce the same model.
type SoftmaxClassifier struct {
	opts    SoftmaxOptions
	weights *mat.Dense // classes x features
	bias    *mat.VecDense
}

// NewSoftmaxClassifier creates an untrained classifier
func NewSoftmaxClassifier(opts SoftmaxOptions) *SoftmaxClassifier {
	if opts.Epochs <= 0 {
		opts.Epochs = 60
	}
	if opts.LearningRate <= 0 {
		opts.LearningRate = 0.1
	}
	if opts.Classes <= 0 {
		opts.Classes = 10
	}
	return &SoftmaxClassifier{opts: opts}
}

// Train fits the model; ctx is checked once per epoch
func (c *SoftmaxClassifier) Train(ctx context.Context, features [][]float64, labels []int) error {
	if len(features) != len(labels) {
		return fmt.Errorf("features/labels length mismatch: %d vs %d", len(features), len(labels))
	}
	if len(features) == 0 {
		return ErrInsufficientData
	}
	dim := len(features[0])
	if dim == 0 {
		return errors.New("examples have no features")
	}
	for i, f := range features {
		if len(f) != dim {
			return fmt.Errorf("example %d has %d features, want %d", i, len(f), dim)
		}
		if labels[i] < 0 || labels[i] >= c.opts.Classes {
			return fmt.Errorf("example %d label %d outside [0,%d)", i, labels[i], c.opts.Classes)
		}
	}

	rng := rand.New(rand.NewSource(c.opts.Seed))
	initial := make([]float64, c.opts.Classes*dim)
	for i := range initial {
		initial[i] = (rng.Float64() - 0.5) * 0.02
	}
	c.weights = mat.NewDense(c.opts.Classes, dim, initial)
	c.bias = mat.NewVecDense(c.opts.Classes, nil)

	order := make([]int, len(features))
	for i := range order {
		order[i] = i
	}
	grad := mat.NewVecDense(c.opts.Classes, nil)

	for epoch := 0; epoch < c.opts.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("training interrupted at epoch %d: %w", epoch, err)
		}
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		for _, idx := range order {
			x := mat.NewVecDense(dim, features[idx])
			// cross-entropy gradient: p - onehot(label)
			grad.CopyVec(c.probabilities(x))
			grad.SetVec(labels[idx], grad.AtVec(labels[idx])-1)

			c.weights.RankOne(c.weights, -c.opts.LearningRate, grad, x)
			c.bias.AddScaledVec(c.bias, -c.opts.LearningRate, grad)
		}
	}
	return nil
}

// Predict returns the most probable class; ties go to the lowest class
func (c *SoftmaxClassifier) Predict(features []float64) (int, float64, error) {
	if c.weights == nil {
		return 0, 0, errors.New("classifier is not trained")
	}
	_, dim := c.weights.Dims()
	if len(features) != dim {
		return 0, 0, fmt.Errorf("got %d features, model expects %d", len(features), dim)
	}

	probs := c.probabilities(mat.NewVecDense(dim, features)).RawVector().Data
	best := floats.MaxIdx(probs)
	return best, probs[best], nil
}

func (c *SoftmaxClassifier) probabilities(x mat.Vector) *mat.VecDense {
	logits := mat.NewVecDense(c.opts.Classes, nil)
	logits.MulVec(c.weights, x)
	logits.AddVec(logits, c.bias)

	z := logits.RawVector().Data
	lse := floats.LogSumExp(z)
	for k := range z {
		z[k] = math.Exp(z[k] - lse)
	}
	return logits
}

var _ models.DigitPredictor = (*SoftmaxClassifier)(nil)
