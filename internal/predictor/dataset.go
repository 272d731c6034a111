package predictor

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/Alias1177/HotDigits/models"
)

// ErrInsufficientData is returned when the history cannot yield MinExamples
// training examples
var ErrInsufficientData = errors.New("insufficient data for classifier")

// MinExamples is the least number of training examples the classifier accepts
const MinExamples = 10

// Dataset is the flattened training set derived from a draw history
type Dataset struct {
	Features [][]float64
	Labels   []int
	Classes  int
}

// Classes returns the label space for a target of the last targetDigits digits
func Classes(targetDigits int) int {
	n := 1
	for i := 0; i < targetDigits; i++ {
		n *= 10
	}
	return n
}

// BuildDataset slides a window over the history. Each example is the digits of
// window consecutive draws (flattened, scaled to [0,1]) labelled with the last
// targetDigits digits of the draw that follows.
func BuildDataset(seq []models.Draw, window, targetDigits int) (Dataset, error) {
	if window < 1 {
		return Dataset{}, fmt.Errorf("classifier window must be positive, got %d", window)
	}
	if len(seq) > 0 && (targetDigits < 1 || targetDigits > 3 || targetDigits > len(seq[0].Digits)) {
		return Dataset{}, fmt.Errorf("target digits must be between 1 and 3, got %d", targetDigits)
	}

	ds := Dataset{Classes: Classes(targetDigits)}
	for i := 0; i+window < len(seq); i++ {
		label, err := Label(seq[i+window].Digits, targetDigits)
		if err != nil {
			return Dataset{}, err
		}
		ds.Features = append(ds.Features, Features(seq[i:i+window]))
		ds.Labels = append(ds.Labels, label)
	}

	if len(ds.Features) < MinExamples {
		return ds, fmt.Errorf("%w: %d examples, need %d", ErrInsufficientData, len(ds.Features), MinExamples)
	}
	return ds, nil
}

// Features flattens the digits of the given draws into one vector
func Features(window []models.Draw) []float64 {
	var out []float64
	for _, d := range window {
		for i := 0; i < len(d.Digits); i++ {
			out = append(out, float64(d.Digits[i]-'0')/9.0)
		}
	}
	return out
}

// Label parses the last targetDigits digits of a draw
func Label(digits string, targetDigits int) (int, error) {
	if len(digits) < targetDigits {
		return 0, fmt.Errorf("draw %q shorter than target %d", digits, targetDigits)
	}
	return strconv.Atoi(digits[len(digits)-targetDigits:])
}

// FormatLabel renders a class as a zero-padded token of targetDigits characters
func FormatLabel(class, targetDigits int) string {
	return fmt.Sprintf("%0*d", targetDigits, class)
}
