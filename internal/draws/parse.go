package draws

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Alias1177/HotDigits/models"
	"github.com/rs/zerolog/log"
)

// ErrInvalidWidth is returned for widths that cannot hold a triplet token
var ErrInvalidWidth = errors.New("draw width must be between 3 and 9")

// ErrNoDraws is returned by callers that require at least one valid draw
var ErrNoDraws = errors.New("no valid draws in input")

const lineBufferSize = 4096

// ParseResult is the outcome of reading raw draw text
type ParseResult struct {
	Sequence  models.DrawSequence
	Dropped   int  // lines that were not all-digit or had the wrong width
	Truncated bool // history exceeded maxDraws and was cut to the most recent draws
}

// Parse reads newline-separated draws. A trimmed line becomes a draw only when it
// is all ASCII digits and exactly width characters long; anything else is skipped
// without a diagnostic. Blank lines are not counted as dropped. When maxDraws > 0
// only the most recent maxDraws draws are kept.
func Parse(text string, width, maxDraws int) (ParseResult, error) {
	if width < 3 || width > 9 {
		return ParseResult{}, fmt.Errorf("%w: got %d", ErrInvalidWidth, width)
	}

	var res ParseResult
	var digits []string

	r := bufio.NewReaderSize(strings.NewReader(text), lineBufferSize)
	for {
		raw, isPrefix, err := r.ReadLine()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return ParseResult{}, fmt.Errorf("reading draws: %w", err)
		}
		if isPrefix {
			// longer than the buffer, so it cannot be a draw
			if err := skipLine(r); err != nil {
				return ParseResult{}, fmt.Errorf("reading draws: %w", err)
			}
			res.Dropped++
			continue
		}

		line := strings.TrimSpace(string(raw))
		if line == "" {
			continue
		}
		if len(line) != width || !IsDigits(line) {
			res.Dropped++
			continue
		}
		digits = append(digits, line)
	}

	if maxDraws > 0 && len(digits) > maxDraws {
		digits = digits[len(digits)-maxDraws:]
		res.Truncated = true
	}

	res.Sequence = NewSequence(width, digits)

	log.Debug().
		Str("component", "draws").
		Int("accepted", len(digits)).
		Int("dropped", res.Dropped).
		Bool("truncated", res.Truncated).
		Msg("Parsed draw history")

	return res, nil
}

// skipLine discards the remainder of an over-long line
func skipLine(r *bufio.Reader) error {
	for {
		_, isPrefix, err := r.ReadLine()
		if errors.Is(err, io.EOF) || (err == nil && !isPrefix) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// NewSequence builds a sequence from already validated digit strings
func NewSequence(width int, digits []string) models.DrawSequence {
	seq := models.DrawSequence{Width: width, Draws: make([]models.Draw, len(digits))}
	for i, d := range digits {
		seq.Draws[i] = models.Draw{Index: i, Digits: d}
	}
	return seq
}

// IsDigits reports whether s is non-empty and made of ASCII digits only
func IsDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
