package calculate

import (
	"strings"

	"github.com/Alias1177/HotDigits/models"
)

// PairToken builds the canonical pair token: characters sorted, so order never
// creates a distinct identity.
func PairToken(a, b byte) string {
	if b < a {
		a, b = b, a
	}
	return string([]byte{a, b})
}

// Pairs returns every positional 2-combination of the digits, canonicalized.
// Repeated combinations (e.g. "12" twice in "1212") are all returned.
func Pairs(digits string) []string {
	out := make([]string, 0, len(digits)*(len(digits)-1)/2)
	for i := 0; i < len(digits); i++ {
		for j := i + 1; j < len(digits); j++ {
			out = append(out, PairToken(digits[i], digits[j]))
		}
	}
	return out
}

// DistinctPairs returns the 2-combinations of the digits without repeats,
// in first-occurrence order
func DistinctPairs(digits string) []string {
	return distinct(Pairs(digits))
}

// SuffixPair returns the canonical pair built from the last two characters
func SuffixPair(digits string) []string {
	if len(digits) < 2 {
		return nil
	}
	n := len(digits)
	return []string{PairToken(digits[n-2], digits[n-1])}
}

// Triplet returns the designated 3-character substring of the draw
func Triplet(digits string, source TripletSource) []string {
	if len(digits) < 3 {
		return nil
	}
	if source == TripletPrefix {
		return []string{digits[:3]}
	}
	return []string{digits[len(digits)-3:]}
}

// SingleDigits returns each character of the draw as a token
func SingleDigits(digits string) []string {
	out := make([]string, len(digits))
	for i := 0; i < len(digits); i++ {
		out[i] = digits[i : i+1]
	}
	return out
}

// MissingDigits returns, in ascending order, the digits 0-9 that do not appear in
// the concatenation of the last span draws of the window.
func MissingDigits(window []models.Draw, span int) string {
	if span > len(window) {
		span = len(window)
	}
	var seen [10]bool
	for _, d := range window[len(window)-span:] {
		for i := 0; i < len(d.Digits); i++ {
			seen[d.Digits[i]-'0'] = true
		}
	}
	var b strings.Builder
	for digit := 0; digit < 10; digit++ {
		if !seen[digit] {
			b.WriteByte(byte('0' + digit))
		}
	}
	return b.String()
}

// PairHit is the backtest hit rule: each character of the pair appears somewhere in
// the actual draw. Position and multiplicity are ignored.
func PairHit(pair, actual string) bool {
	if len(pair) != 2 {
		return false
	}
	return strings.IndexByte(actual, pair[0]) >= 0 && strings.IndexByte(actual, pair[1]) >= 0
}

func distinct(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
