package calculate

import (
	"testing"

	"github.com/Alias1177/HotDigits/internal/draws"
	"github.com/Alias1177/HotDigits/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func window(digits ...string) []models.Draw {
	return draws.NewSequence(len(digits[0]), digits).Draws
}

func defaultGenerator(t *testing.T) *Generator {
	t.Helper()
	g, err := NewGenerator(GeneratorOptions{Rules: DefaultRules})
	require.NoError(t, err)
	return g
}

func TestDecayWeightNonIncreasing(t *testing.T) {
	for _, alpha := range []float64{0.05, 0.3, 0.5, 0.77, 0.99, 1.0} {
		prev := DecayWeight(alpha, 0)
		assert.Equal(t, 1.0, prev)
		for rank := 1; rank < 50; rank++ {
			w := DecayWeight(alpha, rank)
			assert.LessOrEqual(t, w, prev, "alpha=%v rank=%d", alpha, rank)
			prev = w
		}
	}
}

func TestDecayCount(t *testing.T) {
	table := DecayCount([][]string{{"a"}, {"a", "b"}, {"a"}}, 0.5)

	a, ok := table.Score("a")
	require.True(t, ok)
	assert.InDelta(t, 0.25+0.5+1.0, a, 1e-12)

	b, ok := table.Score("b")
	require.True(t, ok)
	assert.InDelta(t, 0.5, b, 1e-12)

	assert.Equal(t, []string{"a", "b"}, table.Tokens())
}

func TestDecayCountIsStateless(t *testing.T) {
	in := [][]string{{"12", "34"}, {"12"}}
	first := DecayCount(in, 0.8).Ranked()
	second := DecayCount(in, 0.8).Ranked()
	assert.Equal(t, first, second)
}

func TestValidateAlpha(t *testing.T) {
	assert.NoError(t, ValidateAlpha(1))
	assert.NoError(t, ValidateAlpha(0.01))
	for _, bad := range []float64{0, -0.5, 1.0001} {
		assert.ErrorIs(t, ValidateAlpha(bad), ErrInvalidAlpha)
	}
}

func TestPairTokenCommutative(t *testing.T) {
	for a := byte('0'); a <= '9'; a++ {
		for b := byte('0'); b <= '9'; b++ {
			assert.Equal(t, PairToken(a, b), PairToken(b, a))
		}
	}
	assert.Equal(t, "57", PairToken('7', '5'))
}

func TestPairs(t *testing.T) {
	assert.Equal(t, []string{"12", "13", "14", "23", "24", "34"}, Pairs("1234"))
	assert.Equal(t, []string{"12", "11", "12", "12", "22", "12"}, Pairs("1212"))
	assert.Equal(t, []string{"12", "11", "22"}, DistinctPairs("1212"))
	assert.Equal(t, []string{"45"}, SuffixPair("12354"))
}

func TestTriplet(t *testing.T) {
	assert.Equal(t, []string{"789"}, Triplet("56789", TripletSuffix))
	assert.Equal(t, []string{"567"}, Triplet("56789", TripletPrefix))
}

func TestEqualFrequencyEqualScore(t *testing.T) {
	g := defaultGenerator(t)
	w := window("1234", "5678", "1234", "5678")

	table := g.PairTable(w, 1.0)

	s12, ok := table.Score("12")
	require.True(t, ok)
	s56, ok := table.Score("56")
	require.True(t, ok)
	assert.Equal(t, s12, s56)
	// two decayed occurrences plus one flat bonus each (two_back / previous)
	assert.Equal(t, 3.0, s12)
}

func TestMissingDigitPairs(t *testing.T) {
	g := defaultGenerator(t)
	w := window("0123", "4560", "1234", "5601", "2345")

	assert.Equal(t, "789", MissingDigits(w, MissingDigitsSpan))

	table := g.PairTable(w, 0.7)
	for _, token := range []string{"78", "79", "89"} {
		s, ok := table.Score(token)
		require.True(t, ok, token)
		assert.Greater(t, s, 0.0, token)
	}
}

func TestMissingDigitsUsesLastFiveDraws(t *testing.T) {
	w := window("7777", "0123", "4560", "1234", "5601", "2345")
	assert.Equal(t, "789", MissingDigits(w, MissingDigitsSpan))
	assert.Equal(t, "89", MissingDigits(w, 6))
}

func TestRankingTieBreakFirstSeen(t *testing.T) {
	g, err := NewGenerator(GeneratorOptions{})
	require.NoError(t, err)

	ranked := g.Pairs(window("3412"), 1.0, 10)
	tokens := make([]string, len(ranked))
	for i, r := range ranked {
		tokens[i] = r.Token
	}
	assert.Equal(t, []string{"34", "13", "23", "14", "24", "12"}, tokens)
}

func TestTopKSmallerPool(t *testing.T) {
	g, err := NewGenerator(GeneratorOptions{PairSource: PairsSuffix})
	require.NoError(t, err)

	ranked := g.Pairs(window("1234", "1234"), 0.9, 10)
	require.Len(t, ranked, 1)
	assert.Equal(t, "34", ranked[0].Token)
}

func TestUnknownRule(t *testing.T) {
	_, err := NewGenerator(GeneratorOptions{Rules: []string{"previous", "lunar"}})
	assert.ErrorIs(t, err, ErrUnknownRule)

	_, err = NewGenerator(GeneratorOptions{PairSource: "diagonal"})
	assert.Error(t, err)
}

func TestSynthesizeTriplets(t *testing.T) {
	pairs := []models.ScoredToken{{Token: "12"}, {Token: "34"}}
	assert.Equal(t,
		[]string{"712", "127", "172", "734", "347", "374"},
		SynthesizeTriplets("7", pairs))

	assert.Equal(t, []string{"111"}, SynthesizeTriplets("1", []models.ScoredToken{{Token: "11"}}))
	assert.Nil(t, SynthesizeTriplets("", pairs))
}

func TestTripletTableMergesObservedAndSynthetic(t *testing.T) {
	g := defaultGenerator(t)
	w := window("5712", "9712")

	pairs := []models.ScoredToken{{Token: "12"}}
	table := g.TripletTable(w, 1.0, "7", pairs)

	// "712" is both observed twice and synthesized once
	s, ok := table.Score("712")
	require.True(t, ok)
	assert.Equal(t, 3.0, s)

	s, ok = table.Score("172")
	require.True(t, ok)
	assert.Equal(t, SyntheticTripletWeight, s)

	top := g.Triplets(w, 1.0, "7", pairs, 1)
	require.Len(t, top, 1)
	assert.Equal(t, "712", top[0].Token)
}

func TestHotDigit(t *testing.T) {
	hot, ranked := HotDigit(window("1223", "4556", "7889"), 1.0)
	assert.Equal(t, "2", hot)
	assert.Len(t, ranked, 9)

	// recency decides when alpha is small
	hot, _ = HotDigit(window("1111", "2345"), 0.1)
	assert.Equal(t, "2", hot)

	hot, ranked = HotDigit(nil, 1.0)
	assert.Empty(t, hot)
	assert.Empty(t, ranked)
}

func TestPairHit(t *testing.T) {
	tests := []struct {
		pair   string
		actual string
		want   bool
	}{
		{"12", "5162", true},
		{"12", "2001", true},
		{"11", "1999", true},
		{"12", "3456", false},
		{"19", "1000", false},
		{"1", "1111", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PairHit(tt.pair, tt.actual), "%s in %s", tt.pair, tt.actual)
	}
}
