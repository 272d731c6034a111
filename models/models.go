package models

import (
	"sort"
	"time"
)

// Draw is one fixed-width outcome in the historical sequence
type Draw struct {
	Index  int    `json:"index"`  // chronological position, 0 = oldest
	Digits string `json:"digits"` // e.g. "56789"
}

// DrawSequence is an ordered, uniform-width list of draws. Repeats are kept.
type DrawSequence struct {
	Width int    `json:"width"`
	Draws []Draw `json:"draws"`
}

// Len returns the number of draws
func (s DrawSequence) Len() int {
	return len(s.Draws)
}

// Last returns the most recent n draws (fewer if the sequence is shorter)
func (s DrawSequence) Last(n int) []Draw {
	if n >= len(s.Draws) {
		return s.Draws
	}
	if n <= 0 {
		return nil
	}
	return s.Draws[len(s.Draws)-n:]
}

// ScoredToken is a token together with its combined score
type ScoredToken struct {
	Token string  `json:"token"`
	Score float64 `json:"score"`
}

// ScoreTable accumulates weights per token and remembers first-seen order,
// which is the tie-break for ranking.
type ScoreTable struct {
	order  []string
	scores map[string]float64
}

// NewScoreTable creates an empty score table
func NewScoreTable() *ScoreTable {
	return &ScoreTable{scores: make(map[string]float64)}
}

// Add adds weight to token, registering the token on first sight
func (t *ScoreTable) Add(token string, weight float64) {
	if _, ok := t.scores[token]; !ok {
		t.order = append(t.order, token)
	}
	t.scores[token] += weight
}

// Merge adds every entry of other in other's first-seen order
func (t *ScoreTable) Merge(other *ScoreTable) {
	if other == nil {
		return
	}
	for _, token := range other.order {
		t.Add(token, other.scores[token])
	}
}

// Score returns the accumulated weight of token
func (t *ScoreTable) Score(token string) (float64, bool) {
	s, ok := t.scores[token]
	return s, ok
}

// Len returns the number of distinct tokens
func (t *ScoreTable) Len() int {
	return len(t.order)
}

// Tokens returns tokens in first-seen order
func (t *ScoreTable) Tokens() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Ranked returns all tokens by descending score, ties by first-seen order
func (t *ScoreTable) Ranked() []ScoredToken {
	ranked := make([]ScoredToken, 0, len(t.order))
	for _, token := range t.order {
		ranked = append(ranked, ScoredToken{Token: token, Score: t.scores[token]})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

// Top returns at most k highest ranked tokens
func (t *ScoreTable) Top(k int) []ScoredToken {
	ranked := t.Ranked()
	if k >= 0 && len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked
}

// BacktestResult holds the walk-forward hit count for every alpha of the grid
type BacktestResult struct {
	Grid       []float64 `json:"grid"`
	Hits       []int     `json:"hits"`
	Positions  int       `json:"positions"` // evaluated positions per alpha
	Selected   float64   `json:"selected"`
	MinHistory int       `json:"min_history"`
}

// HitRate returns hits/positions for the selected alpha
func (r *BacktestResult) HitRate() float64 {
	if r == nil || r.Positions == 0 {
		return 0
	}
	for i, a := range r.Grid {
		if a == r.Selected {
			return float64(r.Hits[i]) / float64(r.Positions)
		}
	}
	return 0
}

// Tier describes one analysis tier. MinHistory 0 means Window; FixedAlpha 0 means
// the decay rate is selected by backtest over AlphaGrid.
type Tier struct {
	Name        string    `json:"name" yaml:"name"`
	Window      int       `json:"window" yaml:"window"`
	MinHistory  int       `json:"min_history" yaml:"min_history"`
	PairTopK    int       `json:"pair_top_k" yaml:"pair_top_k"`
	TripletTopK int       `json:"triplet_top_k" yaml:"triplet_top_k"`
	FixedAlpha  float64   `json:"fixed_alpha,omitempty" yaml:"fixed_alpha"`
	AlphaGrid   []float64 `json:"alpha_grid,omitempty" yaml:"alpha_grid"`
	Rules       []string  `json:"rules" yaml:"rules"`
}

// RequiredHistory returns the minimum number of draws the tier needs
func (t Tier) RequiredHistory() int {
	if t.MinHistory > 0 {
		return t.MinHistory
	}
	return t.Window
}

// Alpha source constants
const (
	AlphaSourceFixed    = "fixed"
	AlphaSourceBacktest = "backtest"
)

// TierResult is the ranked output of one tier
type TierResult struct {
	Name        string          `json:"name"`
	Window      int             `json:"window"`
	Sufficient  bool            `json:"sufficient"`
	Message     string          `json:"message,omitempty"`
	Alpha       float64         `json:"alpha,omitempty"`
	AlphaSource string          `json:"alpha_source,omitempty"`
	Backtest    *BacktestResult `json:"backtest,omitempty"`
	HotDigit    string          `json:"hot_digit,omitempty"`
	Digits      []ScoredToken   `json:"digits,omitempty"`
	Pairs       []ScoredToken   `json:"pairs,omitempty"`
	Triplets    []ScoredToken   `json:"triplets,omitempty"`
}

// MLResult is the classifier output (or the reason it was skipped)
type MLResult struct {
	Sufficient  bool    `json:"sufficient"`
	Message     string  `json:"message,omitempty"`
	Token       string  `json:"token,omitempty"` // predicted last digit(s)
	Probability float64 `json:"probability,omitempty"`
	Examples    int     `json:"examples"`
	Seed        int64   `json:"seed"`
}

// Analysis is the full response for one submitted history
type Analysis struct {
	DrawCount int          `json:"draw_count"`
	Width     int          `json:"width"`
	Truncated bool         `json:"truncated"`
	Tiers     []TierResult `json:"tiers"`
	ML        *MLResult    `json:"ml,omitempty"`
}

// Payment status constants
const (
	PaymentStatusPending  = "pending"
	PaymentStatusAccepted = "accepted"
	PaymentStatusClosed   = "closed"
)

// BotUser is a Telegram user known to the bot
type BotUser struct {
	UserID       int64     `json:"user_id"`
	ChatID       int64     `json:"chat_id"`
	DrawWidth    int       `json:"draw_width"` // 0 means the configured default
	CreatedAt    time.Time `json:"created_at"`
	LastAnalyzed time.Time `json:"last_analyzed,omitempty"`
}

// UserSubscription represents a bot user's subscription status
type UserSubscription struct {
	UserID               int64     `json:"user_id"`
	ChatID               int64     `json:"chat_id"`
	Status               string    `json:"status"` // pending, accepted, closed
	CreatedAt            time.Time `json:"created_at"`
	ExpiresAt            time.Time `json:"expires_at"`
	PaymentID            string    `json:"payment_id"`
	StripeSubscriptionID string    `json:"stripe_subscription_id"`
}

// IsActive reports whether the subscription grants premium features
func (s *UserSubscription) IsActive() bool {
	return s != nil && s.Status == PaymentStatusAccepted
}
