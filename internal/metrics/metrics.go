package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AnalysesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hotdigits_analyses_total",
		Help: "Completed draw history analyses",
	})

	AnalysisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hotdigits_analysis_duration_seconds",
		Help:    "Wall time of one analysis including backtests",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
	})

	TierInsufficient = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hotdigits_tier_insufficient_total",
		Help: "Tiers skipped because the history was shorter than required",
	}, []string{"tier"})

	BacktestPositions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hotdigits_backtest_positions_total",
		Help: "Walk-forward positions evaluated, summed over every alpha",
	})

	MLPredictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hotdigits_ml_predictions_total",
		Help: "Classifier runs by result",
	}, []string{"result"})

	BotRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hotdigits_bot_requests_total",
		Help: "Telegram updates handled by outcome",
	}, []string{"outcome"})

	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hotdigits_webhook_events_total",
		Help: "Stripe webhook events by type and processing status",
	}, []string{"type", "status"})
)

// Handler exposes the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
