package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// METRICS - Prometheus collectors
// ═══════════════════════════════════════════════════════════════════════════════
//
// Exposed series:
//   • arena_rounds_total                  – completed rounds
//   • arena_decisions_total{model,action} – validated decisions by action
//   • arena_orders_total{model,status}    – orders by fill status
//   • arena_model_errors_total{model,kind}– adapter failures by kind
//   • arena_model_equity_usd{model}       – marked account value (gauge)
//   • arena_round_duration_seconds        – round wall time (histogram)
//
// Registered in init() and served at /metrics when METRICS_ADDR is set.

var (
	mtxRounds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "arena_rounds_total",
			Help: "Completed competition rounds",
		},
	)

	mtxDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arena_decisions_total",
			Help: "Validated decisions by model and action",
		},
		[]string{"model", "action"},
	)

	mtxOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arena_orders_total",
			Help: "Orders by model and fill status",
		},
		[]string{"model", "status"},
	)

	mtxModelErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arena_model_errors_total",
			Help: "Adapter failures by model and kind",
		},
		[]string{"model", "kind"},
	)

	mtxEquity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "arena_model_equity_usd",
			Help: "Marked account value per model in USD",
		},
		[]string{"model"},
	)

	mtxRoundDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "arena_round_duration_seconds",
			Help:    "Round wall time",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)
)

func init() {
	prometheus.MustRegister(mtxRounds, mtxDecisions, mtxOrders)
	prometheus.MustRegister(mtxModelErrors, mtxEquity, mtxRoundDuration)
}

// Helper setters

func IncRound() { mtxRounds.Inc() }

func IncDecision(model, action string) { mtxDecisions.WithLabelValues(model, action).Inc() }

func IncOrder(model, status string) { mtxOrders.WithLabelValues(model, status).Inc() }

func IncModelError(model, kind string) { mtxModelErrors.WithLabelValues(model, kind).Inc() }

func SetModelEquity(model string, v float64) { mtxEquity.WithLabelValues(model).Set(v) }

func ObserveRoundDuration(seconds float64) { mtxRoundDuration.Observe(seconds) }

// Serve starts the /metrics listener in the background. Off when addr is
// empty.
func Serve(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Info().Str("addr", addr).Msg("📊 Metrics listener started")
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error().Err(err).Msg("Metrics listener stopped")
		}
	}()
}
