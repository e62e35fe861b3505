// Package metrics exposes Prometheus series for the trading loop.
package metrics

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	OutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fxbot_outcomes_total", Help: "Symbol evaluations by outcome kind and reason"},
		[]string{"symbol", "kind", "reason"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fxbot_orders_total", Help: "Orders confirmed by the broker"},
		[]string{"symbol", "side"},
	)
	Probability = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "fxbot_probability", Help: "Latest probability score per symbol and side"},
		[]string{"symbol", "side"},
	)
	TradesToday = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "fxbot_trades_today", Help: "Trades opened on the current UTC day"},
		[]string{"symbol"},
	)
	AccountBalance = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "fxbot_account_balance", Help: "Account balance seen at the start of the latest pass"},
	)
	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "fxbot_open_positions", Help: "Open positions carrying the bot tag"},
	)
	PassErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "fxbot_pass_errors_total", Help: "Polling passes aborted by an error"},
	)
	PassDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "fxbot_pass_duration_seconds", Help: "Wall time of one polling pass", Buckets: prometheus.DefBuckets},
	)
)

func init() {
	prometheus.MustRegister(OutcomesTotal, OrdersTotal, Probability, TradesToday, AccountBalance, OpenPositions, PassErrorsTotal, PassDuration)
}

// Serve starts the /metrics endpoint in the background. The caller owns shutdown.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server stopped", "addr", addr, "error", err)
		}
	}()
	return srv
}
