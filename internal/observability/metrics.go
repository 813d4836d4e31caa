// Package observability exposes engine metrics, component health and the
// HTTP status surface.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultLatencyBuckets are tick handling latency buckets in seconds.
var DefaultLatencyBuckets = []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1}

// Recorder records engine metrics on its own registry. A nil *Recorder is
// valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	ticks      *prometheus.CounterVec
	decisions  *prometheus.CounterVec
	skips      *prometheus.CounterVec
	dispatched *prometheus.CounterVec
	outcomes   *prometheus.CounterVec
	profit     *prometheus.CounterVec
	balance    prometheus.Gauge
	heat       *prometheus.GaugeVec
	autoPaused prometheus.Gauge
	openTrades prometheus.Gauge
	latency    prometheus.Histogram
}

// NewRecorder creates a recorder. namespace prefixes every metric.
func NewRecorder(namespace string) *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		ticks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Ticks handled by the engine",
		}, []string{"symbol"}),
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Selected trade decisions",
		}, []string{"strategy", "signal"}),
		skips: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skips_total",
			Help:      "Trade opportunities skipped, by reason code",
		}, []string{"code"}),
		dispatched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_dispatched_total",
			Help:      "Orders sent to the venue",
		}, []string{"strategy", "symbol"}),
		outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trade_outcomes_total",
			Help:      "Settled trades by result",
		}, []string{"strategy", "result"}),
		profit: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trade_profit_abs_total",
			Help:      "Absolute settled profit by sign",
		}, []string{"sign"}),
		balance: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "balance",
			Help:      "Account balance as tracked by the engine",
		}),
		heat: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "market_heat",
			Help:      "Market heat index per symbol (0-100)",
		}, []string{"symbol"}),
		autoPaused: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "auto_paused",
			Help:      "1 while a safety limit holds the engine paused",
		}),
		openTrades: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_trades",
			Help:      "Dispatched trades awaiting an outcome",
		}),
		latency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Time spent handling one tick",
			Buckets:   DefaultLatencyBuckets,
		}),
	}
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) Tick(symbol string, took time.Duration) {
	if r == nil {
		return
	}
	r.ticks.WithLabelValues(symbol).Inc()
	r.latency.Observe(took.Seconds())
}

func (r *Recorder) Decision(strategyName, signal string) {
	if r == nil {
		return
	}
	r.decisions.WithLabelValues(strategyName, signal).Inc()
}

func (r *Recorder) Skip(code string) {
	if r == nil {
		return
	}
	r.skips.WithLabelValues(code).Inc()
}

func (r *Recorder) Dispatched(strategyName, symbol string) {
	if r == nil {
		return
	}
	r.dispatched.WithLabelValues(strategyName, symbol).Inc()
}

// Outcome records one settled trade. A zero profit counts as a loss.
func (r *Recorder) Outcome(strategyName string, profit float64) {
	if r == nil {
		return
	}
	if profit > 0 {
		r.outcomes.WithLabelValues(strategyName, "win").Inc()
		r.profit.WithLabelValues("gain").Add(profit)
		return
	}
	r.outcomes.WithLabelValues(strategyName, "loss").Inc()
	r.profit.WithLabelValues("loss").Add(-profit)
}

func (r *Recorder) SetBalance(v float64) {
	if r == nil {
		return
	}
	r.balance.Set(v)
}

func (r *Recorder) SetHeat(symbol string, heat float64) {
	if r == nil {
		return
	}
	r.heat.WithLabelValues(symbol).Set(heat)
}

func (r *Recorder) SetAutoPaused(paused bool) {
	if r == nil {
		return
	}
	v := 0.0
	if paused {
		v = 1
	}
	r.autoPaused.Set(v)
}

func (r *Recorder) SetOpenTrades(n int) {
	if r == nil {
		return
	}
	r.openTrades.Set(float64(n))
}
