// Package metrics exposes the Prometheus counters the watcher records:
// every fallback, dropped record and persistence failure is counted here.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mercari_watcher"

// Fallback kinds.
const (
	FallbackRateCached  = "rate_stale_cache"
	FallbackRateDefault = "rate_default"
	FallbackTranslation = "translation"
)

// Drop reasons.
const (
	DropMissingURL = "missing_url"
	DropPrice      = "price"
	DropPanic      = "panic"
)

// Metrics holds all watcher metrics on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	Fallbacks       *prometheus.CounterVec
	ParseFailures   prometheus.Counter
	DroppedRecords  *prometheus.CounterVec
	FetchRetries    prometheus.Counter
	FetchFailures   prometheus.Counter
	KeywordFailures prometheus.Counter
	Decisions       *prometheus.CounterVec
	PersistFailures *prometheus.CounterVec
	NotifyFailures  *prometheus.CounterVec
	SeenItems       prometheus.Gauge
	CycleDuration   prometheus.Histogram
}

// New creates a Metrics set registered on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		Fallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Fallback values substituted for a degraded dependency.",
		}, []string{"kind"}),
		ParseFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_failures_total",
			Help:      "Price texts with no recognisable amount.",
		}),
		DroppedRecords: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_records_total",
			Help:      "Listing records dropped before reaching the seen store.",
		}, []string{"reason"}),
		FetchRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_retries_total",
			Help:      "Upstream fetch attempts that were retried.",
		}),
		FetchFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_failures_total",
			Help:      "Keyword fetches that failed after all retries.",
		}),
		KeywordFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keyword_failures_total",
			Help:      "Keywords skipped after an unexpected error.",
		}),
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Seen store decisions by outcome.",
		}, []string{"decision"}),
		PersistFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Seen store load/save failures.",
		}, []string{"op"}),
		NotifyFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_failures_total",
			Help:      "Telegram calls that failed.",
		}, []string{"method"}),
		SeenItems: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "seen_items",
			Help:      "Entries currently held by the seen store.",
		}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a full pass over all keywords.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600},
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
