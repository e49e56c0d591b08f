// Package metrics holds the Prometheus collectors for the calendar pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cache lookup outcomes.
const (
	LookupHit  = "hit"
	LookupMiss = "miss"
	LookupWait = "wait"
)

// Result labels shared by refresh and login counters.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

var (
	// Cache Metrics
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "planningcal_cache_lookups_total",
		Help: "Calendar cache lookups by outcome (hit, miss, wait).",
	}, []string{"outcome"})
	Refreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "planningcal_refreshes_total",
		Help: "Upstream refresh cycles (login + scrape + encode) by result.",
	}, []string{"result"})
	RefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "planningcal_refresh_duration_seconds",
		Help:    "Duration of upstream refresh cycles.",
		Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
	})
	Events = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "planningcal_events",
		Help: "Number of events in the last successfully built calendar.",
	})

	// Portal Metrics
	Logins = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "planningcal_portal_logins_total",
		Help: "Form login attempts against the portal by result.",
	}, []string{"result"})
	SkippedRows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "planningcal_portal_skipped_rows_total",
		Help: "Planning rows skipped because a required field did not parse.",
	})

	// HTTP Metrics
	Requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "planningcal_http_requests_total",
		Help: "Calendar endpoint requests by status code.",
	}, []string{"code"})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
