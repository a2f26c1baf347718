// Package metrics provides the Prometheus collectors for the poem feed.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"poetry-feed/pkg/breaker"
	"poetry-feed/pkg/fetcher"
)

const (
	// Namespace is the namespace for all metrics.
	Namespace = "poetry"
)

// Metrics holds all collectors. It implements fetcher.Recorder and
// feed.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	// Fetcher
	FetchAttempts *prometheus.CounterVec
	FetchRuns     prometheus.Counter
	FetchedPoems  prometheus.Counter
	FetchDuration prometheus.Histogram

	// Breaker
	BreakerOpen  prometheus.Gauge
	BreakerTrips prometheus.Counter

	// Feed
	FeedLoads      *prometheus.CounterVec
	FeedAppended   *prometheus.CounterVec
	ActiveSessions prometheus.Gauge

	// Archive
	ArchiveDropped prometheus.Counter
	ArchiveSaved   *prometheus.CounterVec

	// HTTP
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New creates all collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	m := &Metrics{registry: reg}

	m.initFetchMetrics(factory)
	m.initFeedMetrics(factory)
	m.initArchiveMetrics(factory)
	m.initHTTPMetrics(factory)

	return m
}

func (m *Metrics) initFetchMetrics(factory promauto.Factory) {
	m.FetchAttempts = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "fetcher",
		Name:      "attempts_total",
		Help:      "Remote poem requests by outcome",
	}, []string{"outcome"})

	m.FetchRuns = factory.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "fetcher",
		Name:      "runs_total",
		Help:      "Fetcher runs that reached the remote endpoint",
	})

	m.FetchedPoems = factory.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "fetcher",
		Name:      "poems_total",
		Help:      "Poems accepted from the remote endpoint",
	})

	m.FetchDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: "fetcher",
		Name:      "run_duration_seconds",
		Help:      "Duration of fetcher runs",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 10, 30},
	})

	m.BreakerOpen = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "breaker",
		Name:      "open",
		Help:      "Number of session breakers currently open",
	})

	m.BreakerTrips = factory.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "breaker",
		Name:      "trips_total",
		Help:      "Times a breaker opened",
	})
}

func (m *Metrics) initFeedMetrics(factory promauto.Factory) {
	m.FeedLoads = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "feed",
		Name:      "loads_total",
		Help:      "Initial loads and backfills by resulting mode",
	}, []string{"kind", "fallback"})

	m.FeedAppended = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "feed",
		Name:      "poems_appended_total",
		Help:      "Poems added to feeds by source",
	}, []string{"source"})

	m.ActiveSessions = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "feed",
		Name:      "active_sessions",
		Help:      "Live feed sessions",
	})
}

func (m *Metrics) initArchiveMetrics(factory promauto.Factory) {
	m.ArchiveDropped = factory.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "archive",
		Name:      "dropped_total",
		Help:      "Poems dropped because the archive queue was full",
	})

	m.ArchiveSaved = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "archive",
		Name:      "saved_total",
		Help:      "Archive writes by result",
	}, []string{"result"})
}

func (m *Metrics) initHTTPMetrics(factory promauto.Factory) {
	m.HTTPRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route and status",
	}, []string{"method", "route", "status"})

	m.HTTPDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveAttempt implements fetcher.Recorder.
func (m *Metrics) ObserveAttempt(outcome fetcher.Outcome) {
	m.FetchAttempts.WithLabelValues(string(outcome)).Inc()
}

// ObserveRun implements fetcher.Recorder.
func (m *Metrics) ObserveRun(fetched, _ int, elapsed time.Duration) {
	m.FetchRuns.Inc()
	m.FetchedPoems.Add(float64(fetched))
	m.FetchDuration.Observe(elapsed.Seconds())
}

// BreakerChanged is passed as every session breaker's OnStateChange.
func (m *Metrics) BreakerChanged(_, to breaker.State) {
	switch to {
	case breaker.StateOpen:
		m.BreakerOpen.Inc()
		m.BreakerTrips.Inc()
	case breaker.StateClosed:
		m.BreakerOpen.Dec()
	}
}

// ObserveLoad implements feed.Recorder.
func (m *Metrics) ObserveLoad(kind string, fallback bool) {
	m.FeedLoads.WithLabelValues(kind, strconv.FormatBool(fallback)).Inc()
}

// ObserveAppend implements feed.Recorder.
func (m *Metrics) ObserveAppend(source string, n int) {
	m.FeedAppended.WithLabelValues(source).Add(float64(n))
}

// SetActiveSessions implements feed.Recorder.
func (m *Metrics) SetActiveSessions(n int) {
	m.ActiveSessions.Set(float64(n))
}

// ObserveArchive records one archive write.
func (m *Metrics) ObserveArchive(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ArchiveSaved.WithLabelValues(result).Inc()
}

// ObserveArchiveDrop records a poem the archive queue could not accept.
func (m *Metrics) ObserveArchiveDrop() {
	m.ArchiveDropped.Inc()
}

// ObserveHTTP records one HTTP request.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
