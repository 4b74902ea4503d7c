package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the place registry
type Metrics struct {
	placesCreated   prometheus.Counter
	createFailures  *prometheus.CounterVec
	rollbacks       prometheus.Counter
	orphanWindows   prometheus.Counter
	nearbyQueries   prometheus.Counter
	nearbyResults   prometheus.Histogram
	missingDetails  prometheus.Counter
	detailCacheHits prometheus.Counter
	createLatency   prometheus.Histogram
	nearbyLatency   prometheus.Histogram
	orphansDetected prometheus.Gauge
	orphansRemoved  prometheus.Counter
}

// NewMetrics creates all registry metrics and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		placesCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "places_created_total",
				Help: "Total number of places committed to both stores",
			},
		),
		createFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "places_create_failures_total",
				Help: "Total number of failed place creations by error kind",
			},
			[]string{"kind"},
		),
		rollbacks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "places_object_store_rollbacks_total",
				Help: "Object store scopes aborted because the geo index write failed",
			},
		),
		orphanWindows: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "places_orphan_windows_total",
				Help: "Object store commits that failed after the geo index row was written",
			},
		),
		nearbyQueries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "places_nearby_queries_total",
				Help: "Total number of nearby queries served",
			},
		),
		nearbyResults: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "places_nearby_results",
				Help:    "Number of results returned per nearby query",
				Buckets: []float64{0, 1, 5, 10, 25, 50},
			},
		),
		missingDetails: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "places_missing_details_total",
				Help: "Index entries returned without a backing object",
			},
		),
		detailCacheHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "places_detail_cache_hits_total",
				Help: "Place details served from the in-process cache",
			},
		),
		createLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "places_create_latency_ms",
				Help:    "Latency of place creation in milliseconds",
				Buckets: []float64{1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
		),
		nearbyLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "places_nearby_latency_ms",
				Help:    "Latency of nearby queries in milliseconds",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500},
			},
		),
		orphansDetected: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "places_orphans_detected",
				Help: "Orphan index entries found by the last reconcile run",
			},
		),
		orphansRemoved: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "places_orphans_removed_total",
				Help: "Orphan index entries deleted by reconcile runs",
			},
		),
	}
}

// IncrementPlacesCreated counts a fully committed place.
func (m *Metrics) IncrementPlacesCreated() { m.placesCreated.Inc() }

// IncrementCreateFailures counts a failed creation by error kind.
func (m *Metrics) IncrementCreateFailures(kind string) {
	m.createFailures.WithLabelValues(kind).Inc()
}

// IncrementRollbacks counts an aborted object store scope.
func (m *Metrics) IncrementRollbacks() { m.rollbacks.Inc() }

// IncrementOrphanWindows counts a commit failure that left an index row behind.
func (m *Metrics) IncrementOrphanWindows() { m.orphanWindows.Inc() }

// ObserveNearby records one nearby query and its result count.
func (m *Metrics) ObserveNearby(results int) {
	m.nearbyQueries.Inc()
	m.nearbyResults.Observe(float64(results))
}

// IncrementMissingDetails counts index entries without a backing object.
func (m *Metrics) IncrementMissingDetails() { m.missingDetails.Inc() }

// IncrementDetailCacheHits counts a cache-served place detail.
func (m *Metrics) IncrementDetailCacheHits() { m.detailCacheHits.Inc() }

// RecordCreateLatency records the latency of a create in milliseconds.
func (m *Metrics) RecordCreateLatency(milliseconds float64) { m.createLatency.Observe(milliseconds) }

// RecordNearbyLatency records the latency of a nearby query in milliseconds.
func (m *Metrics) RecordNearbyLatency(milliseconds float64) { m.nearbyLatency.Observe(milliseconds) }

// SetOrphansDetected publishes the orphan count of the last reconcile run.
func (m *Metrics) SetOrphansDetected(n int) { m.orphansDetected.Set(float64(n)) }

// AddOrphansRemoved counts deleted orphan entries.
func (m *Metrics) AddOrphansRemoved(n int) { m.orphansRemoved.Add(float64(n)) }
