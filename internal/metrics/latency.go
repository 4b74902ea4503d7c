package metrics

import (
	"fmt"
	"sync"
	"time"
)

// LatencyMetrics holds the latency breakdown of one nearby query
type LatencyMetrics struct {
	mu sync.RWMutex

	TotalStartTime time.Time `json:"-"`
	TotalLatencyMs float64   `json:"totalLatencyMs"`

	IndexStartTime time.Time `json:"-"`
	IndexLatencyMs float64   `json:"indexLatencyMs"`

	EnrichStartTime time.Time `json:"-"`
	EnrichLatencyMs float64   `json:"enrichLatencyMs"`

	Results        int `json:"results"`
	CacheHits      int `json:"cacheHits"`
	MissingDetails int `json:"missingDetails"`

	Timings map[string]float64 `json:"timings"`
}

// NewLatencyMetrics creates a new metrics collector
func NewLatencyMetrics() *LatencyMetrics {
	return &LatencyMetrics{
		TotalStartTime: time.Now(),
		Timings:        make(map[string]float64),
	}
}

// StartIndexLookup marks the start of the geo index query
func (m *LatencyMetrics) StartIndexLookup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.IndexStartTime = time.Now()
}

// EndIndexLookup marks the end of the geo index query
func (m *LatencyMetrics) EndIndexLookup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.IndexStartTime.IsZero() {
		m.IndexLatencyMs = sinceMs(m.IndexStartTime)
		m.Timings["index_lookup"] = m.IndexLatencyMs
	}
}

// StartEnrichment marks the start of the object store backfill
func (m *LatencyMetrics) StartEnrichment() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EnrichStartTime = time.Now()
}

// EndEnrichment marks the end of the object store backfill
func (m *LatencyMetrics) EndEnrichment() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.EnrichStartTime.IsZero() {
		m.EnrichLatencyMs = sinceMs(m.EnrichStartTime)
		m.Timings["enrichment"] = m.EnrichLatencyMs
	}
}

// RecordCacheHit counts a detail served from cache
func (m *LatencyMetrics) RecordCacheHit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CacheHits++
}

// RecordMissingDetail counts an entry whose object was absent
func (m *LatencyMetrics) RecordMissingDetail() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MissingDetails++
}

// Finalize calculates final metrics
func (m *LatencyMetrics) Finalize(results int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Results = results
	if !m.TotalStartTime.IsZero() {
		m.TotalLatencyMs = sinceMs(m.TotalStartTime)
		m.Timings["total"] = m.TotalLatencyMs
	}
}

// GetHeaders returns HTTP headers with latency metrics
func (m *LatencyMetrics) GetHeaders() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]string{
		"X-Latency-Total-Ms":  formatFloat(m.TotalLatencyMs),
		"X-Latency-Index-Ms":  formatFloat(m.IndexLatencyMs),
		"X-Latency-Enrich-Ms": formatFloat(m.EnrichLatencyMs),
		"X-Result-Count":      fmt.Sprintf("%d", m.Results),
		"X-Detail-Cache-Hits": fmt.Sprintf("%d", m.CacheHits),
		"X-Missing-Details":   fmt.Sprintf("%d", m.MissingDetails),
	}
}

func sinceMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

func formatFloat(f float64) string {
	return fmt.Sprintf("%.2f", f)
}
