package services

import (
	"context"
	"log"
	"time"

	"place-service/internal/metrics"
	"place-service/internal/objectstore"
	"place-service/internal/repository"
)

const (
	defaultReconcileBatch  = 500
	defaultReconcileMinAge = time.Minute
)

// Reconciler finds index entries whose object is absent from the object
// store. Such orphans come from creates whose commit failed after the index
// insert.
type Reconciler struct {
	store   *objectstore.DB
	index   repository.PlaceIndexRepository
	cache   *DetailCache
	metrics *metrics.Metrics

	// BatchSize is the number of index rows read per page.
	BatchSize int
	// MinAge skips entries younger than this, so creates still in flight
	// are not mistaken for orphans.
	MinAge time.Duration
}

func NewReconciler(store *objectstore.DB, index repository.PlaceIndexRepository, cache *DetailCache, m *metrics.Metrics) *Reconciler {
	return &Reconciler{
		store:     store,
		index:     index,
		cache:     cache,
		metrics:   m,
		BatchSize: defaultReconcileBatch,
		MinAge:    defaultReconcileMinAge,
	}
}

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	Scanned    int       `json:"scanned"`
	Skipped    int       `json:"skipped"`
	Orphans    []string  `json:"orphans"`
	Removed    int       `json:"removed"`
	Pruned     bool      `json:"pruned"`
	StartedAt  time.Time `json:"startedAt"`
	DurationMs float64   `json:"durationMs"`
}

// Run scans the whole index. With prune set, orphans are deleted from the
// index; otherwise they are only reported.
func (r *Reconciler) Run(ctx context.Context, prune bool) (ReconcileReport, error) {
	report := ReconcileReport{StartedAt: time.Now().UTC(), Pruned: prune, Orphans: []string{}}
	batch := r.BatchSize
	if batch <= 0 {
		batch = defaultReconcileBatch
	}
	cutoff := report.StartedAt.Add(-r.MinAge)

	conn, err := r.store.Open(ctx)
	if err != nil {
		return report, err
	}
	defer conn.Close()
	places := conn.Root().Tree(PlacesTree)

	after := ""
	for {
		entries, err := r.index.List(ctx, after, batch)
		if err != nil {
			return report, err
		}
		if len(entries) == 0 {
			break
		}
		for _, e := range entries {
			report.Scanned++
			if r.MinAge > 0 && e.CreatedAt.After(cutoff) {
				report.Skipped++
				continue
			}
			ok, err := places.Has(ctx, e.OID)
			if err != nil {
				return report, err
			}
			if !ok {
				report.Orphans = append(report.Orphans, e.OID)
			}
		}
		after = entries[len(entries)-1].OID
		if len(entries) < batch {
			break
		}
	}

	if prune {
		for _, oid := range report.Orphans {
			if err := r.index.Delete(ctx, oid); err != nil {
				log.Printf("Failed to prune orphan: OID=%s, Error=%v", oid, err)
				continue
			}
			if r.cache != nil {
				r.cache.Invalidate(ctx, oid)
			}
			report.Removed++
		}
	}

	if r.metrics != nil {
		r.metrics.SetOrphansDetected(len(report.Orphans))
		r.metrics.AddOrphansRemoved(report.Removed)
	}
	report.DurationMs = float64(time.Since(report.StartedAt).Microseconds()) / 1000
	log.Printf("Reconcile finished: Scanned=%d, Skipped=%d, Orphans=%d, Removed=%d, Duration=%.1fms",
		report.Scanned, report.Skipped, len(report.Orphans), report.Removed, report.DurationMs)
	return report, nil
}
