package repository

import (
	"context"
	"sort"

	"place-service/internal/models"
)

// DefaultNearbyLimit is both the default and the upper bound for the number
// of entries a nearby query returns.
const DefaultNearbyLimit = 50

// PlaceIndexRepository interface defines methods for geo index operations
type PlaceIndexRepository interface {
	// Insert stores a summary row. It fails with errs.DuplicateKeyError when
	// oid is already indexed. The row is visible as soon as Insert returns.
	Insert(ctx context.Context, oid, name string, point models.Point) error
	// QueryNearby returns entries within radiusKm of point (inclusive),
	// nearest first, truncated at limit.
	QueryNearby(ctx context.Context, point models.Point, radiusKm float64, limit int) ([]models.PlaceIndexEntry, error)
	// List pages through entries in ascending oid order, starting after
	// afterOID. Only oid, name and created_at are filled in.
	List(ctx context.Context, afterOID string, batch int) ([]models.PlaceIndexEntry, error)
	// Delete removes the row for oid. Deleting a missing oid is not an error.
	Delete(ctx context.Context, oid string) error
	Count(ctx context.Context) (int64, error)
	Close() error
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > DefaultNearbyLimit {
		return DefaultNearbyLimit
	}
	return limit
}

// sortByDistance orders entries nearest first; ties break on oid so repeated
// queries return identical sequences.
func sortByDistance(entries []models.PlaceIndexEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].DistanceKm != entries[j].DistanceKm {
			return entries[i].DistanceKm < entries[j].DistanceKm
		}
		return entries[i].OID < entries[j].OID
	})
}

var (
	_ PlaceIndexRepository = (*PostGISPlaceIndexRepository)(nil)
	_ PlaceIndexRepository = (*SQLitePlaceIndexRepository)(nil)
	_ PlaceIndexRepository = (*ElasticPlaceIndexRepository)(nil)
)
