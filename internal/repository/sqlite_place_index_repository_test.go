package repository

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"place-service/internal/errs"
	"place-service/internal/models"
	"place-service/internal/utils"
)

func createTestIndex(t *testing.T) *SQLitePlaceIndexRepository {
	t.Helper()
	repo, err := NewSQLitePlaceIndexRepository(filepath.Join(t.TempDir(), "index.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

// northOf returns the point distanceKm due north of p.
func northOf(p models.Point, distanceKm float64) models.Point {
	return models.Point{
		Latitude:  p.Latitude + distanceKm/utils.EarthRadiusKm*180/math.Pi,
		Longitude: p.Longitude,
	}
}

var berlin = models.Point{Latitude: 52.52, Longitude: 13.405}

func TestSQLiteIndex_InsertAndQuery(t *testing.T) {
	repo := createTestIndex(t)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, "p-1", "Cafe", berlin))

	entries, err := repo.QueryNearby(ctx, berlin, 1, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "p-1", entries[0].OID)
	assert.Equal(t, "Cafe", entries[0].Name)
	assert.InDelta(t, berlin.Latitude, entries[0].Position.Latitude, 1e-9)
	assert.InDelta(t, berlin.Longitude, entries[0].Position.Longitude, 1e-9)
	assert.InDelta(t, 0, entries[0].DistanceKm, 1e-9)
	assert.False(t, entries[0].CreatedAt.IsZero())
}

func TestSQLiteIndex_DuplicateKey(t *testing.T) {
	repo := createTestIndex(t)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, "p-1", "Cafe", berlin))
	err := repo.Insert(ctx, "p-1", "Other", northOf(berlin, 1))
	require.Error(t, err)
	assert.True(t, errs.IsDuplicateKey(err))

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSQLiteIndex_RadiusBoundary(t *testing.T) {
	repo := createTestIndex(t)
	ctx := context.Background()
	const radius = 5.0
	const eps = 0.001

	require.NoError(t, repo.Insert(ctx, "inside", "inside", northOf(berlin, radius-eps)))
	require.NoError(t, repo.Insert(ctx, "outside", "outside", northOf(berlin, radius+eps)))

	entries, err := repo.QueryNearby(ctx, berlin, radius, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "inside", entries[0].OID)
	assert.LessOrEqual(t, entries[0].DistanceKm, radius)
}

func TestSQLiteIndex_OrderedNearestFirst(t *testing.T) {
	repo := createTestIndex(t)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, "far", "far", northOf(berlin, 3)))
	require.NoError(t, repo.Insert(ctx, "near", "near", northOf(berlin, 1)))
	require.NoError(t, repo.Insert(ctx, "mid", "mid", northOf(berlin, 2)))

	entries, err := repo.QueryNearby(ctx, berlin, 5, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"near", "mid", "far"}, oids(entries))
}

func TestSQLiteIndex_ResultCap(t *testing.T) {
	repo := createTestIndex(t)
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		oid := fmt.Sprintf("p-%02d", i)
		require.NoError(t, repo.Insert(ctx, oid, oid, northOf(berlin, float64(i)*0.015)))
	}

	entries, err := repo.QueryNearby(ctx, berlin, 100, 0)
	require.NoError(t, err)
	require.Len(t, entries, DefaultNearbyLimit)
	for i, e := range entries {
		assert.Equal(t, fmt.Sprintf("p-%02d", i), e.OID)
	}

	entries, err = repo.QueryNearby(ctx, berlin, 100, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 10)
}

func TestSQLiteIndex_Antimeridian(t *testing.T) {
	repo := createTestIndex(t)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, "east", "east", models.Point{Latitude: 0, Longitude: 179.99}))
	require.NoError(t, repo.Insert(ctx, "west", "west", models.Point{Latitude: 0, Longitude: -179.99}))

	entries, err := repo.QueryNearby(ctx, models.Point{Latitude: 0, Longitude: 180}, 5, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"east", "west"}, oids(entries))
}

func TestSQLiteIndex_ListDeleteCount(t *testing.T) {
	repo := createTestIndex(t)
	ctx := context.Background()

	for _, oid := range []string{"p-3", "p-1", "p-2"} {
		require.NoError(t, repo.Insert(ctx, oid, oid, berlin))
	}

	page, err := repo.List(ctx, "", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"p-1", "p-2"}, oids(page))
	assert.False(t, page[0].CreatedAt.IsZero())
	page, err = repo.List(ctx, "p-2", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"p-3"}, oids(page))

	require.NoError(t, repo.Delete(ctx, "p-2"))
	require.NoError(t, repo.Delete(ctx, "missing"))

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	entries, err := repo.QueryNearby(ctx, berlin, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"p-1", "p-3"}, oids(entries))

	require.NoError(t, repo.Insert(ctx, "p-2", "again", berlin), "deleted oid can be indexed again")
}

func oids(entries []models.PlaceIndexEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.OID)
	}
	return out
}
