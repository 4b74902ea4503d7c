package services

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"place-service/internal/errs"
	"place-service/internal/metrics"
	"place-service/internal/models"
	"place-service/internal/objectstore"
	"place-service/internal/repository"
)

type testEnv struct {
	store    *objectstore.DB
	index    *repository.SQLitePlaceIndexRepository
	reg      *prometheus.Registry
	metrics  *metrics.Metrics
	registry *PlaceRegistry
}

func newTestEnv(t *testing.T, opts RegistryOptions) *testEnv {
	t.Helper()
	dir := t.TempDir()

	store, err := objectstore.Open(filepath.Join(dir, "objects.db"), objectstore.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	index, err := repository.NewSQLitePlaceIndexRepository(filepath.Join(dir, "index.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { index.Close() })

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	opts.Metrics = m

	return &testEnv{
		store:    store,
		index:    index,
		reg:      reg,
		metrics:  m,
		registry: NewPlaceRegistry(store, index, opts),
	}
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func f64(v float64) *float64 { return &v }

func placeInput(name string, lat, lng float64) models.CreatePlaceInput {
	return models.CreatePlaceInput{Name: name, Lat: f64(lat), Lng: f64(lng)}
}

// kmNorth moves a point north along its meridian by km.
func kmNorth(lat, km float64) float64 {
	return lat + km/6371.0*180/math.Pi
}

const (
	berlinLat = 52.52
	berlinLng = 13.405
)

func (e *testEnv) objectCount(t *testing.T) int {
	t.Helper()
	st, err := e.store.Stats(context.Background())
	require.NoError(t, err)
	return st.Trees[PlacesTree]
}

func (e *testEnv) indexCount(t *testing.T) int64 {
	t.Helper()
	n, err := e.index.Count(context.Background())
	require.NoError(t, err)
	return n
}

func TestCreate_ThenFindNearby(t *testing.T) {
	env := newTestEnv(t, RegistryOptions{})
	ctx := context.Background()

	in := placeInput("Cafe", berlinLat, berlinLng)
	in.Description = "espresso"
	created, err := env.registry.Create(ctx, in)
	require.NoError(t, err)
	assert.Regexp(t, `^p-[0-9a-f-]{36}$`, created.ID)
	assert.Equal(t, "Cafe", created.Name)

	results, err := env.registry.Nearby(ctx, models.NearbyQuery{Lat: f64(berlinLat), Lng: f64(berlinLng), RadiusKm: f64(1)}, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, created.ID, results[0].OID)
	assert.Equal(t, "Cafe", results[0].Name)
	assert.Equal(t, "espresso", results[0].Description)
	assert.InDelta(t, berlinLat, results[0].Lat, 1e-9)
	assert.InDelta(t, berlinLng, results[0].Lng, 1e-9)

	assert.Equal(t, 1, env.objectCount(t))
	assert.Equal(t, int64(1), env.indexCount(t))
	assert.Equal(t, float64(1), counterValue(t, env.reg, "places_created_total"))
}

func TestCreate_KeepsNameAsGiven(t *testing.T) {
	env := newTestEnv(t, RegistryOptions{})
	ctx := context.Background()

	created, err := env.registry.Create(ctx, placeInput("  Cafe ", berlinLat, berlinLng))
	require.NoError(t, err)
	assert.Equal(t, "  Cafe ", created.Name)

	var stored models.Place
	require.NoError(t, env.store.Transact(ctx, func(conn *objectstore.Conn) error {
		found, err := conn.Root().Tree(PlacesTree).Get(ctx, created.ID, &stored)
		require.NoError(t, err)
		require.True(t, found)
		return nil
	}))
	assert.Equal(t, "  Cafe ", stored.Name)

	results, err := env.registry.Nearby(ctx, models.NearbyQuery{Lat: f64(berlinLat), Lng: f64(berlinLng)}, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "  Cafe ", results[0].Name)
}

func TestCreate_ValidationLeavesStoresUntouched(t *testing.T) {
	env := newTestEnv(t, RegistryOptions{})
	ctx := context.Background()

	cases := map[string]models.CreatePlaceInput{
		"missing name":  {Lat: f64(1), Lng: f64(2)},
		"blank name":    {Name: "   ", Lat: f64(1), Lng: f64(2)},
		"missing lat":   {Name: "Cafe", Lng: f64(2)},
		"missing lng":   {Name: "Cafe", Lat: f64(1)},
		"nan lat":       {Name: "Cafe", Lat: f64(math.NaN()), Lng: f64(2)},
		"lat too large": {Name: "Cafe", Lat: f64(91), Lng: f64(2)},
		"lng too small": {Name: "Cafe", Lat: f64(1), Lng: f64(-181)},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := env.registry.Create(ctx, in)
			require.Error(t, err)
			assert.True(t, errs.IsValidation(err))
		})
	}

	assert.Equal(t, 0, env.objectCount(t))
	assert.Equal(t, int64(0), env.indexCount(t))
	assert.Equal(t, float64(len(cases)), counterValue(t, env.reg, "places_create_failures_total"))
	assert.Equal(t, float64(0), counterValue(t, env.reg, "places_object_store_rollbacks_total"))
}

func TestCreate_DuplicateIndexKeyRollsBack(t *testing.T) {
	env := newTestEnv(t, RegistryOptions{IDs: CountingAllocator{}})
	ctx := context.Background()

	// Simulates another process that already indexed p-1.
	require.NoError(t, env.index.Insert(ctx, "p-1", "Elsewhere", models.Point{Latitude: 0, Longitude: 0}))

	_, err := env.registry.Create(ctx, placeInput("Cafe", berlinLat, berlinLng))
	require.Error(t, err)
	assert.True(t, errs.IsDuplicateKey(err))

	assert.Equal(t, 0, env.objectCount(t))
	assert.Equal(t, int64(1), env.indexCount(t))
	assert.Equal(t, float64(1), counterValue(t, env.reg, "places_object_store_rollbacks_total"))
	assert.Equal(t, float64(0), counterValue(t, env.reg, "places_orphan_windows_total"))
}

func TestCreate_CountingAllocatorSequence(t *testing.T) {
	env := newTestEnv(t, RegistryOptions{IDs: CountingAllocator{}})
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		created, err := env.registry.Create(ctx, placeInput(fmt.Sprintf("Place %d", i), berlinLat, berlinLng))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("p-%d", i), created.ID)
	}
}

func TestCreate_CountingAllocatorConcurrent(t *testing.T) {
	env := newTestEnv(t, RegistryOptions{IDs: CountingAllocator{}})
	ctx := context.Background()

	const workers = 8
	ids := make([]string, workers)
	errList := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			created, err := env.registry.Create(ctx, placeInput(fmt.Sprintf("Place %d", i), berlinLat, berlinLng))
			ids[i], errList[i] = created.ID, err
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for i := range ids {
		require.NoError(t, errList[i])
		assert.False(t, seen[ids[i]], "duplicate id %s", ids[i])
		seen[ids[i]] = true
	}
	assert.Equal(t, workers, env.objectCount(t))
	assert.Equal(t, int64(workers), env.indexCount(t))
}

type racingAllocator struct {
	store *objectstore.DB
	id    string
}

// Allocate commits a competing write to the same key before returning, so
// the caller's commit conflicts after its index insert succeeded.
func (a racingAllocator) Allocate(ctx context.Context, _ *objectstore.Tree) (string, error) {
	err := a.store.Transact(ctx, func(conn *objectstore.Conn) error {
		return conn.Root().Tree(PlacesTree).Set(a.id, models.Place{Name: "winner"})
	})
	return a.id, err
}

func (racingAllocator) Serialized() bool { return false }

func TestCreate_CommitConflictLeavesOrphanWindow(t *testing.T) {
	env := newTestEnv(t, RegistryOptions{})
	env.registry.ids = racingAllocator{store: env.store, id: "p-race"}
	ctx := context.Background()

	_, err := env.registry.Create(ctx, placeInput("loser", berlinLat, berlinLng))
	require.Error(t, err)
	assert.True(t, errs.IsConflict(err))

	assert.Equal(t, int64(1), env.indexCount(t))
	assert.Equal(t, float64(1), counterValue(t, env.reg, "places_orphan_windows_total"))

	conn, err := env.store.Open(ctx)
	require.NoError(t, err)
	defer conn.Close()
	var got models.Place
	ok, err := conn.Root().Tree(PlacesTree).Get(ctx, "p-race", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "winner", got.Name)
}

func TestFindNearby_OrphanHasEmptyDescription(t *testing.T) {
	env := newTestEnv(t, RegistryOptions{})
	ctx := context.Background()

	in := placeInput("Real", berlinLat, berlinLng)
	in.Description = "committed"
	created, err := env.registry.Create(ctx, in)
	require.NoError(t, err)

	require.NoError(t, env.index.Insert(ctx, "p-orphan", "Ghost", models.Point{Latitude: kmNorth(berlinLat, 0.5), Longitude: berlinLng}))

	lm := metrics.NewLatencyMetrics()
	results, err := env.registry.Nearby(ctx, models.NearbyQuery{Lat: f64(berlinLat), Lng: f64(berlinLng)}, lm)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, created.ID, results[0].OID)
	assert.Equal(t, "committed", results[0].Description)
	assert.Equal(t, "p-orphan", results[1].OID)
	assert.Equal(t, "Ghost", results[1].Name)
	assert.Equal(t, "", results[1].Description)

	assert.Equal(t, 1, lm.MissingDetails)
	assert.Equal(t, float64(1), counterValue(t, env.reg, "places_missing_details_total"))
}

func TestFindNearby_ObjectDeletedAfterIndexing(t *testing.T) {
	env := newTestEnv(t, RegistryOptions{})
	ctx := context.Background()

	in := placeInput("Cafe", berlinLat, berlinLng)
	in.Description = "gone soon"
	created, err := env.registry.Create(ctx, in)
	require.NoError(t, err)

	require.NoError(t, env.store.Transact(ctx, func(conn *objectstore.Conn) error {
		return conn.Root().Tree(PlacesTree).Delete(created.ID)
	}))

	results, err := env.registry.Nearby(ctx, models.NearbyQuery{Lat: f64(berlinLat), Lng: f64(berlinLng)}, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Cafe", results[0].Name)
	assert.Equal(t, "", results[0].Description)
}

func TestFindNearby_CachedObjectDeletedAfterIndexing(t *testing.T) {
	env := newTestEnv(t, RegistryOptions{Cache: NewDetailCache(defaultTestTTL)})
	ctx := context.Background()

	in := placeInput("Cafe", berlinLat, berlinLng)
	in.Description = "gone soon"
	created, err := env.registry.Create(ctx, in)
	require.NoError(t, err)

	q := models.NearbyQuery{Lat: f64(berlinLat), Lng: f64(berlinLng)}
	results, err := env.registry.Nearby(ctx, q, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "gone soon", results[0].Description)

	require.NoError(t, env.store.Transact(ctx, func(conn *objectstore.Conn) error {
		return conn.Root().Tree(PlacesTree).Delete(created.ID)
	}))

	lm := metrics.NewLatencyMetrics()
	results, err = env.registry.Nearby(ctx, q, lm)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Cafe", results[0].Name)
	assert.Equal(t, "", results[0].Description)
	assert.Equal(t, 0, lm.CacheHits)
	assert.Equal(t, 1, lm.MissingDetails)
}

func TestFindNearby_CacheFollowsConnectionSnapshot(t *testing.T) {
	env := newTestEnv(t, RegistryOptions{Cache: NewDetailCache(defaultTestTTL)})
	ctx := context.Background()

	in := placeInput("Cafe", berlinLat, berlinLng)
	in.Description = "espresso"
	created, err := env.registry.Create(ctx, in)
	require.NoError(t, err)
	q := models.NearbyQuery{Lat: f64(berlinLat), Lng: f64(berlinLng)}
	_, err = env.registry.Nearby(ctx, q, nil)
	require.NoError(t, err)

	reader, err := env.store.Open(ctx)
	require.NoError(t, err)
	defer reader.Close()

	require.NoError(t, env.store.Transact(ctx, func(conn *objectstore.Conn) error {
		return conn.Root().Tree(PlacesTree).Delete(created.ID)
	}))

	results, err := env.registry.FindNearby(ctx, reader, q, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "espresso", results[0].Description, "the older snapshot still holds the object")

	after, err := env.registry.Nearby(ctx, q, nil)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, "", after[0].Description)
}

func TestFindNearby_IdempotentReads(t *testing.T) {
	env := newTestEnv(t, RegistryOptions{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := env.registry.Create(ctx, placeInput(fmt.Sprintf("Place %d", i), kmNorth(berlinLat, float64(i)*0.3), berlinLng))
		require.NoError(t, err)
	}

	q := models.NearbyQuery{Lat: f64(berlinLat), Lng: f64(berlinLng)}
	first, err := env.registry.Nearby(ctx, q, nil)
	require.NoError(t, err)
	second, err := env.registry.Nearby(ctx, q, nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	require.Len(t, first, 5)
	assert.Equal(t, "Place 0", first[0].Name)
	assert.Equal(t, "Place 4", first[4].Name)
}

func TestFindNearby_DefaultAndExplicitRadius(t *testing.T) {
	env := newTestEnv(t, RegistryOptions{})
	ctx := context.Background()

	_, err := env.registry.Create(ctx, placeInput("Near", kmNorth(berlinLat, 4.9), berlinLng))
	require.NoError(t, err)
	_, err = env.registry.Create(ctx, placeInput("Far", kmNorth(berlinLat, 6), berlinLng))
	require.NoError(t, err)

	results, err := env.registry.Nearby(ctx, models.NearbyQuery{Lat: f64(berlinLat), Lng: f64(berlinLng)}, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Near", results[0].Name)

	results, err = env.registry.Nearby(ctx, models.NearbyQuery{Lat: f64(berlinLat), Lng: f64(berlinLng), RadiusKm: f64(10)}, nil)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	results, err = env.registry.Nearby(ctx, models.NearbyQuery{Lat: f64(berlinLat), Lng: f64(berlinLng), RadiusKm: f64(0)}, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestFindNearby_Validation(t *testing.T) {
	env := newTestEnv(t, RegistryOptions{})
	ctx := context.Background()

	cases := map[string]models.NearbyQuery{
		"missing lat":     {Lng: f64(1)},
		"missing lng":     {Lat: f64(1)},
		"negative radius": {Lat: f64(1), Lng: f64(1), RadiusKm: f64(-1)},
		"nan radius":      {Lat: f64(1), Lng: f64(1), RadiusKm: f64(math.NaN())},
	}
	for name, q := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := env.registry.Nearby(ctx, q, nil)
			assert.True(t, errs.IsValidation(err))
		})
	}
}

func TestFindNearby_CapsResults(t *testing.T) {
	env := newTestEnv(t, RegistryOptions{MaxResults: 500})
	ctx := context.Background()

	for i := 0; i < repository.DefaultNearbyLimit+5; i++ {
		_, err := env.registry.Create(ctx, placeInput(fmt.Sprintf("Place %02d", i), kmNorth(berlinLat, float64(i)*0.01), berlinLng))
		require.NoError(t, err)
	}

	results, err := env.registry.Nearby(ctx, models.NearbyQuery{Lat: f64(berlinLat), Lng: f64(berlinLng)}, nil)
	require.NoError(t, err)
	require.Len(t, results, repository.DefaultNearbyLimit)
	assert.Equal(t, "Place 00", results[0].Name)
	assert.Equal(t, "Place 49", results[49].Name)
}

func TestFindNearby_UsesDetailCache(t *testing.T) {
	env := newTestEnv(t, RegistryOptions{Cache: NewDetailCache(defaultTestTTL)})
	ctx := context.Background()

	_, err := env.registry.Create(ctx, placeInput("Cafe", berlinLat, berlinLng))
	require.NoError(t, err)
	require.NoError(t, env.index.Insert(ctx, "p-orphan", "Ghost", models.Point{Latitude: berlinLat, Longitude: berlinLng}))

	q := models.NearbyQuery{Lat: f64(berlinLat), Lng: f64(berlinLng)}
	_, err = env.registry.Nearby(ctx, q, nil)
	require.NoError(t, err)

	lm := metrics.NewLatencyMetrics()
	_, err = env.registry.Nearby(ctx, q, lm)
	require.NoError(t, err)
	assert.Equal(t, 1, lm.CacheHits)
	assert.Equal(t, 1, lm.MissingDetails, "misses are not cached")

	st, err := env.registry.Stats(ctx)
	require.NoError(t, err)
	require.NotNil(t, st.DetailCache)
	assert.Equal(t, int64(1), st.DetailCache.Hits)
	assert.Equal(t, int64(2), st.IndexRows)
	assert.Equal(t, 1, st.Objects.Trees[PlacesTree])
}

func TestCreatePlace_CallerControlsCommit(t *testing.T) {
	env := newTestEnv(t, RegistryOptions{})
	ctx := context.Background()

	conn, err := env.store.Open(ctx)
	require.NoError(t, err)
	created, err := env.registry.CreatePlace(ctx, conn, placeInput("Pending", berlinLat, berlinLng))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	// The object was never committed, so the index entry is an orphan.
	assert.Equal(t, 0, env.objectCount(t))
	results, err := env.registry.Nearby(ctx, models.NearbyQuery{Lat: f64(berlinLat), Lng: f64(berlinLng)}, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, created.ID, results[0].OID)
	assert.Equal(t, "", results[0].Description)
}

func TestNewIDAllocator(t *testing.T) {
	a, err := NewIDAllocator("")
	require.NoError(t, err)
	assert.IsType(t, UUIDAllocator{}, a)

	a, err = NewIDAllocator(IDSchemeCounting)
	require.NoError(t, err)
	assert.True(t, a.Serialized())

	_, err = NewIDAllocator("sequential")
	assert.Error(t, err)
}

func TestFailureKind(t *testing.T) {
	assert.Equal(t, "validation", FailureKind(errs.Validation("lat", "bad")))
	assert.Equal(t, "duplicate_key", FailureKind(&errs.DuplicateKeyError{Key: "p-1"}))
	assert.Equal(t, "conflict", FailureKind(&errs.ConflictError{Tree: PlacesTree, Key: "p-1"}))
	assert.Equal(t, "storage", FailureKind(errs.Storage("op", fmt.Errorf("disk"))))
	assert.Equal(t, "internal", FailureKind(fmt.Errorf("other")))
}
