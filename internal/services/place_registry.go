package services

import (
	"context"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"place-service/internal/errs"
	"place-service/internal/metrics"
	"place-service/internal/models"
	"place-service/internal/objectstore"
	"place-service/internal/repository"
	"place-service/internal/utils"
)

// PlacesTree is the object store tree holding every place.
const PlacesTree = "places"

const DefaultRadiusKm = 5.0

// RegistryOptions tunes a PlaceRegistry. Zero values select the defaults.
type RegistryOptions struct {
	IDs             IDAllocator
	Cache           *DetailCache
	Metrics         *metrics.Metrics
	DefaultRadiusKm float64
	MaxResults      int
}

// PlaceRegistry keeps the object store and the geo index in step. The object
// store is the system of record; the index may briefly hold entries whose
// object never committed, and reads tolerate that.
type PlaceRegistry struct {
	store   *objectstore.DB
	index   repository.PlaceIndexRepository
	ids     IDAllocator
	cache   *DetailCache
	metrics *metrics.Metrics

	defaultRadiusKm float64
	maxResults      int

	writeMu sync.Mutex
}

func NewPlaceRegistry(store *objectstore.DB, index repository.PlaceIndexRepository, opts RegistryOptions) *PlaceRegistry {
	r := &PlaceRegistry{
		store:           store,
		index:           index,
		ids:             opts.IDs,
		cache:           opts.Cache,
		metrics:         opts.Metrics,
		defaultRadiusKm: opts.DefaultRadiusKm,
		maxResults:      opts.MaxResults,
	}
	if r.ids == nil {
		r.ids = UUIDAllocator{}
	}
	if r.defaultRadiusKm <= 0 {
		r.defaultRadiusKm = DefaultRadiusKm
	}
	if r.maxResults <= 0 || r.maxResults > repository.DefaultNearbyLimit {
		r.maxResults = repository.DefaultNearbyLimit
	}
	return r
}

func validateCreate(in models.CreatePlaceInput) (string, models.Point, error) {
	if strings.TrimSpace(in.Name) == "" || in.Lat == nil || in.Lng == nil {
		return "", models.Point{}, errs.Validation("", "name, lat, lng are required")
	}
	point, err := validatePoint(*in.Lat, *in.Lng)
	if err != nil {
		return "", models.Point{}, err
	}
	return in.Name, point, nil
}

func validatePoint(lat, lng float64) (models.Point, error) {
	if utils.ValidCoordinates(lat, lng) {
		return models.Point{Latitude: lat, Longitude: lng}, nil
	}
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lng) || math.IsInf(lng, 0) {
		return models.Point{}, errs.Validation("", "lat, lng must be numbers")
	}
	if lat < -90 || lat > 90 {
		return models.Point{}, errs.Validation("lat", "must be between -90 and 90")
	}
	return models.Point{}, errs.Validation("lng", "must be between -180 and 180")
}

// CreatePlace stores a new place on conn and indexes it. The index insert is
// the last step before the caller commits conn; on any error the caller must
// abort conn so that no object is persisted.
func (r *PlaceRegistry) CreatePlace(ctx context.Context, conn *objectstore.Conn, in models.CreatePlaceInput) (models.CreatedPlace, error) {
	name, point, err := validateCreate(in)
	if err != nil {
		return models.CreatedPlace{}, err
	}

	places := conn.Root().Tree(PlacesTree)
	id, err := r.ids.Allocate(ctx, places)
	if err != nil {
		return models.CreatedPlace{}, errors.Wrap(err, "allocate place id")
	}

	place := models.Place{
		Name:        name,
		Description: in.Description,
		Latitude:    point.Latitude,
		Longitude:   point.Longitude,
		CreatedAt:   time.Now().UTC(),
	}
	if err := places.Set(id, place); err != nil {
		return models.CreatedPlace{}, err
	}

	if err := r.index.Insert(ctx, id, name, point); err != nil {
		return models.CreatedPlace{}, err
	}
	return models.CreatedPlace{ID: id, Name: name}, nil
}

// Create runs CreatePlace in its own connection and commits it. A commit
// failure after the index insert leaves an orphan index entry, which is
// logged and counted.
func (r *PlaceRegistry) Create(ctx context.Context, in models.CreatePlaceInput) (models.CreatedPlace, error) {
	start := time.Now()
	if _, _, err := validateCreate(in); err != nil {
		r.countFailure(err)
		return models.CreatedPlace{}, err
	}

	if r.ids.Serialized() {
		r.writeMu.Lock()
		defer r.writeMu.Unlock()
	}

	var created models.CreatedPlace
	indexed := false
	err := r.store.Transact(ctx, func(conn *objectstore.Conn) error {
		c, err := r.CreatePlace(ctx, conn, in)
		if err != nil {
			return err
		}
		created, indexed = c, true
		return nil
	})
	if err != nil {
		if indexed {
			log.Printf("Orphan index entry after failed commit: ID=%s, Error=%v", created.ID, err)
			if r.metrics != nil {
				r.metrics.IncrementOrphanWindows()
			}
		} else {
			log.Printf("Create rolled back: Name=%s, Error=%v", in.Name, err)
			if r.metrics != nil {
				r.metrics.IncrementRollbacks()
			}
		}
		r.countFailure(err)
		return models.CreatedPlace{}, err
	}

	if r.metrics != nil {
		r.metrics.IncrementPlacesCreated()
		r.metrics.RecordCreateLatency(float64(time.Since(start).Microseconds()) / 1000)
	}
	return created, nil
}

func (r *PlaceRegistry) countFailure(err error) {
	if r.metrics != nil {
		r.metrics.IncrementCreateFailures(FailureKind(err))
	}
}

// FailureKind names the error class of err for metrics labels and logs.
func FailureKind(err error) string {
	switch {
	case errs.IsValidation(err):
		return "validation"
	case errs.IsDuplicateKey(err):
		return "duplicate_key"
	case errs.IsConflict(err):
		return "conflict"
	case errs.IsStorage(err):
		return "storage"
	default:
		return "internal"
	}
}

func (r *PlaceRegistry) resolveNearby(q models.NearbyQuery) (models.Point, float64, error) {
	if q.Lat == nil || q.Lng == nil {
		return models.Point{}, 0, errs.Validation("", "lat, lng are required")
	}
	point, err := validatePoint(*q.Lat, *q.Lng)
	if err != nil {
		return models.Point{}, 0, err
	}
	radius := r.defaultRadiusKm
	if q.RadiusKm != nil {
		radius = *q.RadiusKm
		if math.IsNaN(radius) || math.IsInf(radius, 0) {
			return models.Point{}, 0, errs.Validation("km", "must be a number")
		}
		if radius < 0 {
			return models.Point{}, 0, errs.Validation("km", "must not be negative")
		}
	}
	return point, radius, nil
}

// FindNearby queries the index and backfills descriptions from conn. Entries
// whose object is missing are returned with an empty description. The index
// order is preserved.
func (r *PlaceRegistry) FindNearby(ctx context.Context, conn *objectstore.Conn, q models.NearbyQuery, lm *metrics.LatencyMetrics) ([]models.NearbyPlace, error) {
	point, radius, err := r.resolveNearby(q)
	if err != nil {
		return nil, err
	}
	if lm == nil {
		lm = metrics.NewLatencyMetrics()
	}

	lm.StartIndexLookup()
	entries, err := r.index.QueryNearby(ctx, point, radius, r.maxResults)
	lm.EndIndexLookup()
	if err != nil {
		return nil, err
	}

	lm.StartEnrichment()
	places := conn.Root().Tree(PlacesTree)
	results := make([]models.NearbyPlace, 0, len(entries))
	for _, e := range entries {
		np := models.NearbyPlace{
			OID:        e.OID,
			Name:       e.Name,
			Lat:        e.Position.Latitude,
			Lng:        e.Position.Longitude,
			DistanceKm: e.DistanceKm,
		}
		if place, ok := r.lookup(ctx, places, e.OID, lm); ok {
			np.Description = place.Description
		}
		results = append(results, np)
	}
	lm.EndEnrichment()
	lm.Finalize(len(results))

	if r.metrics != nil {
		r.metrics.ObserveNearby(len(results))
	}
	return results, nil
}

func (r *PlaceRegistry) missingDetail(lm *metrics.LatencyMetrics) (models.Place, bool) {
	lm.RecordMissingDetail()
	if r.metrics != nil {
		r.metrics.IncrementMissingDetails()
	}
	return models.Place{}, false
}

// lookup reads the details of oid as seen by the connection behind places.
// The cache only saves decoding; presence is always checked in the snapshot.
func (r *PlaceRegistry) lookup(ctx context.Context, places *objectstore.Tree, oid string, lm *metrics.LatencyMetrics) (models.Place, bool) {
	if r.cache != nil {
		present, err := places.Has(ctx, oid)
		if err != nil {
			log.Printf("Detail lookup failed: OID=%s, Error=%v", oid, err)
			return r.missingDetail(lm)
		}
		if !present {
			r.cache.Invalidate(ctx, oid)
			return r.missingDetail(lm)
		}
		if place, ok := r.cache.Get(ctx, oid); ok {
			lm.RecordCacheHit()
			if r.metrics != nil {
				r.metrics.IncrementDetailCacheHits()
			}
			return place, true
		}
	}

	var place models.Place
	found, err := places.Get(ctx, oid, &place)
	if err != nil {
		log.Printf("Detail lookup failed: OID=%s, Error=%v", oid, err)
	}
	if err != nil || !found {
		return r.missingDetail(lm)
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, oid, place); err != nil {
			log.Printf("Detail cache store failed: OID=%s, Error=%v", oid, err)
		}
	}
	return place, true
}

// Nearby runs FindNearby on a short-lived read connection.
func (r *PlaceRegistry) Nearby(ctx context.Context, q models.NearbyQuery, lm *metrics.LatencyMetrics) ([]models.NearbyPlace, error) {
	start := time.Now()
	if _, _, err := r.resolveNearby(q); err != nil {
		return nil, err
	}

	conn, err := r.store.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	results, err := r.FindNearby(ctx, conn, q, lm)
	if err != nil {
		return nil, err
	}
	if r.metrics != nil {
		r.metrics.RecordNearbyLatency(float64(time.Since(start).Microseconds()) / 1000)
	}
	return results, nil
}

// RegistryStats reports the size of both stores.
type RegistryStats struct {
	Objects     objectstore.Stats `json:"objects"`
	IndexRows   int64             `json:"indexRows"`
	DetailCache *DetailCacheStats `json:"detailCache,omitempty"`
}

func (r *PlaceRegistry) Stats(ctx context.Context) (RegistryStats, error) {
	var st RegistryStats
	objects, err := r.store.Stats(ctx)
	if err != nil {
		return st, err
	}
	st.Objects = objects
	if st.IndexRows, err = r.index.Count(ctx); err != nil {
		return st, err
	}
	if r.cache != nil {
		cs := r.cache.Stats()
		st.DetailCache = &cs
	}
	return st, nil
}
