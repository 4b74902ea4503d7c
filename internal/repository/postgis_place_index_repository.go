package repository

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"place-service/internal/errs"
	"place-service/internal/models"
)

// PostGISPlaceIndexRepository provides methods to interact with the
// place_index table in PostgreSQL/PostGIS.
type PostGISPlaceIndexRepository struct {
	db *gorm.DB
}

// NewPostGISPlaceIndexRepository creates a new repository with the provided GORM database connection.
func NewPostGISPlaceIndexRepository(db *gorm.DB) *PostGISPlaceIndexRepository {
	return &PostGISPlaceIndexRepository{db: db}
}

// Migrate enables PostGIS and creates the place_index table with its unique
// oid index, name index and GiST index on location.
func (r *PostGISPlaceIndexRepository) Migrate(ctx context.Context) error {
	db := r.db.WithContext(ctx)
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS postgis").Error; err != nil {
		return errs.Storage("geoindex.migrate", err)
	}
	if err := db.AutoMigrate(&models.PlaceIndexEntry{}); err != nil {
		return errs.Storage("geoindex.migrate", err)
	}
	return nil
}

// Insert creates the index row. The point is built server side so the
// geography column always carries SRID 4326.
func (r *PostGISPlaceIndexRepository) Insert(ctx context.Context, oid, name string, point models.Point) error {
	res := r.db.WithContext(ctx).Exec(`
		INSERT INTO place_index (oid, name, location, created_at)
		VALUES (?, ?, ST_SetSRID(ST_MakePoint(?, ?), 4326)::geography, ?)
		ON CONFLICT (oid) DO NOTHING
	`, oid, name, point.Longitude, point.Latitude, time.Now().UTC())
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return &errs.DuplicateKeyError{Key: oid}
		}
		return errs.Storage("geoindex.insert", res.Error)
	}
	if res.RowsAffected == 0 {
		return &errs.DuplicateKeyError{Key: oid}
	}
	return nil
}

type nearbyRow struct {
	OID        string
	Name       string
	Lat        float64
	Lng        float64
	CreatedAt  time.Time
	DistanceKm float64
}

// QueryNearby finds index entries within radiusKm. ST_DWithin uses the GiST
// index on the geography column; distances are geodesic on WGS84.
func (r *PostGISPlaceIndexRepository) QueryNearby(ctx context.Context, point models.Point, radiusKm float64, limit int) ([]models.PlaceIndexEntry, error) {
	sqlQuery := `
        SELECT p.oid, p.name, p.created_at,
            ST_Y(p.location::geometry) AS lat,
            ST_X(p.location::geometry) AS lng,
            ST_Distance(p.location, q.ref) / 1000.0 AS distance_km
        FROM place_index p,
            (SELECT ST_SetSRID(ST_MakePoint(?, ?), 4326)::geography AS ref) AS q
        WHERE ST_DWithin(p.location, q.ref, ?)
        ORDER BY distance_km ASC, p.oid ASC
        LIMIT ?
    `

	var rows []nearbyRow
	err := r.db.WithContext(ctx).Raw(sqlQuery,
		point.Longitude, point.Latitude,
		radiusKm*1000.0,
		normalizeLimit(limit),
	).Scan(&rows).Error
	if err != nil {
		return nil, errs.Storage("geoindex.query", err)
	}

	entries := make([]models.PlaceIndexEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, models.PlaceIndexEntry{
			OID:        row.OID,
			Name:       row.Name,
			CreatedAt:  row.CreatedAt,
			Position:   models.Point{Latitude: row.Lat, Longitude: row.Lng},
			DistanceKm: row.DistanceKm,
		})
	}
	return entries, nil
}

// List retrieves a page of index entries in ascending oid order.
func (r *PostGISPlaceIndexRepository) List(ctx context.Context, afterOID string, batch int) ([]models.PlaceIndexEntry, error) {
	var entries []models.PlaceIndexEntry
	err := r.db.WithContext(ctx).
		Select("oid", "name", "created_at").
		Where("oid > ?", afterOID).
		Order("oid").
		Limit(batch).
		Find(&entries).Error
	if err != nil {
		return nil, errs.Storage("geoindex.list", err)
	}
	return entries, nil
}

// Delete deletes the index row for oid.
func (r *PostGISPlaceIndexRepository) Delete(ctx context.Context, oid string) error {
	err := r.db.WithContext(ctx).Where("oid = ?", oid).Delete(&models.PlaceIndexEntry{}).Error
	return errs.Storage("geoindex.delete", err)
}

// Count returns the number of indexed places.
func (r *PostGISPlaceIndexRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.PlaceIndexEntry{}).Count(&n).Error; err != nil {
		return 0, errs.Storage("geoindex.count", err)
	}
	return n, nil
}

// Close closes the underlying connection pool.
func (r *PostGISPlaceIndexRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
