package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"time"

	"github.com/pkg/errors"

	"place-service/internal/errs"
	"place-service/internal/models"
	"place-service/internal/storage"
	"place-service/internal/utils"
)

//go:embed sqlite_schema.sql
var sqliteSchemaSQL string

// R*Tree coordinates are stored as 32-bit floats; query boxes are widened by
// this many degrees so rounding never drops a candidate.
const rtreePadding = 1e-5

// SQLitePlaceIndexRepository keeps the geo index in an embedded SQLite file.
// An R*Tree virtual table serves as the spatial index; candidates from the
// bounding box are filtered and ordered by great-circle distance.
type SQLitePlaceIndexRepository struct {
	db *sql.DB
}

// NewSQLitePlaceIndexRepository opens (or creates) the index file at path.
func NewSQLitePlaceIndexRepository(path string, slowQuery time.Duration) (*SQLitePlaceIndexRepository, error) {
	db, err := storage.OpenSQLite(path, storage.SQLiteOptions{SlowQueryThreshold: slowQuery})
	if err != nil {
		return nil, errs.Storage("geoindex.open", err)
	}
	if _, err := db.Exec(sqliteSchemaSQL); err != nil {
		db.Close()
		return nil, errs.Storage("geoindex.schema", err)
	}
	return &SQLitePlaceIndexRepository{db: db}, nil
}

// Insert creates the index row and its R*Tree entry in one transaction.
func (r *SQLitePlaceIndexRepository) Insert(ctx context.Context, oid, name string, point models.Point) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Storage("geoindex.insert", err)
	}
	defer tx.Rollback() // No-op if committed

	res, err := tx.ExecContext(ctx, `
		INSERT INTO place_index (oid, name, lat, lng, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(oid) DO NOTHING
	`, oid, name, point.Latitude, point.Longitude, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return errs.Storage("geoindex.insert", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return errs.Storage("geoindex.insert", err)
	}
	if inserted == 0 {
		return &errs.DuplicateKeyError{Key: oid}
	}

	rowID, err := res.LastInsertId()
	if err != nil {
		return errs.Storage("geoindex.insert", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO place_index_rtree (id, min_lat, max_lat, min_lng, max_lng)
		VALUES (?, ?, ?, ?, ?)
	`, rowID, point.Latitude, point.Latitude, point.Longitude, point.Longitude); err != nil {
		return errs.Storage("geoindex.insert", err)
	}

	if err := tx.Commit(); err != nil {
		return errs.Storage("geoindex.insert", err)
	}
	return nil
}

// QueryNearby finds index entries within radiusKm of point.
func (r *SQLitePlaceIndexRepository) QueryNearby(ctx context.Context, point models.Point, radiusKm float64, limit int) ([]models.PlaceIndexEntry, error) {
	seen := make(map[string]struct{})
	var entries []models.PlaceIndexEntry

	for _, box := range utils.CalculateBoundingBoxes(point.Latitude, point.Longitude, radiusKm) {
		rows, err := r.db.QueryContext(ctx, `
			SELECT p.oid, p.name, p.lat, p.lng, p.created_at
			FROM place_index_rtree t
			JOIN place_index p ON p.id = t.id
			WHERE t.min_lat <= ? AND t.max_lat >= ?
			AND t.min_lng <= ? AND t.max_lng >= ?
		`, box.MaxLat+rtreePadding, box.MinLat-rtreePadding, box.MaxLng+rtreePadding, box.MinLng-rtreePadding)
		if err != nil {
			return nil, errs.Storage("geoindex.query", err)
		}

		for rows.Next() {
			var e models.PlaceIndexEntry
			var createdAt string
			if err := rows.Scan(&e.OID, &e.Name, &e.Position.Latitude, &e.Position.Longitude, &createdAt); err != nil {
				rows.Close()
				return nil, errs.Storage("geoindex.query", err)
			}
			if _, dup := seen[e.OID]; dup {
				continue
			}
			e.DistanceKm = utils.HaversineDistanceKm(point.Latitude, point.Longitude, e.Position.Latitude, e.Position.Longitude)
			if e.DistanceKm > radiusKm {
				continue
			}
			if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
				e.CreatedAt = t
			}
			seen[e.OID] = struct{}{}
			entries = append(entries, e)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, errs.Storage("geoindex.query", err)
		}
	}

	sortByDistance(entries)
	if n := normalizeLimit(limit); len(entries) > n {
		entries = entries[:n]
	}
	return entries, nil
}

// List retrieves a page of index entries in ascending oid order.
func (r *SQLitePlaceIndexRepository) List(ctx context.Context, afterOID string, batch int) ([]models.PlaceIndexEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT oid, name, created_at FROM place_index WHERE oid > ? ORDER BY oid LIMIT ?`, afterOID, batch)
	if err != nil {
		return nil, errs.Storage("geoindex.list", err)
	}
	defer rows.Close()

	var entries []models.PlaceIndexEntry
	for rows.Next() {
		var e models.PlaceIndexEntry
		var createdAt string
		if err := rows.Scan(&e.OID, &e.Name, &createdAt); err != nil {
			return nil, errs.Storage("geoindex.list", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			e.CreatedAt = t
		}
		entries = append(entries, e)
	}
	return entries, errs.Storage("geoindex.list", rows.Err())
}

// Delete removes the row for oid together with its R*Tree entry.
func (r *SQLitePlaceIndexRepository) Delete(ctx context.Context, oid string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Storage("geoindex.delete", err)
	}
	defer tx.Rollback()

	var rowID int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM place_index WHERE oid = ?`, oid).Scan(&rowID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return errs.Storage("geoindex.delete", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM place_index_rtree WHERE id = ?`, rowID); err != nil {
		return errs.Storage("geoindex.delete", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM place_index WHERE id = ?`, rowID); err != nil {
		return errs.Storage("geoindex.delete", err)
	}
	return errs.Storage("geoindex.delete", tx.Commit())
}

// Count returns the number of indexed places.
func (r *SQLitePlaceIndexRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM place_index`).Scan(&n); err != nil {
		return 0, errs.Storage("geoindex.count", err)
	}
	return n, nil
}

// Close closes the database file.
func (r *SQLitePlaceIndexRepository) Close() error {
	return r.db.Close()
}
