// Package app builds the stores and services shared by the server and the
// placectl tool from a loaded configuration.
package app

import (
	"context"
	"fmt"
	"log"

	"github.com/prometheus/client_golang/prometheus"

	"place-service/internal/config"
	"place-service/internal/metrics"
	"place-service/internal/objectstore"
	"place-service/internal/repository"
	"place-service/internal/services"
	"place-service/internal/storage"
)

// Components are the long-lived handles of one process.
type Components struct {
	Config   *config.Config
	Store    *objectstore.DB
	Index    repository.PlaceIndexRepository
	Cache    *services.DetailCache
	Metrics  *metrics.Metrics
	Registry *services.PlaceRegistry
}

// OpenGeoIndex connects the backend named by cfg.GeoIndexBackend.
func OpenGeoIndex(ctx context.Context, cfg *config.Config) (repository.PlaceIndexRepository, error) {
	switch cfg.GeoIndexBackend {
	case config.BackendPostGIS:
		db, err := config.ConnectDatabase(cfg)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		repo := repository.NewPostGISPlaceIndexRepository(db)
		if err := repo.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("database migration failed: %w", err)
		}
		return repo, nil
	case config.BackendSQLite:
		return repository.NewSQLitePlaceIndexRepository(cfg.GeoIndexSQLitePath, cfg.SlowQueryThreshold)
	case config.BackendElastic:
		return repository.NewElasticPlaceIndexRepository(ctx, cfg.ElasticURL, cfg.ElasticIndex)
	default:
		return nil, fmt.Errorf("unknown geo index backend %q", cfg.GeoIndexBackend)
	}
}

// Open builds every component. reg receives the registry metrics.
func Open(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*Components, error) {
	store, err := objectstore.Open(cfg.ObjectStorePath, objectstore.Options{SlowQueryThreshold: cfg.SlowQueryThreshold})
	if err != nil {
		return nil, err
	}
	index, err := OpenGeoIndex(ctx, cfg)
	if err != nil {
		store.Close()
		return nil, err
	}
	ids, err := services.NewIDAllocator(cfg.IDScheme)
	if err != nil {
		index.Close()
		store.Close()
		return nil, err
	}

	c := &Components{
		Config:  cfg,
		Store:   store,
		Index:   index,
		Metrics: metrics.NewMetrics(reg),
	}
	if cfg.PlaceCacheTTL > 0 {
		c.Cache = services.NewDetailCache(cfg.PlaceCacheTTL)
	}
	c.Registry = services.NewPlaceRegistry(store, index, services.RegistryOptions{
		IDs:             ids,
		Cache:           c.Cache,
		Metrics:         c.Metrics,
		DefaultRadiusKm: cfg.DefaultRadiusKm,
		MaxResults:      cfg.MaxResults,
	})
	log.Printf("Stores ready: ObjectStore=%s, GeoIndex=%s, IDScheme=%s", cfg.ObjectStorePath, cfg.GeoIndexBackend, cfg.IDScheme)
	return c, nil
}

// Reconciler returns an orphan scanner over the components' stores.
func (c *Components) Reconciler() *services.Reconciler {
	return services.NewReconciler(c.Store, c.Index, c.Cache, c.Metrics)
}

// BackupService connects to MinIO. It fails when backups are not configured.
func (c *Components) BackupService(ctx context.Context) (*services.BackupService, error) {
	if !c.Config.BackupsEnabled() {
		return nil, fmt.Errorf("backups need MINIO_ENDPOINT, MINIO_ACCESS_KEY, MINIO_SECRET_KEY and MINIO_BUCKET")
	}
	client, err := storage.NewMinioClient(ctx, c.Config)
	if err != nil {
		return nil, fmt.Errorf("MinIO client initialization failed: %w", err)
	}
	return services.NewBackupService(c.Store, client, c.Config.MinioBucket), nil
}

// Close releases the geo index and the object store.
func (c *Components) Close() {
	if err := c.Index.Close(); err != nil {
		log.Printf("Error closing geo index: %v", err)
	}
	if err := c.Store.Close(); err != nil {
		log.Printf("Error closing object store: %v", err)
	}
}
