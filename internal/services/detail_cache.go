package services

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	gocache_store "github.com/eko/gocache/store/go_cache/v4"
	gocache "github.com/patrickmn/go-cache"

	"place-service/internal/models"
)

// DetailCache keeps place details in process memory. Only places that were
// found in the object store are cached; a miss is always re-read so that a
// place appearing later is picked up.
type DetailCache struct {
	cache cache.CacheInterface[any]
	ttl   time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

// DetailCacheStats mirrors the counters exposed on the stats endpoint.
type DetailCacheStats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hitRate"`
}

func NewDetailCache(ttl time.Duration) *DetailCache {
	goCache := gocache.New(ttl, 2*ttl)
	cacheStore := gocache_store.NewGoCache(goCache)
	return &DetailCache{
		cache: cache.New[any](cacheStore),
		ttl:   ttl,
	}
}

// Get returns the cached place for oid.
func (c *DetailCache) Get(ctx context.Context, oid string) (models.Place, bool) {
	value, err := c.cache.Get(ctx, oid)
	if err != nil {
		c.misses.Add(1)
		return models.Place{}, false
	}
	place, ok := value.(models.Place)
	if !ok {
		c.misses.Add(1)
		return models.Place{}, false
	}
	c.hits.Add(1)
	return place, true
}

// Set stores a place read from the object store.
func (c *DetailCache) Set(ctx context.Context, oid string, place models.Place) error {
	return c.cache.Set(ctx, oid, place, store.WithExpiration(c.ttl))
}

// Invalidate drops oid once its object is gone.
func (c *DetailCache) Invalidate(ctx context.Context, oid string) {
	_ = c.cache.Delete(ctx, oid)
}

func (c *DetailCache) Stats() DetailCacheStats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	st := DetailCacheStats{Hits: hits, Misses: misses}
	if total := hits + misses; total > 0 {
		st.HitRate = float64(hits) / float64(total)
	}
	return st
}
