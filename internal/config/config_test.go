package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"PLACES_PORT", "OBJECT_STORE_PATH", "GEO_INDEX_BACKEND",
	"DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME",
	"GEO_INDEX_SQLITE_PATH", "ELASTIC_URL", "ELASTIC_INDEX",
	"MINIO_ENDPOINT", "MINIO_ACCESS_KEY", "MINIO_SECRET_KEY", "MINIO_BUCKET", "MINIO_SSL",
	"ID_SCHEME", "DEFAULT_RADIUS_KM", "MAX_RESULTS", "PLACE_CACHE_TTL",
	"CREATE_RATE_LIMIT", "SLOW_QUERY_THRESHOLD",
}

// clearEnv blanks every key LoadConfig reads; empty values count as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoadConfig_SQLiteDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEO_INDEX_BACKEND", "sqlite")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, cfg.GeoIndexBackend)
	assert.Equal(t, "var/objects.db", cfg.ObjectStorePath)
	assert.Equal(t, 5.0, cfg.DefaultRadiusKm)
	assert.Equal(t, 50, cfg.MaxResults)
	assert.Equal(t, 5*time.Minute, cfg.PlaceCacheTTL)
	assert.Equal(t, "uuid", cfg.IDScheme)
	assert.False(t, cfg.BackupsEnabled())
}

func TestLoadConfig_PostGISRequiresDatabase(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEO_INDEX_BACKEND", "postgis")
	t.Setenv("DB_HOST", "")

	_, err := LoadConfig()
	assert.EqualError(t, err, "database configuration is incomplete")

	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_USER", "places")
	t.Setenv("DB_NAME", "places")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "5432", cfg.DBPort)
}

func TestLoadConfig_RejectsBadValues(t *testing.T) {
	cases := map[string][2]string{
		"backend":      {"GEO_INDEX_BACKEND", "mongo"},
		"max results":  {"MAX_RESULTS", "51"},
		"radius":       {"DEFAULT_RADIUS_KM", "-1"},
		"ttl":          {"PLACE_CACHE_TTL", "soon"},
		"rate":         {"CREATE_RATE_LIMIT", "fast"},
		"id scheme":    {"ID_SCHEME", "sequential"},
		"minio ssl":    {"MINIO_SSL", "maybe"},
		"slow queries": {"SLOW_QUERY_THRESHOLD", "10"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("GEO_INDEX_BACKEND", "sqlite")
			t.Setenv(kv[0], kv[1])
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_PartialMinio(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEO_INDEX_BACKEND", "sqlite")
	t.Setenv("MINIO_ENDPOINT", "localhost:9000")
	t.Setenv("MINIO_ACCESS_KEY", "")

	_, err := LoadConfig()
	assert.EqualError(t, err, "minio configuration is incomplete")

	t.Setenv("MINIO_ACCESS_KEY", "key")
	t.Setenv("MINIO_SECRET_KEY", "secret")
	t.Setenv("MINIO_BUCKET", "backups")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.BackupsEnabled())
}
