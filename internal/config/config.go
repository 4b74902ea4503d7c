package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	BackendPostGIS = "postgis"
	BackendSQLite  = "sqlite"
	BackendElastic = "elastic"
)

// Config holds all configuration values from environment.
type Config struct {
	AppPort         string
	ObjectStorePath string

	// Geo index backend selection
	GeoIndexBackend    string
	DBHost             string
	DBPort             string
	DBUser             string
	DBPassword         string
	DBName             string
	GeoIndexSQLitePath string
	ElasticURL         string
	ElasticIndex       string

	// Backups (optional)
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioSSL       bool

	// Registry settings
	IDScheme           string
	DefaultRadiusKm    float64
	MaxResults         int
	PlaceCacheTTL      time.Duration // 0 disables the detail cache
	CreateRateLimit    float64       // creates per second, 0 disables limiting
	SlowQueryThreshold time.Duration
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	minioSSL := false
	if sslEnv := os.Getenv("MINIO_SSL"); sslEnv != "" {
		val, err := strconv.ParseBool(sslEnv)
		if err != nil {
			return nil, fmt.Errorf("invalid MINIO_SSL value: %v", err)
		}
		minioSSL = val
	}
	defaultRadius := 5.0
	if radiusEnv := os.Getenv("DEFAULT_RADIUS_KM"); radiusEnv != "" {
		val, err := strconv.ParseFloat(radiusEnv, 64)
		if err != nil || val <= 0 {
			return nil, fmt.Errorf("invalid DEFAULT_RADIUS_KM value: %q", radiusEnv)
		}
		defaultRadius = val
	}
	maxResults := 50
	if maxEnv := os.Getenv("MAX_RESULTS"); maxEnv != "" {
		val, err := strconv.Atoi(maxEnv)
		if err != nil || val <= 0 || val > 50 {
			return nil, fmt.Errorf("invalid MAX_RESULTS value: %q (must be 1-50)", maxEnv)
		}
		maxResults = val
	}
	cacheTTL := 5 * time.Minute
	if ttlEnv := os.Getenv("PLACE_CACHE_TTL"); ttlEnv != "" {
		val, err := time.ParseDuration(ttlEnv)
		if err != nil {
			return nil, fmt.Errorf("invalid PLACE_CACHE_TTL value: %v", err)
		}
		cacheTTL = val
	}
	rateLimit := 0.0
	if rateEnv := os.Getenv("CREATE_RATE_LIMIT"); rateEnv != "" {
		val, err := strconv.ParseFloat(rateEnv, 64)
		if err != nil || val < 0 {
			return nil, fmt.Errorf("invalid CREATE_RATE_LIMIT value: %q", rateEnv)
		}
		rateLimit = val
	}
	slowQuery := 200 * time.Millisecond
	if slowEnv := os.Getenv("SLOW_QUERY_THRESHOLD"); slowEnv != "" {
		val, err := time.ParseDuration(slowEnv)
		if err != nil {
			return nil, fmt.Errorf("invalid SLOW_QUERY_THRESHOLD value: %v", err)
		}
		slowQuery = val
	}

	cfg := &Config{
		AppPort:         os.Getenv("PLACES_PORT"),
		ObjectStorePath: getEnv("OBJECT_STORE_PATH", "var/objects.db"),

		GeoIndexBackend:    getEnv("GEO_INDEX_BACKEND", BackendPostGIS),
		DBHost:             os.Getenv("DB_HOST"),
		DBPort:             getEnv("DB_PORT", "5432"),
		DBUser:             os.Getenv("DB_USER"),
		DBPassword:         os.Getenv("DB_PASSWORD"),
		DBName:             os.Getenv("DB_NAME"),
		GeoIndexSQLitePath: getEnv("GEO_INDEX_SQLITE_PATH", "var/place_index.db"),
		ElasticURL:         getEnv("ELASTIC_URL", "http://localhost:9200"),
		ElasticIndex:       getEnv("ELASTIC_INDEX", "place_index"),

		MinioEndpoint:  os.Getenv("MINIO_ENDPOINT"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    os.Getenv("MINIO_BUCKET"),
		MinioSSL:       minioSSL,

		IDScheme:           getEnv("ID_SCHEME", "uuid"),
		DefaultRadiusKm:    defaultRadius,
		MaxResults:         maxResults,
		PlaceCacheTTL:      cacheTTL,
		CreateRateLimit:    rateLimit,
		SlowQueryThreshold: slowQuery,
	}

	switch cfg.GeoIndexBackend {
	case BackendPostGIS:
		if cfg.DBHost == "" || cfg.DBUser == "" || cfg.DBName == "" {
			return nil, fmt.Errorf("database configuration is incomplete")
		}
	case BackendSQLite, BackendElastic:
	default:
		return nil, fmt.Errorf("unknown GEO_INDEX_BACKEND %q", cfg.GeoIndexBackend)
	}
	if cfg.IDScheme != "uuid" && cfg.IDScheme != "counting" {
		return nil, fmt.Errorf("unknown ID_SCHEME %q", cfg.IDScheme)
	}
	if cfg.MinioEndpoint != "" && (cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" || cfg.MinioBucket == "") {
		return nil, fmt.Errorf("minio configuration is incomplete")
	}
	return cfg, nil
}

// BackupsEnabled reports whether MinIO is configured.
func (c *Config) BackupsEnabled() bool {
	return c.MinioEndpoint != ""
}

// ConnectDatabase initializes a GORM database connection to PostgreSQL.
func ConnectDatabase(cfg *Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}
	return db, nil
}
