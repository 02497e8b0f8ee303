package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPPort    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis RedisConfig
	Mongo MongoConfig

	Routing   RoutingConfig
	RateLimit RateLimitConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type MongoConfig struct {
	URI      string
	Database string
	Username string
	Password string
}

// RoutingConfig holds process-level knobs of the routing engine. Business
// rules live in RoutingRules and are hot reloaded.
type RoutingConfig struct {
	RulesPath string

	CacheBackend string
	SessionTTL   time.Duration
	CacheTimeout time.Duration

	DecisionLogBackend string
	DecisionLogQueue   int
	DecisionLogWorkers int
	DecisionLogTimeout time.Duration
	EnrichParallelism  int
	SnowflakeNodeID    int64
}

// RateLimitConfig bounds enrichment calls per client. The bucket lives in
// redis so the limit holds across replicas.
type RateLimitConfig struct {
	Enabled     bool
	EnrichRate  float64
	EnrichBurst int
	KeyPrefix   string
}

const (
	CacheBackendRedis  = "redis"
	CacheBackendMemory = "memory"

	DecisionLogBackendSQL   = "sql"
	DecisionLogBackendMongo = "mongo"
	DecisionLogBackendNone  = "none"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "farerouter"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPPort:     getenv("HTTP_PORT", "8080"),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "farerouter"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "localhost:6379")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Mongo: MongoConfig{
			URI:      getenv("MONGODB_URI", "mongodb://localhost:27017"),
			Database: getenv("MONGODB_DATABASE", "farerouter"),
			Username: getenv("MONGODB_USER", ""),
			Password: getenv("MONGODB_PASSWORD", ""),
		},

		Routing: RoutingConfig{
			RulesPath:          strings.TrimSpace(getenv("ROUTING_RULES_PATH", "")),
			CacheBackend:       normalizeCacheBackend(getenv("ROUTING_CACHE_BACKEND", CacheBackendRedis)),
			SessionTTL:         time.Duration(getenvInt("ROUTING_SESSION_TTL_SECONDS", 1800)) * time.Second,
			CacheTimeout:       time.Duration(getenvInt("ROUTING_CACHE_TIMEOUT_MS", 500)) * time.Millisecond,
			DecisionLogBackend: normalizeDecisionLogBackend(getenv("DECISION_LOG_BACKEND", DecisionLogBackendSQL)),
			DecisionLogQueue:   getenvInt("DECISION_LOG_QUEUE_SIZE", 1024),
			DecisionLogWorkers: getenvInt("DECISION_LOG_WORKERS", 4),
			DecisionLogTimeout: time.Duration(getenvInt("DECISION_LOG_TIMEOUT_MS", 2000)) * time.Millisecond,
			EnrichParallelism:  getenvInt("ROUTING_ENRICH_PARALLELISM", 32),
			SnowflakeNodeID:    getenvInt64("SNOWFLAKE_NODE_ID", 1),
		},
		RateLimit: RateLimitConfig{
			Enabled:     getenvBool("RATE_LIMIT_ENABLED", false),
			EnrichRate:  getenvFloat("RATE_LIMIT_ENRICH_RATE", 20),
			EnrichBurst: getenvInt("RATE_LIMIT_ENRICH_BURST", 40),
			KeyPrefix:   strings.TrimSpace(getenv("RATE_LIMIT_KEY_PREFIX", "ratelimit:enrich")),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func normalizeCacheBackend(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case CacheBackendMemory:
		return CacheBackendMemory
	default:
		return CacheBackendRedis
	}
}

func normalizeDecisionLogBackend(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case DecisionLogBackendMongo:
		return DecisionLogBackendMongo
	case DecisionLogBackendNone, "off", "disabled":
		return DecisionLogBackendNone
	default:
		return DecisionLogBackendSQL
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvBool(key string, def bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}
