package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string
	LogLevel string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32
	DBMigrate   bool

	// If true, /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// TokenSecret signs REST access tokens (min 32 bytes).
	TokenSecret string
	TokenTTL    time.Duration
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr: EnvString("WREN_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel: EnvString("WREN_LOG_LEVEL", "info"),

		ReadHeaderTimeout: EnvDuration("WREN_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("WREN_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("WREN_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("WREN_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("WREN_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("WREN_DATABASE_URL", ""),
		DBSchema:    EnvString("WREN_DB_SCHEMA", "wren"),
		DBMaxConns:  EnvInt32("WREN_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("WREN_DB_MIN_CONNS", 0),
		DBMigrate:   EnvBool("WREN_DB_MIGRATE", true),

		ReadinessRequireDB: EnvBool("WREN_READINESS_REQUIRE_DB", false),

		TokenSecret: EnvString("WREN_TOKEN_SECRET", ""),
		TokenTTL:    EnvDuration("WREN_TOKEN_TTL", 24*time.Hour),
	}
}
