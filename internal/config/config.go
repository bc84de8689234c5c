package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	ServerPort              string
	ServerReadHeaderTimeout time.Duration
	ServerWriteTimeout      time.Duration
	ServerIdleTimeout       time.Duration
	RequestTimeout          time.Duration

	StoreDriver string
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	AccessTokenSecret  string
	RefreshTokenSecret string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	BcryptCost         int
	Production         bool

	CORSOrigins        []string
	RateLimitRPM       int
	AuthRateLimitRPM   int
	IngestRateLimitRPM int
	TrustProxy         bool

	WebhookAPIKey  string
	IngestAPIKey   string
	IngestMaxBytes int64

	StreamKeepAlive    time.Duration
	StreamWriteTimeout time.Duration
	StreamMaxDuration  time.Duration
	StreamMaxPending   int

	RedisURL    string
	SnapshotTTL time.Duration

	LogLevel  string
	LogFormat string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:              getEnv("SERVER_PORT", "8080"),
		ServerReadHeaderTimeout: getDuration("SERVER_READ_HEADER_TIMEOUT", 10*time.Second),
		ServerWriteTimeout:      getDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
		ServerIdleTimeout:       getDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		RequestTimeout:          getDuration("REQUEST_TIMEOUT", 15*time.Second),
		StoreDriver:             strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		DatabaseURL:             strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBMaxConns:              int32(getInt("DB_MAX_CONNS", 10)),
		DBMinConns:              int32(getInt("DB_MIN_CONNS", 1)),
		AccessTokenSecret:       strings.TrimSpace(os.Getenv("ACCESS_TOKEN_SECRET")),
		RefreshTokenSecret:      strings.TrimSpace(os.Getenv("REFRESH_TOKEN_SECRET")),
		AccessTokenTTL:          getDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL:         getDuration("REFRESH_TOKEN_TTL", 24*time.Hour),
		BcryptCost:              getInt("BCRYPT_COST", 10),
		Production:              strings.EqualFold(getEnv("APP_ENV", "development"), "production"),
		CORSOrigins:             splitCSV(getEnv("CORS_ORIGINS", "http://localhost:3000")),
		RateLimitRPM:            getInt("RATE_LIMIT_RPM", 300),
		AuthRateLimitRPM:        getInt("AUTH_RATE_LIMIT_RPM", 20),
		IngestRateLimitRPM:      getInt("INGEST_RATE_LIMIT_RPM", 120),
		TrustProxy:              getBool("TRUST_PROXY", false),
		WebhookAPIKey:           strings.TrimSpace(os.Getenv("WEBHOOK_API_KEY")),
		IngestAPIKey:            strings.TrimSpace(os.Getenv("INGEST_API_KEY")),
		IngestMaxBytes:          getInt64("INGEST_MAX_BYTES", 8*1024),
		StreamKeepAlive:         getDuration("STREAM_KEEPALIVE", 25*time.Second),
		StreamWriteTimeout:      getDuration("STREAM_WRITE_TIMEOUT", 10*time.Second),
		StreamMaxDuration:       getDuration("STREAM_MAX_DURATION", time.Hour),
		StreamMaxPending:        getInt("STREAM_MAX_PENDING", 64),
		RedisURL:                strings.TrimSpace(os.Getenv("REDIS_URL")),
		SnapshotTTL:             getDuration("SNAPSHOT_TTL", 24*time.Hour),
		LogLevel:                strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:               strings.ToLower(getEnv("LOG_FORMAT", "pretty")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DatabaseConfig is the subset the provisioning commands need; it does not
// require token secrets.
type DatabaseConfig struct {
	URL      string
	MaxConns int32
	MinConns int32
}

func LoadDatabase() (DatabaseConfig, error) {
	_ = godotenv.Load()

	cfg := DatabaseConfig{
		URL:      strings.TrimSpace(os.Getenv("DATABASE_URL")),
		MaxConns: int32(getInt("DB_MAX_CONNS", 4)),
		MinConns: int32(getInt("DB_MIN_CONNS", 1)),
	}
	if cfg.URL == "" {
		return DatabaseConfig{}, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.AccessTokenSecret == "" {
		return fmt.Errorf("ACCESS_TOKEN_SECRET is required")
	}

	if c.RefreshTokenSecret == "" {
		return fmt.Errorf("REFRESH_TOKEN_SECRET is required")
	}

	// A shared secret would let an access token be replayed as a refresh token.
	if c.AccessTokenSecret == c.RefreshTokenSecret {
		return fmt.Errorf("ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET must differ")
	}

	if c.ServerPort == "" {
		return fmt.Errorf("SERVER_PORT cannot be empty")
	}

	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q", StoreDriverPostgres, StoreDriverMemory)
	}

	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return fmt.Errorf("token TTLs must be positive")
	}

	if c.RefreshTokenTTL <= c.AccessTokenTTL {
		return fmt.Errorf("REFRESH_TOKEN_TTL must be longer than ACCESS_TOKEN_TTL")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	if c.IngestMaxBytes <= 0 {
		return fmt.Errorf("INGEST_MAX_BYTES must be positive")
	}

	if c.StreamKeepAlive <= 0 {
		return fmt.Errorf("STREAM_KEEPALIVE must be positive")
	}

	if c.StreamWriteTimeout <= 0 {
		return fmt.Errorf("STREAM_WRITE_TIMEOUT must be positive")
	}

	if c.StreamMaxDuration <= c.StreamKeepAlive {
		return fmt.Errorf("STREAM_MAX_DURATION must be longer than STREAM_KEEPALIVE")
	}

	return nil
}

func getEnv(key string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}

	return v
}

func getInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return v
}

func getInt64(key string, fallback int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}

	return v
}

func getBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}

	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return v
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}

	return out
}
