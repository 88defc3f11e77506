package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Upstream modes.
const (
	UpstreamBridge   = "bridge"
	UpstreamSimulate = "simulate"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Relay    RelayConfig
	Upstream UpstreamConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	AWS      AWSConfig
	LogLevel string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// RelayConfig holds in-memory history and fan-out settings.
type RelayConfig struct {
	HistoryLimit     int // default page size for history queries and exports
	HistoryRetention int // entries kept per kind per session; 0 keeps everything
	SendBuffer       int // per-client outbound queue length
}

// UpstreamConfig selects and tunes the live event source.
type UpstreamConfig struct {
	Mode             string
	BridgeURL        string
	ConnectTimeout   time.Duration
	SimulateInterval time.Duration
	SimulateEndAfter time.Duration
}

// DatabaseConfig holds PostgreSQL connection settings for the archive.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/liverelay?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings. An empty Addr disables Redis in the server.
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	EventsChannel string
}

// Enabled reports whether a Redis address was configured.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// JWTConfig holds JWT signing and validation settings. An empty Secret disables auth.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// Enabled reports whether operator tokens are enforced.
func (c JWTConfig) Enabled() bool {
	return c.Secret != ""
}

// AWSConfig holds AWS credentials and the session export bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	ExportsBucket        string
	PresignExpireMinutes int
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5000,http://localhost:3000"),
		},
		Relay: RelayConfig{
			HistoryLimit:     getEnvInt("HISTORY_LIMIT", 50),
			HistoryRetention: getEnvInt("HISTORY_RETENTION", 0),
			SendBuffer:       getEnvInt("SEND_BUFFER", 256),
		},
		Upstream: UpstreamConfig{
			Mode:             strings.ToLower(getEnv("UPSTREAM_MODE", UpstreamBridge)),
			BridgeURL:        getEnv("UPSTREAM_BRIDGE_URL", "ws://localhost:8081/webcast"),
			ConnectTimeout:   getEnvDuration("UPSTREAM_CONNECT_TIMEOUT_SEC", 20, time.Second),
			SimulateInterval: getEnvDuration("SIMULATE_INTERVAL_MS", 750, time.Millisecond),
			SimulateEndAfter: getEnvDuration("SIMULATE_END_AFTER_SEC", 0, time.Second),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "liverelay"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:          getEnv("REDIS_ADDR", ""),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getEnvInt("REDIS_DB", 0),
			EventsChannel: getEnv("REDIS_EVENTS_CHANNEL", "liverelay:events"),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", ""),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ExportsBucket:        getEnv("AWS_S3_EXPORTS_BUCKET", ""),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	switch cfg.Upstream.Mode {
	case UpstreamBridge, UpstreamSimulate:
	default:
		return nil, fmt.Errorf("UPSTREAM_MODE must be %q or %q, got %q", UpstreamBridge, UpstreamSimulate, cfg.Upstream.Mode)
	}
	return cfg, nil
}

// AllowedOrigins splits CORSAllowedOrigins.
func (c ServerConfig) AllowedOrigins() []string {
	return splitTrim(c.CORSAllowedOrigins, ",")
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback int, unit time.Duration) time.Duration {
	return time.Duration(getEnvInt(key, fallback)) * unit
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
