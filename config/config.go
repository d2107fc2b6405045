package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Signaling SignalingConfig
	TURN      TURNConfig
	Webhook   WebhookConfig
	Meetings  MeetingsConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int // pool cap; 0 keeps the pgx default
}

// RedisConfig holds Redis connection settings. Redis is only used for
// cross-instance room fan-out; leave Addr empty to run single-instance.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// SignalingConfig holds session-token signing settings for the WebSocket
// signaling endpoint.
type SignalingConfig struct {
	JWTSecret   string
	ExpireHours int
}

// TURNConfig holds relay credential settings. SharedSecret must match the
// secret configured on the TURN servers (coturn REST auth).
type TURNConfig struct {
	SharedSecret string
	TTLSeconds   int64
	URLs         []string // e.g. turn:turn.example.com:3478, stun:stun.example.com:3478
}

// WebhookConfig holds outbound delivery settings.
type WebhookConfig struct {
	DefaultSecret string // signing fallback when a subscription has no secret
	QueueSize     int
}

// MeetingsConfig holds lifecycle policy knobs.
type MeetingsConfig struct {
	DefaultDurationMinutes int
	ExpiryBufferMinutes    int
	SweepIntervalMinutes   int
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is.
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
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "pulsemeet"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvInt("DB_MAX_CONNS", 0),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Signaling: SignalingConfig{
			JWTSecret:   getEnv("SIGNALING_JWT_SECRET", ""),
			ExpireHours: getEnvInt("SIGNALING_JWT_EXPIRE_HOURS", 24),
		},
		TURN: TURNConfig{
			SharedSecret: getEnv("TURN_SHARED_SECRET", ""),
			TTLSeconds:   int64(getEnvInt("TURN_TTL_SECONDS", 3600)),
			URLs:         splitTrim(getEnv("TURN_URLS", "stun:stun.l.google.com:19302"), ","),
		},
		Webhook: WebhookConfig{
			DefaultSecret: getEnv("WEBHOOK_DEFAULT_SECRET", "pulsemeet-webhook"),
			QueueSize:     getEnvInt("WEBHOOK_QUEUE_SIZE", 256),
		},
		Meetings: MeetingsConfig{
			DefaultDurationMinutes: getEnvInt("MEETING_DEFAULT_DURATION_MINUTES", 60),
			ExpiryBufferMinutes:    getEnvInt("MEETING_EXPIRY_BUFFER_MINUTES", 30),
			SweepIntervalMinutes:   getEnvInt("MEETING_SWEEP_INTERVAL_MINUTES", 5),
		},
	}

	// Missing secrets are a deployment defect, not a per-call error.
	if cfg.Signaling.JWTSecret == "" {
		return nil, fmt.Errorf("SIGNALING_JWT_SECRET is required")
	}
	if cfg.TURN.SharedSecret == "" {
		return nil, fmt.Errorf("TURN_SHARED_SECRET is required")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
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
