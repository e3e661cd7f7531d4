package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	App    AppConfig
	DB     DBConfig
	Redis  RedisConfig
	JWT    JWTConfig
	MinIO  MinIOConfig
	CORS   CORSConfig
	Google GoogleConfig
	Tap    TapConfig

	// DotEnvLoaded is false when no .env file was found. Load runs before the
	// logger exists, so callers report it.
	DotEnvLoaded bool
}

type AppConfig struct {
	Env       string
	Port      string
	PublicURL string // optional prefix for redirect targets
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
	TimeZone string
}

// DSN returns the PostgreSQL connection string
func (d DBConfig) DSN() string {
	return "host=" + d.Host +
		" user=" + d.User +
		" password=" + d.Password +
		" dbname=" + d.Name +
		" port=" + d.Port +
		" sslmode=" + d.SSLMode +
		" TimeZone=" + d.TimeZone
}

// URL returns the PostgreSQL connection URL (for golang-migrate)
func (d DBConfig) URL() string {
	return "postgres://" + d.User + ":" + d.Password +
		"@" + d.Host + ":" + d.Port +
		"/" + d.Name + "?sslmode=" + d.SSLMode
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
}

// Addr returns the Redis address
func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

type JWTConfig struct {
	Secret string
	Expiry time.Duration
}

type MinIOConfig struct {
	Endpoint  string
	PublicURL string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type CORSConfig struct {
	Origins []string
}

type GoogleConfig struct {
	ClientID string
}

// TapConfig drives the tap verification pipeline.
type TapConfig struct {
	// AllowDevMode enables mode=dev taps, which skip tag authentication.
	AllowDevMode bool
	// AllowDevModeInProduction must also be set for dev mode to survive APP_ENV=production.
	AllowDevModeInProduction bool
	// MasterKeyHex is the AES-128 key tag keys are diversified from. Never logged.
	MasterKeyHex string

	RateLimitWindow time.Duration
	ClaimTTL        time.Duration
	StoreTimeout    time.Duration

	SuccessPath   string
	LoginPath     string
	PostLoginPath string
	ErrorPath     string
}

// Load reads configuration from .env file and environment variables
func Load() *Config {
	// Load .env file (ignore error if not exists - e.g. in Docker)
	dotEnvLoaded := godotenv.Load() == nil

	return &Config{
		DotEnvLoaded: dotEnvLoaded,

		App: AppConfig{
			Env:       getEnv("APP_ENV", "development"),
			Port:      getEnv("APP_PORT", "8080"),
			PublicURL: getEnv("APP_PUBLIC_URL", ""),
		},
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "aion"),
			Password: getEnv("DB_PASSWORD", "aion"),
			Name:     getEnv("DB_NAME", "aion"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			TimeZone: getEnv("DB_TIMEZONE", "UTC"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "default-secret"),
			Expiry: getDuration("JWT_EXPIRY", 24*time.Hour),
		},
		MinIO: MinIOConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
			PublicURL: getEnv("MINIO_PUBLIC_URL", ""),
			AccessKey: getEnv("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: getEnv("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    getEnv("MINIO_BUCKET", "aion-devices"),
			UseSSL:    getBool("MINIO_USE_SSL", false),
		},
		CORS: CORSConfig{
			Origins: strings.Split(getEnv("CORS_ORIGINS", "http://localhost:4321"), ","),
		},
		Google: GoogleConfig{
			ClientID: getEnv("GOOGLE_CLIENT_ID", ""),
		},
		Tap: TapConfig{
			AllowDevMode:             getBool("TAP_ALLOW_DEV_MODE", false),
			AllowDevModeInProduction: getBool("TAP_ALLOW_DEV_MODE_IN_PRODUCTION", false),
			MasterKeyHex:             getEnv("NFC_MASTER_KEY", ""),
			RateLimitWindow:          getDuration("TAP_RATE_LIMIT_WINDOW", time.Minute),
			ClaimTTL:                 getDuration("TAP_CLAIM_TTL", 15*time.Minute),
			StoreTimeout:             getDuration("TAP_STORE_TIMEOUT", 3*time.Second),
			SuccessPath:              getEnv("TAP_SUCCESS_PATH", "/puntos"),
			LoginPath:                getEnv("TAP_LOGIN_PATH", "/auth/login"),
			PostLoginPath:            getEnv("TAP_POST_LOGIN_PATH", "/puntos"),
			ErrorPath:                getEnv("TAP_ERROR_PATH", "/verify-tap"),
		},
	}
}

// Validate rejects configurations that would weaken tap verification.
func (c *Config) Validate() error {
	if c.Tap.AllowDevMode && c.App.Env == "production" && !c.Tap.AllowDevModeInProduction {
		return errors.New("TAP_ALLOW_DEV_MODE is set in production without TAP_ALLOW_DEV_MODE_IN_PRODUCTION")
	}
	if c.App.Env == "production" && c.JWT.Secret == "default-secret" {
		return errors.New("JWT_SECRET must be set in production")
	}
	if c.Tap.RateLimitWindow < 0 || c.Tap.ClaimTTL <= 0 || c.Tap.StoreTimeout <= 0 {
		return errors.New("tap windows and timeouts must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func getDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}
