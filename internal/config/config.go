package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Database DatabaseConfig
	Supabase SupabaseConfig
	Auth     AuthConfig
	Booking  BookingConfig
	Shop     ShopConfig
	QR       QRConfig
}

type ServerConfig struct {
	Port        string
	ReadTimeout time.Duration
	IdleTimeout time.Duration

	// CORS origins of the storefront; "*" allows any
	AllowedOrigins []string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers []string
	GroupID string
	Topics  TopicConfig
	Enabled bool
}

type TopicConfig struct {
	Changes string
}

type DatabaseConfig struct {
	Host         string
	Port         string
	Username     string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration

	MigrationsDir string
	AutoMigrate   bool
	SeedDemoData  bool
}

// DSN returns the lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}

type SupabaseConfig struct {
	URL string
	Key string
}

type AuthConfig struct {
	OIDCIssuer string
	JWTSecret  string
}

// LedgerBackend values.
const (
	LedgerPostgres = "postgres"
	LedgerSupabase = "supabase"
)

type BookingConfig struct {
	LedgerBackend     string
	MaxAttempts       int
	RequestTimeout    time.Duration
	SubmitGuardTTL    time.Duration
	DatesCacheTTL     time.Duration
	ReconcileInterval time.Duration
	ReconcileInServer bool
}

type ShopConfig struct {
	DeliveryFee decimal.Decimal
}

type QRConfig struct {
	Secret string
	Size   int
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", ":8080"),
			ReadTimeout: 15 * time.Second,
			IdleTimeout: 60 * time.Second,

			AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", "*"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			Username:     getEnv("DB_USERNAME", "tourbooking"),
			Password:     getEnv("DB_PASSWORD", "tourbooking"),
			Database:     getEnv("DB_NAME", "tourbooking"),
			SSLMode:      getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,

			MigrationsDir: getEnv("MIGRATIONS_DIR", "./migrations"),
			AutoMigrate:   getEnvBool("AUTO_MIGRATE", true),
			SeedDemoData:  getEnvBool("SEED_DEMO_DATA", false),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvList("KAFKA_BROKERS", "localhost:9092"),
			GroupID: getEnv("KAFKA_GROUP_ID", "tourbooking-realtime"),
			Enabled: getEnvBool("KAFKA_ENABLED", false),
			Topics: TopicConfig{
				Changes: getEnv("KAFKA_TOPIC_CHANGES", "tourbooking.changes"),
			},
		},
		Supabase: SupabaseConfig{
			URL: getEnv("SUPABASE_URL", ""),
			Key: getEnv("SUPABASE_SERVICE_KEY", ""),
		},
		Auth: AuthConfig{
			OIDCIssuer: getEnv("OIDC_ISSUER", ""),
			JWTSecret:  getEnv("SUPABASE_JWT_SECRET", ""),
		},
		Booking: BookingConfig{
			LedgerBackend:     getEnv("LEDGER_BACKEND", LedgerPostgres),
			MaxAttempts:       getEnvInt("BOOKING_MAX_ATTEMPTS", 3),
			RequestTimeout:    getEnvDuration("BOOKING_REQUEST_TIMEOUT", 10*time.Second),
			SubmitGuardTTL:    getEnvDuration("BOOKING_SUBMIT_GUARD_TTL", 5*time.Second),
			DatesCacheTTL:     getEnvDuration("DATES_CACHE_TTL", 30*time.Second),
			ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", time.Minute),
			ReconcileInServer: getEnvBool("RECONCILE_IN_SERVER", false),
		},
		Shop: ShopConfig{
			DeliveryFee: getEnvDecimal("SHOP_DELIVERY_FEE", decimal.NewFromInt(50)),
		},
		QR: QRConfig{
			Secret: getEnv("QR_SECRET", "change-me"),
			Size:   getEnvInt("QR_SIZE", 256),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvList(key, defaultValue string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, defaultValue), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if parsed, err := decimal.NewFromString(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
