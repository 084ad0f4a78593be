package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	AWS        AWSConfig
	Razorpay   RazorpayConfig
	Booking    BookingConfig
	Settlement SettlementConfig
	Worker     WorkerConfig
}

// RazorpayConfig for India payments. Empty keys select the sandbox gateway.
type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	SandboxSecret string // signs sandbox checkouts and webhooks when no keys are set
}

// Enabled reports whether live gateway credentials are configured.
func (c RazorpayConfig) Enabled() bool {
	return c.KeyID != "" && c.KeySecret != ""
}

// BookingConfig holds pricing and ledger settings.
type BookingConfig struct {
	Currency        string
	ProDiscountRate float64 // fraction, 0.05 = 5%
}

// SettlementConfig holds payout settings.
type SettlementConfig struct {
	DefaultCommissionRate float64 // fraction of gross revenue kept by the platform
}

// WorkerConfig holds background sweep settings.
type WorkerConfig struct {
	ReconcileIntervalSec  int
	SettlementIntervalSec int
	LockTTLSec            int
	StatementDedupeSec    int
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
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/tripnest?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT validation settings. Tokens are issued by the identity service.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and the payout statements bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	StatementsBucket     string
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
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "tripnest"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvInt("DB_MAX_CONNS", 10),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "ap-south-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			StatementsBucket:     getEnv("AWS_S3_STATEMENTS_BUCKET", "tripnest-payout-statements"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Razorpay: RazorpayConfig{
			KeyID:         getEnv("RAZORPAY_KEY_ID", ""),
			KeySecret:     getEnv("RAZORPAY_KEY_SECRET", ""),
			WebhookSecret: getEnv("RAZORPAY_WEBHOOK_SECRET", ""),
			SandboxSecret: getEnv("PAYMENT_SANDBOX_SECRET", "sandbox-secret"),
		},
		Booking: BookingConfig{
			Currency:        getEnv("BOOKING_CURRENCY", "INR"),
			ProDiscountRate: getEnvFloat("PRO_DISCOUNT_RATE", 0.05),
		},
		Settlement: SettlementConfig{
			DefaultCommissionRate: getEnvFloat("DEFAULT_COMMISSION_RATE", 0.10),
		},
		Worker: WorkerConfig{
			ReconcileIntervalSec:  getEnvInt("RECONCILE_INTERVAL_SEC", 300),
			SettlementIntervalSec: getEnvInt("SETTLEMENT_INTERVAL_SEC", 3600),
			LockTTLSec:            getEnvInt("SWEEP_LOCK_TTL_SEC", 120),
			StatementDedupeSec:    getEnvInt("STATEMENT_DEDUPE_SEC", 10800),
		},
	}
	if cfg.Settlement.DefaultCommissionRate < 0 || cfg.Settlement.DefaultCommissionRate > 1 {
		return nil, fmt.Errorf("DEFAULT_COMMISSION_RATE must be between 0 and 1, got %v", cfg.Settlement.DefaultCommissionRate)
	}
	if cfg.Booking.ProDiscountRate < 0 || cfg.Booking.ProDiscountRate > 1 {
		return nil, fmt.Errorf("PRO_DISCOUNT_RATE must be between 0 and 1, got %v", cfg.Booking.ProDiscountRate)
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
