package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	TransactionTypeAuthorizeOnly    = "authorize_only"
	TransactionTypeAuthorizeCapture = "authorize_capture"
)

type Config struct {
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPort     string
	AppPort    string
	AppEnv     string

	PublicBaseURL string
	JWTSecret     string

	ViaBill ViaBillConfig

	RedisURL     string
	KafkaBrokers string
	KafkaTopic   string
	OTLPEndpoint string
}

// ViaBillConfig is the merchant's gateway configuration. The API secret
// lives here only; it is handed to the client as credentials and never logged.
type ViaBillConfig struct {
	GatewayID       string
	APIKey          string
	APISecret       string
	TestMode        bool
	TransactionType string
	BaseURL         string
	Affiliate       string
	Timeout         time.Duration
	ModuleVersion   string
}

func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		DBHost:     os.Getenv("DB_HOST"),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),
		DBPort:     os.Getenv("DB_PORT"),
		AppPort:    getEnv("APP_PORT", "8080"),
		AppEnv:     os.Getenv("APP_ENV"),

		PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
		JWTSecret:     os.Getenv("JWT_SECRET"),

		ViaBill: ViaBillConfig{
			GatewayID:       getEnv("VIABILL_GATEWAY_ID", "viabill_payments"),
			APIKey:          os.Getenv("VIABILL_API_KEY"),
			APISecret:       os.Getenv("VIABILL_API_SECRET"),
			TestMode:        getEnvBool("VIABILL_TEST_MODE", true),
			TransactionType: transactionType(os.Getenv("VIABILL_TRANSACTION_TYPE")),
			BaseURL:         getEnv("VIABILL_BASE_URL", "https://secure.viabill.com"),
			Affiliate:       getEnv("VIABILL_AFFILIATE", "GOLANG"),
			Timeout:         getEnvDuration("VIABILL_TIMEOUT", 15*time.Second),
			ModuleVersion:   getEnv("VIABILL_MODULE_VERSION", "1.0.0"),
		},

		RedisURL:     os.Getenv("REDIS_URL"),
		KafkaBrokers: os.Getenv("KAFKA_BROKERS"),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "viabill.payment.state_changed"),
		OTLPEndpoint: os.Getenv("OTLP_ENDPOINT"),
	}

	if cfg.DBHost == "" {
		log.Fatal("Environment variables not loaded properly")
	}

	return cfg
}

// CaptureOnApproval reports whether approved transactions are captured
// immediately instead of left in authorization.
func (c ViaBillConfig) CaptureOnApproval() bool {
	return c.TransactionType == TransactionTypeAuthorizeCapture
}

func transactionType(v string) string {
	if v == TransactionTypeAuthorizeCapture {
		return v
	}
	return TransactionTypeAuthorizeOnly
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
