package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	Port string
	Mode string

	// Database configuration
	DatabaseURL string

	// Redis configuration
	RedisURL string

	// Auth configuration
	JWTSecret string

	// Apple verification configuration
	// 以 bundle id 为键的共享密钥表，"default" 为兜底项，启动时解析一次
	AppleSharedSecrets map[string]string

	// Google Play verification configuration
	// 以 package name 为键的 service account JSON
	GoogleServiceAccounts map[string]string

	// Order configuration
	OrderPrefix string

	// Shipment poll configuration（上游订单可见性竞态的有界轮询）
	OrderPollIntervalSeconds int
	OrderPollTimeoutSeconds  int

	// Brevo ops alert configuration
	BrevoAPIKey    string
	BrevoFromEmail string
	BrevoFromName  string
	OpsAlertEmail  string
}

var AppConfig *Config

func InitConfig() error {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		// Ignore error if .env file doesn't exist
	}

	appleSecrets, err := getEnvJSONMap("APPLE_SHARED_SECRETS")
	if err != nil {
		return fmt.Errorf("failed to parse APPLE_SHARED_SECRETS: %w", err)
	}
	googleAccounts, err := getEnvJSONMap("GOOGLE_SERVICE_ACCOUNTS")
	if err != nil {
		return fmt.Errorf("failed to parse GOOGLE_SERVICE_ACCOUNTS: %w", err)
	}

	AppConfig = &Config{
		Port:                     getEnv("PORT", "8080"),
		Mode:                     getEnv("GIN_MODE", "debug"),
		DatabaseURL:              getEnv("DATABASE_URL", ""),
		RedisURL:                 getEnv("REDIS_URL", "redis://localhost:6379/0"),
		JWTSecret:                getEnv("JWT_SECRET", ""),
		AppleSharedSecrets:       appleSecrets,
		GoogleServiceAccounts:    googleAccounts,
		OrderPrefix:              getEnv("ORDER_PREFIX", "MK"),
		OrderPollIntervalSeconds: getEnvInt("ORDER_POLL_INTERVAL_SECONDS", 1),
		OrderPollTimeoutSeconds:  getEnvInt("ORDER_POLL_TIMEOUT_SECONDS", 10),
		BrevoAPIKey:              getEnv("BREVO_API_KEY", ""),
		BrevoFromEmail:           getEnv("BREVO_FROM_EMAIL", ""),
		BrevoFromName:            getEnv("BREVO_FROM_NAME", "Fulfillment Service"),
		OpsAlertEmail:            getEnv("OPS_ALERT_EMAIL", ""),
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvJSONMap(key string) (map[string]string, error) {
	m := make(map[string]string)
	value := os.Getenv(key)
	if value == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(value), &m); err != nil {
		return nil, err
	}
	return m, nil
}
