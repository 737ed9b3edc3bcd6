package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
)

// Config holds all configuration for the payment-link service
type Config struct {
	// Server
	Port        string
	Environment string

	// Database
	DatabaseURL string

	// Redis (refresh locks, connect-state nonces)
	RedisURL string

	// NATS (outbound payment events, optional)
	NATSURL string

	// Base URL this service is reachable at; callback and webhook URLs
	// handed to the processor are built from it.
	PublicBaseURL string

	// Where the user-agent lands after connect/disconnect round trips.
	SettingsURL string
	// Storefront URLs for redirect-capture terminal hops.
	HomeURL     string
	CheckoutURL string

	// Token for privileged (admin) endpoints.
	AdminToken string

	Gateway GatewaySettings
	Broker  BrokerSettings
}

// GatewaySettings is the typed per-gateway configuration, validated once
// at load time.
type GatewaySettings struct {
	BaseURL  string
	Variant  string // legacy or standard
	TestMode bool

	WebhookEnabled bool
	WebhookSecret  string

	SMSNotification   bool
	EmailNotification bool
	Reminder          bool

	// Payment links auto-expire after this many minutes; 0 disables.
	LinkExpireMinutes int

	// Pass processor fees on to the customer (grossed-up link amount).
	CollectGatewayFee bool
	InstantRefund     bool

	// Payment method identifier stamped on orders paid through this
	// integration.
	MethodID string
}

// BrokerSettings configures the OAuth connect broker.
type BrokerSettings struct {
	URL       string
	GatewayID string
	// Only redirects to this host are followed during connect.
	AuthHost string
}

// Load loads configuration from environment variables
func Load() *Config {
	config := &Config{
		Port:        getEnv("PORT", "8093"),
		Environment: getEnv("ENVIRONMENT", "development"),
		DatabaseURL: buildDatabaseURL(),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),
		NATSURL:     getEnv("NATS_URL", ""),

		PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:8093"),
		SettingsURL:   getEnv("SETTINGS_URL", "/admin/settings/payments"),
		HomeURL:       getEnv("STORE_HOME_URL", "/"),
		CheckoutURL:   getEnv("STORE_CHECKOUT_URL", "/checkout"),
		AdminToken:    getEnv("ADMIN_TOKEN", ""),

		Gateway: GatewaySettings{
			BaseURL:           getEnv("RAZORPAY_BASE_URL", "https://api.razorpay.com/v1"),
			Variant:           getEnv("RAZORPAY_API_VARIANT", "standard"),
			TestMode:          getBool("RAZORPAY_TEST_MODE", true),
			WebhookEnabled:    getBool("RAZORPAY_WEBHOOK_ENABLED", false),
			WebhookSecret:     getEnv("RAZORPAY_WEBHOOK_SECRET", ""),
			SMSNotification:   getBool("RAZORPAY_SMS_NOTIFICATION", false),
			EmailNotification: getBool("RAZORPAY_EMAIL_NOTIFICATION", false),
			Reminder:          getBool("RAZORPAY_REMINDER", false),
			LinkExpireMinutes: getInt("RAZORPAY_LINK_EXPIRE_MINUTES", 0),
			CollectGatewayFee: getBool("RAZORPAY_COLLECT_GATEWAY_FEE", false),
			InstantRefund:     getBool("RAZORPAY_INSTANT_REFUND", false),
			MethodID:          getEnv("PAYMENT_METHOD_ID", "razorpay-link"),
		},

		Broker: BrokerSettings{
			URL:       getEnv("CONNECT_BROKER_URL", "https://razorpay-connect.knitpay.org/"),
			GatewayID: getEnv("CONNECT_GATEWAY_ID", "rzp-link-service"),
			AuthHost:  getEnv("CONNECT_AUTH_HOST", "auth.razorpay.com"),
		},
	}

	if config.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}
	if config.Gateway.Variant != "legacy" && config.Gateway.Variant != "standard" {
		log.Fatalf("RAZORPAY_API_VARIANT must be legacy or standard, got %q", config.Gateway.Variant)
	}
	if config.Gateway.WebhookEnabled && config.Gateway.WebhookSecret == "" {
		log.Fatal("RAZORPAY_WEBHOOK_SECRET is required when webhooks are enabled")
	}

	return config
}

// buildDatabaseURL constructs the database URL from individual components
func buildDatabaseURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}

	host := getEnv("DB_HOST", "localhost")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "postgres")
	password := getEnv("DB_PASSWORD", "password")
	dbname := getEnv("DB_NAME", "razorpay_link")
	sslmode := getEnv("DB_SSLMODE", "disable")

	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, password, host, port, dbname, sslmode)
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
