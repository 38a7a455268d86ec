package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config carries all runtime configuration, loaded from the environment.
type Config struct {
	AppEnv    string
	LogLevel  string
	LogFormat string

	HTTPListenAddr   string
	MetricsNamespace string

	// Store selection: "postgres" (default) or "sqlite" for local development.
	DatabaseDriver string
	DatabaseURL    string
	SQLitePath     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTLS      bool

	TelegramBotToken string

	ExtractorBaseURL     string
	ExtractorAPIKey      string
	ExtractorTextModel   string
	ExtractorVisionModel string
	ExtractorTimeout     time.Duration

	SessionTimeout       time.Duration
	SessionSweepInterval time.Duration

	InitialCredits  int
	MonthlyCredits  int
	CreditResetDays int

	PaymentCheckoutURL   string
	PaymentBusiness      string
	PaymentWebhookSecret string
	PremiumPrice         string
	PremiumCurrency      string
	PremiumPeriodDays    int

	SummaryCacheTTL time.Duration
}

// Load reads configuration from environment variables, applying defaults.
func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:    getEnv("APP_ENV", "development"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		HTTPListenAddr:   getEnv("HTTP_LISTEN_ADDR", ":8080"),
		MetricsNamespace: getEnv("METRICS_NAMESPACE", "okanassist"),

		DatabaseDriver: getEnv("DATABASE_DRIVER", "postgres"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		SQLitePath:     getEnv("SQLITE_PATH", "okanassist.db"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisTLS:      getEnvBool("REDIS_TLS", false),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),

		ExtractorBaseURL:     getEnv("EXTRACTOR_BASE_URL", ""),
		ExtractorAPIKey:      getEnv("EXTRACTOR_API_KEY", ""),
		ExtractorTextModel:   getEnv("EXTRACTOR_TEXT_MODEL", "llama-3.3-70b-versatile"),
		ExtractorVisionModel: getEnv("EXTRACTOR_VISION_MODEL", "gemini-1.5-flash"),
		ExtractorTimeout:     getEnvDuration("EXTRACTOR_TIMEOUT", 30*time.Second),

		SessionTimeout:       getEnvDuration("SESSION_TIMEOUT", 30*time.Minute),
		SessionSweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),

		InitialCredits:  getEnvInt("INITIAL_CREDITS", 50),
		MonthlyCredits:  getEnvInt("MONTHLY_CREDITS", 20),
		CreditResetDays: getEnvInt("CREDIT_RESET_DAYS", 30),

		PaymentCheckoutURL:   getEnv("PAYMENT_CHECKOUT_URL", "https://www.paypal.com/cgi-bin/webscr"),
		PaymentBusiness:      getEnv("PAYMENT_BUSINESS_EMAIL", ""),
		PaymentWebhookSecret: getEnv("PAYMENT_WEBHOOK_SECRET", ""),
		PremiumPrice:         getEnv("PREMIUM_PRICE", "9.99"),
		PremiumCurrency:      getEnv("PREMIUM_CURRENCY", "USD"),
		PremiumPeriodDays:    getEnvInt("PREMIUM_PERIOD_DAYS", 30),

		SummaryCacheTTL: getEnvDuration("SUMMARY_CACHE_TTL", 5*time.Minute),
	}

	if cfg.DatabaseDriver == "postgres" && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required with the postgres driver")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
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
