// Package config loads broker settings from the environment once at boot.
// A settings change requires a restart; nothing here reloads at runtime.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	LogLevel         string
	LogDir           string
	LogRetentionDays int

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Panel    PanelConfig
	Trial    TrialConfig
	Devices  DeviceConfig
	Autopay  AutopayConfig
	Checkout CheckoutConfig
	Receipts ReceiptConfig
	Webhooks WebhookConfig
	Admin    AdminConfig
}

// PanelConfig points at the upstream VPN control plane.
type PanelConfig struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	MaxRetries int
}

// TrialConfig describes the free trial offering.
type TrialConfig struct {
	DurationDays      int
	TrafficLimitGB    int
	DeviceLimit       int
	SquadUUID         string
	CleanupAfterHours int
	DeleteFromPanel   bool
}

// DeviceConfig bounds the per-subscription device slots.
type DeviceConfig struct {
	DefaultLimit         int
	MaxLimit             int
	PricePerDeviceKopeks int64
	ModemPriceKopeks     int64
}

// AutopayConfig controls scheduled renewals.
type AutopayConfig struct {
	WarningDays       []int
	DefaultDaysBefore int
}

// CheckoutConfig controls the purchase wizard.
type CheckoutConfig struct {
	DraftTTL time.Duration
}

// ReceiptConfig points at the fiscal receipt service.
type ReceiptConfig struct {
	ServiceURL  string
	Token       string
	MaxAttempts int
}

// WebhookConfig carries per-provider webhook credentials.
type WebhookConfig struct {
	YookassaSecret string
	CryptobotToken string
	StarsSecret    string
}

// AdminConfig identifies operators and the audit channel.
type AdminConfig struct {
	ChatIDs        []int64
	AuditChannelID int64
	APIToken       string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "vpnbroker"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		LogLevel:         getenv("LOG_LEVEL", "info"),
		LogDir:           getenv("LOG_DIR", "logs"),
		LogRetentionDays: getenvInt("LOG_RETENTION_DAYS", 14),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "vpnbroker"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 600),

		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		Panel: PanelConfig{
			BaseURL:    strings.TrimRight(getenv("PANEL_BASE_URL", "http://localhost:3000"), "/"),
			Token:      strings.TrimSpace(getenv("PANEL_TOKEN", "")),
			Timeout:    getenvDuration("PANEL_TIMEOUT", 15*time.Second),
			MaxRetries: getenvInt("PANEL_MAX_RETRIES", 3),
		},
		Trial: TrialConfig{
			DurationDays:      getenvInt("TRIAL_DURATION_DAYS", 3),
			TrafficLimitGB:    getenvInt("TRIAL_TRAFFIC_LIMIT_GB", 10),
			DeviceLimit:       getenvInt("TRIAL_DEVICE_LIMIT", 2),
			SquadUUID:         strings.TrimSpace(getenv("TRIAL_SQUAD_UUID", "")),
			CleanupAfterHours: getenvInt("TRIAL_CLEANUP_AFTER_HOURS", 24),
			DeleteFromPanel:   getenvBool("TRIAL_DELETE_FROM_PANEL", false),
		},
		Devices: DeviceConfig{
			DefaultLimit:         getenvInt("DEFAULT_DEVICE_LIMIT", 1),
			MaxLimit:             getenvInt("MAX_DEVICES_LIMIT", 10),
			PricePerDeviceKopeks: getenvInt64("PRICE_PER_DEVICE", 5000),
			ModemPriceKopeks:     getenvInt64("MODEM_PRICE", 10000),
		},
		Autopay: AutopayConfig{
			WarningDays:       getenvInts("AUTOPAY_WARNING_DAYS", []int{3, 7}),
			DefaultDaysBefore: getenvInt("AUTOPAY_DEFAULT_DAYS_BEFORE", 3),
		},
		Checkout: CheckoutConfig{
			DraftTTL: getenvDuration("CHECKOUT_DRAFT_TTL", 72*time.Hour),
		},
		Receipts: ReceiptConfig{
			ServiceURL:  strings.TrimSpace(getenv("RECEIPT_SERVICE_URL", "")),
			Token:       strings.TrimSpace(getenv("RECEIPT_SERVICE_TOKEN", "")),
			MaxAttempts: getenvInt("RECEIPT_MAX_ATTEMPTS", 10),
		},
		Webhooks: WebhookConfig{
			YookassaSecret: strings.TrimSpace(getenv("YOOKASSA_WEBHOOK_SECRET", "")),
			CryptobotToken: strings.TrimSpace(getenv("CRYPTOBOT_TOKEN", "")),
			StarsSecret:    strings.TrimSpace(getenv("STARS_WEBHOOK_SECRET", "")),
		},
		Admin: AdminConfig{
			ChatIDs:        getenvInt64s("ADMIN_CHAT_IDS", nil),
			AuditChannelID: getenvInt64("ADMIN_AUDIT_CHANNEL_ID", 0),
			APIToken:       strings.TrimSpace(getenv("ADMIN_API_TOKEN", "")),
		},
	}
}

func (c Config) IsProduction() bool { return c.Environment == "production" }

// IsAdmin reports whether the chat id belongs to an operator.
func (c Config) IsAdmin(chatID int64) bool {
	for _, id := range c.Admin.ChatIDs {
		if id == chatID {
			return true
		}
	}
	return false
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return parsed
		}
	}
	return fallback
}

func getenvInt64(key string, fallback int64) int64 {
	if v, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return parsed
		}
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return parsed
		}
	}
	return fallback
}

func getenvInts(key string, fallback []int) []int {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	var out []int
	for _, part := range strings.Split(v, ",") {
		parsed, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return fallback
		}
		out = append(out, parsed)
	}
	return out
}

func getenvInt64s(key string, fallback []int64) []int64 {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	var out []int64
	for _, part := range strings.Split(v, ",") {
		parsed, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return fallback
		}
		out = append(out, parsed)
	}
	return out
}
