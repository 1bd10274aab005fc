package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	CORS       CORSConfig
	Sentry     SentryConfig
	Email      EmailConfig
	Security   SecurityConfig
	QueryLimits QueryLimitsConfig
	Providers  ProvidersConfig
	VPN        VPNConfig
	Reconciler ReconcilerConfig
	Notifier   NotifierConfig
	Admin      AdminConfig
	Telemetry  TelemetryConfig
}

type ServerConfig struct {
	Port        string
	GinMode     string
	BaseURL     string
	Environment string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type JWTConfig struct {
	PrivateKey string
	PublicKey  string
}

type CORSConfig struct {
	AllowedOrigins string
}

type SentryConfig struct {
	DSN              string
	Environment      string
	Release          string
	TracesSampleRate float64
	Enabled          bool
}

type EmailConfig struct {
	SendGridAPIKey   string
	FromEmail        string
	FromName         string
	Enabled          bool
	SandboxMode      bool
	MaxEmailsPerHour int
}

type SecurityConfig struct {
	MFAEncryptionKey string // 32-byte key for AES-256 encryption of admin MFA secrets
}

type QueryLimitsConfig struct {
	MaxResultSize   int
	MaxOffset       int
	MaxQueryTimeSec int
}

// ProviderCredentials is one payment provider's connection details.
type ProviderCredentials struct {
	Enabled    bool
	ShopID     string // YooKassa shop id / basic-auth user
	APIKey     string // secret key / merchant secret / bot token
	SecretHeader string // shared-secret header value, if the provider supports one
	ReturnURL  string
	FakeMode   bool // synthesize ids/urls without network I/O, for CI
}

type ProvidersConfig struct {
	YooKassa      ProviderCredentials
	Platega       ProviderCredentials
	CryptoBot     ProviderCredentials
	DefaultCurrency      string
	PaymentTimeoutMinutes int
	CheckIntervalSeconds  int
}

type VPNConfig struct {
	CatalogPath       string // optional YAML seed file for servers/tariffs
	RequestTimeoutSec int
	PrimaryOutlineID  int64
}

type ReconcilerConfig struct {
	Enabled                 bool
	PendingSweepIntervalSec int
	KeySweepIntervalSec     int
	ExpirySweepIntervalSec  int
	CleanupExpiredHours     int
	V2RayPaceSeconds        int
	OtherPaceSeconds        int
}

type NotifierConfig struct {
	BotAPIURL string // e.g. https://api.telegram.org/bot<token>/sendMessage
	BotToken  string
	Timeout   int
}

type AdminConfig struct {
	AdminUserID int64
	AlertEmail  string
}

type TelemetryConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// Load assembles Config from the environment, the way the rest of the
// stack does it: .env via godotenv, then os.Getenv with typed fallbacks.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		redisDB = 0
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			GinMode:     getEnv("GIN_MODE", "debug"),
			BaseURL:     getEnv("BASE_URL", "http://localhost:8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "vpnpay"),
			Password: getEnv("DB_PASSWORD", "CHANGEME_SECURE_PASSWORD_HERE"),
			Name:     getEnv("DB_NAME", "vpnpay_db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			PrivateKey: getEnv("JWT_PRIVATE_KEY", ""),
			PublicKey:  getEnv("JWT_PUBLIC_KEY", ""),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
		},
		Sentry: SentryConfig{
			DSN:              getEnv("SENTRY_DSN", ""),
			Environment:      getEnv("SENTRY_ENVIRONMENT", "development"),
			Release:          getEnv("SENTRY_RELEASE", ""),
			TracesSampleRate: getEnvFloat("SENTRY_TRACES_SAMPLE_RATE", 1.0),
			Enabled:          getEnv("SENTRY_ENABLED", "false") == "true",
		},
		Email: EmailConfig{
			SendGridAPIKey:   getEnv("SENDGRID_API_KEY", ""),
			FromEmail:        getEnv("EMAIL_FROM_ADDRESS", "noreply@vpnpay.example"),
			FromName:         getEnv("EMAIL_FROM_NAME", "VPN Billing"),
			Enabled:          getEnv("EMAIL_ENABLED", "false") == "true",
			SandboxMode:      getEnv("EMAIL_SANDBOX_MODE", "false") == "true",
			MaxEmailsPerHour: getEnvInt("EMAIL_MAX_PER_HOUR", 20),
		},
		Security: SecurityConfig{
			MFAEncryptionKey: getEnv("MFA_ENCRYPTION_KEY", ""),
		},
		QueryLimits: QueryLimitsConfig{
			MaxResultSize:   getEnvInt("QUERY_MAX_RESULT_SIZE", 200),
			MaxOffset:       getEnvInt("QUERY_MAX_OFFSET", 100000),
			MaxQueryTimeSec: getEnvInt("QUERY_MAX_TIME_SEC", 5),
		},
		Providers: ProvidersConfig{
			YooKassa: ProviderCredentials{
				Enabled:      getEnv("YOOKASSA_ENABLED", "false") == "true",
				ShopID:       getEnv("YOOKASSA_SHOP_ID", ""),
				APIKey:       getEnv("YOOKASSA_API_KEY", ""),
				SecretHeader: getEnv("YOOKASSA_WEBHOOK_SECRET", ""),
				ReturnURL:    getEnv("YOOKASSA_RETURN_URL", ""),
				FakeMode:     getEnv("YOOKASSA_FAKE_MODE", "true") == "true",
			},
			Platega: ProviderCredentials{
				Enabled:      getEnv("PLATEGA_ENABLED", "false") == "true",
				ShopID:       getEnv("PLATEGA_MERCHANT_ID", ""),
				APIKey:       getEnv("PLATEGA_SECRET", ""),
				SecretHeader: getEnv("PLATEGA_WEBHOOK_SECRET", ""),
				ReturnURL:    getEnv("PLATEGA_RETURN_URL", ""),
				FakeMode:     getEnv("PLATEGA_FAKE_MODE", "true") == "true",
			},
			CryptoBot: ProviderCredentials{
				Enabled:      getEnv("CRYPTOBOT_ENABLED", "false") == "true",
				APIKey:       getEnv("CRYPTOBOT_API_TOKEN", ""),
				SecretHeader: getEnv("CRYPTOBOT_WEBHOOK_SECRET", ""),
				ReturnURL:    getEnv("CRYPTOBOT_RETURN_URL", ""),
				FakeMode:     getEnv("CRYPTOBOT_FAKE_MODE", "true") == "true",
			},
			DefaultCurrency:       getEnv("PAYMENTS_DEFAULT_CURRENCY", "RUB"),
			PaymentTimeoutMinutes: getEnvInt("PAYMENT_TIMEOUT_MINUTES", 5),
			CheckIntervalSeconds:  getEnvInt("PAYMENT_CHECK_INTERVAL_SECONDS", 5),
		},
		VPN: VPNConfig{
			CatalogPath:       getEnv("VPN_CATALOG_PATH", ""),
			RequestTimeoutSec: getEnvInt("VPN_REQUEST_TIMEOUT_SEC", 15),
			PrimaryOutlineID:  int64(getEnvInt("VPN_PRIMARY_OUTLINE_SERVER_ID", 8)),
		},
		Reconciler: ReconcilerConfig{
			Enabled:                 getEnvBool("RECONCILER_ENABLED", true),
			PendingSweepIntervalSec: getEnvInt("RECONCILER_PENDING_SWEEP_SECONDS", 60),
			KeySweepIntervalSec:     getEnvInt("RECONCILER_KEY_SWEEP_SECONDS", 120),
			ExpirySweepIntervalSec:  getEnvInt("RECONCILER_EXPIRY_SWEEP_SECONDS", 3600),
			CleanupExpiredHours:     getEnvInt("RECONCILER_CLEANUP_EXPIRED_HOURS", 24),
			V2RayPaceSeconds:        getEnvInt("RECONCILER_V2RAY_PACE_SECONDS", 15),
			OtherPaceSeconds:        getEnvInt("RECONCILER_OTHER_PACE_SECONDS", 2),
		},
		Notifier: NotifierConfig{
			BotAPIURL: getEnv("NOTIFIER_BOT_API_URL", ""),
			BotToken:  getEnv("NOTIFIER_BOT_TOKEN", ""),
			Timeout:   getEnvInt("NOTIFIER_BOT_TIMEOUT_SECONDS", 10),
		},
		Admin: AdminConfig{
			AdminUserID: int64(getEnvInt("ADMIN_USER_ID", 0)),
			AlertEmail:  getEnv("ADMIN_ALERT_EMAIL", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:        getEnvBool("TELEMETRY_ENABLED", false),
			ServiceName:    getEnv("TELEMETRY_SERVICE_NAME", "vpnpay-core"),
			ServiceVersion: getEnv("TELEMETRY_SERVICE_VERSION", ""),
			Environment:    getEnv("TELEMETRY_ENVIRONMENT", getEnv("ENVIRONMENT", "development")),
		},
	}

	return cfg, nil
}

// GetDatabaseURL returns a PostgreSQL connection string.
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

