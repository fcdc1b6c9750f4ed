// Package config defines the configuration of the companion backend.
// Configuration is loaded once at process start and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> SecretProvider references (Lowest)
//
// Any missing required value or invalid format fails the process on startup.
package config

import (
	"time"

	"companion/internal/types"
)

// SecretString is an alias for types.SecretString.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"companion-api"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Billing       BillingConfig
	Auth          AuthConfig
	Usage         UsageConfig
	LLM           LLMConfig
	Security      SecurityConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           string        `envconfig:"PORT" default:"8080"`
	PublicURL      string        `envconfig:"PUBLIC_URL" validate:"required,url"` // e.g., https://app.companion.chat
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"45s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	// Driver selects the store: postgres in deployed environments, memory for
	// local runs without a database.
	Driver string       `envconfig:"STORE_DRIVER" default:"postgres" validate:"oneof=postgres memory"`
	URL    SecretString `envconfig:"DATABASE_URL" validate:"required_if=Driver postgres"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds regional configuration for CloudWatch.
type AWSConfig struct {
	Region      string `envconfig:"AWS_REGION" default:"us-east-1"`
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"` // LocalStack
}

// BillingConfig holds Stripe credentials, the price table and checkout bounds.
type BillingConfig struct {
	StripeSecretKey     SecretString `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`
	StripeBaseURL       string       `envconfig:"STRIPE_API_BASE" default:"https://api.stripe.com" validate:"url"`

	// PriceTableJSON maps purchase keys to Stripe price ids, e.g.
	// {"subscription":"price_123","one_time:mika":"price_456"}.
	PriceTableJSON string `envconfig:"PRICE_TABLE" validate:"required,json"`

	DonationMinCents int64  `envconfig:"DONATION_MIN_CENTS" default:"100" validate:"gt=0"`
	DonationMaxCents int64  `envconfig:"DONATION_MAX_CENTS" default:"50000" validate:"gtefield=DonationMinCents"`
	Currency         string `envconfig:"BILLING_CURRENCY" default:"usd" validate:"len=3"`

	// SubscriptionFallback is the premium extension applied when a
	// subscription payment carries no period end.
	SubscriptionFallback time.Duration `envconfig:"SUBSCRIPTION_FALLBACK_PERIOD" default:"720h"`
}

// AuthConfig holds the BaaS token verification settings.
type AuthConfig struct {
	BaaSJWTSecret SecretString `envconfig:"BAAS_JWT_SECRET" validate:"required,min=32"`
	BaaSIssuer    string       `envconfig:"BAAS_JWT_ISSUER"`
	BaaSAudience  string       `envconfig:"BAAS_JWT_AUDIENCE" default:"authenticated"`
	AllowDevices  bool         `envconfig:"ALLOW_DEVICE_SUBJECTS" default:"true"`
}

// UsageConfig holds quota and retention settings.
type UsageConfig struct {
	DailyMessageLimit   int `envconfig:"DAILY_MESSAGE_LIMIT" default:"5" validate:"min=1"`
	UsageRetentionDays  int `envconfig:"USAGE_RETENTION_DAYS" default:"35" validate:"min=2"`
	LedgerRetentionDays int `envconfig:"LEDGER_RETENTION_DAYS" default:"400" validate:"min=30"`
}

// LLMConfig holds the chat completion provider settings.
type LLMConfig struct {
	BaseURL string        `envconfig:"LLM_BASE_URL" default:"https://api.openai.com/v1" validate:"url"`
	APIKey  SecretString  `envconfig:"LLM_API_KEY" validate:"required"`
	Model   string        `envconfig:"LLM_MODEL" default:"gpt-4o-mini"`
	Timeout time.Duration `envconfig:"LLM_TIMEOUT" default:"30s"`
}

// SecurityConfig holds CORS and rate limiting settings.
type SecurityConfig struct {
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	RequestsPerMinute  int      `envconfig:"RATE_LIMIT_PER_MINUTE" default:"120"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"Companion"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"true"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSecretResolution indicates a SecretProvider failure.
	ErrSecretResolution ConfigErrorType = "SECRET_FAILURE"
	ErrValidation       ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing          ConfigErrorType = "PARSING_FAILED"
)
