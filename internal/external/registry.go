package external

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"companion/internal/config"
)

// ClientRegistry holds every vendor client the API needs.
type ClientRegistry struct {
	Billing        BillingProvider
	Chat           ChatModel
	StripeVerifier WebhookVerifier
}

// RegistryOption configures NewClientRegistry.
type RegistryOption func(*registryConfig)

type registryConfig struct {
	clientOpts []BaseClientOption
}

// WithClientOptions passes options to every BaseClient the registry builds.
func WithClientOptions(opts ...BaseClientOption) RegistryOption {
	return func(rc *registryConfig) {
		rc.clientOpts = append(rc.clientOpts, opts...)
	}
}

// NewClientRegistry builds stubs when APP_ENV is local and real clients
// otherwise.
func NewClientRegistry(cfg *config.Config, logger *slog.Logger, opts ...RegistryOption) (*ClientRegistry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rc := &registryConfig{}
	for _, opt := range opts {
		opt(rc)
	}

	if cfg.Environment == "local" {
		logger.Info("initializing external clients in STUB mode", "environment", cfg.Environment)
		stubLogger := logger.With("mode", "stub")
		return &ClientRegistry{
			Billing:        NewStubBillingProvider(stubLogger),
			Chat:           NewStubChatModel(stubLogger),
			StripeVerifier: NewStubWebhookVerifier(stubLogger),
		}, nil
	}

	logger.Info("initializing external clients in PRODUCTION mode", "environment", cfg.Environment)

	prices, err := cfg.Billing.Prices()
	if err != nil {
		return nil, fmt.Errorf("price table: %w", err)
	}

	return &ClientRegistry{
		Billing: NewStripeClient(&http.Client{Timeout: 20 * time.Second}, StripeClientConfig{
			SecretKey: cfg.Billing.StripeSecretKey.Unmask(),
			BaseURL:   cfg.Billing.StripeBaseURL,
			Prices:    prices,
			Currency:  cfg.Billing.Currency,
			Logger:    logger.With("client", "stripe"),
		}, rc.clientOpts...),
		Chat: NewOpenAIChatClient(&http.Client{Timeout: cfg.LLM.Timeout}, OpenAIChatConfig{
			BaseURL: cfg.LLM.BaseURL,
			APIKey:  cfg.LLM.APIKey.Unmask(),
			Model:   cfg.LLM.Model,
			Logger:  logger.With("client", "llm"),
		}, rc.clientOpts...),
		StripeVerifier: NewStripeVerifier(cfg.Billing.StripeWebhookSecret.Unmask()),
	}, nil
}
