package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"companion/internal/config"
	"companion/internal/types"
)

// stripeAPIBase is the default Stripe API base URL.
const stripeAPIBase = "https://api.stripe.com"

// StripeClientConfig holds the configuration for creating a StripeClient.
type StripeClientConfig struct {
	SecretKey string
	BaseURL   string // Override for testing; defaults to stripeAPIBase
	Prices    config.PriceTable
	Currency  string
	Logger    *slog.Logger
}

// StripeClient implements BillingProvider with direct form-encoded calls to
// the Stripe REST API through BaseClient.
type StripeClient struct {
	base      *BaseClient
	secretKey string
	baseURL   string
	prices    config.PriceTable
	currency  string
	logger    *slog.Logger
}

// NewStripeClient creates a StripeClient with its own breaker.
func NewStripeClient(httpClient *http.Client, cfg StripeClientConfig, opts ...BaseClientOption) *StripeClient {
	base := NewBaseClient(
		httpClient,
		"stripe",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		"Companion/1.0",
		opts...,
	)
	return NewStripeClientWithBase(base, cfg)
}

// NewStripeClientWithBase creates a StripeClient with a pre-configured
// BaseClient.
func NewStripeClientWithBase(base *BaseClient, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	currency := cfg.Currency
	if currency == "" {
		currency = "usd"
	}

	return &StripeClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		prices:    cfg.Prices,
		currency:  strings.ToLower(currency),
		logger:    logger,
	}
}

// ---------------------------------------------------------------------------
// BillingProvider Implementation
// ---------------------------------------------------------------------------

// CreateCheckoutSession creates a hosted Checkout Session. The subject id is
// set as client_reference_id and in metadata for webhook correlation.
func (s *StripeClient) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	params := url.Values{}
	params.Set("success_url", req.SuccessURL)
	params.Set("cancel_url", req.CancelURL)
	if req.SubjectID != "" {
		params.Set("client_reference_id", req.SubjectID)
	}
	switch {
	case req.CustomerID != "":
		params.Set("customer", req.CustomerID)
	case req.Email != "":
		params.Set("customer_email", req.Email)
	}
	for k, v := range req.Metadata {
		params.Set("metadata["+k+"]", v)
	}

	switch req.Intent.Kind {
	case types.PurchaseSubscription:
		if s.prices.Subscription == "" {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "no subscription price configured", nil)
		}
		params.Set("mode", "subscription")
		params.Set("line_items[0][price]", s.prices.Subscription)
		params.Set("line_items[0][quantity]", "1")
		for k, v := range req.Metadata {
			params.Set("subscription_data[metadata]["+k+"]", v)
		}

	case types.PurchaseOneTime:
		priceID, ok := s.prices.OneTimePrice(req.Intent.PersonaID)
		if !ok {
			return nil, types.NewAppError(
				types.ErrCodeValidationUnknownPersona,
				fmt.Sprintf("persona %q is not for sale", req.Intent.PersonaID),
				nil,
			)
		}
		params.Set("mode", "payment")
		params.Set("line_items[0][price]", priceID)
		params.Set("line_items[0][quantity]", "1")
		if req.CustomerID == "" && req.Email != "" {
			params.Set("customer_creation", "always")
		}

	case types.PurchaseDonation:
		params.Set("mode", "payment")
		params.Set("submit_type", "donate")
		params.Set("line_items[0][price_data][currency]", s.currency)
		params.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(req.Intent.AmountCents, 10))
		params.Set("line_items[0][price_data][product_data][name]", "Donation")
		params.Set("line_items[0][quantity]", "1")

	default:
		return nil, types.NewAppError(
			types.ErrCodeValidationInvalidPurchaseType,
			fmt.Sprintf("unsupported purchase type %q", req.Intent.Kind),
			nil,
		)
	}

	resp, err := s.doPost(ctx, "/v1/checkout/sessions", params)
	if err != nil {
		return nil, s.wrapStripeError("CreateCheckoutSession", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "CreateCheckoutSession")
	}

	var session CheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamStripe,
			"failed to decode Stripe checkout session response",
			err,
		)
	}
	return &session, nil
}

// CreatePortalSession generates a Stripe Billing Portal URL.
func (s *StripeClient) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	if customerID == "" {
		return "", types.NewAppError(types.ErrCodeNotFoundCustomer, "no billing customer on record", nil)
	}

	params := url.Values{}
	params.Set("customer", customerID)
	params.Set("return_url", returnURL)

	resp, err := s.doPost(ctx, "/v1/billing_portal/sessions", params)
	if err != nil {
		return "", s.wrapStripeError("CreatePortalSession", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(resp, "CreatePortalSession")
	}

	var session stripePortalSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", types.NewAppError(
			types.ErrCodeUpstreamStripe,
			"failed to decode Stripe portal session response",
			err,
		)
	}
	return session.URL, nil
}

// SubscriptionPeriodEnd retrieves a subscription and returns its current
// period end. Newer API versions report the period per item; the latest
// item end wins.
func (s *StripeClient) SubscriptionPeriodEnd(ctx context.Context, subscriptionID string) (time.Time, error) {
	if subscriptionID == "" {
		return time.Time{}, errors.New("empty subscription id")
	}

	resp, err := s.doGet(ctx, "/v1/subscriptions/"+url.PathEscape(subscriptionID), nil)
	if err != nil {
		return time.Time{}, s.wrapStripeError("SubscriptionPeriodEnd", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return time.Time{}, s.handleErrorResponse(resp, "SubscriptionPeriodEnd")
	}

	var sub stripeSubscription
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return time.Time{}, types.NewAppError(
			types.ErrCodeUpstreamStripe,
			"failed to decode Stripe subscription response",
			err,
		)
	}

	end := sub.CurrentPeriodEnd
	for _, item := range sub.Items.Data {
		end = max(end, item.CurrentPeriodEnd)
	}
	if end == 0 {
		return time.Time{}, types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("subscription %s has no current period end", subscriptionID),
			nil,
		)
	}
	return time.Unix(end, 0).UTC(), nil
}

// ---------------------------------------------------------------------------
// HTTP Helpers
// ---------------------------------------------------------------------------

func (s *StripeClient) doGet(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	reqURL := s.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	s.setAuthHeaders(req)

	return s.base.Do(req)
}

func (s *StripeClient) doPost(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	s.setAuthHeaders(req)

	return s.base.Do(req)
}

func (s *StripeClient) setAuthHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)
}

// ---------------------------------------------------------------------------
// Error Handling
// ---------------------------------------------------------------------------

type stripeErrorResponse struct {
	Error stripeErrorBody `json:"error"`
}

type stripeErrorBody struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
	Param       string `json:"param"`
}

// handleErrorResponse reads a Stripe error response and maps it to a
// types.AppError.
func (s *StripeClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d and response body was unreadable", operation, resp.StatusCode),
			readErr,
		)
	}

	var stripeErr stripeErrorResponse
	if jsonErr := json.Unmarshal(body, &stripeErr); jsonErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d with non-JSON body", operation, resp.StatusCode),
			jsonErr,
		)
	}

	return s.mapStripeError(operation, resp.StatusCode, &stripeErr.Error)
}

func (s *StripeClient) mapStripeError(operation string, statusCode int, stripeErr *stripeErrorBody) error {
	if stripeErr.Code == "card_declined" || stripeErr.DeclineCode != "" {
		return types.NewAppErrorWithDetails(
			types.ErrCodePaymentDeclined,
			fmt.Sprintf("%s: payment declined: %s", operation, stripeErr.Message),
			nil,
			map[string]any{
				"decline_code": stripeErr.DeclineCode,
				"stripe_code":  stripeErr.Code,
			},
		)
	}

	s.logger.Warn("stripe request rejected",
		"operation", operation,
		"status", statusCode,
		"stripe_code", stripeErr.Code,
		"param", stripeErr.Param,
	)

	switch {
	case statusCode == http.StatusNotFound && strings.Contains(stripeErr.Param, "customer"):
		return types.NewAppError(
			types.ErrCodeNotFoundCustomer,
			fmt.Sprintf("%s: Stripe customer not found", operation),
			nil,
		)
	default:
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe error (%d): %s", operation, statusCode, stripeErr.Message),
			nil,
		)
	}
}

// wrapStripeError wraps a transport error with the operation name unless
// BaseClient already produced an AppError.
func (s *StripeClient) wrapStripeError(operation string, err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamStripe,
		fmt.Sprintf("%s: Stripe request failed", operation),
		err,
	)
}

// ---------------------------------------------------------------------------
// Stripe Response Types
// ---------------------------------------------------------------------------

type stripePortalSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type stripeSubscription struct {
	ID               string                  `json:"id"`
	Status           string                  `json:"status"`
	CurrentPeriodEnd int64                   `json:"current_period_end"`
	Items            stripeSubscriptionItems `json:"items"`
}

type stripeSubscriptionItems struct {
	Data []stripeSubscriptionItem `json:"data"`
}

type stripeSubscriptionItem struct {
	CurrentPeriodEnd int64 `json:"current_period_end"`
}

// ---------------------------------------------------------------------------
// Webhook Verification
// ---------------------------------------------------------------------------

// StripeVerifier implements WebhookVerifier with stripe-go's HMAC-SHA256
// signature and timestamp tolerance check.
type StripeVerifier struct {
	secret string
}

// NewStripeVerifier creates a verifier for the endpoint signing secret.
func NewStripeVerifier(secret string) *StripeVerifier {
	return &StripeVerifier{secret: secret}
}

// ConstructEvent verifies the signature and decodes the event. The event's
// API version may differ from the library's pinned version; payloads are
// read leniently downstream.
func (v *StripeVerifier) ConstructEvent(payload []byte, header string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, header, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}

var (
	_ BillingProvider = (*StripeClient)(nil)
	_ WebhookVerifier = (*StripeVerifier)(nil)
)
