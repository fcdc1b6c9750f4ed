package external

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"

	"companion/internal/types"
)

// ---------------------------------------------------------------------------
// Stub Implementations
//
// Stubs let the service boot with APP_ENV=local without vendor credentials.
// They log every call and return predictable values.
// ---------------------------------------------------------------------------

// StubBillingProvider implements BillingProvider without calling Stripe.
type StubBillingProvider struct {
	logger *slog.Logger
	period time.Duration
}

// NewStubBillingProvider creates a StubBillingProvider.
func NewStubBillingProvider(logger *slog.Logger) *StubBillingProvider {
	return &StubBillingProvider{logger: logger, period: 30 * 24 * time.Hour}
}

func (s *StubBillingProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	id := "cs_stub_" + uuid.NewString()
	s.logger.InfoContext(ctx, "stub: CreateCheckoutSession called",
		"subject_id", req.SubjectID,
		"purchase_type", req.Intent.Kind,
		"session_id", id,
	)
	return &CheckoutSession{ID: id, URL: "https://checkout.stub.local/" + id}, nil
}

func (s *StubBillingProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	s.logger.InfoContext(ctx, "stub: CreatePortalSession called",
		"customer_id", customerID,
		"return_url", returnURL,
	)
	if customerID == "" {
		return "", types.NewAppError(types.ErrCodeNotFoundCustomer, "no billing customer on record", nil)
	}
	return "https://portal.stub.local/session", nil
}

func (s *StubBillingProvider) SubscriptionPeriodEnd(ctx context.Context, subscriptionID string) (time.Time, error) {
	s.logger.InfoContext(ctx, "stub: SubscriptionPeriodEnd called", "subscription_id", subscriptionID)
	return time.Now().UTC().Add(s.period), nil
}

// StubWebhookVerifier decodes events without checking signatures.
type StubWebhookVerifier struct {
	logger *slog.Logger
}

// NewStubWebhookVerifier creates a StubWebhookVerifier.
func NewStubWebhookVerifier(logger *slog.Logger) *StubWebhookVerifier {
	return &StubWebhookVerifier{logger: logger}
}

func (s *StubWebhookVerifier) ConstructEvent(payload []byte, _ string) (stripe.Event, error) {
	s.logger.Info("stub: Stripe webhook ConstructEvent called", "payload_len", len(payload))
	var ev stripe.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return stripe.Event{}, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}

// StubChatModel answers with a canned line in the persona's voice.
type StubChatModel struct {
	logger *slog.Logger
}

// NewStubChatModel creates a StubChatModel.
func NewStubChatModel(logger *slog.Logger) *StubChatModel {
	return &StubChatModel{logger: logger}
}

func (s *StubChatModel) Complete(ctx context.Context, req ChatRequest) (*ChatReply, error) {
	s.logger.InfoContext(ctx, "stub: Complete called",
		"persona", req.Persona.ID,
		"turns", len(req.Messages),
	)
	last := ""
	if n := len(req.Messages); n > 0 {
		last = req.Messages[n-1].Content
	}
	return &ChatReply{
		Content: fmt.Sprintf("%s heard you say: %q", req.Persona.DisplayName, last),
		Model:   "stub",
	}, nil
}

var (
	_ BillingProvider = (*StubBillingProvider)(nil)
	_ WebhookVerifier = (*StubWebhookVerifier)(nil)
	_ ChatModel       = (*StubChatModel)(nil)
)
