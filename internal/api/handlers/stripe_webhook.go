package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"companion/internal/core"
	"companion/internal/external"
	"companion/internal/reconcile"
	"companion/internal/types"
)

// maxWebhookBodySize matches the largest payload Stripe delivers.
const maxWebhookBodySize = 64 * 1024

// PaymentReconciler applies a normalized payment event.
type PaymentReconciler interface {
	Reconcile(ctx context.Context, ev types.PaymentEvent) reconcile.Result
}

// WebhookAck is the body returned to Stripe.
type WebhookAck struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome"`
}

// StripeWebhookHandler receives Stripe events. It is not behind auth; the
// Stripe-Signature header is the credential.
type StripeWebhookHandler struct {
	verifier   external.WebhookVerifier
	reconciler PaymentReconciler
	logger     *slog.Logger
}

// NewStripeWebhookHandler creates a StripeWebhookHandler.
func NewStripeWebhookHandler(verifier external.WebhookVerifier, reconciler PaymentReconciler, logger *slog.Logger) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{verifier: verifier, reconciler: reconciler, logger: logger}
}

// RegisterRoutes mounts POST /stripe under the webhooks group.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/stripe", h.Handle)
}

// Handle verifies and reconciles one event.
//
// Responses: 400 when the body or signature is bad; 500 when the event could
// not be persisted, so Stripe redelivers it; 200 for everything else,
// including duplicates, ignored kinds and events naming unknown subjects.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to read webhook body", slog.Any("error", err))
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidRequest, "failed to read request body", err))
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidRequest, "missing Stripe-Signature header", nil))
		return
	}

	event, err := h.verifier.ConstructEvent(payload, sigHeader)
	if err != nil {
		h.logger.WarnContext(ctx, "webhook signature verification failed", slog.Any("error", err))
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidRequest, "webhook signature verification failed", err))
		return
	}

	ev, err := reconcile.FromStripeEvent(event)
	if err != nil {
		h.logger.WarnContext(ctx, "undecodable stripe event acknowledged",
			slog.String("event_id", event.ID),
			slog.String("event_type", string(event.Type)),
			slog.Any("error", err),
		)
		core.JSON(w, r, http.StatusOK, WebhookAck{Received: true, Outcome: string(reconcile.OutcomeInvalidEvent)})
		return
	}

	res := h.reconciler.Reconcile(ctx, ev)
	if res.Retryable() {
		core.Error(w, r, types.NewPersistenceFailure("payment event could not be recorded", res.Err))
		return
	}
	core.JSON(w, r, http.StatusOK, WebhookAck{Received: true, Outcome: string(res.Outcome)})
}
