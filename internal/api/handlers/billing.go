package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"companion/internal/catalog"
	"companion/internal/config"
	"companion/internal/core"
	"companion/internal/external"
	"companion/internal/reconcile"
	"companion/internal/types"
)

// CreateCheckoutRequest is the body of POST /v1/billing/checkout-session.
// Redirect URLs are built server-side from PUBLIC_URL.
type CreateCheckoutRequest struct {
	PurchaseType types.PurchaseKind `json:"purchase_type" validate:"required"`
	PersonaID    string             `json:"model_id,omitempty" validate:"omitempty,persona_id"`
	AmountCents  int64              `json:"amount_cents,omitempty"`
}

// CheckoutResponse is the body returned for a created checkout.
type CheckoutResponse struct {
	CheckoutURL string `json:"checkout_url"`
	SessionID   string `json:"session_id"`
}

// PortalResponse is the body returned for a billing portal session.
type PortalResponse struct {
	PortalURL string `json:"portal_url"`
}

// BillingHandler starts Stripe checkouts and portal sessions. Entitlements
// are never granted here; they follow from the webhook.
type BillingHandler struct {
	billing   external.BillingProvider
	personas  catalog.Registry
	subjects  SubjectStore
	validator *core.Validator
	publicURL string
	minCents  int64
	maxCents  int64
	logger    *slog.Logger
}

// NewBillingHandler creates a BillingHandler.
func NewBillingHandler(
	billing external.BillingProvider,
	personas catalog.Registry,
	subjects SubjectStore,
	cfg *config.Config,
	v *core.Validator,
	logger *slog.Logger,
) *BillingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &BillingHandler{
		billing:   billing,
		personas:  personas,
		subjects:  subjects,
		validator: v,
		logger:    logger,
	}
	if cfg != nil {
		h.publicURL = strings.TrimRight(cfg.Server.PublicURL, "/")
		h.minCents = cfg.Billing.DonationMinCents
		h.maxCents = cfg.Billing.DonationMaxCents
	}
	return h
}

// RegisterRoutes mounts the billing endpoints. The portal requires an
// account subject; checkout is open to devices too.
func (h *BillingHandler) RegisterRoutes(r chi.Router, requireAccount func(http.Handler) http.Handler) {
	r.Post("/billing/checkout-session", h.CreateCheckoutSession)
	r.With(requireAccount).Post("/billing/portal-session", h.CreatePortalSession)
}

// CreateCheckoutSession validates the purchase and returns a hosted checkout
// URL. Invalid requests are rejected before anything is created.
func (h *BillingHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req CreateCheckoutRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	intent, err := h.intentFor(req)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	subject, err := currentSubject(r, h.subjects)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	session, err := h.billing.CreateCheckoutSession(r.Context(), external.CheckoutRequest{
		Intent:     intent,
		SubjectID:  subject.ID,
		CustomerID: subject.StripeCustomerID,
		Email:      subject.Email,
		Metadata:   reconcile.CheckoutMetadata(intent, subject.ID),
		SuccessURL: h.publicURL + "/billing/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  h.publicURL + "/billing/cancel",
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to create checkout session",
			slog.String("subject_id", subject.ID),
			slog.String("purchase_type", string(intent.Kind)),
			slog.Any("error", err),
		)
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "checkout session created",
		slog.String("subject_id", subject.ID),
		slog.String("purchase_type", string(intent.Kind)),
		slog.String("session_id", session.ID),
	)
	core.OK(w, r, CheckoutResponse{CheckoutURL: session.URL, SessionID: session.ID})
}

// intentFor checks the request against the catalog and donation bounds.
func (h *BillingHandler) intentFor(req CreateCheckoutRequest) (types.PurchaseIntent, error) {
	switch req.PurchaseType {
	case types.PurchaseSubscription:
		return types.PurchaseIntent{Kind: types.PurchaseSubscription}, nil

	case types.PurchaseOneTime:
		if req.PersonaID == "" {
			return types.PurchaseIntent{}, types.NewAppErrorWithDetails(
				types.ErrCodeValidationInvalidRequest,
				"model_id is required for one_time purchases",
				nil,
				map[string]any{"fields": map[string]any{"model_id": "required"}},
			)
		}
		persona, ok := h.personas.Get(req.PersonaID)
		if !ok || persona.Tier != types.TierOneTime {
			return types.PurchaseIntent{}, types.NewAppErrorWithDetails(
				types.ErrCodeValidationInvalidRequest,
				"model_id is not a purchasable persona",
				nil,
				map[string]any{"model_id": req.PersonaID},
			)
		}
		return types.PurchaseIntent{Kind: types.PurchaseOneTime, PersonaID: persona.ID}, nil

	case types.PurchaseDonation:
		if req.AmountCents < h.minCents || req.AmountCents > h.maxCents {
			return types.PurchaseIntent{}, types.NewAppErrorWithDetails(
				types.ErrCodeValidationInvalidAmount,
				"donation amount is out of range",
				nil,
				map[string]any{"min_cents": h.minCents, "max_cents": h.maxCents},
			)
		}
		return types.PurchaseIntent{Kind: types.PurchaseDonation, AmountCents: req.AmountCents}, nil

	default:
		return types.PurchaseIntent{}, types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidPurchaseType,
			"purchase_type must be subscription, one_time or donation",
			nil,
			map[string]any{"purchase_type": string(req.PurchaseType)},
		)
	}
}

// CreatePortalSession returns a Stripe billing portal URL for the caller's
// customer record.
func (h *BillingHandler) CreatePortalSession(w http.ResponseWriter, r *http.Request) {
	subject, err := currentSubject(r, h.subjects)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if subject.StripeCustomerID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeNotFoundCustomer, "no billing customer on record", nil))
		return
	}

	url, err := h.billing.CreatePortalSession(r.Context(), subject.StripeCustomerID, h.publicURL+"/settings")
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to create portal session",
			slog.String("subject_id", subject.ID),
			slog.Any("error", err),
		)
		core.Error(w, r, err)
		return
	}
	core.OK(w, r, PortalResponse{PortalURL: url})
}
