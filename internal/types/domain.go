package types

import (
	"slices"
	"time"
)

// SubjectKind distinguishes signed-in accounts from anonymous devices.
type SubjectKind string

const (
	SubjectAccount SubjectKind = "account"
	SubjectDevice  SubjectKind = "device"
)

// Subject is the entity whose entitlements are tracked. Rows are created
// implicitly the first time a subject is seen.
type Subject struct {
	ID               string      `json:"id" db:"id"`
	Kind             SubjectKind `json:"kind" db:"kind"`
	Email            string      `json:"email,omitempty" db:"email"`
	Premium          bool        `json:"premium" db:"premium"`
	PremiumExpiresAt *time.Time  `json:"premium_expires_at,omitempty" db:"premium_expires_at"`
	PurchasedModels  []string    `json:"purchased_models" db:"purchased_models"`
	StripeCustomerID string      `json:"-" db:"stripe_customer_id"`
	CreatedAt        time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at" db:"updated_at"`
}

// Owns reports whether the persona has been unlocked by a one-time purchase.
func (s *Subject) Owns(personaID string) bool {
	return slices.Contains(s.PurchasedModels, personaID)
}

// PremiumActive reports whether the subscription entitlement is in force at now.
// A nil expiry on a premium subject means the subscription never lapses.
func (s *Subject) PremiumActive(now time.Time) bool {
	if !s.Premium {
		return false
	}
	return s.PremiumExpiresAt == nil || s.PremiumExpiresAt.After(now)
}

// PersonaTier is the access tier of a companion persona.
type PersonaTier string

const (
	TierFree         PersonaTier = "free"
	TierSubscription PersonaTier = "subscription"
	TierOneTime      PersonaTier = "one_time"
)

// Persona is immutable catalog data describing a chat companion.
type Persona struct {
	ID          string      `json:"id"`
	DisplayName string      `json:"display_name"`
	Tier        PersonaTier `json:"tier"`
	// PriceCents applies to one_time personas only.
	PriceCents int64 `json:"price_cents,omitempty"`
	// UnlimitedForOwners lifts the daily quota once the persona is unlocked.
	UnlimitedForOwners bool `json:"unlimited_for_owners,omitempty"`
}

// PurchaseKind tags the variants of PurchaseIntent.
type PurchaseKind string

const (
	PurchaseSubscription PurchaseKind = "subscription"
	PurchaseOneTime      PurchaseKind = "one_time"
	PurchaseDonation     PurchaseKind = "donation"
)

// PurchaseIntent is what a checkout was for. PersonaID is set for one_time,
// AmountCents for donation.
type PurchaseIntent struct {
	Kind        PurchaseKind `json:"kind"`
	PersonaID   string       `json:"persona_id,omitempty"`
	AmountCents int64        `json:"amount_cents,omitempty"`
}

// PaymentEventKind enumerates the provider events the reconciler understands.
// Anything else is carried through with its raw Stripe type and ignored.
type PaymentEventKind string

const (
	EventCheckoutCompleted       PaymentEventKind = "checkout.session.completed"
	EventInvoicePaymentSucceeded PaymentEventKind = "invoice.payment_succeeded"
)

// PaymentEvent is the normalized form of an inbound payment webhook.
type PaymentEvent struct {
	ProviderEventID string
	Kind            PaymentEventKind
	// IdempotencyKey is the checkout session id or the invoice id.
	IdempotencyKey string
	SubjectID      string
	Email          string
	CustomerID     string
	Intent         PurchaseIntent
	SubscriptionID string
	// PeriodEnd is the authoritative subscription period end, when known.
	PeriodEnd *time.Time
	// PaymentPending marks a completed checkout whose asynchronous payment
	// has not settled yet.
	PaymentPending bool
	OccurredAt     time.Time
}

// LedgerEntry is one row of the payment idempotency ledger.
type LedgerEntry struct {
	IdempotencyKey string           `db:"idempotency_key"`
	EventKind      PaymentEventKind `db:"event_kind"`
	SubjectID      string           `db:"subject_id"`
	PurchaseKind   PurchaseKind     `db:"purchase_kind"`
	PersonaID      string           `db:"persona_id"`
	AmountCents    int64            `db:"amount_cents"`
	ProcessedAt    time.Time        `db:"processed_at"`
}
