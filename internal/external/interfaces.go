package external

import (
	"context"
	"time"

	"github.com/stripe/stripe-go/v82"

	"companion/internal/types"
)

// ---------------------------------------------------------------------------
// Billing (Stripe)
// ---------------------------------------------------------------------------

// CheckoutRequest describes a hosted checkout to create.
type CheckoutRequest struct {
	Intent    types.PurchaseIntent
	SubjectID string
	// CustomerID reuses an existing Stripe customer; Email prefills one.
	CustomerID string
	Email      string
	// Metadata is written to the session and, for subscriptions, to the
	// subscription so renewal invoices carry it too.
	Metadata   map[string]string
	SuccessURL string
	CancelURL  string
}

// CheckoutSession is the created session.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// BillingProvider abstracts the payment provider's REST API.
type BillingProvider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	// CreatePortalSession returns a self-serve billing portal URL.
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	// SubscriptionPeriodEnd returns the subscription's current period end.
	SubscriptionPeriodEnd(ctx context.Context, subscriptionID string) (time.Time, error)
}

// WebhookVerifier checks a Stripe-Signature header and decodes the event.
type WebhookVerifier interface {
	ConstructEvent(payload []byte, header string) (stripe.Event, error)
}

// ---------------------------------------------------------------------------
// Chat model
// ---------------------------------------------------------------------------

// ChatRole is the author of a chat turn.
type ChatRole string

const (
	RoleSystem    ChatRole = "system"
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
)

// ChatMessage is one turn of a conversation.
type ChatMessage struct {
	Role    ChatRole `json:"role"`
	Content string   `json:"content"`
}

// ChatRequest is a completion request on behalf of a persona.
type ChatRequest struct {
	Persona  types.Persona
	Messages []ChatMessage
}

// ChatReply is the model's answer.
type ChatReply struct {
	Content string
	Model   string
}

// ChatModel produces persona replies.
type ChatModel interface {
	Complete(ctx context.Context, req ChatRequest) (*ChatReply, error)
}
