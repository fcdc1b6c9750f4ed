package reconcile

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"

	"companion/internal/types"
)

// FromStripeEvent normalizes a verified Stripe event. Event types the
// reconciler does not act on come back with their raw type and no payload.
func FromStripeEvent(event stripe.Event) (types.PaymentEvent, error) {
	ev := types.PaymentEvent{
		ProviderEventID: event.ID,
		Kind:            types.PaymentEventKind(event.Type),
		OccurredAt:      time.Unix(event.Created, 0).UTC(),
	}
	if event.Data == nil {
		return ev, fmt.Errorf("event %s has no data object", event.ID)
	}

	switch ev.Kind {
	case types.EventCheckoutCompleted:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return ev, fmt.Errorf("decode checkout session: %w", err)
		}
		return fromCheckoutSession(ev, &sess)

	case types.EventInvoicePaymentSucceeded:
		var inv invoicePayload
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return ev, fmt.Errorf("decode invoice: %w", err)
		}
		return fromInvoice(ev, &inv), nil

	default:
		return ev, nil
	}
}

func fromCheckoutSession(ev types.PaymentEvent, sess *stripe.CheckoutSession) (types.PaymentEvent, error) {
	ev.IdempotencyKey = sess.ID
	ev.SubjectID = SubjectIDFromMetadata(sess.Metadata)
	if ev.SubjectID == "" {
		ev.SubjectID = sess.ClientReferenceID
	}
	ev.Email = sess.CustomerEmail
	if sess.CustomerDetails != nil && sess.CustomerDetails.Email != "" {
		ev.Email = sess.CustomerDetails.Email
	}
	if sess.Customer != nil {
		ev.CustomerID = sess.Customer.ID
	}
	if sess.Subscription != nil {
		ev.SubscriptionID = sess.Subscription.ID
	}
	ev.PaymentPending = sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid

	intent, err := NormalizeIntent(sess.Metadata, sess.AmountTotal)
	if err != nil {
		return ev, err
	}
	ev.Intent = intent
	return ev, nil
}

// invoicePayload is the subset of a Stripe invoice the reconciler reads. It
// accepts both the pre-2025 top-level subscription fields and the newer
// parent.subscription_details shape.
type invoicePayload struct {
	ID                  string            `json:"id"`
	Customer            string            `json:"customer"`
	CustomerEmail       string            `json:"customer_email"`
	Subscription        string            `json:"subscription"`
	Metadata            map[string]string `json:"metadata"`
	SubscriptionDetails *struct {
		Metadata map[string]string `json:"metadata"`
	} `json:"subscription_details"`
	Parent *struct {
		SubscriptionDetails *struct {
			Subscription string            `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []struct {
			Period struct {
				End int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

func fromInvoice(ev types.PaymentEvent, inv *invoicePayload) types.PaymentEvent {
	ev.IdempotencyKey = inv.ID
	ev.Email = inv.CustomerEmail
	ev.CustomerID = inv.Customer
	ev.Intent = types.PurchaseIntent{Kind: types.PurchaseSubscription}

	ev.SubscriptionID = inv.Subscription
	ev.SubjectID = SubjectIDFromMetadata(inv.Metadata)
	if inv.SubscriptionDetails != nil && ev.SubjectID == "" {
		ev.SubjectID = SubjectIDFromMetadata(inv.SubscriptionDetails.Metadata)
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		details := inv.Parent.SubscriptionDetails
		if ev.SubscriptionID == "" {
			ev.SubscriptionID = details.Subscription
		}
		if ev.SubjectID == "" {
			ev.SubjectID = SubjectIDFromMetadata(details.Metadata)
		}
	}

	var end int64
	for _, line := range inv.Lines.Data {
		end = max(end, line.Period.End)
	}
	if end > 0 {
		t := time.Unix(end, 0).UTC()
		ev.PeriodEnd = &t
	}
	return ev
}
