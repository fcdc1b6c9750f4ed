package reconcile

import (
	"context"
	"time"

	"companion/internal/types"
)

// Change is the entitlement mutation applied together with a ledger entry.
// A zero Change records the ledger entry only.
type Change struct {
	// ExtendPremiumTo sets premium and moves the expiry to
	// max(current, ExtendPremiumTo). The expiry never moves backwards.
	ExtendPremiumTo *time.Time
	// UnlockPersona adds the persona to the purchased set if absent.
	UnlockPersona string
	// CustomerID records the Stripe customer when the subject has none yet.
	CustomerID string
}

// IsZero reports whether the change mutates nothing.
func (c Change) IsZero() bool {
	return c.ExtendPremiumTo == nil && c.UnlockPersona == "" && c.CustomerID == ""
}

// Store is the persistence the reconciler needs.
type Store interface {
	// FindSubjectByID returns types.ErrSubjectNotFound when absent.
	FindSubjectByID(ctx context.Context, id string) (*types.Subject, error)
	// FindSubjectByEmail returns types.ErrSubjectNotFound when absent.
	FindSubjectByEmail(ctx context.Context, email string) (*types.Subject, error)
	// ApplyPayment inserts the ledger entry and applies change to
	// entry.SubjectID atomically, locking the subject row. It returns
	// types.ErrDuplicateEvent, with nothing changed, when the idempotency
	// key was already recorded. The returned subject is nil when
	// entry.SubjectID is empty.
	ApplyPayment(ctx context.Context, entry types.LedgerEntry, change Change) (*types.Subject, error)
}

// SubscriptionLookup fetches the authoritative current period end of a
// provider subscription.
type SubscriptionLookup interface {
	SubscriptionPeriodEnd(ctx context.Context, subscriptionID string) (time.Time, error)
}

// OutcomeRecorder receives one call per reconciled event.
type OutcomeRecorder interface {
	RecordReconcileOutcome(ctx context.Context, eventKind, outcome string)
}
