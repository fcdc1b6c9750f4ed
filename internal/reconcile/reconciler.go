// Package reconcile applies payment provider events to subject entitlements.
//
// Every event is applied at most once per idempotency key. The ledger row and
// the entitlement mutation commit together, so a redelivered event finds its
// key already recorded and changes nothing.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"companion/internal/types"
)

// Outcome classifies what reconciliation did with an event.
type Outcome string

const (
	OutcomeApplied            Outcome = "applied"
	OutcomeDuplicate          Outcome = "duplicate"
	OutcomeIgnored            Outcome = "ignored"
	OutcomeSubjectNotFound    Outcome = "subject_not_found"
	OutcomeMissingIdentifier  Outcome = "missing_identifier"
	OutcomePersistenceFailure Outcome = "persistence_failure"
	OutcomeInvalidEvent       Outcome = "invalid_event"
)

// DefaultSubscriptionPeriod extends premium when no period end is known.
const DefaultSubscriptionPeriod = 30 * 24 * time.Hour

// Result is the structured outcome of one reconciliation.
type Result struct {
	Outcome          Outcome
	SubjectID        string
	PremiumExpiresAt *time.Time
	Err              error
}

// Retryable reports whether the provider should redeliver the event. Only
// infrastructure failures qualify: redelivering cannot create a missing
// subject or repair a malformed event.
func (r Result) Retryable() bool {
	return r.Outcome == OutcomePersistenceFailure
}

// Reconciler applies PaymentEvents.
type Reconciler struct {
	store    Store
	subs     SubscriptionLookup
	recorder OutcomeRecorder
	clock    types.Clock
	fallback time.Duration
	logger   *slog.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithSubscriptionLookup enables fetching authoritative period ends for
// events that do not carry one.
func WithSubscriptionLookup(l SubscriptionLookup) Option {
	return func(r *Reconciler) { r.subs = l }
}

// WithOutcomeRecorder reports every outcome, typically to metrics.
func WithOutcomeRecorder(rec OutcomeRecorder) Option {
	return func(r *Reconciler) { r.recorder = rec }
}

// WithFallbackPeriod overrides DefaultSubscriptionPeriod.
func WithFallbackPeriod(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.fallback = d
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(c types.Clock) Option {
	return func(r *Reconciler) { r.clock = c }
}

// NewReconciler creates a Reconciler over store.
func NewReconciler(store Store, logger *slog.Logger, opts ...Option) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reconciler{
		store:    store,
		clock:    types.RealClock{},
		fallback: DefaultSubscriptionPeriod,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile applies ev and reports the outcome. It never panics on malformed
// input and never returns a raw error: failures are carried in Result.
func (r *Reconciler) Reconcile(ctx context.Context, ev types.PaymentEvent) Result {
	res := r.reconcile(ctx, ev)

	attrs := []any{
		slog.String("event_kind", string(ev.Kind)),
		slog.String("idempotency_key", ev.IdempotencyKey),
		slog.String("outcome", string(res.Outcome)),
	}
	if res.SubjectID != "" {
		attrs = append(attrs, slog.String("subject_id", res.SubjectID))
	}
	switch res.Outcome {
	case OutcomePersistenceFailure:
		r.logger.ErrorContext(ctx, "payment reconciliation failed", append(attrs, slog.Any("error", res.Err))...)
	case OutcomeSubjectNotFound, OutcomeMissingIdentifier, OutcomeInvalidEvent:
		if res.Err != nil {
			attrs = append(attrs, slog.String("reason", res.Err.Error()))
		}
		r.logger.WarnContext(ctx, "payment event not applied", attrs...)
	default:
		r.logger.InfoContext(ctx, "payment event reconciled", attrs...)
	}

	if r.recorder != nil {
		r.recorder.RecordReconcileOutcome(ctx, string(ev.Kind), string(res.Outcome))
	}
	return res
}

func (r *Reconciler) reconcile(ctx context.Context, ev types.PaymentEvent) Result {
	switch ev.Kind {
	case types.EventCheckoutCompleted:
		if ev.PaymentPending {
			return Result{Outcome: OutcomeIgnored}
		}
		if ev.IdempotencyKey == "" {
			return invalid("checkout event has no session id")
		}
		return r.checkoutCompleted(ctx, ev)

	case types.EventInvoicePaymentSucceeded:
		if ev.IdempotencyKey == "" {
			return invalid("invoice event has no invoice id")
		}
		return r.invoicePaid(ctx, ev)

	default:
		return Result{Outcome: OutcomeIgnored}
	}
}

func (r *Reconciler) checkoutCompleted(ctx context.Context, ev types.PaymentEvent) Result {
	entry := ledgerEntry(ev)

	switch ev.Intent.Kind {
	case types.PurchaseSubscription:
		subject, res, ok := r.resolve(ctx, ev.SubjectID, ev.Email)
		if !ok {
			return res
		}
		candidate := r.candidateExpiry(ctx, ev)
		entry.SubjectID = subject.ID
		return r.apply(ctx, entry, Change{ExtendPremiumTo: &candidate, CustomerID: ev.CustomerID})

	case types.PurchaseOneTime:
		if ev.Intent.PersonaID == "" {
			return invalid("one_time purchase carries no persona id")
		}
		subject, res, ok := r.resolve(ctx, ev.SubjectID, ev.Email)
		if !ok {
			return res
		}
		entry.SubjectID = subject.ID
		return r.apply(ctx, entry, Change{UnlockPersona: ev.Intent.PersonaID, CustomerID: ev.CustomerID})

	case types.PurchaseDonation:
		// Donations grant nothing. The subject is attached when known so the
		// ledger shows who gave, but an anonymous donation is still recorded.
		if ev.SubjectID != "" || ev.Email != "" {
			subject, res, ok := r.resolve(ctx, ev.SubjectID, ev.Email)
			switch {
			case ok:
				entry.SubjectID = subject.ID
			case res.Outcome == OutcomePersistenceFailure:
				return res
			}
		}
		return r.apply(ctx, entry, Change{})

	default:
		return invalid("checkout event has no recognizable purchase type")
	}
}

func (r *Reconciler) invoicePaid(ctx context.Context, ev types.PaymentEvent) Result {
	if ev.Email == "" && ev.SubjectID == "" {
		return Result{Outcome: OutcomeMissingIdentifier, Err: types.ErrMissingIdentifier}
	}

	// Renewals are matched by billing email first; the subscription metadata
	// id covers subjects whose Stripe email differs from their account email.
	subject, res, ok := r.resolveByEmailFirst(ctx, ev.Email, ev.SubjectID)
	if !ok {
		return res
	}

	entry := ledgerEntry(ev)
	entry.SubjectID = subject.ID
	entry.PurchaseKind = types.PurchaseSubscription
	candidate := r.candidateExpiry(ctx, ev)
	return r.apply(ctx, entry, Change{ExtendPremiumTo: &candidate, CustomerID: ev.CustomerID})
}

// candidateExpiry prefers the provider's period end. The fixed fallback is
// used when the event carries none and the lookup is unavailable.
func (r *Reconciler) candidateExpiry(ctx context.Context, ev types.PaymentEvent) time.Time {
	if ev.PeriodEnd != nil && !ev.PeriodEnd.IsZero() {
		return ev.PeriodEnd.UTC()
	}
	if r.subs != nil && ev.SubscriptionID != "" {
		end, err := r.subs.SubscriptionPeriodEnd(ctx, ev.SubscriptionID)
		if err == nil && !end.IsZero() {
			return end.UTC()
		}
		r.logger.WarnContext(ctx, "subscription period lookup failed, using fallback period",
			slog.String("subscription_id", ev.SubscriptionID),
			slog.Any("error", err),
		)
	}
	return r.clock.Now().Add(r.fallback)
}

func (r *Reconciler) resolve(ctx context.Context, subjectID, email string) (*types.Subject, Result, bool) {
	if subjectID == "" && email == "" {
		return nil, Result{Outcome: OutcomeMissingIdentifier, Err: types.ErrMissingIdentifier}, false
	}
	if subjectID != "" {
		s, err := r.store.FindSubjectByID(ctx, subjectID)
		if err == nil {
			return s, Result{}, true
		}
		if !errors.Is(err, types.ErrSubjectNotFound) {
			return nil, persistenceFailure(err), false
		}
	}
	if email != "" {
		s, err := r.store.FindSubjectByEmail(ctx, email)
		if err == nil {
			return s, Result{}, true
		}
		if !errors.Is(err, types.ErrSubjectNotFound) {
			return nil, persistenceFailure(err), false
		}
	}
	return nil, Result{Outcome: OutcomeSubjectNotFound, SubjectID: subjectID, Err: types.ErrSubjectNotFound}, false
}

func (r *Reconciler) resolveByEmailFirst(ctx context.Context, email, subjectID string) (*types.Subject, Result, bool) {
	if email != "" {
		s, err := r.store.FindSubjectByEmail(ctx, email)
		if err == nil {
			return s, Result{}, true
		}
		if !errors.Is(err, types.ErrSubjectNotFound) {
			return nil, persistenceFailure(err), false
		}
	}
	if subjectID == "" {
		return nil, Result{Outcome: OutcomeSubjectNotFound, Err: types.ErrSubjectNotFound}, false
	}
	return r.resolve(ctx, subjectID, "")
}

func (r *Reconciler) apply(ctx context.Context, entry types.LedgerEntry, change Change) Result {
	entry.ProcessedAt = r.clock.Now()

	subject, err := r.store.ApplyPayment(ctx, entry, change)
	switch {
	case err == nil:
	case errors.Is(err, types.ErrDuplicateEvent):
		return Result{Outcome: OutcomeDuplicate, SubjectID: entry.SubjectID}
	case errors.Is(err, types.ErrSubjectNotFound):
		return Result{Outcome: OutcomeSubjectNotFound, SubjectID: entry.SubjectID, Err: err}
	default:
		res := persistenceFailure(err)
		res.SubjectID = entry.SubjectID
		return res
	}

	res := Result{Outcome: OutcomeApplied, SubjectID: entry.SubjectID}
	if subject != nil {
		res.PremiumExpiresAt = subject.PremiumExpiresAt
	}
	return res
}

func ledgerEntry(ev types.PaymentEvent) types.LedgerEntry {
	return types.LedgerEntry{
		IdempotencyKey: ev.IdempotencyKey,
		EventKind:      ev.Kind,
		PurchaseKind:   ev.Intent.Kind,
		PersonaID:      ev.Intent.PersonaID,
		AmountCents:    ev.Intent.AmountCents,
	}
}

func invalid(reason string) Result {
	return Result{
		Outcome: OutcomeInvalidEvent,
		Err:     types.NewAppError(types.ErrCodeValidationInvalidRequest, reason, nil),
	}
}

func persistenceFailure(err error) Result {
	return Result{
		Outcome: OutcomePersistenceFailure,
		Err:     types.NewPersistenceFailure("failed to persist payment event", err),
	}
}
