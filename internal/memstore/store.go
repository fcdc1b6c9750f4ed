// Package memstore is an in-process implementation of the subject and
// payment ledger stores. It backs STORE_DRIVER=memory for local runs and
// handler tests; state is lost on restart.
package memstore

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"companion/internal/reconcile"
	"companion/internal/types"
)

// Store holds subjects and the payment ledger behind one mutex, which makes
// ApplyPayment atomic the same way the Postgres transaction is.
type Store struct {
	mu       sync.Mutex
	subjects map[string]*types.Subject
	ledger   map[string]types.LedgerEntry
	clock    types.Clock
}

// New returns an empty Store.
func New(clock types.Clock) *Store {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Store{
		subjects: make(map[string]*types.Subject),
		ledger:   make(map[string]types.LedgerEntry),
		clock:    clock,
	}
}

func clone(s *types.Subject) *types.Subject {
	c := *s
	c.PurchasedModels = slices.Clone(s.PurchasedModels)
	if s.PremiumExpiresAt != nil {
		t := *s.PremiumExpiresAt
		c.PremiumExpiresAt = &t
	}
	return &c
}

// EnsureSubject returns the subject for p, creating it on first sight. An
// account's email is refreshed when the token carries a new one.
func (m *Store) EnsureSubject(_ context.Context, p types.Principal) (*types.Subject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	s, ok := m.subjects[p.SubjectID]
	if !ok {
		s = &types.Subject{
			ID:              p.SubjectID,
			Kind:            p.Kind,
			Email:           p.Email,
			PurchasedModels: []string{},
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		m.subjects[p.SubjectID] = s
	} else if p.Email != "" && s.Email != p.Email {
		s.Email = p.Email
		s.UpdatedAt = now
	}
	return clone(s), nil
}

// FindSubjectByID implements reconcile.Store.
func (m *Store) FindSubjectByID(_ context.Context, id string) (*types.Subject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subjects[id]
	if !ok {
		return nil, types.ErrSubjectNotFound
	}
	return clone(s), nil
}

// FindSubjectByEmail implements reconcile.Store. Only accounts carry emails.
func (m *Store) FindSubjectByEmail(_ context.Context, email string) (*types.Subject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.subjects {
		if s.Kind == types.SubjectAccount && strings.EqualFold(s.Email, email) {
			return clone(s), nil
		}
	}
	return nil, types.ErrSubjectNotFound
}

// ApplyPayment implements reconcile.Store.
func (m *Store) ApplyPayment(_ context.Context, entry types.LedgerEntry, change reconcile.Change) (*types.Subject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, seen := m.ledger[entry.IdempotencyKey]; seen {
		return nil, types.ErrDuplicateEvent
	}

	var s *types.Subject
	if entry.SubjectID != "" {
		var ok bool
		if s, ok = m.subjects[entry.SubjectID]; !ok {
			return nil, types.ErrSubjectNotFound
		}
	}

	m.ledger[entry.IdempotencyKey] = entry
	if s == nil {
		return nil, nil
	}
	if change.IsZero() {
		return clone(s), nil
	}

	if change.ExtendPremiumTo != nil {
		// Premium without an expiry never lapses and is left as is.
		neverLapses := s.Premium && s.PremiumExpiresAt == nil
		s.Premium = true
		if !neverLapses && (s.PremiumExpiresAt == nil || change.ExtendPremiumTo.After(*s.PremiumExpiresAt)) {
			t := *change.ExtendPremiumTo
			s.PremiumExpiresAt = &t
		}
	}
	if change.UnlockPersona != "" && !slices.Contains(s.PurchasedModels, change.UnlockPersona) {
		s.PurchasedModels = append(s.PurchasedModels, change.UnlockPersona)
	}
	if change.CustomerID != "" && s.StripeCustomerID == "" {
		s.StripeCustomerID = change.CustomerID
	}
	s.UpdatedAt = m.clock.Now()
	return clone(s), nil
}

// PurgeLedgerBefore drops ledger entries processed before cutoff.
func (m *Store) PurgeLedgerBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for k, e := range m.ledger {
		if e.ProcessedAt.Before(cutoff) {
			delete(m.ledger, k)
			n++
		}
	}
	return n, nil
}

// LedgerEntry returns the recorded entry for key.
func (m *Store) LedgerEntry(key string) (types.LedgerEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.ledger[key]
	return e, ok
}

// Ping implements the health probe.
func (m *Store) Ping(context.Context) error { return nil }
