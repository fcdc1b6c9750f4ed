package usage

import (
	"context"
	"sync"
	"time"
)

// Counter is the per-(subject, day) message counter. Implementations must make
// Increment atomic: concurrent increments for the same key never lose updates
// and never create a second row.
type Counter interface {
	// Increment adds one to the counter, creating it at 1 if absent, and
	// returns the new value.
	Increment(ctx context.Context, subjectID string, day Day) (int, error)
	// Get returns the current value, 0 when no message was sent that day.
	Get(ctx context.Context, subjectID string, day Day) (int, error)
}

// ReserveStatus is the outcome of SendCounter.Reserve.
type ReserveStatus int

const (
	// Reserved means a slot is held for the send until Commit or Release.
	Reserved ReserveStatus = iota
	// LimitReached means counted sends plus live reservations already
	// fill the daily limit.
	LimitReached
	// DuplicateSend means the send id was already reserved or counted for
	// the subject.
	DuplicateSend
)

// ReservationTTL bounds how long a pending reservation holds a slot. A send
// neither committed nor released within it stops counting against the limit.
const ReservationTTL = 5 * time.Minute

// SendCounter extends Counter with per-send admission keyed by a
// caller-supplied send id, scoped to the subject. A send is reserved before
// the model is called and committed once it replied; the counter itself is
// only ever incremented, by Commit.
type SendCounter interface {
	Counter
	// Reserve atomically admits sendID when counted sends plus reservations
	// younger than ReservationTTL (relative to now) stay below limit.
	Reserve(ctx context.Context, subjectID string, day Day, sendID string, limit int, now time.Time) (ReserveStatus, error)
	// Commit counts a pending reservation and returns the new count. A send
	// id that is not pending leaves the counter untouched and reports
	// applied=false with the current count for day.
	Commit(ctx context.Context, subjectID string, day Day, sendID string) (count int, applied bool, err error)
	// Release drops a pending reservation. Counted sends are unaffected.
	Release(ctx context.Context, subjectID, sendID string) error
}

// Purger deletes counter rows for days strictly before the cutoff.
type Purger interface {
	PurgeBefore(ctx context.Context, cutoff Day) (int64, error)
}

type counterKey struct {
	subjectID string
	day       string
}

// MemoryCounter is a mutex-guarded in-process SendCounter used for local
// runs and tests.
type MemoryCounter struct {
	mu     sync.Mutex
	counts map[counterKey]int
	sends  map[sendKey]*sendState
}

type sendKey struct {
	subjectID string
	sendID    string
}

type sendState struct {
	day        string
	pending    bool
	reservedAt time.Time
}

// NewMemoryCounter returns an empty MemoryCounter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		counts: make(map[counterKey]int),
		sends:  make(map[sendKey]*sendState),
	}
}

// Increment implements Counter.
func (c *MemoryCounter) Increment(_ context.Context, subjectID string, day Day) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := counterKey{subjectID: subjectID, day: day.String()}
	c.counts[k]++
	return c.counts[k], nil
}

// Get implements Counter.
func (c *MemoryCounter) Get(_ context.Context, subjectID string, day Day) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.counts[counterKey{subjectID: subjectID, day: day.String()}], nil
}

// Reserve implements SendCounter.
func (c *MemoryCounter) Reserve(_ context.Context, subjectID string, day Day, sendID string, limit int, now time.Time) (ReserveStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sk := sendKey{subjectID: subjectID, sendID: sendID}
	if _, seen := c.sends[sk]; seen {
		return DuplicateSend, nil
	}

	d := day.String()
	held := c.counts[counterKey{subjectID: subjectID, day: d}]
	staleBefore := now.Add(-ReservationTTL)
	for k, st := range c.sends {
		if k.subjectID == subjectID && st.day == d && st.pending && st.reservedAt.After(staleBefore) {
			held++
		}
	}
	if held >= limit {
		return LimitReached, nil
	}

	c.sends[sk] = &sendState{day: d, pending: true, reservedAt: now}
	return Reserved, nil
}

// Commit implements SendCounter.
func (c *MemoryCounter) Commit(_ context.Context, subjectID string, day Day, sendID string) (int, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.sends[sendKey{subjectID: subjectID, sendID: sendID}]
	if !ok || !st.pending {
		return c.counts[counterKey{subjectID: subjectID, day: day.String()}], false, nil
	}
	st.pending = false
	k := counterKey{subjectID: subjectID, day: st.day}
	c.counts[k]++
	return c.counts[k], true, nil
}

// Release implements SendCounter.
func (c *MemoryCounter) Release(_ context.Context, subjectID, sendID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sk := sendKey{subjectID: subjectID, sendID: sendID}
	if st, ok := c.sends[sk]; ok && st.pending {
		delete(c.sends, sk)
	}
	return nil
}

// PurgeBefore implements Purger.
func (c *MemoryCounter) PurgeBefore(_ context.Context, cutoff Day) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	limit := cutoff.String()
	var removed int64
	for k := range c.counts {
		// YYYY-MM-DD sorts lexically.
		if k.day < limit {
			delete(c.counts, k)
			removed++
		}
	}
	for id, st := range c.sends {
		if st.day < limit {
			delete(c.sends, id)
		}
	}
	return removed, nil
}

// Rows returns the number of stored (subject, day) counters.
func (c *MemoryCounter) Rows() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.counts)
}
