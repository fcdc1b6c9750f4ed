// Package janitor enforces data retention: daily usage counters and the
// payment ledger are deleted once they fall outside their retention windows.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"companion/internal/usage"
)

// Task selects what a run purges.
type Task string

const (
	TaskAll         Task = ""
	TaskPurgeUsage  Task = "purge_usage"
	TaskPurgeLedger Task = "purge_ledger"
)

// LedgerPurger deletes ledger rows processed before cutoff.
type LedgerPurger interface {
	PurgeLedgerBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PurgeRecorder receives the number of rows each purge removed.
type PurgeRecorder interface {
	RecordPurged(ctx context.Context, table string, rows int64)
}

// Retention configures how long rows are kept, in days.
type Retention struct {
	UsageDays  int
	LedgerDays int
}

// Report is the outcome of one run.
type Report struct {
	UsageRows  int64 `json:"usage_rows"`
	LedgerRows int64 `json:"ledger_rows"`
}

// Service runs the purges.
type Service struct {
	usage     usage.Purger
	ledger    LedgerPurger
	recorder  PurgeRecorder
	retention Retention
	logger    *slog.Logger
}

// NewService creates a Service. recorder may be nil.
func NewService(u usage.Purger, l LedgerPurger, recorder PurgeRecorder, retention Retention, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{usage: u, ledger: l, recorder: recorder, retention: retention, logger: logger}
}

// Run purges for task relative to now. TaskAll runs both purges
// concurrently; the first failure cancels the other.
func (s *Service) Run(ctx context.Context, task Task, now time.Time) (Report, error) {
	if task != TaskAll && task != TaskPurgeUsage && task != TaskPurgeLedger {
		return Report{}, fmt.Errorf("unknown janitor task %q", task)
	}

	var report Report
	g, gctx := errgroup.WithContext(ctx)

	if task == TaskAll || task == TaskPurgeUsage {
		g.Go(func() error {
			n, err := s.purgeUsage(gctx, now)
			report.UsageRows = n
			return err
		})
	}
	if task == TaskAll || task == TaskPurgeLedger {
		g.Go(func() error {
			n, err := s.purgeLedger(gctx, now)
			report.LedgerRows = n
			return err
		})
	}
	err := g.Wait()
	return report, err
}

// purgeUsage keeps UsageDays whole UTC days including today.
func (s *Service) purgeUsage(ctx context.Context, now time.Time) (int64, error) {
	cutoff := usage.DayOf(now).AddDays(-(s.retention.UsageDays - 1))
	n, err := s.usage.PurgeBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging usage before %s: %w", cutoff, err)
	}
	s.logger.InfoContext(ctx, "usage counters purged", slog.String("cutoff", cutoff.String()), slog.Int64("rows", n))
	s.record(ctx, "usage_counters", n)
	return n, nil
}

func (s *Service) purgeLedger(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.UTC().AddDate(0, 0, -s.retention.LedgerDays)
	n, err := s.ledger.PurgeLedgerBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging ledger before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	s.logger.InfoContext(ctx, "payment ledger purged", slog.Time("cutoff", cutoff), slog.Int64("rows", n))
	s.record(ctx, "payment_events", n)
	return n, nil
}

func (s *Service) record(ctx context.Context, table string, rows int64) {
	if s.recorder != nil {
		s.recorder.RecordPurged(ctx, table, rows)
	}
}
