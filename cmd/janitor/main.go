// Package main is the entrypoint for the janitor Lambda function.
//
// An EventBridge schedule invokes the janitor with a Payload naming the task
// to run. An empty task purges both expired usage counters and expired
// payment ledger rows.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"

	"companion/internal/config"
	"companion/internal/db"
	"companion/internal/janitor"
	"companion/internal/telemetry"
	"companion/internal/types"
)

// Payload is the event delivered by the scheduler.
type Payload struct {
	Task janitor.Task `json:"task"`
	// ReferenceTime overrides "now", for backfills and tests.
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}

// Runner executes one janitor run.
type Runner interface {
	Run(ctx context.Context, task janitor.Task, now time.Time) (janitor.Report, error)
}

// Handler adapts a Runner to the Lambda invocation model.
type Handler struct {
	Runner Runner
	Logger *slog.Logger
	Now    func() time.Time
}

// Handle runs the requested task and returns a short summary.
func (h *Handler) Handle(ctx context.Context, payload Payload) (string, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := time.Now().UTC()
	if h.Now != nil {
		now = h.Now().UTC()
	}
	if payload.ReferenceTime != nil {
		now = payload.ReferenceTime.UTC()
	}

	task := payload.Task
	if task == janitor.TaskAll {
		task = "all"
	}
	logger.InfoContext(ctx, "janitor invoked",
		"task", string(task),
		"reference_time", now.Format(time.RFC3339),
	)

	start := time.Now()
	report, err := h.Runner.Run(ctx, payload.Task, now)
	if err != nil {
		logger.ErrorContext(ctx, "janitor run failed",
			"task", string(task),
			"error", err,
		)
		return "", err
	}

	logger.InfoContext(ctx, "janitor run complete",
		"task", string(task),
		"usage_rows", report.UsageRows,
		"ledger_rows", report.LedgerRows,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return fmt.Sprintf("%s: purged %d usage rows, %d ledger rows", task, report.UsageRows, report.LedgerRows), nil
}

func main() {
	ctx := context.Background()

	cfg, err := config.LoadJobConfig(config.NewEnvVarProvider())
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.LogLevel).With("service", "janitor", "version", cfg.Build.Version)

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to open database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	recorder, err := newRecorder(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to create metrics recorder", "error", err)
		os.Exit(1)
	}

	svc := janitor.NewService(
		db.NewUsageRepository(pool, pool),
		db.NewPaymentRepository(pool, pool),
		recorder,
		janitor.Retention{
			UsageDays:  cfg.Usage.UsageRetentionDays,
			LedgerDays: cfg.Usage.LedgerRetentionDays,
		},
		logger,
	)

	h := &Handler{Runner: svc, Logger: logger}
	lambda.Start(h.Handle)
}

func newRecorder(ctx context.Context, cfg *config.JobConfig, logger *slog.Logger) (telemetry.Recorder, error) {
	if !cfg.Observability.EnableMetrics || cfg.Environment == "local" {
		return telemetry.Nop{}, nil
	}
	client, err := telemetry.NewCloudWatchClient(ctx, cfg.AWS)
	if err != nil {
		return nil, fmt.Errorf("creating cloudwatch client: %w", err)
	}
	return telemetry.NewCloudWatchMetrics(client, cfg.Observability.MetricNamespace, types.NewSlogLogger(logger)), nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
