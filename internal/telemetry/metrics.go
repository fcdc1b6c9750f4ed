// Package telemetry publishes service metrics to CloudWatch.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"companion/internal/config"
	"companion/internal/types"
)

// publishTimeout bounds each PutMetricData call. Metrics detach from the
// request context so a client disconnect does not drop them.
const publishTimeout = 2 * time.Second

// Recorder is the set of metrics the service emits.
type Recorder interface {
	RecordReconcileOutcome(ctx context.Context, eventKind, outcome string)
	RecordQuotaRejected(ctx context.Context, personaID string)
	RecordMessageSent(ctx context.Context, personaID string)
	RecordExternalFailure(provider string, code types.ErrorCode)
	RecordPurged(ctx context.Context, table string, rows int64)
}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// NewCloudWatchClient loads the default AWS credential chain for cfg's
// region. EndpointURL points the client at LocalStack.
func NewCloudWatchClient(ctx context.Context, cfg config.AWSConfig) (*cloudwatch.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		}
	}), nil
}

// CloudWatchMetrics implements Recorder.
//
// Metrics emitted:
//   - ReconcileOutcome: Dims {EventKind, Outcome}
//   - QuotaRejected: Dims {Persona}
//   - MessageSent: Dims {Persona}
//   - ExternalAPIFailure: Dims {Provider, Outcome}
//   - RetentionPurged: Dims {Table}, value is the row count
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

var _ Recorder = (*CloudWatchMetrics)(nil)

// NewCloudWatchMetrics creates a recorder publishing to namespace, or to
// types.MetricNamespace when empty.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	return &CloudWatchMetrics{client: client, namespace: namespace, logger: logger}
}

// RecordReconcileOutcome implements reconcile.OutcomeRecorder.
func (m *CloudWatchMetrics) RecordReconcileOutcome(ctx context.Context, eventKind, outcome string) {
	m.put(ctx, types.MetricReconcileOutcome, 1, cwtypes.StandardUnitCount,
		dim(types.DimEventKind, eventKind),
		dim(types.DimOutcome, outcome),
	)
}

func (m *CloudWatchMetrics) RecordQuotaRejected(ctx context.Context, personaID string) {
	m.put(ctx, types.MetricQuotaRejected, 1, cwtypes.StandardUnitCount, dim(types.DimPersona, personaID))
}

func (m *CloudWatchMetrics) RecordMessageSent(ctx context.Context, personaID string) {
	m.put(ctx, types.MetricMessageSent, 1, cwtypes.StandardUnitCount, dim(types.DimPersona, personaID))
}

// RecordExternalFailure matches external.FailureHook.
func (m *CloudWatchMetrics) RecordExternalFailure(provider string, code types.ErrorCode) {
	m.put(context.Background(), types.MetricExternalAPIFailure, 1, cwtypes.StandardUnitCount,
		dim(types.DimProvider, provider),
		dim(types.DimOutcome, string(code)),
	)
}

func (m *CloudWatchMetrics) RecordPurged(ctx context.Context, table string, rows int64) {
	m.put(ctx, types.MetricRetentionPurged, float64(rows), cwtypes.StandardUnitCount, dim(types.DimTable, table))
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

func (m *CloudWatchMetrics) put(ctx context.Context, name string, value float64, unit cwtypes.StandardUnit, dims ...cwtypes.Dimension) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(name),
				Value:      aws.Float64(value),
				Unit:       unit,
				Dimensions: dims,
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record metric",
			"error", err.Error(),
			"metric", name,
		)
	}
}

// Nop discards every metric. Used when ENABLE_METRICS is false.
type Nop struct{}

var _ Recorder = Nop{}

func (Nop) RecordReconcileOutcome(context.Context, string, string) {}
func (Nop) RecordQuotaRejected(context.Context, string)            {}
func (Nop) RecordMessageSent(context.Context, string)              {}
func (Nop) RecordExternalFailure(string, types.ErrorCode)          {}
func (Nop) RecordPurged(context.Context, string, int64)            {}
