package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"companion/internal/types"
)

// mockCloudWatchClient records PutMetricData calls for verification.
type mockCloudWatchClient struct {
	mu        sync.Mutex
	calls     []*cloudwatch.PutMetricDataInput
	returnErr error
}

func (m *mockCloudWatchClient) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, params)
	if m.returnErr != nil {
		return nil, m.returnErr
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

type mockLogger struct {
	errors []string
}

func (l *mockLogger) Info(string, ...any)        {}
func (l *mockLogger) Warn(string, ...any)        {}
func (l *mockLogger) Error(msg string, _ ...any) { l.errors = append(l.errors, msg) }
func (l *mockLogger) With(...any) types.Logger   { return l }

func dims(d []cwtypes.Dimension) map[string]string {
	out := make(map[string]string, len(d))
	for _, x := range d {
		out[aws.ToString(x.Name)] = aws.ToString(x.Value)
	}
	return out
}

func TestRecordReconcileOutcome(t *testing.T) {
	cw := &mockCloudWatchClient{}
	m := NewCloudWatchMetrics(cw, "", &mockLogger{})

	m.RecordReconcileOutcome(context.Background(), "checkout.session.completed", "applied")

	if len(cw.calls) != 1 {
		t.Fatalf("expected 1 PutMetricData call, got %d", len(cw.calls))
	}
	input := cw.calls[0]
	if aws.ToString(input.Namespace) != types.MetricNamespace {
		t.Errorf("namespace = %q", aws.ToString(input.Namespace))
	}
	datum := input.MetricData[0]
	if aws.ToString(datum.MetricName) != types.MetricReconcileOutcome {
		t.Errorf("metric = %q", aws.ToString(datum.MetricName))
	}
	got := dims(datum.Dimensions)
	if got[types.DimEventKind] != "checkout.session.completed" || got[types.DimOutcome] != "applied" {
		t.Errorf("dimensions = %v", got)
	}
}

func TestRecordPurged_UsesRowCount(t *testing.T) {
	cw := &mockCloudWatchClient{}
	m := NewCloudWatchMetrics(cw, "Custom", &mockLogger{})

	m.RecordPurged(context.Background(), "usage_counters", 42)

	datum := cw.calls[0].MetricData[0]
	if aws.ToFloat64(datum.Value) != 42 {
		t.Errorf("value = %v", aws.ToFloat64(datum.Value))
	}
	if aws.ToString(cw.calls[0].Namespace) != "Custom" {
		t.Errorf("namespace = %q", aws.ToString(cw.calls[0].Namespace))
	}
}

func TestRecord_CancelledContextStillPublishes(t *testing.T) {
	cw := &mockCloudWatchClient{}
	m := NewCloudWatchMetrics(cw, "", &mockLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.RecordQuotaRejected(ctx, "aiko")

	if len(cw.calls) != 1 {
		t.Fatalf("expected metric to be published, got %d calls", len(cw.calls))
	}
}

func TestRecord_ErrorIsLogged(t *testing.T) {
	cw := &mockCloudWatchClient{returnErr: errors.New("throttled")}
	logger := &mockLogger{}
	m := NewCloudWatchMetrics(cw, "", logger)

	m.RecordExternalFailure("stripe", types.ErrCodeUpstreamUnavailable)
	m.RecordMessageSent(context.Background(), "aiko")

	if len(logger.errors) != 2 {
		t.Errorf("expected 2 logged errors, got %d", len(logger.errors))
	}
}
