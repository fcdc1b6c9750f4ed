package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants.
const (
	// Metric Names
	MetricReconcileOutcome   = "ReconcileOutcome"
	MetricQuotaRejected      = "QuotaRejected"
	MetricMessageSent        = "MessageSent"
	MetricExternalAPIFailure = "ExternalAPIFailure"
	MetricRetentionPurged    = "RetentionPurged"

	// Dimension Keys
	DimOutcome   = "Outcome"
	DimEventKind = "EventKind"
	DimPersona   = "Persona"
	DimProvider  = "Provider"
	DimTable     = "Table"

	// Metric Namespace
	MetricNamespace = "Companion"
)
