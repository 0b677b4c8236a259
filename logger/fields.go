package logger

// Standard field names for consistent structured logging across mailpulse.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldTenant = "tenant"
	FieldTickID = "tick_id"
	FieldJob    = "job"

	// Components
	FieldComponent = "component"
	FieldOperation = "operation"

	// Cache
	FieldCacheKey  = "cache_key"
	FieldCacheKind = "cache_kind"
	FieldProducer  = "producer"
	FieldSizeBytes = "size_bytes"

	// Resilience
	FieldAttempt      = "attempt"
	FieldKind         = "kind"
	FieldDelay        = "delay"
	FieldFailureCount = "failure_count"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError = "error"
)
