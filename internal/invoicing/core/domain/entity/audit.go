package entity

import "time"

// AuditResult is the terminal outcome class of a request.
type AuditResult string

const (
	ResultSuccess          AuditResult = "SUCCESS"
	ResultFailure          AuditResult = "FAILURE"
	ResultDuplicateBlocked AuditResult = "DUPLICATE_BLOCKED"
	ResultValidationFailed AuditResult = "VALIDATION_FAILED"
	ResultUnauthorized     AuditResult = "UNAUTHORIZED"
	ResultAuthMissing      AuditResult = "AUTH_MISSING"
	ResultRateLimited      AuditResult = "RATE_LIMITED"
	ResultReplayRejected   AuditResult = "REPLAY_REJECTED"
	// ResultError marks an infrastructure failure before any order was
	// claimed. It is not a request attempt and is not rate counted.
	ResultError AuditResult = "ERROR"
)

// CountedResults are the results the rate limiter counts.
var CountedResults = []AuditResult{ResultSuccess, ResultFailure}

// AuditEntry is one append-only row of the audit log.
type AuditEntry struct {
	CorrelationID    string
	UserID           string
	UserEmail        string
	OrderNumber      string
	CustomerName     string
	CustomerEmail    string
	AmountCents      int64
	Result           AuditResult
	ErrorCode        ErrorCode
	ErrorMessage     string
	StepsCompleted   []Step
	RequestTimestamp string
	Metadata         map[string]any
	TraceID          string
	SpanID           string
	CreatedAt        time.Time
}
