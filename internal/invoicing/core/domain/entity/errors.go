package entity

import "fmt"

// ErrorCode is the machine-readable error code returned to callers.
type ErrorCode string

const (
	CodeAuthMissing  ErrorCode = "AUTH_MISSING"
	CodeAuthInvalid  ErrorCode = "AUTH_INVALID"
	CodeAuthExpired  ErrorCode = "AUTH_EXPIRED"
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"

	CodeInvalidRequest ErrorCode = "VALIDATION_INVALID_REQUEST"
	CodeMissingField   ErrorCode = "VALIDATION_MISSING_FIELD"
	CodeInvalidOrder   ErrorCode = "VALIDATION_INVALID_ORDER"
	CodeInvalidEmail   ErrorCode = "VALIDATION_INVALID_EMAIL"
	CodeInvalidAmount  ErrorCode = "VALIDATION_INVALID_AMOUNT"

	CodeReplayRejected    ErrorCode = "REPLAY_REJECTED"
	CodeRateLimitedUser   ErrorCode = "RATE_LIMITED_USER"
	CodeRateLimitedGlobal ErrorCode = "RATE_LIMITED_GLOBAL"
	CodeDuplicateOrder    ErrorCode = "DUPLICATE_ORDER"

	CodeSquareCustomer ErrorCode = "SQUARE_CUSTOMER_ERROR"
	CodeSquareOrder    ErrorCode = "SQUARE_ORDER_ERROR"
	CodeSquareInvoice  ErrorCode = "SQUARE_INVOICE_ERROR"
	CodeSquarePublish  ErrorCode = "SQUARE_PUBLISH_ERROR"

	CodeInternal ErrorCode = "INTERNAL_ERROR"
)

// AppError is a classified failure that terminates a request.
type AppError struct {
	Code    ErrorCode
	Message string
	// RetryAfter is the suggested wait in seconds; zero when not applicable.
	RetryAfter int
	// Detail is the underlying cause kept for the ledger and audit log. It is
	// never sent to the caller.
	Detail string
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewAppError builds an AppError without retry hint.
func NewAppError(code ErrorCode, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}
