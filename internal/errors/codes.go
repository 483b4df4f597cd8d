package errors

// ErrorCode represents a machine-readable error identifier for frontend error handling.
type ErrorCode string

// Request Validation Errors
const (
	ErrCodeMissingField           ErrorCode = "missing_field"
	ErrCodeInvalidField           ErrorCode = "invalid_field"
	ErrCodeInvalidAgentCode       ErrorCode = "invalid_agent_code"
	ErrCodeInvalidPaymentID       ErrorCode = "invalid_payment_id"
	ErrCodeInvalidOrderProcessing ErrorCode = "invalid_order_processing"
	ErrCodeInvalidAmount          ErrorCode = "invalid_amount"
	ErrCodeInvalidWallet          ErrorCode = "invalid_wallet"
)

// Resource/State Errors
const (
	ErrCodePaymentNotFound ErrorCode = "payment_not_found"
	ErrCodeStoreNotFound   ErrorCode = "store_not_found"

	ErrCodePaymentAlreadyConfirmed ErrorCode = "payment_already_confirmed"
)

// External Service Errors
const (
	ErrCodeRateSourceError ErrorCode = "rate_source_error"
	ErrCodeNetworkError    ErrorCode = "network_error"
)

// Internal/System Errors
const (
	ErrCodeInternalError ErrorCode = "internal_error"
	ErrCodeDatabaseError ErrorCode = "database_error"
	ErrCodeConfigError   ErrorCode = "config_error"
)

// IsRetryable returns whether an error code represents a retryable error.
// Retryable errors are typically transient network/service issues, not validation failures.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodeRateSourceError,
		ErrCodeNetworkError,
		ErrCodeDatabaseError:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	// 400 Bad Request - Client validation errors
	case ErrCodeMissingField,
		ErrCodeInvalidField,
		ErrCodeInvalidAgentCode,
		ErrCodeInvalidPaymentID,
		ErrCodeInvalidOrderProcessing,
		ErrCodeInvalidAmount,
		ErrCodeInvalidWallet:
		return 400

	// 404 Not Found - Resource not found
	case ErrCodePaymentNotFound,
		ErrCodeStoreNotFound:
		return 404

	// 409 Conflict - Business rule conflicts
	case ErrCodePaymentAlreadyConfirmed:
		return 409

	// 502 Bad Gateway - External service errors
	case ErrCodeRateSourceError,
		ErrCodeNetworkError:
		return 502

	// 500 Internal Server Error - System/internal errors
	default:
		return 500
	}
}
