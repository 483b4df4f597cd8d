package errors

import (
	stderrors "errors"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeInvalidAgentCode, 400},
		{ErrCodeInvalidOrderProcessing, 400},
		{ErrCodePaymentNotFound, 404},
		{ErrCodeStoreNotFound, 404},
		{ErrCodePaymentAlreadyConfirmed, 409},
		{ErrCodeRateSourceError, 502},
		{ErrCodeInternalError, 500},
		{ErrCodeDatabaseError, 500},
		{ErrorCode("unknown_code"), 500},
	}
	for _, tc := range cases {
		if got := tc.code.HTTPStatus(); got != tc.want {
			t.Errorf("%s.HTTPStatus() = %d, want %d", tc.code, got, tc.want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	if !ErrCodeRateSourceError.IsRetryable() {
		t.Error("rate_source_error should be retryable")
	}
	if ErrCodeInvalidPaymentID.IsRetryable() {
		t.Error("invalid_payment_id should not be retryable")
	}
	if ErrCodePaymentAlreadyConfirmed.IsRetryable() {
		t.Error("payment_already_confirmed should not be retryable")
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Wrap(ErrCodeDatabaseError, "listing payments", cause)
	if !stderrors.Is(err, cause) {
		t.Error("expected errors.Is to find cause")
	}

	var appErr *Error
	if !stderrors.As(error(err), &appErr) {
		t.Fatal("expected errors.As to match *Error")
	}
	if appErr.Code != ErrCodeDatabaseError {
		t.Errorf("Code = %s", appErr.Code)
	}
}
