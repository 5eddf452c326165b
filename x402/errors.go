package x402

import "errors"

// Sentinel errors for payment gating operations.
var (
	// ErrMalformedHeader indicates the X-Payment header could not be decoded.
	ErrMalformedHeader = errors.New("x402: malformed payment header")

	// ErrUnsupportedVersion indicates an unsupported protocol version.
	ErrUnsupportedVersion = errors.New("x402: unsupported protocol version")

	// ErrUnsupportedScheme indicates an unsupported payment scheme.
	ErrUnsupportedScheme = errors.New("x402: unsupported payment scheme")

	// ErrVerificationFailed indicates the facilitator rejected the proof.
	ErrVerificationFailed = errors.New("x402: payment verification failed")

	// ErrSettlementFailed indicates payment settlement failed.
	ErrSettlementFailed = errors.New("x402: payment settlement failed")

	// ErrRefundFailed indicates the facilitator failed to process a refund.
	ErrRefundFailed = errors.New("x402: payment refund failed")

	// ErrFacilitatorUnavailable indicates the facilitator could not be reached.
	ErrFacilitatorUnavailable = errors.New("x402: facilitator service unavailable")

	// ErrProofReplayed indicates a payment proof nonce was already consumed.
	ErrProofReplayed = errors.New("x402: payment proof already used")
)

// ErrorCode represents payment error codes for programmatic handling.
type ErrorCode string

const (
	// ErrCodePaymentRequired indicates no payment proof was presented.
	ErrCodePaymentRequired ErrorCode = "PAYMENT_REQUIRED"

	// ErrCodeVerificationFailed indicates the proof was rejected.
	ErrCodeVerificationFailed ErrorCode = "PAYMENT_VERIFICATION_FAILED"

	// ErrCodeMalformedHeader indicates an undecodable payment header.
	ErrCodeMalformedHeader ErrorCode = "MALFORMED_PAYMENT_HEADER"

	// ErrCodeFacilitatorUnavailable indicates the facilitator is unreachable.
	ErrCodeFacilitatorUnavailable ErrorCode = "FACILITATOR_UNAVAILABLE"
)

// PaymentError provides structured error information for payment failures.
type PaymentError struct {
	// Code is the error code for programmatic handling.
	Code ErrorCode

	// Message is the human-readable error message.
	Message string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *PaymentError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *PaymentError) Unwrap() error {
	return e.Err
}

// NewPaymentError creates a new PaymentError with the given code and message.
func NewPaymentError(code ErrorCode, message string, err error) *PaymentError {
	return &PaymentError{Code: code, Message: message, Err: err}
}
