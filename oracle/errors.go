package oracle

import (
	"fmt"
	"net/http"
)

// Stable machine-readable error codes surfaced to API clients.
const (
	CodeMissingFields         = "MISSING_FIELDS"
	CodeInvalidAnswerType     = "INVALID_ANSWER_TYPE"
	CodeQuestionTooLong       = "QUESTION_TOO_LONG"
	CodeAnswerTooLong         = "ANSWER_TOO_LONG"
	CodeInvalidAnswer         = "INVALID_ANSWER"
	CodeInvalidAmount         = "INVALID_AMOUNT"
	CodeInvalidChallengePd    = "INVALID_CHALLENGE_PERIOD"
	CodeInvalidExpiry         = "INVALID_EXPIRY"
	CodeRequestNotFound       = "REQUEST_NOT_FOUND"
	CodeRequestNotExpired     = "REQUEST_NOT_EXPIRED"
	CodeAlreadyProposed       = "ALREADY_PROPOSED"
	CodeAlreadyDisputed       = "ALREADY_DISPUTED"
	CodeChallengeWindowClosed = "CHALLENGE_WINDOW_CLOSED"
	CodeChallengeWindowOpen   = "CHALLENGE_WINDOW_OPEN"
	CodeInvalidStatus         = "INVALID_STATUS"
	CodeNotCreator            = "NOT_CREATOR"
	CodeLedgerError           = "LEDGER_ERROR"
)

// Error is the engine's typed error: a stable code plus the HTTP status the
// transport layer should map it to.
type Error struct {
	HTTPStatus int
	Code       string
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("oracle: %s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("oracle: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func validationError(code, format string, args ...any) *Error {
	return &Error{HTTPStatus: http.StatusBadRequest, Code: code, Message: fmt.Sprintf(format, args...)}
}

func conflictError(code, format string, args ...any) *Error {
	return &Error{HTTPStatus: http.StatusConflict, Code: code, Message: fmt.Sprintf(format, args...)}
}

func notFoundError(requestID uint64) *Error {
	return &Error{
		HTTPStatus: http.StatusNotFound,
		Code:       CodeRequestNotFound,
		Message:    fmt.Sprintf("request %d does not exist", requestID),
	}
}

func forbiddenError(code, format string, args ...any) *Error {
	return &Error{HTTPStatus: http.StatusForbidden, Code: code, Message: fmt.Sprintf(format, args...)}
}

func ledgerError(op string, err error) *Error {
	return &Error{
		HTTPStatus: http.StatusBadGateway,
		Code:       CodeLedgerError,
		Message:    fmt.Sprintf("ledger %s failed", op),
		Err:        err,
	}
}
