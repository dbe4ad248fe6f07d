package apierror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

type ErrorCode string

const (
	ErrNotFound          ErrorCode = "NOT_FOUND"
	ErrConflict          ErrorCode = "CONFLICT"
	ErrIllegalTransition ErrorCode = "ILLEGAL_TRANSITION"
	ErrBadRequest        ErrorCode = "BAD_REQUEST"
	ErrInvalidInput      ErrorCode = "INVALID_INPUT"
	ErrInternalServer    ErrorCode = "INTERNAL_SERVER_ERROR"
)

type APIError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAPIError(code ErrorCode, message string, details interface{}) APIError {
	if code == ErrInternalServer {
		logrus.Error(details)
	}
	return APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// NewConflictError reports a lost compare-and-swap: another operator won the
// race. Callers should re-fetch the queue and pick a different item.
func NewConflictError(message string, currentStatus, attempted string) APIError {
	return APIError{
		Code:    ErrConflict,
		Message: message,
		Details: TransitionDetails{CurrentStatus: currentStatus, Attempted: attempted},
	}
}

// NewIllegalTransitionError reports a transition that is not an edge of the
// state machine from the item's current state. Never retried automatically.
func NewIllegalTransitionError(currentStatus, attempted string) APIError {
	return APIError{
		Code:    ErrIllegalTransition,
		Message: fmt.Sprintf("cannot %s an item in status %s", attempted, currentStatus),
		Details: TransitionDetails{CurrentStatus: currentStatus, Attempted: attempted},
	}
}

// TransitionDetails gives callers enough context to decide whether to retry.
type TransitionDetails struct {
	CurrentStatus string `json:"current_status"`
	Attempted     string `json:"attempted_transition"`
}

// IsCode reports whether err is an APIError carrying the given code.
func IsCode(err error, code ErrorCode) bool {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

func MapErrorToHTTPStatus(err error) int {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case ErrNotFound:
			return http.StatusNotFound
		case ErrConflict, ErrIllegalTransition:
			return http.StatusConflict
		case ErrInvalidInput, ErrBadRequest:
			return http.StatusBadRequest
		case ErrInternalServer:
			return http.StatusInternalServerError
		default:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}
