package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error is the canonical API error shape returned to clients. Internal
// failures are mapped to it before anything is written on the wire so
// storage-layer detail never leaks.
type Error struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Param     string    `json:"param,omitempty"`
	Code      string    `json:"code,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	// RetryAfter is a hint in seconds for quota and provider errors.
	RetryAfter *int `json:"retry_after,omitempty"`
	// RemainingCredits accompanies quota denials.
	RemainingCredits *int `json:"remaining_credits,omitempty"`
	// ResetAt is the next quota reset boundary, RFC 3339, for quota denials.
	ResetAt string `json:"reset_at,omitempty"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest      ErrorType = "invalid_request_error"
	ErrAuthentication      ErrorType = "authentication_error"
	ErrNotFound            ErrorType = "not_found_error"
	ErrQuota               ErrorType = "quota_error"
	ErrRateLimit           ErrorType = "rate_limit_error"
	ErrProviderUnavailable ErrorType = "provider_unavailable_error"
	ErrAPI                 ErrorType = "api_error"
)

func NewInvalidRequest(message string) *Error {
	return &Error{Type: ErrInvalidRequest, Message: message}
}

func NewInvalidRequestWithParam(message, param string) *Error {
	return &Error{Type: ErrInvalidRequest, Message: message, Param: param}
}

func NewNotFound(message string) *Error {
	return &Error{Type: ErrNotFound, Message: message}
}

func NewRateLimit(message string, retryAfter int) *Error {
	return &Error{Type: ErrRateLimit, Message: message, RetryAfter: &retryAfter}
}

func NewQuotaDenied(message, code string, remaining int, resetAt string) *Error {
	return &Error{
		Type:             ErrQuota,
		Message:          message,
		Code:             code,
		RemainingCredits: &remaining,
		ResetAt:          resetAt,
	}
}

func NewProviderUnavailable(message string) *Error {
	return &Error{Type: ErrProviderUnavailable, Message: message, Code: "provider_unavailable"}
}

func NewAPIError(message string) *Error {
	return &Error{Type: ErrAPI, Message: message}
}

// FromError maps an arbitrary error to the canonical shape plus an HTTP status.
func FromError(err error, requestID string) (*Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Type: ErrAPI, Message: "request timeout", RequestID: requestID}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Type: ErrAPI, Message: "request cancelled", Code: "cancelled", RequestID: requestID}, http.StatusRequestTimeout
	}

	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr != nil {
		out := *apiErr
		out.RequestID = requestID
		return &out, StatusFromType(apiErr.Type)
	}

	// Unknown errors: treat as internal (do not leak details by default).
	return &Error{Type: ErrAPI, Message: "internal error", RequestID: requestID}, http.StatusInternalServerError
}

func StatusFromType(t ErrorType) int {
	switch t {
	case ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrAuthentication:
		return http.StatusUnauthorized
	case ErrNotFound:
		return http.StatusNotFound
	case ErrQuota, ErrRateLimit:
		return http.StatusTooManyRequests
	case ErrProviderUnavailable:
		return http.StatusBadGateway
	case ErrAPI:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Envelope is the JSON error envelope written to clients.
type Envelope struct {
	Error *Error `json:"error"`
}

func WriteJSON(w http.ResponseWriter, requestID string, apiErr *Error, status int) {
	if apiErr != nil && apiErr.RequestID == "" {
		apiErr.RequestID = requestID
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Error: apiErr})
}
