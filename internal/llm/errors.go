package llm

import (
	"errors"
	"fmt"
	"time"
)

// ErrInterrupted marks a chat call the user cancelled mid-flight. It is a
// distinct outcome, never conflated with a provider or transport failure.
var ErrInterrupted = errors.New("interrupted by user")

// ErrorType classifies provider errors for UI handling
type ErrorType string

const (
	ErrorTypeRateLimit          ErrorType = "rate_limit"          // 429 - too many requests
	ErrorTypeInsufficientCredit ErrorType = "insufficient_credit" // 402 - no balance
	ErrorTypeProviderDown       ErrorType = "provider_down"       // 502/503 - upstream issue
	ErrorTypeAuth               ErrorType = "auth"                // 401 - bad API key
	ErrorTypeModeration         ErrorType = "moderation"          // 403 - content flagged
	ErrorTypeBadRequest         ErrorType = "bad_request"         // 400/422 - malformed payload
	ErrorTypeUnknown            ErrorType = "unknown"             // Fallback
)

// ProviderError is a structured error returned by LLM clients
type ProviderError struct {
	Type       ErrorType      // Classification
	Provider   string         // e.g. "openai-compatible"
	Status     int            // HTTP status code
	Message    string         // Human-readable message
	RetryAfter *time.Duration // How long to wait (if known)
	Retryable  bool           // Should we auto-retry?
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (HTTP %d)", e.Provider, e.Message, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// IsProviderError checks if err is a ProviderError and returns it
func IsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// ClassifyStatus maps a non-2xx HTTP status to an error type.
func ClassifyStatus(status int) ErrorType {
	switch status {
	case 400, 422:
		return ErrorTypeBadRequest
	case 401:
		return ErrorTypeAuth
	case 402:
		return ErrorTypeInsufficientCredit
	case 403:
		return ErrorTypeModeration
	case 429:
		return ErrorTypeRateLimit
	case 500, 502, 503, 504:
		return ErrorTypeProviderDown
	default:
		return ErrorTypeUnknown
	}
}

// NewProviderError builds a ProviderError from an HTTP status, marking the
// transient statuses retryable.
func NewProviderError(provider string, status int, message string) *ProviderError {
	return &ProviderError{
		Type:      ClassifyStatus(status),
		Provider:  provider,
		Status:    status,
		Message:   message,
		Retryable: status == 429 || status == 503,
	}
}
