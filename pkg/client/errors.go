package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrEmptyRecord is returned when a detail fetch succeeded but carried no usable record.
	ErrEmptyRecord = errors.New("empty_response")
)

// ErrorClass represents a classification of fetch errors.
type ErrorClass string

const (
	// ErrorClassNetwork represents connection-level failures (refused, reset, timeout).
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassServer represents transient 5xx responses (500, 502, 503, 504).
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassPermanent represents any other non-2xx status.
	ErrorClassPermanent ErrorClass = "permanent"

	// ErrorClassDecode represents a response body that is not valid JSON.
	ErrorClassDecode ErrorClass = "decode"

	// ErrorClassEmpty represents a successful fetch without a usable record.
	ErrorClassEmpty ErrorClass = "empty"

	// ErrorClassCancelled represents caller-initiated cancellation.
	ErrorClassCancelled ErrorClass = "cancelled"
)

// NetworkError is a transport-level failure: no HTTP response was received.
type NetworkError struct {
	URL string
	Err error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error for %s: %v", e.URL, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// HTTPStatusError is a non-2xx response.
type HTTPStatusError struct {
	URL        string
	StatusCode int
	Status     string
	Header     http.Header
}

// Error implements the error interface.
func (e *HTTPStatusError) Error() string {
	status := e.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("HTTP Error %d for %s: %s", e.StatusCode, e.URL, status)
}

// Transient reports whether the status is expected to resolve on retry.
func (e *HTTPStatusError) Transient() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// DecodeError is a response body that could not be decoded as JSON.
type DecodeError struct {
	URL string
	Err error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.URL, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ClassifyError categorizes an error for retry decisions and observability.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ""
	}

	var statusErr *HTTPStatusError
	var netErr *NetworkError
	var decodeErr *DecodeError

	switch {
	case errors.Is(err, context.Canceled):
		return ErrorClassCancelled
	case errors.As(err, &statusErr):
		switch {
		case statusErr.StatusCode == http.StatusTooManyRequests:
			return ErrorClassRateLimit
		case statusErr.Transient():
			return ErrorClassServer
		default:
			return ErrorClassPermanent
		}
	case errors.As(err, &netErr):
		return ErrorClassNetwork
	case errors.As(err, &decodeErr):
		return ErrorClassDecode
	case errors.Is(err, ErrEmptyRecord):
		return ErrorClassEmpty
	default:
		return ErrorClassPermanent
	}
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		// Permanent statuses, decode failures and empty records will not change on retry
		return false
	}
}
