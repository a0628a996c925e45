package interp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"google.golang.org/genai"
)

// ErrorType categorizes interpreter failures for retry handling.
type ErrorType int8

const (
	// ErrorTypeRateLimit covers 429 and quota exhaustion. Retryable.
	ErrorTypeRateLimit ErrorType = iota
	// ErrorTypeTransient covers 5xx, timeouts, and dropped connections. Retryable.
	ErrorTypeTransient
	// ErrorTypeFatal covers auth failures, malformed requests, and anything
	// that retrying cannot fix.
	ErrorTypeFatal
)

// String returns the string representation of the error type.
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeFatal:
		return "fatal"
	default:
		return "invalid"
	}
}

// Error is a classified interpreter failure with retry metadata.
type Error struct {
	Err           error         // wrapped underlying error
	Message       string        // human-readable message
	Type          ErrorType     // classified type
	StatusCode    int           // HTTP status code if applicable
	SuggestedWait time.Duration // provider-suggested wait before the next attempt, 0 if none
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("interpreter error (%s): %s", e.Type.String(), e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("interpreter error (%s): %v", e.Type.String(), e.Err)
	}
	return fmt.Sprintf("interpreter error (%s): status %d", e.Type.String(), e.StatusCode)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether another attempt can succeed.
func (e *Error) IsRetryable() bool {
	return e.Type != ErrorTypeFatal
}

// Is checks whether an error is a classified interpreter error of the
// given type.
func Is(err error, errorType ErrorType) bool {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Type == errorType
	}
	return false
}

// TypeOf returns the classified type of an error. Unclassified errors are
// treated as transient so the caller's retry budget bounds them.
func TypeOf(err error) ErrorType {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Type
	}
	return ErrorTypeTransient
}

// NewError creates a classified interpreter error.
func NewError(errorType ErrorType, message string) *Error {
	return &Error{Type: errorType, Message: message}
}

// retryAfterPattern matches provider messages like "please retry in 37s" or
// "retry after 2.5s".
var retryAfterPattern = regexp.MustCompile(`retry (?:in|after) (\d+(?:\.\d+)?)s`)

// suggestedWaitBuffer is added on top of whatever the provider asks for.
const suggestedWaitBuffer = time.Second

// extractSuggestedWait parses a server-suggested delay out of an error
// message. Returns 0 when the message carries no hint.
func extractSuggestedWait(message string) time.Duration {
	m := retryAfterPattern.FindStringSubmatch(strings.ToLower(message))
	if m == nil {
		return 0
	}
	seconds, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	return time.Duration(seconds*float64(time.Second)) + suggestedWaitBuffer
}

// Classify wraps a raw provider error in a classified Error. Already
// classified errors pass through unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var ie *Error
	if errors.As(err, &ie) {
		return ie
	}

	msg := err.Error()
	classified := &Error{Err: err, Message: msg}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		classified.StatusCode = apiErr.Code
	}

	switch {
	case classified.StatusCode == 429,
		strings.Contains(msg, "RESOURCE_EXHAUSTED"),
		strings.Contains(strings.ToLower(msg), "quota"):
		classified.Type = ErrorTypeRateLimit
		classified.SuggestedWait = extractSuggestedWait(msg)
	case classified.StatusCode >= 500,
		errors.Is(err, context.DeadlineExceeded),
		isConnectionError(err):
		classified.Type = ErrorTypeTransient
	case classified.StatusCode >= 400:
		classified.Type = ErrorTypeFatal
	default:
		classified.Type = ErrorTypeTransient
	}
	return classified
}

func isConnectionError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "EOF") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe")
}
