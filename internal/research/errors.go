package research

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// Category classifies a research error for retry and reporting decisions.
type Category string

const (
	// CategoryNetwork covers transport-level failures. Retryable.
	CategoryNetwork Category = "NETWORK_ERROR"
	// CategoryAPI covers non-auth HTTP failures from a provider. Retryable.
	CategoryAPI Category = "API_ERROR"
	// CategoryAuth covers 401/403-class failures. Never retryable.
	CategoryAuth Category = "AUTH_ERROR"
	// CategoryValidation covers malformed provider/LLM output. Not retryable.
	CategoryValidation Category = "VALIDATION_ERROR"
	// CategoryJob is a generic job-level failure.
	CategoryJob Category = "JOB_ERROR"
	// CategoryDatabase covers persistence failures, reported but non-fatal
	// to the research result itself.
	CategoryDatabase Category = "DATABASE_ERROR"
)

// Error is a categorized research pipeline error. It replaces ad hoc
// category-tagged error shapes with first-class fields.
type Error struct {
	Category  Category `json:"category"`
	Message   string   `json:"message"`
	Retryable bool     `json:"retryable"`
	Cause     error    `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError builds a categorized error. The retryable flag follows the
// category's default policy.
func NewError(category Category, message string, cause error) *Error {
	return &Error{
		Category:  category,
		Message:   message,
		Retryable: category == CategoryNetwork || category == CategoryAPI,
		Cause:     cause,
	}
}

// AsError extracts a *Error from err's chain, or nil.
func AsError(err error) *Error {
	var re *Error
	if errors.As(err, &re) {
		return re
	}
	return nil
}

// IsRetryable reports whether err may be retried. Context cancellation is
// never retryable; unclassified errors fall back to network-level heuristics.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if re := AsError(err); re != nil {
		return re.Retryable
	}
	return isNetworkError(err)
}

// Classify wraps an arbitrary error into a categorized *Error. Already
// categorized errors pass through unchanged.
func Classify(err error, message string) *Error {
	if err == nil {
		return nil
	}
	if re := AsError(err); re != nil {
		return re
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		e := NewError(CategoryNetwork, message, err)
		e.Retryable = false
		return e
	}
	if isNetworkError(err) {
		return NewError(CategoryNetwork, message, err)
	}
	return NewError(CategoryJob, message, err)
}

// CategoryForStatus maps an HTTP status code to an error category.
func CategoryForStatus(status int) Category {
	switch {
	case status == 401 || status == 403:
		return CategoryAuth
	case status >= 400:
		return CategoryAPI
	default:
		return CategoryNetwork
	}
}

// isNetworkError mirrors common transport-level failure checks.
func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
