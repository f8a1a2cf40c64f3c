// Package dberror classifies PostgreSQL errors for API responses and retries.
package dberror

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/malbeclabs/bonds/utils/pkg/retry"
)

type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeConnectivity
	ErrorTypeTimeout
	ErrorTypeAuth
	ErrorTypeQuery
)

// IsTransient reports whether err is a connectivity or server-side timeout failure.
// Cancelled and expired request contexts are never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	t := Classify(err)
	return t == ErrorTypeConnectivity || t == ErrorTypeTimeout
}

// Classify determines the type of database error.
func Classify(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifySQLState(pgErr.Code)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorTypeTimeout
		}
		return ErrorTypeConnectivity
	}

	if pgconn.Timeout(err) {
		return ErrorTypeTimeout
	}

	// pgx wraps dial failures and pool shutdown without a typed error.
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, connectivityPatterns):
		return ErrorTypeConnectivity
	case containsAny(msg, timeoutPatterns):
		return ErrorTypeTimeout
	}
	return ErrorTypeUnknown
}

var (
	connectivityPatterns = []string{"failed to connect", "closed pool", "conn closed", "connection refused", "connection reset", "broken pipe", "unexpected eof"}
	timeoutPatterns      = []string{"timeout", "timed out"}
)

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// classifySQLState maps a Postgres SQLSTATE code to an error type by its class.
func classifySQLState(code string) ErrorType {
	switch {
	case strings.HasPrefix(code, "08"), strings.HasPrefix(code, "53"), code == "57P01", code == "57P03":
		return ErrorTypeConnectivity
	case code == "57014":
		return ErrorTypeTimeout
	case strings.HasPrefix(code, "28"), code == "42501":
		return ErrorTypeAuth
	case strings.HasPrefix(code, "42"), strings.HasPrefix(code, "22"):
		return ErrorTypeQuery
	default:
		return ErrorTypeUnknown
	}
}

// UserMessage is the error text returned to API clients; it never includes err itself.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	switch Classify(err) {
	case ErrorTypeConnectivity:
		return "bond store temporarily unavailable, retry shortly"
	case ErrorTypeTimeout:
		return "bond store query timed out"
	case ErrorTypeAuth:
		return "bond store rejected the API credentials"
	case ErrorTypeQuery:
		return "bond store query failed"
	default:
		return "internal error"
	}
}

// DefaultRetryConfig retries connectivity and timeout errors.
func DefaultRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts: 3,
		BaseBackoff: 200 * time.Millisecond,
		MaxBackoff:  2 * time.Second,
		Retryable:   IsTransient,
	}
}

// Retry runs fn until it succeeds or fails with a non-transient error.
func Retry[T any](ctx context.Context, cfg retry.Config, fn func() (T, error)) (T, error) {
	if cfg.Retryable == nil {
		cfg.Retryable = IsTransient
	}
	return retry.DoWithResult(ctx, cfg, fn)
}
