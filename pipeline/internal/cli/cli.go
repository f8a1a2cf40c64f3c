// Package cli holds the exit code and error reporting conventions shared by the pipeline commands.
package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/malbeclabs/bonds/utils/pkg/retry"
)

type ExitCode int

const (
	ExitSuccess ExitCode = 0
	ExitFailure ExitCode = 1
	// ExitFatal means processing itself failed, for example an unreadable merkle tree collection.
	ExitFatal ExitCode = 2
	// ExitRetryable means the same run is expected to succeed later.
	ExitRetryable ExitCode = 100
)

type Error struct {
	Code ExitCode
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: ExitFatal, Err: err}
}

func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: ExitRetryable, Err: err}
}

// ExitCodeOf maps an error returned by a command to its process exit code. Errors without an
// explicit code are retryable when the retry package classifies them so.
func ExitCodeOf(err error) ExitCode {
	if err == nil {
		return ExitSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if retry.IsRetryable(err) {
		return ExitRetryable
	}
	return ExitFailure
}

// InitSentry enables error reporting when dsn is set. The returned func flushes pending events.
func InitSentry(dsn, environment string) (func(), error) {
	if dsn == "" {
		return func() {}, nil
	}
	if err := sentry.Init(sentry.ClientOptions{Dsn: dsn, Environment: environment}); err != nil {
		return nil, fmt.Errorf("failed to initialize sentry: %w", err)
	}
	return func() { sentry.Flush(2 * time.Second) }, nil
}

// Capture reports err to sentry unless it is retryable.
func Capture(err error) {
	if err == nil || ExitCodeOf(err) == ExitRetryable {
		return
	}
	sentry.CaptureException(err)
}
