package ansclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// KeyGenerationError reports a failure of the randomness source or key encoder.
type KeyGenerationError struct {
	Err error
}

func (e *KeyGenerationError) Error() string { return "key generation failed: " + e.Err.Error() }
func (e *KeyGenerationError) Unwrap() error { return e.Err }

// QueryError reports a malformed LookupQuery. No request was sent.
type QueryError struct {
	Reason string
	Err    error
}

func (e *QueryError) Error() string { return "invalid lookup query: " + e.Reason }
func (e *QueryError) Unwrap() error { return e.Err }

// RegistrationError reports a rejected or failed registration or
// deregistration. StatusCode is zero when the registry was never reached.
type RegistrationError struct {
	Op         string
	StatusCode int
	Body       []byte
	Message    string
	Details    []string
	Err        error
}

func (e *RegistrationError) Error() string { return formatError(e.Op, e.StatusCode, e.Message, e.Details, e.Err) }
func (e *RegistrationError) Unwrap() error { return e.Err }

// LookupError reports a failed read against the registry.
type LookupError struct {
	Op         string
	StatusCode int
	Body       []byte
	Message    string
	Err        error
}

func (e *LookupError) Error() string { return formatError(e.Op, e.StatusCode, e.Message, nil, e.Err) }
func (e *LookupError) Unwrap() error { return e.Err }

// NotFound reports whether the registry answered 404.
func (e *LookupError) NotFound() bool { return e.StatusCode == 404 }

// TimeoutError reports that a call exceeded its deadline.
type TimeoutError struct {
	Op      string
	Timeout time.Duration // zero when the deadline came from the caller's context
	Err     error
}

func (e *TimeoutError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("%s: timed out after %s", e.Op, e.Timeout)
	}
	return e.Op + ": deadline exceeded"
}
func (e *TimeoutError) Unwrap() error { return e.Err }

func formatError(op string, status int, msg string, details []string, err error) string {
	var b strings.Builder
	b.WriteString(op)
	if status != 0 {
		fmt.Fprintf(&b, ": registry returned HTTP %d", status)
	}
	if msg != "" {
		b.WriteString(": " + msg)
	}
	if len(details) > 0 {
		b.WriteString(" (" + strings.Join(details, "; ") + ")")
	}
	if err != nil && msg == "" {
		b.WriteString(": " + err.Error())
	}
	return b.String()
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
