package domain

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrorKind classifies failures so callers can decide whether to retry, back
// off, or surface the error to the user.
type ErrorKind string

const (
	KindNetwork            ErrorKind = "network"
	KindRateLimit          ErrorKind = "rate_limit"
	KindAuthentication     ErrorKind = "authentication"
	KindValidation         ErrorKind = "validation"
	KindCircuitOpen        ErrorKind = "circuit_open"
	KindInsufficientMargin ErrorKind = "insufficient_margin"
	KindInsufficientFunds  ErrorKind = "insufficient_funds"
	KindStaleData          ErrorKind = "stale_data"
	KindNotFound           ErrorKind = "not_found"
	KindConnectionTimeout  ErrorKind = "connection_timeout"
	KindConnectionFailed   ErrorKind = "connection_failed"
	KindNoData             ErrorKind = "no_data"
	KindRetryExhausted     ErrorKind = "retry_exhausted"
)

var (
	ErrNetwork            = errors.New("network error")
	ErrRateLimited        = errors.New("rate limited")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrValidation         = errors.New("validation failed")
	ErrCircuitOpen        = errors.New("circuit open")
	ErrInsufficientMargin = errors.New("insufficient margin")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrStaleData          = errors.New("stale data")
	ErrNotFound           = errors.New("not found")
	ErrConnectionTimeout  = errors.New("connection timeout")
	ErrConnectionFailed   = errors.New("connection failed")
	ErrNoData             = errors.New("no data available")
	ErrRetryExhausted     = errors.New("retries exhausted")
	ErrLockHeld           = errors.New("lock already held")
)

var kindSentinels = map[ErrorKind]error{
	KindNetwork:            ErrNetwork,
	KindRateLimit:          ErrRateLimited,
	KindAuthentication:     ErrUnauthorized,
	KindValidation:         ErrValidation,
	KindCircuitOpen:        ErrCircuitOpen,
	KindInsufficientMargin: ErrInsufficientMargin,
	KindInsufficientFunds:  ErrInsufficientFunds,
	KindStaleData:          ErrStaleData,
	KindNotFound:           ErrNotFound,
	KindConnectionTimeout:  ErrConnectionTimeout,
	KindConnectionFailed:   ErrConnectionFailed,
	KindNoData:             ErrNoData,
	KindRetryExhausted:     ErrRetryExhausted,
}

// Error is the typed error carried across component boundaries. It matches
// the sentinel of its Kind with errors.Is and unwraps to its cause.
type Error struct {
	Kind ErrorKind
	Op   string
	Msg  string
	Err  error
	// RetryAfter is the server-suggested wait for rate-limit errors.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Msg != "" {
		b.WriteString(e.Msg)
	} else if s, ok := kindSentinels[e.Kind]; ok {
		b.WriteString(s.Error())
	} else {
		b.WriteString(string(e.Kind))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	s, ok := kindSentinels[e.Kind]
	return ok && s == target
}

// NewError builds an Error of the given kind wrapping err.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds an Error of the given kind with a message.
func Errorf(kind ErrorKind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// KindOf returns the classification of err, or "" when err carries none.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for k, s := range kindSentinels {
		if errors.Is(err, s) {
			return k
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}
	return ""
}

// RetryAfterOf returns the RetryAfter hint carried by err, if any.
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// IsRetryable reports whether an operation that failed with err may succeed
// if attempted again. Unclassified errors are treated as transient.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	switch KindOf(err) {
	case KindAuthentication, KindValidation, KindCircuitOpen,
		KindInsufficientMargin, KindInsufficientFunds, KindNotFound,
		KindConnectionFailed, KindRetryExhausted:
		return false
	default:
		return true
	}
}

// CountsAsFailure reports whether err reflects an unhealthy dependency, as
// opposed to a caller mistake that says nothing about the service.
func CountsAsFailure(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindNotFound, KindCircuitOpen:
		return false
	}
	return err != nil && !errors.Is(err, context.Canceled)
}
