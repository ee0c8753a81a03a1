package models

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies pipeline failures and non-order outcomes.
type ErrorKind string

const (
	KindNone              ErrorKind = ""
	KindMissingState      ErrorKind = "missing_state"
	KindRiskVeto          ErrorKind = "risk_veto"
	KindTransientUpstream ErrorKind = "transient_upstream"
	KindStaleSurface      ErrorKind = "stale_surface"
	KindExecutionFailure  ErrorKind = "execution_failure"
	KindDuplicate         ErrorKind = "duplicate"
	KindInvalidEvent      ErrorKind = "invalid_event"
	KindInfrastructure    ErrorKind = "infrastructure"
)

var (
	// ErrMissingState means the strategy lacks P-vol or Q-vol. Decisions are
	// skipped without reporting a failure.
	ErrMissingState = errors.New("market state incomplete")
	// ErrDuplicateIntent is returned for an intent that was already translated.
	ErrDuplicateIntent = errors.New("intent already handled")
	// ErrInvalidEvent wraps payloads that cannot be decoded or validated.
	ErrInvalidEvent = errors.New("invalid event")
	// ErrSurfaceUnavailable means no surface was seen for the underlying.
	ErrSurfaceUnavailable = errors.New("volatility surface unavailable")
	// ErrATMUnresolved means the surface has no matching call and put.
	ErrATMUnresolved = errors.New("atm options unresolved")
)

// TransientUpstreamError is an optional input that could not be fetched.
type TransientUpstreamError struct {
	Source string
	Err    error
}

func (e *TransientUpstreamError) Error() string {
	return fmt.Sprintf("upstream %s unavailable: %v", e.Source, e.Err)
}

func (e *TransientUpstreamError) Unwrap() error { return e.Err }

// StaleSurfaceError refuses to size option legs off an outdated surface.
type StaleSurfaceError struct {
	Underlying  string
	SurfaceTime time.Time
	Age         time.Duration
	MaxAge      time.Duration
}

func (e *StaleSurfaceError) Error() string {
	return fmt.Sprintf("surface for %s is stale: age %s exceeds %s", e.Underlying, e.Age.Round(time.Millisecond), e.MaxAge)
}

// ExecutionFailure is reported by the order adapter. It is never retried here.
type ExecutionFailure struct {
	IntentID string
	Reason   string
}

func (e *ExecutionFailure) Error() string {
	return fmt.Sprintf("execution of intent %s failed: %s", e.IntentID, e.Reason)
}

// InvalidEventf wraps ErrInvalidEvent with detail.
func InvalidEventf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidEvent, fmt.Sprintf(format, args...))
}

// Classify maps err onto the taxonomy. Unrecognised errors are infrastructure.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var (
		upstream *TransientUpstreamError
		stale    *StaleSurfaceError
		failure  *ExecutionFailure
	)
	switch {
	case errors.Is(err, ErrMissingState):
		return KindMissingState
	case errors.Is(err, ErrDuplicateIntent):
		return KindDuplicate
	case errors.Is(err, ErrInvalidEvent):
		return KindInvalidEvent
	case errors.As(err, &stale):
		return KindStaleSurface
	case errors.As(err, &upstream), errors.Is(err, context.DeadlineExceeded):
		return KindTransientUpstream
	case errors.As(err, &failure):
		return KindExecutionFailure
	default:
		return KindInfrastructure
	}
}
