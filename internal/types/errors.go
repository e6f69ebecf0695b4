package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
var (
	ErrPaywall      = errors.New("paywall detected (HTTP 402)")
	ErrEmptyBody    = errors.New("empty response body")
	ErrInvalidURL   = errors.New("invalid URL")
	ErrGateFailed   = errors.New("session gate failed permanently")
	ErrNoPattern    = errors.New("no replayable day pattern discovered")
	ErrBudgetSpent  = errors.New("llm budget exhausted")
	ErrPoolClosed   = errors.New("browser pool is closed")
	ErrNoTimeToken  = errors.New("no recognized time token")
	ErrBadDayOffset = errors.New("unresolvable day token")
)

// FetchError wraps errors that occur during fetching.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
	Retryable  bool
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch error for %s (status %d): %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch error for %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) IsRetryable() bool { return e.Retryable }

// TrapError reports a URL or page rejected by the loop heuristics.
type TrapError struct {
	URL    string
	Reason string
}

func (e *TrapError) Error() string {
	return fmt.Sprintf("trap detected at %s: %s", e.URL, e.Reason)
}

// AuthWallError reports a 401/403 or a detected login wall.
type AuthWallError struct {
	URL        string
	StatusCode int
}

func (e *AuthWallError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("auth wall at %s (status %d)", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("auth wall at %s", e.URL)
}

// LoginError reports an exhausted login flow.
type LoginError struct {
	Attempts int
	Err      error
}

func (e *LoginError) Error() string {
	return fmt.Sprintf("login failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *LoginError) Unwrap() error { return e.Err }

// PersistError wraps failures from the upsert sink.
type PersistError struct {
	Entity string
	Err    error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist error (%s): %v", e.Entity, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// NormalizeError reports a raw time string that matched no accepted shape.
type NormalizeError struct {
	Raw string
	Err error
}

func (e *NormalizeError) Error() string {
	return fmt.Sprintf("normalize %q: %v", e.Raw, e.Err)
}

func (e *NormalizeError) Unwrap() error { return e.Err }
