package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Result reasons. Failed results carry the label of their error; skipped
// results carry one of the Skip* reasons.
const (
	ReasonPlatformRestriction = "platform_restriction"
	ReasonRateLimited         = "rate_limited"
	ReasonMaxLag              = "maxlag"
	ReasonReadOnly            = "read_only"
	ReasonTimeout             = "timeout"
	ReasonServerError         = "server_error"
	ReasonNetwork             = "network"
	ReasonRecipientMissing    = "recipient_missing"
	ReasonPermissionDenied    = "permission_denied"
	ReasonProtected           = "protected"
	ReasonBlocked             = "blocked"
	ReasonInvalidTarget       = "invalid_target"
	ReasonRejected            = "rejected"
	ReasonOutcomeUnknown      = "outcome_unknown"
	ReasonAuth                = "auth"
	ReasonInterrupted         = "interrupted"

	SkipDryRun           = "dry_run"
	SkipAlreadyDelivered = "already_delivered"
)

// AuthError is fatal to a run: the session is gone and could not be restored.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return "authentication: " + e.Err.Error() }
func (e *AuthError) Unwrap() error { return e.Err }
func (e *AuthError) Retryable() bool { return false }

// PlatformRestrictionError is the platform refusing the posting surface as a
// whole (HTTP 403 from the message-wall controller). It is retried only when
// the platform signals a retry (Retry-After).
type PlatformRestrictionError struct {
	Status     int
	Info       string
	RetryAfter time.Duration
}

func (e *PlatformRestrictionError) Error() string {
	if e.Info == "" {
		return fmt.Sprintf("platform restriction (http %d)", e.Status)
	}
	return fmt.Sprintf("platform restriction (http %d): %s", e.Status, e.Info)
}

func (e *PlatformRestrictionError) Retryable() bool { return e.RetryAfter > 0 }

// TransientRequestError is a failure that is expected to clear on retry.
type TransientRequestError struct {
	Reason     string
	RetryAfter time.Duration
	Err        error
}

func (e *TransientRequestError) Error() string { return e.Reason + ": " + e.Err.Error() }
func (e *TransientRequestError) Unwrap() error { return e.Err }
func (e *TransientRequestError) Retryable() bool { return true }

// PermanentRequestError is a failure that retrying cannot fix.
type PermanentRequestError struct {
	Reason string
	Err    error
}

func (e *PermanentRequestError) Error() string { return e.Reason + ": " + e.Err.Error() }
func (e *PermanentRequestError) Unwrap() error { return e.Err }
func (e *PermanentRequestError) Retryable() bool { return false }

// UnknownOutcomeError marks a write that may or may not have been applied
// (response lost after sending, undecodable success payload). Err is the
// classified cause used if the engine decides to retry.
type UnknownOutcomeError struct {
	Err error
}

func (e *UnknownOutcomeError) Error() string { return "outcome unknown: " + e.Err.Error() }
func (e *UnknownOutcomeError) Unwrap() error { return e.Err }

// Retryable is false: a repost is only safe once the first one is known
// not to have landed.
func (e *UnknownOutcomeError) Retryable() bool { return false }

var (
	// ErrUnverifiable is returned by Poster.Confirm when the target offers no
	// way to check whether a post landed.
	ErrUnverifiable = errors.New("delivery cannot be verified")

	ErrRecipientMissing = errors.New("account does not exist")
)

// Label returns the reason label for err.
func Label(err error) string {
	var (
		pr  *PlatformRestrictionError
		tr  *TransientRequestError
		pe  *PermanentRequestError
		ae  *AuthError
		unk *UnknownOutcomeError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &unk):
		return ReasonOutcomeUnknown
	case errors.As(err, &ae):
		return ReasonAuth
	case errors.As(err, &pr):
		return ReasonPlatformRestriction
	case errors.As(err, &tr):
		return tr.Reason
	case errors.As(err, &pe):
		return pe.Reason
	case isContextErr(err):
		return ReasonInterrupted
	}
	return "error"
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// IsRetryable reports whether err asks to be retried. Errors without a
// Retryable method are not retried.
func IsRetryable(err error) bool {
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

func retryAfter(err error) time.Duration {
	var (
		pr *PlatformRestrictionError
		tr *TransientRequestError
	)
	switch {
	case errors.As(err, &pr):
		return pr.RetryAfter
	case errors.As(err, &tr):
		return tr.RetryAfter
	}
	return 0
}
