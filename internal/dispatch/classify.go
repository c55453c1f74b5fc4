package dispatch

import (
	"errors"
	"net/http"

	"fandomassenger/internal/mediawiki"
)

var (
	protectedCodes  = []string{"protectedpage", "protectedtitle", "cascadeprotected", "protectednamespace", "protectednamespace-interface", "protectedinterface"}
	permissionCodes = []string{"permissiondenied", "writeapidenied", "noedit", "noedit-anon", "cantcreate", "cantcreate-anon", "mustbeposted"}
	blockedCodes    = []string{"blocked", "autoblocked", "blockedfrommail", "globalblocking-blockedtext"}
	invalidCodes    = []string{"invalidtitle", "badtitle", "invalidsection", "missingtitle", "invalidparammix"}
	missingCodes    = []string{"nosuchuser", "invaliduser", "nosuchuserid"}
	rejectedCodes   = []string{"editfailure", "spamdetected", "abusefilter-disallowed", "abusefilter-warning", "captcha", "contenttoobig", "hookaborted"}
	sessionCodes    = []string{"assertuserfailed", "assertbotfailed", "notloggedin", "badtoken"}
)

// classify maps a wiki error into the dispatch taxonomy. write marks a
// state-mutating call, for which errors that leave the outcome open become
// *UnknownOutcomeError.
func classify(err error, kind TargetKind, write bool) error {
	if err == nil {
		return nil
	}

	var (
		authErr   *mediawiki.AuthError
		transErr  *mediawiki.TransportError
		decodeErr *mediawiki.DecodeError
		apiErr    *mediawiki.APIError
	)
	// Requests run detached from the caller, so a bare context error means
	// the caller's ctx ended before anything was sent.
	if !errors.As(err, &transErr) && isContextErr(err) {
		return err
	}

	switch {
	case errors.As(err, &authErr):
		return &AuthError{Err: err}

	case errors.As(err, &transErr):
		reason := ReasonNetwork
		if transErr.Timeout {
			reason = ReasonTimeout
		}
		te := &TransientRequestError{Reason: reason, Err: err}
		if write && transErr.Sent {
			return &UnknownOutcomeError{Err: te}
		}
		return te

	case errors.As(err, &decodeErr):
		te := &TransientRequestError{Reason: ReasonServerError, Err: err}
		if write {
			return &UnknownOutcomeError{Err: te}
		}
		return te

	case errors.As(err, &apiErr):
		return classifyAPI(apiErr, kind, write)
	}

	if write {
		return &UnknownOutcomeError{Err: &TransientRequestError{Reason: ReasonNetwork, Err: err}}
	}
	return &TransientRequestError{Reason: ReasonNetwork, Err: err}
}

func classifyAPI(e *mediawiki.APIError, kind TargetKind, write bool) error {
	switch {
	case e.HTTPStatus == http.StatusForbidden && kind == TargetMessageWall:
		return &PlatformRestrictionError{Status: e.HTTPStatus, Info: e.Info, RetryAfter: e.RetryAfter}
	case e.HTTPStatus == http.StatusTooManyRequests, mediawiki.IsCode(e, "ratelimited", "actionthrottledtext", "actionthrottled"):
		return &TransientRequestError{Reason: ReasonRateLimited, RetryAfter: e.RetryAfter, Err: e}
	case mediawiki.IsCode(e, "maxlag"):
		return &TransientRequestError{Reason: ReasonMaxLag, RetryAfter: e.RetryAfter, Err: e}
	case mediawiki.IsCode(e, "readonly"):
		return &TransientRequestError{Reason: ReasonReadOnly, RetryAfter: e.RetryAfter, Err: e}
	case mediawiki.IsCode(e, sessionCodes...), e.HTTPStatus == http.StatusUnauthorized:
		return &AuthError{Err: e}
	case mediawiki.IsCode(e, missingCodes...):
		return &PermanentRequestError{Reason: ReasonRecipientMissing, Err: e}
	case mediawiki.IsCode(e, protectedCodes...):
		return &PermanentRequestError{Reason: ReasonProtected, Err: e}
	case mediawiki.IsCode(e, permissionCodes...), e.HTTPStatus == http.StatusForbidden:
		return &PermanentRequestError{Reason: ReasonPermissionDenied, Err: e}
	case mediawiki.IsCode(e, blockedCodes...):
		return &PermanentRequestError{Reason: ReasonBlocked, Err: e}
	case mediawiki.IsCode(e, invalidCodes...), e.HTTPStatus == http.StatusNotFound:
		return &PermanentRequestError{Reason: ReasonInvalidTarget, Err: e}
	case mediawiki.IsCode(e, rejectedCodes...):
		return &PermanentRequestError{Reason: ReasonRejected, Err: e}
	case e.HTTPStatus == http.StatusServiceUnavailable:
		// 503 is answered before the request reaches the wiki.
		return &TransientRequestError{Reason: ReasonServerError, RetryAfter: e.RetryAfter, Err: e}
	case e.HTTPStatus >= 500:
		te := &TransientRequestError{Reason: ReasonServerError, RetryAfter: e.RetryAfter, Err: e}
		if write {
			return &UnknownOutcomeError{Err: te}
		}
		return te
	case e.HTTPStatus == http.StatusRequestTimeout:
		return &TransientRequestError{Reason: ReasonTimeout, Err: e}
	}
	return &PermanentRequestError{Reason: ReasonRejected, Err: e}
}
