package mediawiki

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// APIError is an error reported by the wiki, either as an API error object
// ({"error":{"code":..,"info":..}}) or as a non-2xx HTTP status.
type APIError struct {
	Code       string
	Info       string
	HTTPStatus int
	// RetryAfter is the server's Retry-After hint, if any.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	switch {
	case e.Code != "" && e.Info != "":
		return fmt.Sprintf("mediawiki: %s: %s", e.Code, e.Info)
	case e.Code != "":
		return "mediawiki: " + e.Code
	default:
		return fmt.Sprintf("mediawiki: http %d: %s", e.HTTPStatus, e.Info)
	}
}

// TransportError wraps a failure to get an HTTP response at all.
//
// Sent is false only when the request provably never left the process
// (dial/DNS failure). Otherwise the server may or may not have applied it.
type TransportError struct {
	Op      string
	Err     error
	Sent    bool
	Timeout bool
}

func (e *TransportError) Error() string { return fmt.Sprintf("mediawiki: %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError is returned when a 2xx response body cannot be decoded.
type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("mediawiki: %s: decode response: %v", e.Op, e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

// AuthError reports rejected credentials, an unreachable login endpoint,
// insufficient rights or a session that could not be re-established.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("mediawiki: auth %s: %v", e.Op, e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

var (
	ErrLoginRejected      = errors.New("login rejected")
	ErrWrongUser          = errors.New("logged in as a different user")
	ErrInsufficientRights = errors.New("account lacks the required groups")
	ErrMalformedResponse  = errors.New("malformed response")

	errNoSession = errors.New("not logged in")
)

// IsSessionExpired reports whether err signals an expired or invalid session.
func IsSessionExpired(err error) bool {
	var ae *APIError
	if !errors.As(err, &ae) {
		return false
	}
	if ae.HTTPStatus == 401 {
		return true
	}
	switch ae.Code {
	case "assertuserfailed", "assertbotfailed", "assertnameduserfailed", "notloggedin", "badtoken":
		return true
	}
	return false
}

// IsCode reports whether err is an APIError with one of the given codes.
func IsCode(err error, codes ...string) bool {
	var ae *APIError
	if !errors.As(err, &ae) {
		return false
	}
	for _, c := range codes {
		if strings.EqualFold(ae.Code, c) {
			return true
		}
	}
	return false
}

func transportError(op string, err error) *TransportError {
	te := &TransportError{Op: op, Err: err, Sent: true}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		te.Timeout = true
	}
	var oe *net.OpError
	if errors.As(err, &oe) && oe.Op == "dial" {
		te.Sent = false
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		te.Sent = false
	}
	return te
}
