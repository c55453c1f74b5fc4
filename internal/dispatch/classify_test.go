package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"fandomassenger/internal/mediawiki"
)

func TestClassify(t *testing.T) {
	t.Parallel()
	api := func(status int, code string) error {
		return &mediawiki.APIError{Code: code, HTTPStatus: status}
	}
	tests := []struct {
		name      string
		err       error
		kind      TargetKind
		write     bool
		label     string
		retryable bool
	}{
		{"wall 403", api(http.StatusForbidden, ""), TargetMessageWall, true, ReasonPlatformRestriction, false},
		{"talk 403", api(http.StatusForbidden, ""), TargetTalkPage, true, ReasonPermissionDenied, false},
		{"429", api(http.StatusTooManyRequests, ""), TargetTalkPage, true, ReasonRateLimited, true},
		{"ratelimited", api(200, "ratelimited"), TargetTalkPage, true, ReasonRateLimited, true},
		{"maxlag", api(200, "maxlag"), TargetTalkPage, true, ReasonMaxLag, true},
		{"readonly", api(200, "readonly"), TargetTalkPage, true, ReasonReadOnly, true},
		{"protected", api(200, "protectedpage"), TargetTalkPage, true, ReasonProtected, false},
		{"blocked", api(200, "blocked"), TargetTalkPage, true, ReasonBlocked, false},
		{"no such user", api(200, "nosuchuser"), TargetMessageWall, true, ReasonRecipientMissing, false},
		{"bad title", api(200, "invalidtitle"), TargetTalkPage, true, ReasonInvalidTarget, false},
		{"captcha", api(200, "editcaptcha"), TargetTalkPage, true, ReasonRejected, false},
		{"abuse filter", api(200, "abusefilter-disallowed"), TargetTalkPage, true, ReasonRejected, false},
		{"unknown code", api(200, "somethingnew"), TargetTalkPage, true, ReasonRejected, false},
		{"503", api(http.StatusServiceUnavailable, ""), TargetTalkPage, true, ReasonServerError, true},
		{"502 write", api(http.StatusBadGateway, ""), TargetTalkPage, true, ReasonOutcomeUnknown, false},
		{"502 read", api(http.StatusBadGateway, ""), TargetTalkPage, false, ReasonServerError, true},
		{"session", api(200, "assertuserfailed"), TargetTalkPage, true, ReasonAuth, false},
		{"auth", &mediawiki.AuthError{Op: "login", Err: mediawiki.ErrLoginRejected}, TargetTalkPage, true, ReasonAuth, false},
		{"dial", &mediawiki.TransportError{Op: "edit", Err: errors.New("refused")}, TargetTalkPage, true, ReasonNetwork, true},
		{"lost response", &mediawiki.TransportError{Op: "edit", Err: errors.New("reset"), Sent: true}, TargetTalkPage, true, ReasonOutcomeUnknown, false},
		{"timeout read", &mediawiki.TransportError{Op: "parse", Err: errors.New("deadline"), Sent: true, Timeout: true}, TargetTalkPage, false, ReasonTimeout, true},
		{"decode write", &mediawiki.DecodeError{Op: "edit", Err: errors.New("eof")}, TargetTalkPage, true, ReasonOutcomeUnknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err, tt.kind, tt.write)
			if l := Label(got); l != tt.label {
				t.Fatalf("Label = %q, want %q (%v)", l, tt.label, got)
			}
			if r := IsRetryable(got); r != tt.retryable {
				t.Fatalf("IsRetryable = %v, want %v", r, tt.retryable)
			}
		})
	}
}

func TestClassifyKeepsRetryAfter(t *testing.T) {
	t.Parallel()
	err := classify(&mediawiki.APIError{HTTPStatus: http.StatusTooManyRequests, RetryAfter: 12 * time.Second}, TargetTalkPage, true)
	if retryAfter(err) != 12*time.Second {
		t.Fatalf("retryAfter = %v", retryAfter(err))
	}
}

func TestClassifyPassesThroughCancel(t *testing.T) {
	t.Parallel()
	if err := classify(context.Canceled, TargetTalkPage, true); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if classify(nil, TargetTalkPage, true) != nil {
		t.Fatal("nil should stay nil")
	}
}

func TestClassifyCallerDeadlineIsNotUnknownOutcome(t *testing.T) {
	t.Parallel()
	err := classify(fmt.Errorf("post: %w", context.DeadlineExceeded), TargetMessageWall, true)
	var unk *UnknownOutcomeError
	if errors.As(err, &unk) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v (%T)", err, err)
	}
	if Label(err) != ReasonInterrupted {
		t.Fatalf("label = %q", Label(err))
	}

	// A request that timed out on the wire may still have been applied.
	sent := &mediawiki.TransportError{Op: "edit", Err: context.DeadlineExceeded, Sent: true, Timeout: true}
	if err := classify(sent, TargetTalkPage, true); !errors.As(err, &unk) || Label(unk.Err) != ReasonTimeout {
		t.Fatalf("sent timeout = %v", err)
	}
}

func TestUnknownOutcomeUnwrapsToCause(t *testing.T) {
	t.Parallel()
	err := classify(&mediawiki.TransportError{Op: "edit", Err: errors.New("reset"), Sent: true}, TargetTalkPage, true)
	var unk *UnknownOutcomeError
	if !errors.As(err, &unk) {
		t.Fatalf("err = %T", err)
	}
	if !IsRetryable(unk.Err) || Label(unk.Err) != ReasonNetwork {
		t.Fatalf("cause = %v", unk.Err)
	}
}
