package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"fandomassenger/internal/dispatch"
)

func sample() *dispatch.Report {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &dispatch.Report{
		RunID:      "r-1",
		Wiki:       "https://eizen.fandom.com",
		Target:     dispatch.TargetTalkPage,
		StartedAt:  start,
		FinishedAt: start.Add(90 * time.Second),
		Total:      3,
		Results: []dispatch.Result{
			{Recipient: "Alice", Status: dispatch.StatusSuccess, Attempts: 1},
			{Recipient: "Bob", Status: dispatch.StatusSkipped, Reason: dispatch.SkipAlreadyDelivered},
			{Recipient: "Carol", Status: dispatch.StatusFailed, Reason: dispatch.ReasonProtected, Detail: "protected: page is protected", Attempts: 1},
		},
	}
}

func TestExitCode(t *testing.T) {
	t.Parallel()
	clean := sample()
	clean.Results = clean.Results[:2]

	interrupted := sample()
	interrupted.Err = context.Canceled
	interrupted.Interrupted = true

	tests := []struct {
		name string
		rep  *dispatch.Report
		err  error
		want int
	}{
		{"clean", clean, nil, ExitOK},
		{"failures", sample(), nil, ExitFailures},
		{"fatal before dispatch", nil, errors.New("login rejected"), ExitFatal},
		{"auth during run", sample(), &dispatch.AuthError{Err: errors.New("x")}, ExitFatal},
		{"interrupted", interrupted, nil, ExitInterrupted},
		{"signal before dispatch", nil, fmt.Errorf("resolve: %w", context.Canceled), ExitInterrupted},
		{"request deadline before dispatch", nil, fmt.Errorf("resolve: %w", context.DeadlineExceeded), ExitFatal},
	}
	for _, tt := range tests {
		if got := ExitCode(tt.rep, tt.err); got != tt.want {
			t.Errorf("%s: ExitCode = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestHeadlineNeverClaimsSuccessOnFailure(t *testing.T) {
	t.Parallel()
	h := Headline(sample().Summary())
	if !strings.Contains(h, "with failures") || !strings.Contains(h, "1 failed of 3") {
		t.Fatalf("headline = %q", h)
	}
}

func TestWriteText(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	if err := WriteText(&buf, sample()); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Alice", "already_delivered", "protected after 1 attempt(s)", "reasons: protected=1", "completed with failures"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("non-terminal output contains escape codes")
	}
}

func TestWriteJSON(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	if err := WriteJSON(&buf, sample()); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	var got struct {
		RunID   string `json:"run_id"`
		Results []struct {
			Recipient string `json:"recipient"`
			Status    string `json:"status"`
		} `json:"results"`
		Summary struct {
			Counts dispatch.Counts `json:"counts"`
		} `json:"summary"`
		Exit int `json:"exit_code"`
	}
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.RunID != "r-1" || len(got.Results) != 3 || got.Summary.Counts.Failed != 1 || got.Exit != ExitFailures {
		t.Fatalf("json = %+v", got)
	}
}

func TestDescribe(t *testing.T) {
	t.Parallel()
	d := Describe(sample().Summary())
	if !strings.Contains(d, "reasons: protected=1") || !strings.Contains(d, "run: r-1") {
		t.Fatalf("Describe = %q", d)
	}
}
