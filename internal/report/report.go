// Package report renders a dispatch.Report for the terminal, as JSON, or as
// a one-paragraph notification, and maps it to a process exit status.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"fandomassenger/internal/dispatch"
)

// Exit statuses.
const (
	ExitOK          = 0
	ExitFailures    = 1
	ExitFatal       = 2
	ExitInterrupted = 130
)

// ExitCode maps the outcome of a run to a process exit status. err is the
// run error (including errors that prevented dispatch from starting); rep
// may be nil in that case.
func ExitCode(rep *dispatch.Report, err error) int {
	if err == nil && rep != nil {
		err = rep.Err
	}
	switch {
	case err != nil && (rep != nil && rep.Interrupted || isInterrupt(err)):
		return ExitInterrupted
	case err != nil:
		return ExitFatal
	case rep != nil && rep.Counts().Failed > 0:
		return ExitFailures
	}
	return ExitOK
}

// isInterrupt reports a run stopped by the operator. Signals cancel the run
// context, so they surface as context.Canceled.
func isInterrupt(err error) bool {
	return errors.Is(err, context.Canceled)
}

// Headline states the outcome in one line. It never reads as a success
// while any recipient failed.
func Headline(sum dispatch.Summary) string {
	verb := "completed"
	switch {
	case sum.Error != "" && sum.Interrupted:
		verb = "interrupted"
	case sum.Error != "":
		verb = "aborted"
	case sum.Counts.Failed > 0:
		verb = "completed with failures"
	case sum.DryRun:
		verb = "dry run completed"
	}
	return fmt.Sprintf("Mass message %s: %d sent, %d skipped, %d failed of %d (%d attempted)",
		verb, sum.Counts.Success, sum.Counts.Skipped, sum.Counts.Failed, sum.Total, sum.Attempted)
}

// Describe is the plain-text notification for a finished run.
func Describe(sum dispatch.Summary) string {
	var b strings.Builder
	b.WriteString(Headline(sum))
	if sum.Wiki != "" {
		fmt.Fprintf(&b, "\nwiki: %s (%s)", sum.Wiki, sum.Target)
	}
	if r := reasons(sum.Reasons); r != "" {
		b.WriteString("\nreasons: " + r)
	}
	if sum.Error != "" {
		b.WriteString("\nerror: " + sum.Error)
	}
	if sum.RunID != "" {
		b.WriteString("\nrun: " + sum.RunID)
	}
	return b.String()
}

func reasons(m map[string]int) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, m[k])
	}
	return strings.Join(parts, ", ")
}

// WriteText prints a styled per-recipient table followed by the summary.
// Colors are dropped when w is not a terminal.
func WriteText(w io.Writer, rep *dispatch.Report) error {
	re := lipgloss.NewRenderer(w)
	var (
		title   = re.NewStyle().Bold(true)
		ok      = re.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
		skipped = re.NewStyle().Foreground(lipgloss.Color("#999999"))
		failed  = re.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
		detail  = re.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
		name    = re.NewStyle().Width(nameWidth(rep.Results))
	)

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", title.Render("fandomassenger"), detail.Render(fmt.Sprintf("run %s on %s via %s", rep.RunID, rep.Wiki, rep.Target)))
	for _, res := range rep.Results {
		var mark string
		switch res.Status {
		case dispatch.StatusSuccess:
			mark = ok.Render("✓ sent   ")
		case dispatch.StatusSkipped:
			mark = skipped.Render("- skipped")
		default:
			mark = failed.Render("✗ failed ")
		}
		line := "  " + mark + " " + name.Render(res.Recipient)
		switch {
		case res.Status == dispatch.StatusFailed:
			line += " " + detail.Render(fmt.Sprintf("%s after %d attempt(s): %s", res.Reason, res.Attempts, res.Detail))
		case res.Reason != "":
			line += " " + detail.Render(res.Reason)
		case res.Confirmed:
			line += " " + detail.Render("confirmed after lost response")
		}
		b.WriteString(strings.TrimRight(line, " ") + "\n")
	}

	sum := rep.Summary()
	head := ok
	if !rep.OK() {
		head = failed
	}
	b.WriteString(head.Render(Headline(sum)) + "\n")
	if r := reasons(sum.Reasons); r != "" {
		b.WriteString(detail.Render("reasons: "+r) + "\n")
	}
	if rep.Error != "" {
		b.WriteString(failed.Render("error: "+rep.Error) + "\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func nameWidth(rs []dispatch.Result) int {
	n := 12
	for _, r := range rs {
		n = max(n, lipgloss.Width(r.Recipient))
	}
	return min(n, 40)
}

type jsonReport struct {
	*dispatch.Report
	Summary dispatch.Summary `json:"summary"`
	Exit    int              `json:"exit_code"`
}

// WriteJSON writes the report with its summary as one indented document.
func WriteJSON(w io.Writer, rep *dispatch.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jsonReport{Report: rep, Summary: rep.Summary(), Exit: ExitCode(rep, nil)})
}
