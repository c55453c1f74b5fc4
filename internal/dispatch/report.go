package dispatch

import (
	"time"
)

// Status is the outcome of one recipient.
type Status string

const (
	StatusSuccess Status = "success"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Result is the outcome of one attempted recipient.
type Result struct {
	Recipient string     `json:"recipient"`
	UserID    int64      `json:"user_id,omitempty"`
	Target    TargetKind `json:"target"`
	Status    Status     `json:"status"`
	Reason    string     `json:"reason,omitempty"`
	Detail    string     `json:"detail,omitempty"`
	Attempts  int        `json:"attempts"`

	// Confirmed is set when success was established by re-checking an
	// ambiguous response.
	Confirmed bool          `json:"confirmed,omitempty"`
	Duration  time.Duration `json:"duration_ns"`

	Err error `json:"-"`
}

// Report is the record of one run. Results holds exactly one entry per
// attempted recipient, in dispatch order.
type Report struct {
	RunID       string     `json:"run_id"`
	Wiki        string     `json:"wiki"`
	Target      TargetKind `json:"target"`
	DryRun      bool       `json:"dry_run,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  time.Time  `json:"finished_at"`
	Total       int        `json:"total"`
	Results     []Result   `json:"results"`
	Interrupted bool       `json:"interrupted,omitempty"`
	Error       string     `json:"error,omitempty"`

	Err error `json:"-"`
}

// Counts tallies results by status.
type Counts struct {
	Success int `json:"success"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

func (r *Report) Counts() Counts {
	var c Counts
	for _, res := range r.Results {
		switch res.Status {
		case StatusSuccess:
			c.Success++
		case StatusSkipped:
			c.Skipped++
		case StatusFailed:
			c.Failed++
		}
	}
	return c
}

// OK reports whether the run finished without a run error and without a
// failed recipient.
func (r *Report) OK() bool {
	return r.Err == nil && !r.Interrupted && r.Counts().Failed == 0
}

// Summary is the compact form of a report published when a run ends.
type Summary struct {
	RunID       string         `json:"run_id"`
	Wiki        string         `json:"wiki"`
	Target      TargetKind     `json:"target"`
	DryRun      bool           `json:"dry_run,omitempty"`
	Total       int            `json:"total"`
	Attempted   int            `json:"attempted"`
	Counts      Counts         `json:"counts"`
	Reasons     map[string]int `json:"reasons,omitempty"`
	Duration    time.Duration  `json:"duration_ns"`
	Interrupted bool           `json:"interrupted,omitempty"`
	Error       string         `json:"error,omitempty"`
}

func (r *Report) Summary() Summary {
	s := Summary{
		RunID:       r.RunID,
		Wiki:        r.Wiki,
		Target:      r.Target,
		DryRun:      r.DryRun,
		Total:       r.Total,
		Attempted:   len(r.Results),
		Counts:      r.Counts(),
		Duration:    r.FinishedAt.Sub(r.StartedAt),
		Interrupted: r.Interrupted,
		Error:       r.Error,
	}
	for _, res := range r.Results {
		if res.Status != StatusFailed {
			continue
		}
		if s.Reasons == nil {
			s.Reasons = map[string]int{}
		}
		s.Reasons[res.Reason]++
	}
	return s
}
