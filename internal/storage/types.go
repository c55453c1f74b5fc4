package storage

import (
	"encoding/json"
	"errors"
	"time"

	"fandomassenger/internal/dispatch"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines files next to Path
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunRecord is the stored summary of one finished run.
type RunRecord struct {
	RunID      string    `json:"run_id"`
	Wiki       string    `json:"wiki"`
	Target     string    `json:"target"`
	DryRun     bool      `json:"dry_run,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Total      int       `json:"total"`
	Success    int       `json:"success"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	Error      string    `json:"error,omitempty"`
	// ResultsJSON holds the per-recipient results.
	ResultsJSON string `json:"results,omitempty"`
}

// NewRunRecord flattens a report for storage.
func NewRunRecord(rep *dispatch.Report) RunRecord {
	c := rep.Counts()
	rr := RunRecord{
		RunID:      rep.RunID,
		Wiki:       rep.Wiki,
		Target:     string(rep.Target),
		DryRun:     rep.DryRun,
		StartedAt:  rep.StartedAt,
		FinishedAt: rep.FinishedAt,
		Total:      rep.Total,
		Success:    c.Success,
		Skipped:    c.Skipped,
		Failed:     c.Failed,
		Error:      rep.Error,
	}
	if b, err := json.Marshal(rep.Results); err == nil {
		rr.ResultsJSON = string(b)
	}
	return rr
}
