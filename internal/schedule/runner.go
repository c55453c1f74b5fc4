package schedule

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "fandomassenger/pkg/logx"
)

// Job is one scheduled run. ctx ends when the runner stops.
type Job func(ctx context.Context)

// Runner fires a Job on a schedule. A trigger that arrives while the previous
// run is still going is skipped.
type Runner struct {
	log logx.Logger
	job Job

	mu    sync.Mutex
	c     *cron.Cron
	entry cron.EntryID
	spec  Spec
	loc   *time.Location
	ctx   context.Context

	// stopping holds the stop contexts of crons replaced by a zone change.
	stopping []context.Context
}

func NewRunner(job Job, log logx.Logger) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{job: job, log: log.With(logx.String("comp", "schedule"))}
}

// LoadLocation resolves an IANA zone name; empty means local time.
func LoadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return loc, nil
}

// Set installs or replaces the schedule. It may be called before or while
// Run is active.
func (r *Runner) Set(spec Spec, loc *time.Location) error {
	sched, err := spec.Schedule()
	if err != nil {
		return err
	}
	if loc == nil {
		loc = time.Local
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c != nil && r.loc != nil && r.loc.String() != loc.String() {
		r.restartLocked(loc)
	}
	r.spec, r.loc = spec, loc
	if r.c == nil {
		return nil
	}
	if r.entry != 0 {
		r.c.Remove(r.entry)
	}
	r.entry = r.c.Schedule(sched, r.wrapped(r.ctx))
	r.log.Info("schedule set", logx.String("spec", spec.String()), logx.String("tz", loc.String()), logx.Time("next", r.nextLocked()))
	return nil
}

// Run starts triggering and blocks until ctx ends, then waits for a run in
// progress to return.
func (r *Runner) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.c != nil {
		r.mu.Unlock()
		return fmt.Errorf("schedule runner already running")
	}
	r.ctx = ctx
	loc := r.loc
	if loc == nil {
		loc = time.Local
	}
	r.c = r.newCron(loc)
	if sched, err := r.spec.Schedule(); err == nil && (r.spec.Cron != "" || r.spec.Every > 0) {
		r.entry = r.c.Schedule(sched, r.wrapped(ctx))
	}
	r.c.Start()
	r.log.Info("scheduler started", logx.String("spec", r.spec.String()), logx.String("tz", loc.String()), logx.Time("next", r.nextLocked()))
	r.mu.Unlock()

	<-ctx.Done()

	r.mu.Lock()
	pending := append(r.stopping, r.c.Stop())
	r.c, r.entry, r.ctx, r.stopping = nil, 0, nil, nil
	r.mu.Unlock()
	for _, sc := range pending {
		<-sc.Done()
	}
	r.log.Info("scheduler stopped")
	return nil
}

// Next is the next trigger time, zero when none is scheduled.
func (r *Runner) Next() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextLocked()
}

func (r *Runner) nextLocked() time.Time {
	if r.c == nil || r.entry == 0 {
		return time.Time{}
	}
	return r.c.Entry(r.entry).Next
}

func (r *Runner) newCron(loc *time.Location) *cron.Cron {
	cl := cronLogger{log: r.log}
	return cron.New(
		cron.WithParser(parser),
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
}

// restartLocked replaces the cron for a new location. A run in progress on
// the old cron keeps going; Run waits for it before returning.
func (r *Runner) restartLocked(loc *time.Location) {
	live := r.stopping[:0]
	for _, sc := range r.stopping {
		if sc.Err() == nil {
			live = append(live, sc)
		}
	}
	r.stopping = append(live, r.c.Stop())
	r.c = r.newCron(loc)
	r.entry = 0
	r.c.Start()
}

func (r *Runner) wrapped(ctx context.Context) cron.Job {
	return cron.FuncJob(func() {
		if ctx == nil || ctx.Err() != nil {
			return
		}
		r.job(ctx)
	})
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct {
	log logx.Logger
}

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
