// Package dispatch delivers a rendered message to each resolved recipient,
// one at a time, with pacing, bounded retries and an outcome per recipient.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"fandomassenger/internal/eventbus"
	"fandomassenger/internal/recipient"
	"fandomassenger/internal/render"
	logx "fandomassenger/pkg/logx"
)

// confirmSkew widens the Confirm window for clock differences with the wiki.
const confirmSkew = 30 * time.Second

type Options struct {
	Poster   Poster
	Template render.Template
	Policy   Policy

	// Optional.
	Ledger Ledger
	Bus    eventbus.Bus
	Log    logx.Logger
	Clock  Clock
	RunID  string

	// Rand yields values in [0,1) for backoff jitter.
	Rand func() float64
	// Wiki identifies the wiki in ledger keys and reports.
	Wiki string

	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Engine runs dispatches. It is not safe for concurrent Dispatch calls: one
// engine owns one session's posting rate.
type Engine struct {
	poster Poster
	tpl    render.Template
	policy Policy
	ledger Ledger
	bus    eventbus.Bus
	log    logx.Logger
	clock  Clock
	rnd    func() float64
	runID  string
	wiki   string
	inst   *instruments
}

func New(opts Options) (*Engine, error) {
	if opts.Poster == nil {
		return nil, errors.New("dispatch: poster is required")
	}
	inst, err := newInstruments(opts.TracerProvider, opts.MeterProvider)
	if err != nil {
		return nil, fmt.Errorf("dispatch: instruments: %w", err)
	}
	e := &Engine{
		poster: opts.Poster,
		tpl:    opts.Template,
		policy: opts.Policy.normalized(),
		ledger: opts.Ledger,
		bus:    opts.Bus,
		log:    opts.Log,
		clock:  opts.Clock,
		rnd:    opts.Rand,
		runID:  opts.RunID,
		wiki:   opts.Wiki,
		inst:   inst,
	}
	if e.bus == nil {
		e.bus = eventbus.Nop{}
	}
	if e.log.IsZero() {
		e.log = logx.Nop()
	}
	e.log = e.log.With(logx.String("comp", "dispatch"))
	if e.clock == nil {
		e.clock = realClock{}
	}
	if e.rnd == nil {
		e.rnd = rand.Float64
	}
	return e, nil
}

// Dispatch processes recipients in order and returns the report.
//
// Per-recipient failures are recorded in the report. The returned error is
// non-nil only for conditions that stop the run: an *AuthError, or ctx
// ending. The report is never nil and holds only attempted recipients.
func (e *Engine) Dispatch(ctx context.Context, recipients []recipient.Recipient) (*Report, error) {
	rep := &Report{
		RunID:     e.runID,
		Wiki:      e.wiki,
		Target:    e.poster.Kind(),
		DryRun:    e.policy.DryRun,
		StartedAt: e.clock.Now(),
		Total:     len(recipients),
		Results:   make([]Result, 0, len(recipients)),
	}
	log := e.log.With(logx.String("run", e.runID))
	log.Info("dispatch started",
		logx.String("target", string(rep.Target)),
		logx.Int("recipients", len(recipients)),
		logx.Bool("dry_run", rep.DryRun),
		logx.Duration("min_interval", e.policy.MinInterval),
		logx.Int("max_retries", e.policy.MaxRetries),
	)

	pc := newPacer(e.clock, e.policy.MinInterval)
	var runErr error
	for i, r := range recipients {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		res, err := e.deliver(ctx, pc, r)
		if err != nil {
			runErr = err
			break
		}
		rep.Results = append(rep.Results, res)
		e.bus.Publish(eventbus.Event{Type: eventbus.DispatchResult, Time: e.clock.Now(), Data: res})

		fields := []logx.Field{
			logx.Int("n", i+1),
			logx.String("recipient", res.Recipient),
			logx.String("status", string(res.Status)),
			logx.Int("attempts", res.Attempts),
		}
		if res.Reason != "" {
			fields = append(fields, logx.String("reason", res.Reason))
		}
		if res.Status == StatusFailed {
			log.Warn("recipient failed", append(fields, logx.String("detail", res.Detail))...)
		} else {
			log.Info("recipient done", fields...)
		}
	}

	rep.FinishedAt = e.clock.Now()
	if runErr != nil {
		rep.Err = runErr
		rep.Error = runErr.Error()
		rep.Interrupted = isContextErr(runErr)
	}
	sum := rep.Summary()
	e.bus.Publish(eventbus.Event{Type: eventbus.DispatchFinished, Time: rep.FinishedAt, Data: sum})

	fields := []logx.Field{
		logx.Int("total", sum.Total),
		logx.Int("attempted", sum.Attempted),
		logx.Int("success", sum.Counts.Success),
		logx.Int("skipped", sum.Counts.Skipped),
		logx.Int("failed", sum.Counts.Failed),
		logx.Duration("dur", sum.Duration),
	}
	switch {
	case runErr != nil:
		log.Error("dispatch stopped", append(fields, logx.Err(runErr))...)
	case sum.Counts.Failed > 0:
		log.Warn("dispatch finished with failures", fields...)
	default:
		log.Info("dispatch finished", fields...)
	}
	return rep, runErr
}

// deliver runs the attempt loop for one recipient. A non-nil error means the
// run must stop and the recipient is not reported: either the session is
// lost or ctx ended before the first post was issued.
func (e *Engine) deliver(ctx context.Context, pc *pacer, r recipient.Recipient) (Result, error) {
	start := e.clock.Now()
	kind := e.poster.Kind()
	res := Result{Recipient: r.Name, UserID: r.UserID, Target: kind}

	ctx, end := e.inst.startSpan(ctx, "dispatch.deliver",
		attribute.String("recipient", r.Name),
		attribute.String("target", string(kind)),
	)
	done := func(res Result) (Result, error) {
		res.Duration = e.clock.Now().Sub(start)
		end(res)
		e.inst.recordResult(ctx, res, res.Duration)
		return res, nil
	}
	failed := func(err error) (Result, error) {
		res.Status = StatusFailed
		res.Reason = Label(err)
		res.Detail = err.Error()
		res.Err = err
		return done(res)
	}
	// interrupted ends a recipient whose retries were cut short by ctx.
	interrupted := func(last error) (Result, error) {
		return failed(fmt.Errorf("%w after %d attempt(s): %v", ctx.Err(), res.Attempts, last))
	}

	if r.Missing() {
		return failed(&PermanentRequestError{Reason: ReasonRecipientMissing, Err: ErrRecipientMissing})
	}

	msg := render.Render(e.tpl, r)
	if e.policy.DryRun {
		res.Status = StatusSkipped
		res.Reason = SkipDryRun
		return done(res)
	}

	key := DeliveryKey(e.wiki, kind, r.Name, msg)
	if e.ledger != nil && e.policy.SkipDelivered {
		ok, err := e.ledger.Delivered(ctx, key)
		switch {
		case err != nil:
			e.log.Warn("ledger lookup failed", logx.String("recipient", r.Name), logx.Err(err))
		case ok:
			res.Status = StatusSkipped
			res.Reason = SkipAlreadyDelivered
			return done(res)
		}
	}

	succeeded := func(confirmed bool) (Result, error) {
		res.Status = StatusSuccess
		res.Confirmed = confirmed
		if e.ledger != nil {
			err := e.ledger.MarkDelivered(context.WithoutCancel(ctx), Delivery{
				Key:       key,
				RunID:     e.runID,
				Wiki:      e.wiki,
				Target:    kind,
				Recipient: r.Name,
				Subject:   msg.Subject,
				At:        e.clock.Now(),
			})
			if err != nil {
				e.log.Warn("ledger write failed", logx.String("recipient", r.Name), logx.Err(err))
			}
		}
		return done(res)
	}

	var last error
	maxAttempts := e.policy.MaxRetries + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := e.policy.Backoff(attempt-1, e.rnd)
			if ra := retryAfter(last); ra > delay {
				delay = ra
			}
			e.log.Debug("retry scheduled",
				logx.String("recipient", r.Name),
				logx.Int("attempt", attempt),
				logx.Duration("delay", delay),
				logx.String("reason", Label(last)),
			)
			if err := e.clock.Sleep(ctx, delay); err != nil {
				return interrupted(last)
			}
		}
		if err := pc.Wait(ctx); err != nil {
			if attempt == 1 {
				end(Result{Status: StatusSkipped})
				return Result{}, err
			}
			return interrupted(last)
		}

		issued := e.clock.Now()
		err := e.poster.Post(ctx, r, msg)
		if ctx.Err() != nil && isContextErr(err) {
			// The request was never issued.
			if attempt == 1 {
				end(Result{Status: StatusSkipped})
				return Result{}, err
			}
			return interrupted(last)
		}
		res.Attempts = attempt
		e.inst.recordAttempt(ctx, kind, err)
		if err == nil {
			return succeeded(false)
		}

		var unk *UnknownOutcomeError
		if errors.As(err, &unk) {
			ok, cerr := e.poster.Confirm(ctx, r, msg, issued.Add(-confirmSkew))
			switch {
			case cerr == nil && ok:
				e.log.Info("ambiguous post confirmed", logx.String("recipient", r.Name))
				return succeeded(true)
			case cerr == nil:
				// Known not to have landed: safe to post again.
				last = unk.Err
			case errors.Is(cerr, ErrUnverifiable):
				return failed(err)
			default:
				return failed(fmt.Errorf("%w (confirm: %v)", err, cerr))
			}
		} else {
			last = err
		}

		var authErr *AuthError
		if errors.As(last, &authErr) {
			end(Result{Status: StatusFailed, Reason: ReasonAuth, Err: last})
			return Result{}, last
		}
		if !IsRetryable(last) {
			return failed(last)
		}
	}
	return failed(last)
}
