package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fandomassenger/internal/config"
	"fandomassenger/internal/dispatch"
	"fandomassenger/internal/eventbus"
	"fandomassenger/internal/mediawiki"
	"fandomassenger/internal/recipient"
	"fandomassenger/internal/render"
	"fandomassenger/internal/storage"
	logx "fandomassenger/pkg/logx"
)

const (
	defaultRequestTimeout = 30 * time.Second
	recordTimeout         = 10 * time.Second
)

// RunOnce performs one mass-message run with the current config. The report
// is never nil; when the run stops before dispatch it carries only the error.
// Outside Serve the summary goes to the notifier directly.
func (a *App) RunOnce(ctx context.Context) (*dispatch.Report, error) {
	rep, err := a.run(ctx, a.cfgm.Get())
	if a.notif != nil && !a.serving.Load() {
		a.notif.NotifyRun(ctx, rep.Summary())
	}
	return rep, err
}

func (a *App) run(ctx context.Context, cfg *config.Config) (*dispatch.Report, error) {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	runID := uuid.NewString()
	started := time.Now()
	log := a.log.With(logx.String("run", runID))

	eng, recips, err := a.prepare(ctx, cfg, runID, log)
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		rep := &dispatch.Report{
			RunID:       runID,
			Wiki:        wikiName(cfg.Wiki.URL),
			DryRun:      cfg.Dispatch.DryRun || a.opts.DryRun,
			StartedAt:   started,
			FinishedAt:  time.Now(),
			Interrupted: ctx.Err() != nil,
			Error:       err.Error(),
			Err:         err,
		}
		log.Error("run aborted before dispatch", logx.Err(err))
		a.bus.Publish(eventbus.Event{Type: eventbus.DispatchFinished, Time: rep.FinishedAt, Data: rep.Summary()})
		a.record(ctx, rep, log)
		return rep, err
	}

	rep, err := eng.Dispatch(ctx, recips)
	a.record(ctx, rep, log)
	return rep, err
}

// prepare logs in, resolves recipients and builds the engine.
func (a *App) prepare(ctx context.Context, cfg *config.Config, runID string, log logx.Logger) (*dispatch.Engine, []recipient.Recipient, error) {
	secret, err := cfg.Auth.ResolveSecret()
	if err != nil {
		return nil, nil, err
	}
	name := wikiName(cfg.Wiki.URL)
	tpl, err := mapTemplate(cfg, name)
	if err != nil {
		return nil, nil, err
	}
	if unknown := render.Unknown(tpl.Subject + "\n" + tpl.Body); len(unknown) > 0 {
		log.Warn("message has unrecognized placeholders; they are sent as written",
			logx.Strs("placeholders", unknown),
			logx.Strs("known", render.Placeholders),
		)
	}

	timeout, err := config.ParseDurationOrDefault("dispatch.timeout", cfg.Dispatch.Timeout, defaultRequestTimeout)
	if err != nil {
		return nil, nil, err
	}
	client, err := mediawiki.NewClient(mediawiki.Options{
		BaseURL:    cfg.Wiki.URL,
		UserAgent:  cfg.Wiki.UserAgent,
		Timeout:    timeout,
		HTTPClient: a.opts.HTTPClient,
		Log:        log,
	})
	if err != nil {
		return nil, nil, err
	}

	auth := mediawiki.NewAuthenticator(client, cfg.Auth.Username, secret, log)
	sess, err := auth.Login(ctx)
	if err != nil {
		return nil, nil, &dispatch.AuthError{Err: err}
	}
	if err := auth.RequireGroups(cfg.Auth.Groups()); err != nil {
		return nil, nil, &dispatch.AuthError{Err: err}
	}
	log.Info("logged in",
		logx.String("user", sess.Name),
		logx.Int64("user_id", sess.UserID),
		logx.Strs("groups", sess.Groups),
	)

	wiki := mediawiki.NewWiki(auth)
	policy, err := mapPolicy(ctx, cfg, wiki, log)
	if err != nil {
		return nil, nil, err
	}
	policy.DryRun = policy.DryRun || a.opts.DryRun
	client.SetReadInterval(policy.MinInterval / 4)

	recips, err := recipient.NewResolver(wiki, sess.Name, log).Resolve(ctx, mapSpec(cfg))
	if err != nil {
		return nil, nil, err
	}
	poster, err := dispatch.SelectTarget(ctx, targetMode(cfg), wiki, sess)
	if err != nil {
		return nil, nil, err
	}

	opts := dispatch.Options{
		Poster:   poster,
		Template: tpl,
		Policy:   policy,
		Bus:      a.bus,
		Log:      log,
		Clock:    a.opts.Clock,
		Rand:     a.opts.Rand,
		RunID:    runID,
		Wiki:     name,
	}
	if a.store != nil {
		opts.Ledger = a.store
	}
	eng, err := dispatch.New(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("dispatch: %w", err)
	}
	return eng, recips, nil
}

func (a *App) record(ctx context.Context, rep *dispatch.Report, log logx.Logger) {
	if a.store == nil || rep == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := a.store.RecordRun(ctx, storage.NewRunRecord(rep)); err != nil {
		log.Warn("run record not saved", logx.Err(err))
	}
}
