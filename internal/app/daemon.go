package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/sync/errgroup"

	"fandomassenger/internal/config"
	"fandomassenger/internal/eventbus"
	"fandomassenger/internal/observability/status"
	"fandomassenger/internal/report"
	"fandomassenger/internal/schedule"
	"fandomassenger/internal/storage"
	logx "fandomassenger/pkg/logx"
)

// Serve runs on the configured schedule until ctx ends. The config file is
// watched; changes apply to the next run.
func (a *App) Serve(ctx context.Context) error {
	runner := schedule.NewRunner(a.scheduledRun, a.log)
	if err := a.applySchedule(runner, a.cfgm.Get()); err != nil {
		return err
	}

	events, unsubscribe := a.bus.Subscribe(16)
	defer unsubscribe()

	a.serving.Store(true)
	defer a.serving.Store(false)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.cfgm.Watch(gctx, func(old, cur *config.Config) {
			a.onReload(runner, old, cur)
		})
	})
	g.Go(func() error { return runner.Run(gctx) })
	if a.notif != nil {
		g.Go(func() error {
			a.notif.Watch(gctx, a.bus)
			return nil
		})
	}
	if sc, ok := mapStatus(a.cfgm.Get()); ok {
		srv := status.New(sc, statusSource{a: a, runner: runner}, a.log)
		g.Go(func() error { return srv.Run(gctx) })
	}
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev := <-events:
				if ev.Type == eventbus.DispatchFinished {
					a.log.Info("next run scheduled", logx.Time("at", runner.Next()))
				}
			}
		}
	})

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("daemon started")

	err := g.Wait()
	sdNotify(a.log, daemon.SdNotifyStopping)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	a.log.Info("daemon stopped", logx.Err(err))
	return err
}

func (a *App) scheduledRun(ctx context.Context) {
	rep, err := a.RunOnce(ctx)
	sum := rep.Summary()
	if err != nil {
		a.log.Error("scheduled run failed", logx.String("run", sum.RunID), logx.Err(err))
		return
	}
	a.log.Info(report.Headline(sum), logx.String("run", sum.RunID))
}

func (a *App) applySchedule(runner *schedule.Runner, cfg *config.Config) error {
	if strings.TrimSpace(cfg.Schedule) == "" {
		return errors.New("daemon mode requires schedule")
	}
	spec, err := schedule.Parse(cfg.Schedule)
	if err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	loc, err := schedule.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	return runner.Set(spec, loc)
}

func (a *App) onReload(runner *schedule.Runner, old, cur *config.Config) {
	changed, fields := config.SummarizeConfigChange(old, cur)
	if len(changed) == 0 {
		return
	}
	a.log.Info("config change applied", append(fields, logx.Strs("sections", changed))...)

	a.logs.Apply(mapLogging(cur))

	for _, sec := range changed {
		switch sec {
		case "schedule":
			if err := a.applySchedule(runner, cur); err != nil {
				a.log.Warn("schedule change rejected; keeping previous schedule", logx.Err(err))
			}
		case "storage", "notify", "status":
			a.log.Warn("config section changes take effect after restart", logx.String("section", sec))
		}
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Data: changed})
}

type statusSource struct {
	a      *App
	runner *schedule.Runner
}

func (s statusSource) NextRun() time.Time { return s.runner.Next() }

func (s statusSource) RecentRuns(ctx context.Context, limit int) ([]storage.RunRecord, error) {
	if s.a.store == nil {
		return nil, nil
	}
	return s.a.store.RecentRuns(ctx, limit)
}

func sdNotify(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	switch {
	case err != nil:
		log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	case sent:
		log.Debug("sd_notify sent", logx.String("state", state))
	}
}
