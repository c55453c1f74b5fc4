// Package app wires configuration, storage, notification and the dispatch
// engine into one-shot runs and the scheduled daemon.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"fandomassenger/internal/config"
	"fandomassenger/internal/dispatch"
	"fandomassenger/internal/eventbus"
	"fandomassenger/internal/notifier"
	"fandomassenger/internal/storage"
	logx "fandomassenger/pkg/logx"
)

type Options struct {
	ConfigPath string

	// DryRun forces dispatch.dry_run regardless of the file.
	DryRun bool

	// Test hooks.
	HTTPClient *http.Client
	Clock      dispatch.Clock
	Rand       func() float64
}

// runNotifier forwards run summaries. *notifier.Telegram implements it.
type runNotifier interface {
	Watch(ctx context.Context, bus eventbus.Bus)
	NotifyRun(ctx context.Context, sum dispatch.Summary)
}

type App struct {
	opts Options
	cfgm *config.ConfigManager
	logs *logx.Service
	log  logx.Logger

	bus   *eventbus.MemBus
	store storage.Store
	notif runNotifier

	// runMu serializes runs; one operator account posts at one rate.
	runMu sync.Mutex

	// serving is set while Serve forwards summaries from the bus.
	serving atomic.Bool
}

func New(opts Options) (*App, error) {
	cfgm := config.NewConfigManager(opts.ConfigPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(mapLogging(cfg))
	cfgm.SetLogger(log)

	a := &App{
		opts: opts,
		cfgm: cfgm,
		logs: logs,
		log:  log,
		bus:  eventbus.New(),
	}

	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	if enabled {
		st, err := storage.Open(sc, log)
		if err != nil {
			_ = logs.Close()
			return nil, fmt.Errorf("storage: %w", err)
		}
		a.store = st
	}

	if nc, ok := mapNotifier(cfg); ok {
		n, err := notifier.NewTelegram(nc, log)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("notify.telegram: %w", err)
		}
		a.notif = n
		logs.SetSender(n)
	}

	log.Info("app initialized",
		logx.String("config", cfgm.Path()),
		logx.String("wiki", cfg.Wiki.URL),
		logx.Bool("storage", a.store != nil),
		logx.Bool("notify", a.notif != nil),
	)
	return a, nil
}

func (a *App) Logger() logx.Logger { return a.log }

func (a *App) Bus() *eventbus.MemBus { return a.bus }

// Store is nil when storage is disabled.
func (a *App) Store() storage.Store { return a.store }

// Close releases storage and flushes logs.
func (a *App) Close() error {
	var errs []error
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
	}
	if a.logs != nil {
		if err := a.logs.Close(); err != nil {
			errs = append(errs, fmt.Errorf("logs close: %w", err))
		}
	}
	return errors.Join(errs...)
}

// wikiName is the base URL without scheme, e.g. "eizen.fandom.com/de".
func wikiName(base string) string {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(base)
	}
	return u.Host + strings.TrimRight(u.Path, "/")
}
