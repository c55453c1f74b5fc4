package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"fandomassenger/internal/config"
	"fandomassenger/internal/dispatch"
	"fandomassenger/internal/mediawiki"
	"fandomassenger/internal/notifier"
	"fandomassenger/internal/observability/status"
	"fandomassenger/internal/recipient"
	"fandomassenger/internal/render"
	logx "fandomassenger/pkg/logx"
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Remote: logx.RemoteConfig{
			Enabled:    cfg.Logging.Remote.Enabled && cfg.Notify.Telegram.Enabled,
			MinLevel:   cfg.Logging.Remote.MinLevel,
			RatePerSec: cfg.Logging.Remote.RatePerSec,
		},
	}
}

func mapNotifier(cfg *config.Config) (notifier.Config, bool) {
	t := cfg.Notify.Telegram
	if !t.Enabled {
		return notifier.Config{}, false
	}
	return notifier.Config{
		Token:         t.ResolveToken(),
		ChatID:        t.ChatID,
		ThreadID:      t.ThreadID,
		OnlyOnFailure: t.OnlyOnFailure,
	}, true
}

func mapStatus(cfg *config.Config) (status.Config, bool) {
	s := cfg.Status
	return status.Config{
		Enabled:       s.Enabled,
		Addr:          s.Addr,
		Token:         s.Token,
		AllowInsecure: s.AllowInsecure,
		Pprof:         s.Pprof,
	}, s.Enabled
}

func mapSpec(cfg *config.Config) recipient.Spec {
	return recipient.Spec{
		Users:      cfg.Recipients.Users,
		Categories: cfg.Recipients.Categories,
		Pages:      cfg.Recipients.Pages,
	}
}

// mapTemplate loads the message body (inline or from body_file).
func mapTemplate(cfg *config.Config, wikiName string) (render.Template, error) {
	body := cfg.Message.Body
	if f := strings.TrimSpace(cfg.Message.BodyFile); f != "" {
		b, err := os.ReadFile(f)
		if err != nil {
			return render.Template{}, fmt.Errorf("message.body_file: %w", err)
		}
		body = string(b)
	}
	if strings.TrimSpace(body) == "" {
		return render.Template{}, fmt.Errorf("message body is empty")
	}
	return render.Template{Subject: cfg.Message.Subject, Body: body, Wiki: wikiName}, nil
}

// mapPolicy builds the dispatch policy. An "auto" (or empty) min_interval is
// read from the operator's edit rate limit; wiki may be nil when the caller
// only needs validation.
func mapPolicy(ctx context.Context, cfg *config.Config, wiki *mediawiki.Wiki, log logx.Logger) (dispatch.Policy, error) {
	d := cfg.Dispatch
	p := dispatch.DefaultPolicy()

	interval, auto, err := config.ParseDurationOrAuto("dispatch.min_interval", d.MinInterval)
	if err != nil {
		return p, err
	}
	switch {
	case !auto:
		p.MinInterval = interval
	case wiki != nil:
		iv, ok, err := wiki.EditInterval(ctx)
		switch {
		case err != nil:
			log.Warn("edit rate limit lookup failed; using default interval", logx.Err(err), logx.Duration("interval", mediawiki.DefaultEditInterval))
			p.MinInterval = mediawiki.DefaultEditInterval
		case ok:
			p.MinInterval = max(iv, 100*time.Millisecond)
		default:
			p.MinInterval = mediawiki.DefaultEditInterval
		}
	}

	if d.MaxRetries != nil {
		p.MaxRetries = *d.MaxRetries
	}
	if p.RetryBase, err = config.ParseDurationOrDefault("dispatch.retry_base", d.RetryBase, p.RetryBase); err != nil {
		return p, err
	}
	if p.RetryMaxDelay, err = config.ParseDurationOrDefault("dispatch.retry_max_delay", d.RetryMaxDelay, p.RetryMaxDelay); err != nil {
		return p, err
	}
	if d.RetryJitter != nil {
		p.Jitter = *d.RetryJitter
	}
	if d.SkipDelivered != nil {
		p.SkipDelivered = *d.SkipDelivered
	}
	p.DryRun = d.DryRun
	return p, nil
}

func targetMode(cfg *config.Config) string {
	m := strings.ToLower(strings.TrimSpace(cfg.Dispatch.Target))
	if m == "" {
		return dispatch.ModeAuto
	}
	return m
}
