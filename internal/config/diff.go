package config

import (
	"reflect"
	"strings"

	logx "fandomassenger/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured fields for logging (never includes secrets or tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Wiki, newCfg.Wiki) {
		changed = append(changed, "wiki")
		attrs = append(attrs, logx.String("wiki.url", strings.TrimSpace(newCfg.Wiki.URL)))
	}

	// Auth (never log the secret itself)
	if oldCfg.Auth.Username != newCfg.Auth.Username ||
		oldCfg.Auth.SecretEnv != newCfg.Auth.SecretEnv ||
		oldCfg.Auth.Secret != newCfg.Auth.Secret ||
		!reflect.DeepEqual(oldCfg.Auth.Groups(), newCfg.Auth.Groups()) {
		changed = append(changed, "auth")
		attrs = append(attrs,
			logx.String("auth.username", newCfg.Auth.Username),
			logx.Bool("auth.secret_changed", oldCfg.Auth.Secret != newCfg.Auth.Secret),
			logx.Strs("auth.required_groups", newCfg.Auth.Groups()),
		)
	}

	if !reflect.DeepEqual(oldCfg.Recipients, newCfg.Recipients) {
		changed = append(changed, "recipients")
		attrs = append(attrs,
			logx.Int("recipients.users", len(newCfg.Recipients.Users)),
			logx.Int("recipients.categories", len(newCfg.Recipients.Categories)),
			logx.Int("recipients.pages", len(newCfg.Recipients.Pages)),
		)
	}

	if oldCfg.Message != newCfg.Message {
		changed = append(changed, "message")
		attrs = append(attrs, logx.String("message.subject", newCfg.Message.Subject))
	}

	if !reflect.DeepEqual(oldCfg.Dispatch, newCfg.Dispatch) {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.String("dispatch.target", newCfg.Dispatch.Target),
			logx.String("dispatch.min_interval", newCfg.Dispatch.MinInterval),
			logx.Bool("dispatch.dry_run", newCfg.Dispatch.DryRun),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.remote_enabled", newCfg.Logging.Remote.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		if newCfg.Storage != nil {
			attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
		}
	}

	// Telegram (never log token)
	ot, nt := oldCfg.Notify.Telegram, newCfg.Notify.Telegram
	if ot.Enabled != nt.Enabled || ot.ChatID != nt.ChatID || ot.ThreadID != nt.ThreadID ||
		ot.OnlyOnFailure != nt.OnlyOnFailure || ot.TokenEnv != nt.TokenEnv || ot.Token != nt.Token {
		changed = append(changed, "notify")
		attrs = append(attrs,
			logx.Bool("notify.telegram.enabled", nt.Enabled),
			logx.Bool("notify.telegram.token_changed", ot.Token != nt.Token),
		)
	}

	if oldCfg.Status != newCfg.Status {
		changed = append(changed, "status")
		attrs = append(attrs,
			logx.Bool("status.enabled", newCfg.Status.Enabled),
			logx.String("status.addr", newCfg.Status.Addr),
			logx.Bool("status.pprof", newCfg.Status.Pprof),
		)
	}

	if oldCfg.Schedule != newCfg.Schedule || oldCfg.Timezone != newCfg.Timezone {
		changed = append(changed, "schedule")
		attrs = append(attrs,
			logx.String("schedule", newCfg.Schedule),
			logx.String("timezone", newCfg.Timezone),
		)
	}

	return changed, attrs
}
