package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"fandomassenger/internal/schedule"
)

// DefaultRequiredGroups are the groups allowed to mass-message on Fandom wikis
// (administrators and discussion moderators).
var DefaultRequiredGroups = []string{"sysop", "threadmoderator"}

// Validate checks required fields and value ranges. It does not touch the network.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Wiki.URL) == "" {
		errs = append(errs, errors.New("wiki.url is required"))
	} else if !c.Wiki.AllowAnyHost && !IsFandomBaseURL(c.Wiki.URL) {
		errs = append(errs, fmt.Errorf("wiki.url %q is not a fandom.com / wikia.org base URL (set wiki.allow_any_host to override)", c.Wiki.URL))
	} else if _, err := url.Parse(strings.TrimSpace(c.Wiki.URL)); err != nil {
		errs = append(errs, fmt.Errorf("wiki.url: %w", err))
	}

	if strings.TrimSpace(c.Auth.Username) == "" {
		errs = append(errs, errors.New("auth.username is required"))
	}
	if strings.TrimSpace(c.Auth.Secret) == "" && strings.TrimSpace(c.Auth.SecretEnv) == "" {
		errs = append(errs, errors.New("auth.secret or auth.secret_env is required"))
	}

	kinds := 0
	for _, l := range [][]string{c.Recipients.Users, c.Recipients.Categories, c.Recipients.Pages} {
		if len(l) > 0 {
			kinds++
		}
	}
	switch kinds {
	case 0:
		errs = append(errs, errors.New("recipients: one of users, categories or pages is required"))
	case 1:
	default:
		errs = append(errs, errors.New("recipients: only one of users, categories or pages may be set"))
	}

	if strings.TrimSpace(c.Message.Subject) == "" {
		errs = append(errs, errors.New("message.subject is required"))
	}
	if c.Message.Body != "" && c.Message.BodyFile != "" {
		errs = append(errs, errors.New("message: body and body_file are mutually exclusive"))
	}

	switch strings.ToLower(strings.TrimSpace(c.Dispatch.Target)) {
	case "", "auto", "talk", "wall":
	default:
		errs = append(errs, fmt.Errorf("dispatch.target must be auto, talk or wall (got %q)", c.Dispatch.Target))
	}
	if _, _, err := ParseDurationOrAuto("dispatch.min_interval", c.Dispatch.MinInterval); err != nil {
		errs = append(errs, err)
	}
	for _, f := range []struct{ path, raw string }{
		{"dispatch.retry_base", c.Dispatch.RetryBase},
		{"dispatch.retry_max_delay", c.Dispatch.RetryMaxDelay},
		{"dispatch.timeout", c.Dispatch.Timeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Dispatch.MaxRetries != nil && *c.Dispatch.MaxRetries < 0 {
		errs = append(errs, errors.New("dispatch.max_retries must be >= 0"))
	}
	if j := c.Dispatch.RetryJitter; j != nil && (*j < 0 || *j > 1) {
		errs = append(errs, errors.New("dispatch.retry_jitter must be within [0, 1]"))
	}

	if strings.TrimSpace(c.Schedule) != "" {
		if _, err := schedule.Parse(c.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("schedule: %w", err))
		}
	}
	if tz := strings.TrimSpace(c.Timezone); tz != "" {
		if _, err := schedule.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("timezone: %w", err))
		}
	}

	if a := strings.TrimSpace(c.Status.Addr); c.Status.Enabled && a != "" {
		if _, _, err := net.SplitHostPort(a); err != nil {
			errs = append(errs, fmt.Errorf("status.addr: %w", err))
		}
	}

	if t := c.Notify.Telegram; t.Enabled {
		if strings.TrimSpace(t.Token) == "" && strings.TrimSpace(t.TokenEnv) == "" {
			errs = append(errs, errors.New("notify.telegram.token or token_env is required when enabled"))
		}
		if t.ChatID == 0 {
			errs = append(errs, errors.New("notify.telegram.chat_id is required when enabled"))
		}
	}

	return errors.Join(errs...)
}

// ResolveSecret resolves the bot password, preferring the environment variable when set.
func (a AuthConfig) ResolveSecret() (string, error) {
	if env := strings.TrimSpace(a.SecretEnv); env != "" {
		if v, ok := os.LookupEnv(env); ok && v != "" {
			return v, nil
		}
		if a.Secret == "" {
			return "", fmt.Errorf("auth.secret_env: %s is not set", env)
		}
	}
	return a.Secret, nil
}

// Groups returns the effective required groups.
func (a AuthConfig) Groups() []string {
	if a.RequiredGroups == nil {
		return append([]string(nil), DefaultRequiredGroups...)
	}
	return append([]string(nil), (*a.RequiredGroups)...)
}

// ResolveToken returns the bot token, preferring the environment variable when set.
func (t TelegramConfig) ResolveToken() string {
	if env := strings.TrimSpace(t.TokenEnv); env != "" {
		if v := os.Getenv(env); v != "" {
			return v
		}
	}
	return t.Token
}

// IsFandomBaseURL reports whether raw is a bare base URL (scheme + host, nothing else)
// on the fandom.com or wikia.org domains, e.g. "https://eizen.fandom.com".
// Language paths such as "https://eizen.fandom.com/de" are accepted.
func IsFandomBaseURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	if u.RawQuery != "" || u.Fragment != "" || u.User != nil {
		return false
	}
	if p := strings.Trim(u.Path, "/"); p != "" && (strings.Contains(p, "/") || len(p) > 10) {
		return false
	}
	if strings.HasSuffix(u.Path, "/") {
		return false
	}
	labels := strings.Split(strings.ToLower(u.Hostname()), ".")
	if len(labels) < 3 {
		return false
	}
	domain := strings.Join(labels[len(labels)-2:], ".")
	return domain == "fandom.com" || domain == "wikia.org"
}
