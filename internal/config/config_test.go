package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logx "fandomassenger/pkg/logx"
)

const validYAML = `
wiki:
  url: https://eizen.fandom.com
auth:
  username: Operator@MassBot
  secret: hunter2
recipients:
  users: [Alice, Bob]
message:
  subject: Hello $USERNAME
  body: Welcome to $WIKI
dispatch:
  min_interval: 2s
  max_retries: 2
`

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("run.yaml", []byte(validYAML))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if cfg.Wiki.URL != "https://eizen.fandom.com" {
		t.Fatalf("Wiki.URL = %q", cfg.Wiki.URL)
	}
	if got := strings.Join(cfg.Recipients.Users, ","); got != "Alice,Bob" {
		t.Fatalf("Users = %q", got)
	}
	if cfg.Dispatch.MaxRetries == nil || *cfg.Dispatch.MaxRetries != 2 {
		t.Fatalf("MaxRetries = %v, want 2", cfg.Dispatch.MaxRetries)
	}
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()
	raw := `{"wiki":{"url":"https://eizen.fandom.com"},"auth":{"username":"Op","secret_env":"FM_SECRET"},
"recipients":{"categories":["Category:Staff"]},"message":{"subject":"Hi"}}`
	cfg, err := Decode("run.json", []byte(raw))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if len(cfg.Recipients.Categories) != 1 {
		t.Fatalf("Categories = %v", cfg.Recipients.Categories)
	}
}

func TestDecodeRejectsUnknownField(t *testing.T) {
	t.Parallel()
	_, err := Decode("run.yaml", []byte(validYAML+"bogus: true\n"))
	if err == nil || !strings.Contains(err.Error(), "bogus") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

func TestDecodeRejectsTrailingData(t *testing.T) {
	t.Parallel()
	raw := `{"wiki":{"url":"https://eizen.fandom.com"}} {}`
	if _, err := Decode("run.json", []byte(raw)); err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	neg := -1
	jitter := 1.5
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{name: "missing url", mutate: func(c *Config) { c.Wiki.URL = "" }, want: "wiki.url is required"},
		{name: "foreign host", mutate: func(c *Config) { c.Wiki.URL = "http://google.com" }, want: "allow_any_host"},
		{name: "missing username", mutate: func(c *Config) { c.Auth.Username = " " }, want: "auth.username"},
		{name: "missing secret", mutate: func(c *Config) { c.Auth.Secret = "" }, want: "auth.secret"},
		{name: "no recipients", mutate: func(c *Config) { c.Recipients = RecipientsConfig{} }, want: "one of users"},
		{name: "two recipient kinds", mutate: func(c *Config) { c.Recipients.Pages = []string{"P"} }, want: "only one of"},
		{name: "missing subject", mutate: func(c *Config) { c.Message.Subject = "" }, want: "message.subject"},
		{name: "bad target", mutate: func(c *Config) { c.Dispatch.Target = "email" }, want: "dispatch.target"},
		{name: "bad interval", mutate: func(c *Config) { c.Dispatch.MinInterval = "soon" }, want: "dispatch.min_interval"},
		{name: "negative retries", mutate: func(c *Config) { c.Dispatch.MaxRetries = &neg }, want: "max_retries"},
		{name: "jitter range", mutate: func(c *Config) { c.Dispatch.RetryJitter = &jitter }, want: "retry_jitter"},
		{name: "bad schedule", mutate: func(c *Config) { c.Schedule = "10s" }, want: "schedule"},
		{name: "bad timezone", mutate: func(c *Config) { c.Schedule = "@daily"; c.Timezone = "Nowhere/Land" }, want: "timezone"},
		{name: "telegram chat", mutate: func(c *Config) {
			c.Notify.Telegram = TelegramConfig{Enabled: true, Token: "t"}
		}, want: "chat_id"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := Decode("run.yaml", []byte(validYAML))
			if err != nil {
				t.Fatalf("Decode error: %v", err)
			}
			tt.mutate(cfg)
			err = cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestAllowAnyHost(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("run.yaml", []byte(validYAML))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	cfg.Wiki.URL = "http://wiki.example.org"
	cfg.Wiki.AllowAnyHost = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
}

func TestIsFandomBaseURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want bool
	}{
		{"https://eizen.fandom.com/", false},
		{"http://eizen.fandom.com", true},
		{"https://eizen.fandom.com", true},
		{"https://eizen.fandom.com/de", true},
		{"https://eizen.wikia.com", false},
		{"https://eizen.wikia.org", true},
		{"http://google.com", false},
		{"fandom.com", false},
		{"https://wikia.org", false},
		{"https://eizen.fandom.com/wiki/Main_Page", false},
		{"https://eizen.fandom.com?x=1", false},
		{"malformed input", false},
	}
	for _, tt := range tests {
		if got := IsFandomBaseURL(tt.raw); got != tt.want {
			t.Errorf("IsFandomBaseURL(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestParseDurationOrAuto(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "auto", " AUTO "} {
		d, auto, err := ParseDurationOrAuto("x", raw)
		if err != nil || !auto || d != 0 {
			t.Fatalf("ParseDurationOrAuto(%q) = %v, %v, %v", raw, d, auto, err)
		}
	}
	d, auto, err := ParseDurationOrAuto("x", "750ms")
	if err != nil || auto || d != 750*time.Millisecond {
		t.Fatalf("ParseDurationOrAuto(750ms) = %v, %v, %v", d, auto, err)
	}
	if _, _, err := ParseDurationOrAuto("x", "-1s"); err == nil {
		t.Fatal("expected error for negative duration")
	}
}

func TestResolveSecretPrefersEnv(t *testing.T) {
	t.Setenv("FM_TEST_SECRET", "from-env")
	a := AuthConfig{Secret: "inline", SecretEnv: "FM_TEST_SECRET"}
	got, err := a.ResolveSecret()
	if err != nil || got != "from-env" {
		t.Fatalf("ResolveSecret() = %q, %v", got, err)
	}

	b := AuthConfig{SecretEnv: "FM_TEST_SECRET_UNSET"}
	if _, err := b.ResolveSecret(); err == nil {
		t.Fatal("expected error for unset secret env")
	}
}

func TestGroupsDefault(t *testing.T) {
	t.Parallel()
	if got := (AuthConfig{}).Groups(); strings.Join(got, ",") != "sysop,threadmoderator" {
		t.Fatalf("Groups() = %v", got)
	}
	empty := []string{}
	if got := (AuthConfig{RequiredGroups: &empty}).Groups(); len(got) != 0 {
		t.Fatalf("Groups() = %v, want empty", got)
	}
}

func TestSummarizeConfigChangeOmitsSecrets(t *testing.T) {
	t.Parallel()
	old, err := Decode("run.yaml", []byte(validYAML))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	cur := *old
	cur.Auth.Secret = "new-secret"
	cur.Message.Subject = "Changed"

	changed, fields := SummarizeConfigChange(old, &cur)
	if strings.Join(changed, ",") != "auth,message" {
		t.Fatalf("changed = %v", changed)
	}
	var buf bytes.Buffer
	logx.NewWriter(&buf, "debug").Info("config changed", fields...)
	if out := buf.String(); strings.Contains(out, "new-secret") || strings.Contains(out, "hunter2") {
		t.Fatalf("summary leaks secret: %s", out)
	}
}

func TestManagerWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	changed := make(chan *Config, 1)
	go func() {
		_ = m.Watch(ctx, func(_, cur *Config) {
			select {
			case changed <- cur:
			default:
			}
		})
	}()

	// give the watcher time to register
	time.Sleep(200 * time.Millisecond)
	updated := strings.Replace(validYAML, "Hello $USERNAME", "Reloaded", 1)
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case cur := <-changed:
		if cur.Message.Subject != "Reloaded" {
			t.Fatalf("Subject = %q", cur.Message.Subject)
		}
		if m.Get().Message.Subject != "Reloaded" {
			t.Fatal("reloaded config was not committed")
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for reload")
	}
}
