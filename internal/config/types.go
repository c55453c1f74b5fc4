package config

// Config is the on-disk run configuration (YAML or JSON).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Wiki       WikiConfig       `json:"wiki"`
	Auth       AuthConfig       `json:"auth"`
	Recipients RecipientsConfig `json:"recipients"`
	Message    MessageConfig    `json:"message"`
	Dispatch   DispatchConfig   `json:"dispatch"`
	Logging    LoggingConfig    `json:"logging"`
	Storage    *StorageConfig   `json:"storage,omitempty"`
	Notify     NotifyConfig     `json:"notify,omitempty"`
	Status     StatusConfig     `json:"status,omitempty"`

	// Schedule enables daemon runs. Accepts a cron expression ("0 9 * * MON",
	// "@weekly"), an interval ("24h", "every:12h") or an HH:MM interval
	// ("26:00" is every 26 hours).
	Schedule string `json:"schedule,omitempty"`
	// Timezone for cron schedules (IANA name). Empty means local time.
	Timezone string `json:"timezone,omitempty"`
}

// WikiConfig points at the target wiki.
//
// URL is the wiki base URL, e.g. "https://eizen.fandom.com". The MediaWiki
// Action API is expected at <url>/api.php and the Nirvana API at <url>/wikia.php.
type WikiConfig struct {
	URL string `json:"url"`
	// AllowAnyHost skips the fandom.com / wikia.org base URL check
	// (plain MediaWiki installations).
	AllowAnyHost bool   `json:"allow_any_host,omitempty"`
	UserAgent    string `json:"user_agent,omitempty"`
}

// AuthConfig carries bot-password credentials.
//
// Secret may be omitted when SecretEnv names an environment variable holding it.
type AuthConfig struct {
	Username  string `json:"username"`
	Secret    string `json:"secret,omitempty"`
	SecretEnv string `json:"secret_env,omitempty"`
	// RequiredGroups lists user groups of which the operator must hold at least one.
	// nil means the default ["sysop", "threadmoderator"]; an empty list disables the check.
	RequiredGroups *[]string `json:"required_groups,omitempty"`
}

// RecipientsConfig is the recipient spec.
//
// Exactly one source kind is used per run:
//
//	recipients: { users: ["Alice", "Bob"] }
//	recipients: { categories: ["Category:Staff"] }
//	recipients: { pages: ["Project:Newsletter/Subscribers"] }
type RecipientsConfig struct {
	Users      []string `json:"users,omitempty"`
	Categories []string `json:"categories,omitempty"`
	Pages      []string `json:"pages,omitempty"`
}

// MessageConfig is the message template. Body may be loaded from BodyFile.
type MessageConfig struct {
	Subject  string `json:"subject"`
	Body     string `json:"body,omitempty"`
	BodyFile string `json:"body_file,omitempty"`
}

// DispatchConfig controls the posting loop.
//
// Defaults (when fields are omitted/zero):
//   - target: "auto"
//   - min_interval: "auto" (derived from the account's edit rate limit, 1.5s fallback)
//   - max_retries: 3
//   - retry_base: "2s"
//   - retry_max_delay: "1m"
//   - timeout: "30s"
type DispatchConfig struct {
	// Target is "auto", "talk" or "wall".
	Target        string   `json:"target,omitempty"`
	MinInterval   string   `json:"min_interval,omitempty"`
	MaxRetries    *int     `json:"max_retries,omitempty"`
	RetryBase     string   `json:"retry_base,omitempty"`
	RetryMaxDelay string   `json:"retry_max_delay,omitempty"`
	RetryJitter   *float64 `json:"retry_jitter,omitempty"`
	Timeout       string   `json:"timeout,omitempty"`
	// SkipDelivered consults the delivery ledger (requires storage). Default true.
	SkipDelivered *bool `json:"skip_delivered,omitempty"`
	DryRun        bool  `json:"dry_run,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./fandomassenger.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Remote  LoggingRemote `json:"remote,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingRemote forwards warnings to the notify.telegram chat.
type LoggingRemote struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `json:"telegram,omitempty"`
}

// TelegramConfig sends run summaries to an operator chat.
type TelegramConfig struct {
	Enabled       bool   `json:"enabled"`
	Token         string `json:"token,omitempty"`
	TokenEnv      string `json:"token_env,omitempty"`
	ChatID        int64  `json:"chat_id,omitempty"`
	ThreadID      int    `json:"thread_id,omitempty"`
	OnlyOnFailure bool   `json:"only_on_failure,omitempty"`
}

// StatusConfig enables the daemon status server (/healthz, /status and
// optionally /debug/pprof/). Non-loopback addresses need a token unless
// allow_insecure is set.
type StatusConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}
