package notifier

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"fandomassenger/internal/dispatch"
	"fandomassenger/internal/eventbus"
	"fandomassenger/internal/report"
	logx "fandomassenger/pkg/logx"
)

var ErrDisabled = errors.New("notifier disabled")

// Config selects the chat and what is sent there.
type Config struct {
	Token    string
	ChatID   int64
	ThreadID int
	// OnlyOnFailure suppresses summaries of clean runs.
	OnlyOnFailure bool
	Timeout       time.Duration
}

// sender is the part of *tele.Bot used here.
type sender interface {
	Send(to tele.Recipient, what any, opts ...any) (*tele.Message, error)
}

// Telegram posts plain-text messages to one chat. It implements logx.Sender.
type Telegram struct {
	cfg     Config
	bot     sender
	log     logx.Logger
	limiter *rate.Limiter
}

var _ logx.Sender = (*Telegram)(nil)

func NewTelegram(cfg Config, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: true,
		Client:  &http.Client{Timeout: cfg.Timeout},
	})
	if err != nil {
		return nil, err
	}
	return newTelegram(cfg, b, log), nil
}

func newTelegram(cfg Config, bot sender, log logx.Logger) *Telegram {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Telegram{
		cfg: cfg,
		bot: bot,
		log: log.With(logx.String("comp", "notifier")),
		// Telegram allows about one message per second per chat.
		limiter: rate.NewLimiter(rate.Every(time.Second), 3),
	}
}

// SendText posts text to the configured chat, waiting for the rate limiter.
func (t *Telegram) SendText(ctx context.Context, text string) error {
	if t == nil {
		return ErrDisabled
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	opts := &tele.SendOptions{
		DisableWebPagePreview: true,
		ThreadID:              t.cfg.ThreadID,
	}
	_, err := t.bot.Send(tele.ChatID(t.cfg.ChatID), truncate(text, 4000), opts)
	return err
}

// Watch forwards run summaries from bus until ctx ends.
func (t *Telegram) Watch(ctx context.Context, bus eventbus.Bus) {
	ch, unsub := bus.Subscribe(16)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Type != eventbus.DispatchFinished {
				continue
			}
			sum, ok := ev.Data.(dispatch.Summary)
			if !ok {
				continue
			}
			t.NotifyRun(ctx, sum)
		}
	}
}

// NotifyRun sends the summary of a finished run, unless the config limits
// notifications to failed runs and this one was clean.
func (t *Telegram) NotifyRun(ctx context.Context, sum dispatch.Summary) {
	if t.cfg.OnlyOnFailure && sum.Error == "" && sum.Counts.Failed == 0 {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.cfg.Timeout)
	defer cancel()
	if err := t.SendText(sctx, report.Describe(sum)); err != nil {
		t.log.Warn("run summary not sent", logx.String("run", sum.RunID), logx.Err(err))
		return
	}
	t.log.Debug("run summary sent", logx.String("run", sum.RunID))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
