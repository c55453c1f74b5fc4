package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"fandomassenger/internal/config"
	"fandomassenger/internal/dispatch"
	"fandomassenger/internal/eventbus"
	"fandomassenger/internal/report"
	"fandomassenger/internal/schedule"
	logx "fandomassenger/pkg/logx"
)

// fakeWiki serves login, user lookups and talk page edits.
type fakeWiki struct {
	mu    sync.Mutex
	edits []url.Values
}

func (f *fakeWiki) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	form := r.Form
	switch {
	case form.Get("meta") == "tokens" && form.Get("type") == "login":
		writeJSON(w, map[string]any{"query": map[string]any{"tokens": map[string]string{"logintoken": `LT+\`}}})
	case form.Get("meta") == "tokens":
		writeJSON(w, map[string]any{"query": map[string]any{"tokens": map[string]string{"csrftoken": `CT+\`}}})
	case form.Get("action") == "login":
		if form.Get("lgpassword") != "secret" {
			writeJSON(w, map[string]any{"login": map[string]any{"result": "Failed", "reason": "Incorrect password"}})
			return
		}
		writeJSON(w, map[string]any{"login": map[string]any{"result": "Success", "lguserid": 7, "lgusername": "Operator"}})
	case form.Get("list") == "users" && form.Get("usprop") == "groups":
		writeJSON(w, map[string]any{"query": map[string]any{"users": []any{
			map[string]any{"userid": 7, "name": "Operator", "groups": []string{"user", "sysop"}},
		}}})
	case form.Get("list") == "users":
		var users []any
		for i, n := range strings.Split(form.Get("ususers"), "|") {
			if n == "Ghost" {
				users = append(users, map[string]any{"name": n, "missing": ""})
				continue
			}
			users = append(users, map[string]any{"name": n, "userid": 100 + i})
		}
		writeJSON(w, map[string]any{"query": map[string]any{"users": users}})
	case form.Get("action") == "edit":
		f.mu.Lock()
		f.edits = append(f.edits, form)
		n := len(f.edits)
		f.mu.Unlock()
		writeJSON(w, map[string]any{"edit": map[string]any{
			"result": "Success", "title": form.Get("title"), "newrevid": 1000 + n,
		}})
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeWiki) editCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.edits)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type testEnv struct {
	wiki *fakeWiki
	srv  *httptest.Server
	dir  string
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	f := &fakeWiki{}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return &testEnv{wiki: f, srv: srv, dir: t.TempDir()}
}

// writeConfig writes a talk page run config; extra is appended verbatim.
func (e *testEnv) writeConfig(t *testing.T, users, secret, extra string) string {
	t.Helper()
	cfg := fmt.Sprintf(`
wiki:
  url: %s
  allow_any_host: true
auth:
  username: Operator@MassBot
  secret: %s
recipients:
  users: [%s]
message:
  subject: News for $USERNAME
  body: Hello $USERNAME, greetings from $WIKI.
dispatch:
  target: talk
  min_interval: 1ms
  max_retries: 0
storage:
  driver: file
  path: %s
logging:
  level: error
%s`, e.srv.URL, secret, users, filepath.Join(e.dir, "state"), extra)
	path := filepath.Join(e.dir, "run.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestApp(t *testing.T, opts Options) *App {
	t.Helper()
	a, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestRunOnceDeliversAndReports(t *testing.T) {
	t.Parallel()
	env := newEnv(t)
	a := newTestApp(t, Options{ConfigPath: env.writeConfig(t, "Alice, Ghost, Operator", "secret", "")})

	rep, err := a.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if rep.Total != 2 || len(rep.Results) != 2 {
		t.Fatalf("report = %+v", rep)
	}
	if r := rep.Results[0]; r.Recipient != "Alice" || r.Status != dispatch.StatusSuccess {
		t.Fatalf("Alice = %+v", r)
	}
	if r := rep.Results[1]; r.Status != dispatch.StatusFailed || r.Reason != dispatch.ReasonRecipientMissing {
		t.Fatalf("Ghost = %+v", r)
	}
	if got := report.ExitCode(rep, err); got != report.ExitFailures {
		t.Fatalf("exit = %d", got)
	}

	if n := env.wiki.editCount(); n != 1 {
		t.Fatalf("edits = %d, want 1", n)
	}
	edit := env.wiki.edits[0]
	host := strings.TrimPrefix(env.srv.URL, "http://")
	if edit.Get("title") != "User talk:Alice" || edit.Get("sectiontitle") != "News for Alice" {
		t.Fatalf("edit = %v", edit)
	}
	if want := "Hello Alice, greetings from " + host + "."; edit.Get("text") != want {
		t.Fatalf("text = %q, want %q", edit.Get("text"), want)
	}

	runs, err := a.Store().RecentRuns(context.Background(), 5)
	if err != nil || len(runs) != 1 {
		t.Fatalf("RecentRuns = %v, %v", runs, err)
	}
	if runs[0].RunID != rep.RunID || runs[0].Success != 1 || runs[0].Failed != 1 {
		t.Fatalf("run record = %+v", runs[0])
	}
}

func TestRunOnceSkipsDeliveredRecipients(t *testing.T) {
	t.Parallel()
	env := newEnv(t)
	a := newTestApp(t, Options{ConfigPath: env.writeConfig(t, "Alice, Bob", "secret", "")})

	if _, err := a.RunOnce(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	rep, err := a.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	for _, r := range rep.Results {
		if r.Status != dispatch.StatusSkipped || r.Reason != dispatch.SkipAlreadyDelivered {
			t.Fatalf("result = %+v", r)
		}
	}
	if n := env.wiki.editCount(); n != 2 {
		t.Fatalf("edits = %d, want 2", n)
	}
	if got := report.ExitCode(rep, err); got != report.ExitOK {
		t.Fatalf("exit = %d", got)
	}
}

func TestRunOnceDryRunPostsNothing(t *testing.T) {
	t.Parallel()
	env := newEnv(t)
	a := newTestApp(t, Options{ConfigPath: env.writeConfig(t, "Alice", "secret", ""), DryRun: true})

	rep, err := a.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !rep.DryRun || rep.Results[0].Reason != dispatch.SkipDryRun {
		t.Fatalf("report = %+v", rep)
	}
	if n := env.wiki.editCount(); n != 0 {
		t.Fatalf("edits = %d, want 0", n)
	}
}

func TestRunOnceLoginFailureIsFatal(t *testing.T) {
	t.Parallel()
	env := newEnv(t)
	a := newTestApp(t, Options{ConfigPath: env.writeConfig(t, "Alice", "wrong", "")})
	events, unsubscribe := a.Bus().Subscribe(4)
	defer unsubscribe()

	rep, err := a.RunOnce(context.Background())
	var ae *dispatch.AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("err = %v, want AuthError", err)
	}
	if rep == nil || rep.Error == "" || len(rep.Results) != 0 {
		t.Fatalf("report = %+v", rep)
	}
	if got := report.ExitCode(rep, err); got != report.ExitFatal {
		t.Fatalf("exit = %d", got)
	}

	select {
	case ev := <-events:
		sum, ok := ev.Data.(dispatch.Summary)
		if ev.Type != eventbus.DispatchFinished || !ok || sum.Error == "" {
			t.Fatalf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no finished event")
	}
}

func TestRunOnceInterrupted(t *testing.T) {
	t.Parallel()
	env := newEnv(t)
	a := newTestApp(t, Options{ConfigPath: env.writeConfig(t, "Alice", "secret", "")})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep, err := a.RunOnce(ctx)
	if got := report.ExitCode(rep, err); got != report.ExitInterrupted {
		t.Fatalf("exit = %d (err %v)", got, err)
	}
	if n := env.wiki.editCount(); n != 0 {
		t.Fatalf("edits = %d", n)
	}
}

func TestMapPolicy(t *testing.T) {
	t.Parallel()
	retries, jitter, skip := 5, 0.5, false
	cfg := &config.Config{Dispatch: config.DispatchConfig{
		MinInterval:   "3s",
		MaxRetries:    &retries,
		RetryBase:     "500ms",
		RetryMaxDelay: "10s",
		RetryJitter:   &jitter,
		SkipDelivered: &skip,
		DryRun:        true,
	}}
	p, err := mapPolicy(context.Background(), cfg, nil, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	want := dispatch.Policy{
		MinInterval:   3 * time.Second,
		MaxRetries:    5,
		RetryBase:     500 * time.Millisecond,
		RetryMaxDelay: 10 * time.Second,
		Jitter:        0.5,
		DryRun:        true,
	}
	if p != want {
		t.Fatalf("policy = %+v, want %+v", p, want)
	}

	p, err = mapPolicy(context.Background(), &config.Config{}, nil, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if p != dispatch.DefaultPolicy() {
		t.Fatalf("default policy = %+v", p)
	}

	if _, err := mapPolicy(context.Background(), &config.Config{Dispatch: config.DispatchConfig{RetryBase: "soon"}}, nil, logx.Nop()); err == nil {
		t.Fatal("bad retry_base accepted")
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	if _, ok, err := mapStorageConfig(&config.Config{}); ok || err != nil {
		t.Fatalf("nil storage = %v, %v", ok, err)
	}
	sc, ok, err := mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "SQLite", Path: "x.db", BusyTimeout: "2s"}})
	if !ok || err != nil || sc.Driver != "sqlite" || sc.BusyTimeout != 2*time.Second {
		t.Fatalf("sqlite = %+v, %v, %v", sc, ok, err)
	}
	if _, _, err := mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "sqlite"}}); err == nil {
		t.Fatal("sqlite without path accepted")
	}
	if _, _, err := mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "redis", Path: "x"}}); err == nil {
		t.Fatal("unknown driver accepted")
	}
}

func TestMapTemplateReadsBodyFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "body.wiki")
	if err := os.WriteFile(path, []byte("Hi $USERNAME"), 0o600); err != nil {
		t.Fatal(err)
	}
	tpl, err := mapTemplate(&config.Config{Message: config.MessageConfig{Subject: "S", BodyFile: path}}, "w")
	if err != nil || tpl.Body != "Hi $USERNAME" || tpl.Wiki != "w" {
		t.Fatalf("template = %+v, %v", tpl, err)
	}
	if _, err := mapTemplate(&config.Config{Message: config.MessageConfig{Subject: "S"}}, "w"); err == nil {
		t.Fatal("empty body accepted")
	}
}

func TestWikiName(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]string{
		"https://eizen.fandom.com":     "eizen.fandom.com",
		"https://eizen.fandom.com/de/": "eizen.fandom.com/de",
	} {
		if got := wikiName(in); got != want {
			t.Errorf("wikiName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestApplySchedule(t *testing.T) {
	t.Parallel()
	env := newEnv(t)
	a := newTestApp(t, Options{ConfigPath: env.writeConfig(t, "Alice", "secret", "")})
	runner := schedule.NewRunner(func(context.Context) {}, logx.Nop())

	if err := a.applySchedule(runner, &config.Config{}); err == nil {
		t.Fatal("empty schedule accepted")
	}
	if err := a.applySchedule(runner, &config.Config{Schedule: "0 9 * * MON", Timezone: "Mars/Olympus"}); err == nil {
		t.Fatal("bad timezone accepted")
	}
	if err := a.applySchedule(runner, &config.Config{Schedule: "0 9 * * MON", Timezone: "UTC"}); err != nil {
		t.Fatalf("applySchedule: %v", err)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	t.Parallel()
	env := newEnv(t)
	a := newTestApp(t, Options{ConfigPath: env.writeConfig(t, "Alice", "secret", "schedule: \"@weekly\"\nstatus:\n  enabled: true\n  addr: 127.0.0.1:0\n")})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
	if n := env.wiki.editCount(); n != 0 {
		t.Fatalf("edits = %d", n)
	}
}

type fakeNotifier struct {
	mu   sync.Mutex
	runs []dispatch.Summary
}

func (n *fakeNotifier) Watch(ctx context.Context, _ eventbus.Bus) { <-ctx.Done() }

func (n *fakeNotifier) NotifyRun(_ context.Context, sum dispatch.Summary) {
	n.mu.Lock()
	n.runs = append(n.runs, sum)
	n.mu.Unlock()
}

func (n *fakeNotifier) summaries() []dispatch.Summary {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]dispatch.Summary(nil), n.runs...)
}

func TestRunOnceNotifiesOutsideServe(t *testing.T) {
	t.Parallel()
	env := newEnv(t)
	a := newTestApp(t, Options{ConfigPath: env.writeConfig(t, "Alice, Ghost", "secret", "")})
	n := &fakeNotifier{}
	a.notif = n

	rep, err := a.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	got := n.summaries()
	if len(got) != 1 {
		t.Fatalf("summaries = %d, want 1", len(got))
	}
	if got[0].RunID != rep.RunID || got[0].Counts.Success != 1 || got[0].Counts.Failed != 1 {
		t.Fatalf("summary = %+v", got[0])
	}
}

func TestRunOnceNotifiesFatalRun(t *testing.T) {
	t.Parallel()
	env := newEnv(t)
	a := newTestApp(t, Options{ConfigPath: env.writeConfig(t, "Alice", "wrong", "")})
	n := &fakeNotifier{}
	a.notif = n

	if _, err := a.RunOnce(context.Background()); err == nil {
		t.Fatal("RunOnce succeeded with a bad secret")
	}
	got := n.summaries()
	if len(got) != 1 || got[0].Error == "" {
		t.Fatalf("summaries = %+v", got)
	}
}

func TestRunOnceUnderServeLeavesNotifyToBus(t *testing.T) {
	t.Parallel()
	env := newEnv(t)
	a := newTestApp(t, Options{ConfigPath: env.writeConfig(t, "Alice", "secret", "")})
	n := &fakeNotifier{}
	a.notif = n
	a.serving.Store(true)

	if _, err := a.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if got := n.summaries(); len(got) != 0 {
		t.Fatalf("summaries = %+v, want none", got)
	}
}
