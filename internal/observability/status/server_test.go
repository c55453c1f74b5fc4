package status

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fandomassenger/internal/storage"
	logx "fandomassenger/pkg/logx"
)

type fakeSource struct {
	next time.Time
	runs []storage.RunRecord
	err  error
}

func (f fakeSource) NextRun() time.Time { return f.next }

func (f fakeSource) RecentRuns(_ context.Context, limit int) ([]storage.RunRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.runs[:min(limit, len(f.runs))], nil
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()
	next := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	src := fakeSource{next: next, runs: []storage.RunRecord{
		{RunID: "b", Success: 3, ResultsJSON: "[]"},
		{RunID: "a", Failed: 1},
	}}
	h := New(Config{}, src, logx.Nop()).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status?limit=1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var body statusBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.NextRun == nil || !body.NextRun.Equal(next) {
		t.Fatalf("next_run = %v", body.NextRun)
	}
	if len(body.Runs) != 1 || body.Runs[0].RunID != "b" || body.Runs[0].ResultsJSON != "" {
		t.Fatalf("runs = %+v", body.Runs)
	}
}

func TestStatusErrors(t *testing.T) {
	t.Parallel()
	h := New(Config{}, fakeSource{err: errors.New("disk gone")}, logx.Nop()).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status?limit=x", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit code = %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("storage error code = %d", rec.Code)
	}
}

func TestTokenAuth(t *testing.T) {
	t.Parallel()
	h := New(Config{Token: "s3cret", Pprof: true}, fakeSource{}, logx.Nop()).Handler()

	tests := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{"none", "/healthz", "", http.StatusUnauthorized},
		{"query", "/healthz?token=s3cret", "", http.StatusOK},
		{"wrong query", "/healthz?token=nope", "", http.StatusUnauthorized},
		{"bearer", "/healthz", "Bearer s3cret", http.StatusOK},
		{"pprof guarded", "/debug/pprof/", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.target, nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("%s: code = %d, want %d", tt.name, rec.Code, tt.want)
		}
	}
}

func TestPprofMountedOnlyWhenEnabled(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	New(Config{}, fakeSource{}, logx.Nop()).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("code = %d, want 404", rec.Code)
	}
}

func TestRunRefusesPublicBindWithoutToken(t *testing.T) {
	t.Parallel()
	err := New(Config{Addr: "0.0.0.0:0"}, fakeSource{}, logx.Nop()).Run(context.Background())
	if err == nil {
		t.Fatal("public bind without token accepted")
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := New(Config{}, fakeSource{}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return")
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	for addr, want := range map[string]bool{
		"127.0.0.1:6060": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":6060":          false,
		"10.0.0.1:6060":  false,
		"nonsense":       false,
	} {
		if got := isLoopbackAddr(addr); got != want {
			t.Errorf("isLoopbackAddr(%q) = %v", addr, got)
		}
	}
}
