package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Veraticus/chatfilter/pkg/config"
	"github.com/Veraticus/chatfilter/pkg/filter"
	"github.com/Veraticus/chatfilter/pkg/rule"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.StorePath = filepath.Join(t.TempDir(), "settings.yaml")
	cfg.LogLevel = "debug"
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, stdin string) (*Application, *bytes.Buffer) {
	t.Helper()

	deps, err := NewDependencies(context.Background(), cfg, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("NewDependencies() error: %v", err)
	}
	t.Cleanup(deps.Close)

	out := &bytes.Buffer{}
	return NewApplication(deps, strings.NewReader(stdin), out), out
}

func TestNewDependencies(t *testing.T) {
	cfg := testConfig(t)

	deps, err := NewDependencies(context.Background(), cfg, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer deps.Close()

	if deps.Config != cfg {
		t.Error("expected config to be set")
	}
	if deps.Service == nil || deps.Matcher == nil || deps.Dispatcher == nil {
		t.Error("expected filter components to be created")
	}
	if deps.Metrics == nil {
		t.Error("expected metrics set to be created")
	}

	// No topic configured, reports only go to the log.
	if deps.Notifier != nil {
		t.Error("expected no notifier without a topic")
	}
	if deps.NotificationManager != nil {
		t.Error("expected no notification manager without a topic")
	}
}

func TestNewDependencies_WithReports(t *testing.T) {
	cfg := testConfig(t)
	cfg.Report.NtfyTopic = "test-topic"

	deps, err := NewDependencies(context.Background(), cfg, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer deps.Close()

	if deps.Notifier == nil {
		t.Error("expected notifier to be created")
	}
	if deps.RateLimiter == nil {
		t.Error("expected rate limiter to be created")
	}
	if deps.NotificationManager == nil {
		t.Error("expected notification manager to be created")
	}
}

func TestNewDependencies_NoRateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Report.NtfyTopic = "test-topic"
	cfg.Report.RateLimit.MaxMessages = 0

	deps, err := NewDependencies(context.Background(), cfg, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer deps.Close()

	if deps.RateLimiter != nil {
		t.Error("expected no rate limiter when max_messages is 0")
	}
}

func TestNewDependencies_Errors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(cfg *config.Config)
	}{
		{
			name:   "bad log format",
			modify: func(cfg *config.Config) { cfg.LogFormat = "xml" },
		},
		{
			name:   "bad log level",
			modify: func(cfg *config.Config) { cfg.LogLevel = "loud" },
		},
		{
			name: "unwritable log file",
			modify: func(cfg *config.Config) {
				cfg.LogFile = filepath.Join(t.TempDir(), "missing", "dir", "log.txt")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.modify(cfg)

			if deps, err := NewDependencies(context.Background(), cfg, &bytes.Buffer{}); err == nil {
				deps.Close()
				t.Error("expected error")
			}
		})
	}
}

func TestNewDependencies_LogFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.LogFile = filepath.Join(t.TempDir(), "chatfilter.log")

	stderr := &bytes.Buffer{}
	deps, err := NewDependencies(context.Background(), cfg, stderr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deps.Logger.Info("hello from test")
	deps.Close()

	if stderr.Len() != 0 {
		t.Errorf("expected nothing on stderr, got %q", stderr.String())
	}
}

func TestApplication_EditCommands(t *testing.T) {
	app, out := newTestApp(t, testConfig(t), "")

	for _, kw := range []string{"gold", "  ", "spam", "scam"} {
		if err := app.Add(kw); err != nil {
			t.Fatalf("Add(%q) error: %v", kw, err)
		}
	}
	if !strings.Contains(out.String(), "Added filter #1: gold") {
		t.Errorf("output = %q, want add confirmation", out.String())
	}
	if !strings.Contains(out.String(), "Ignored empty keyword") {
		t.Errorf("output = %q, want empty keyword notice", out.String())
	}

	if err := app.Set(2, "report", "yes"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if err := app.Move(3, 1); err != nil {
		t.Fatalf("Move() error: %v", err)
	}
	if err := app.Remove(3); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}

	want := rule.List{
		{Keyword: "scam", Enabled: true, Mute: true},
		{Keyword: "gold", Enabled: true, Mute: true},
	}
	got := app.deps.Service.Rules()
	if len(got) != len(want) {
		t.Fatalf("rules = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("rule %d = %+v, want %+v", i+1, got[i], want[i])
		}
	}

	if err := app.Remove(5); err == nil {
		t.Error("expected error removing a missing entry")
	}
	if err := app.Set(1, "colour", "red"); err == nil {
		t.Error("expected error for unknown field")
	}

	if err := app.Clear(); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}
	if n := app.deps.Service.Len(); n != 0 {
		t.Errorf("Len() after Clear = %d, want 0", n)
	}
}

func TestApplication_Persistence(t *testing.T) {
	cfg := testConfig(t)

	app, _ := newTestApp(t, cfg, "")
	if err := app.Add("gold"); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if err := app.Set(1, "report", "true"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	reopened, _ := newTestApp(t, cfg, "")
	got := reopened.deps.Service.Rules()
	want := rule.FilterRule{Keyword: "gold", Enabled: true, Mute: true, Report: true}
	if len(got) != 1 || got[0] != want {
		t.Errorf("reloaded rules = %+v, want [%+v]", got, want)
	}
}

func TestApplication_List(t *testing.T) {
	app, out := newTestApp(t, testConfig(t), "")

	if err := app.List(false); err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if !strings.Contains(out.String(), "No filter entries") {
		t.Errorf("output = %q, want empty notice", out.String())
	}

	_ = app.Add("gold")
	out.Reset()

	if err := app.List(false); err != nil {
		t.Fatalf("List() error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("List() printed %d lines, want 2: %q", len(lines), out.String())
	}
	if fields := strings.Fields(lines[1]); strings.Join(fields, " ") != "1 gold true true false" {
		t.Errorf("row = %q", lines[1])
	}

	out.Reset()
	if err := app.List(true); err != nil {
		t.Fatalf("List(json) error: %v", err)
	}
	var got rule.List
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON %q: %v", out.String(), err)
	}
	if len(got) != 1 || got[0].Keyword != "gold" {
		t.Errorf("JSON rules = %+v", got)
	}
}

func TestApplication_Check(t *testing.T) {
	tests := []struct {
		name      string
		rules     rule.List
		message   string
		wantOut   string
		wantMuted bool
	}{
		{
			name:    "no match",
			rules:   rule.List{{Keyword: "gold", Enabled: true, Mute: true}},
			message: "hello there",
			wantOut: "no match",
		},
		{
			name:      "muted match",
			rules:     rule.List{{Keyword: "gold", Enabled: true, Mute: true}},
			message:   "Buy <col=ff0000>GOLD</col>",
			wantOut:   "message muted",
			wantMuted: true,
		},
		{
			name:    "report only",
			rules:   rule.List{{Keyword: "gold", Enabled: true, Report: true}},
			message: "cheap gold",
			wantOut: "message: cheap gold",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, out := newTestApp(t, testConfig(t), "")
			for _, r := range tt.rules {
				if err := app.deps.Service.Insert(r); err != nil {
					t.Fatalf("Insert() error: %v", err)
				}
			}

			got := app.Check(context.Background(), "Spammer", tt.message)
			if got.Muted != tt.wantMuted {
				t.Errorf("Muted = %v, want %v", got.Muted, tt.wantMuted)
			}
			if !strings.Contains(out.String(), tt.wantOut) {
				t.Errorf("output = %q, want it to contain %q", out.String(), tt.wantOut)
			}
		})
	}
}

func TestApplication_Filter(t *testing.T) {
	input := "Alice: hello\nSpammer: buy gold now\nsystem notice\n[12:00] Bob: GOLD?\n"
	logs := &bytes.Buffer{}
	deps, err := NewDependencies(context.Background(), testConfig(t), logs)
	if err != nil {
		t.Fatalf("NewDependencies() error: %v", err)
	}
	t.Cleanup(deps.Close)

	out := &bytes.Buffer{}
	app := NewApplication(deps, strings.NewReader(input), out)
	_ = app.Add("gold")
	out.Reset()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.Filter(ctx); err != nil {
		t.Fatalf("Filter() error: %v", err)
	}

	want := "Alice: hello\nsystem notice\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
	if !strings.Contains(logs.String(), "muted_lines=2") {
		t.Errorf("logs = %q, want muted line count", logs.String())
	}
	if !strings.Contains(logs.String(), "using filter store") {
		t.Errorf("logs = %q, want store path", logs.String())
	}
}

func TestApplication_RelayRequiresKafka(t *testing.T) {
	app, _ := newTestApp(t, testConfig(t), "")

	if err := app.Relay(context.Background()); err == nil {
		t.Error("expected error without kafka configuration")
	}
}

func TestApplication_StopWithoutProcess(t *testing.T) {
	app, _ := newTestApp(t, testConfig(t), "")

	if err := app.Stop(); err != nil {
		t.Errorf("Stop() error: %v", err)
	}
	if code := app.ExitCode(); code != 0 {
		t.Errorf("ExitCode() = %d, want 0", code)
	}
}

func TestDependencies_MetricsHandler(t *testing.T) {
	app, _ := newTestApp(t, testConfig(t), "")
	_ = app.Add("gold")
	app.Check(context.Background(), "Spammer", "gold")

	rec := httptest.NewRecorder()
	app.deps.metricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, name := range []string{filter.MetricMessages, filter.MetricMuted} {
		if !strings.Contains(body, name+" 1") {
			t.Errorf("metrics = %q, want %s 1", body, name)
		}
	}
}
