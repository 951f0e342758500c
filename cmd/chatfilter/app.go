package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/VictoriaMetrics/metrics"

	"github.com/Veraticus/chatfilter/pkg/chat"
	"github.com/Veraticus/chatfilter/pkg/config"
	"github.com/Veraticus/chatfilter/pkg/filter"
	"github.com/Veraticus/chatfilter/pkg/interfaces"
	"github.com/Veraticus/chatfilter/pkg/matcher"
	"github.com/Veraticus/chatfilter/pkg/monitor"
	"github.com/Veraticus/chatfilter/pkg/notification"
	"github.com/Veraticus/chatfilter/pkg/process"
	"github.com/Veraticus/chatfilter/pkg/rule"
	"github.com/Veraticus/chatfilter/pkg/source"
	"github.com/Veraticus/chatfilter/pkg/store"
)

// Dependencies holds all the dependencies for the application
type Dependencies struct {
	Config              *config.Config
	Logger              *slog.Logger
	Store               store.ConfigManager
	Rules               *store.RuleStore
	Service             *filter.Service
	Matcher             matcher.Matcher
	Metrics             *metrics.Set
	Notifier            notification.Notifier
	RateLimiter         interfaces.RateLimiter
	NotificationManager *notification.Manager
	Dispatcher          *filter.Dispatcher

	logFile       *os.File
	metricsServer *http.Server
}

// NewDependencies creates all dependencies with the given configuration.
// Logs go to cfg.LogFile, or to logOutput when no file is configured.
func NewDependencies(ctx context.Context, cfg *config.Config, logOutput io.Writer) (*Dependencies, error) {
	deps := &Dependencies{
		Config:  cfg,
		Metrics: metrics.NewSet(),
	}

	if cfg.LogFile != "" {
		// #nosec G304 - The log path comes from the user's own configuration
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		deps.logFile = f
		logOutput = f
	}

	logger, err := newLogger(cfg, logOutput)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.Logger = logger

	cm, err := store.NewFileConfigManager(cfg.StorePath)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.Store = cm
	deps.Rules = store.NewRuleStore(cm)
	logger.DebugContext(ctx, "using filter store", "path", cm.Path())

	deps.Service = filter.NewService(deps.Rules, logger.With(slogutil.KeyPrefix, "filter"))
	// A broken store leaves the list empty; the error is already logged.
	_ = deps.Service.Load(ctx)
	deps.Service.Subscribe(func(l rule.List) {
		logger.DebugContext(ctx, "filter entries changed", "count", len(l))
	})

	deps.Matcher = matcher.NewKeywordMatcher(deps.Service)

	// The dispatcher gets an untyped nil notifier when forwarding is off.
	var reporter notification.Notifier
	if cfg.Report.Enabled() {
		deps.Notifier = notification.NewNtfyClient(cfg.Report.NtfyServer, cfg.Report.NtfyTopic)

		rl := cfg.Report.RateLimit
		if rl.MaxMessages > 0 && rl.Window > 0 {
			deps.RateLimiter = notification.NewTokenBucketRateLimiter(
				rl.MaxMessages,
				rl.Window/time.Duration(rl.MaxMessages),
			)
		}

		deps.NotificationManager = notification.NewManager(
			cfg.Report,
			deps.Notifier,
			deps.RateLimiter,
			logger.With(slogutil.KeyPrefix, "report"),
		)
		reporter = deps.NotificationManager
	}

	deps.Dispatcher = filter.NewDispatcher(
		deps.Matcher,
		reporter,
		logger.With(slogutil.KeyPrefix, "dispatch"),
		deps.Metrics,
	)

	return deps, nil
}

// newLogger builds the logger described by cfg
func newLogger(cfg *config.Config, output io.Writer) (*slog.Logger, error) {
	format, err := slogutil.NewFormat(cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("log format: %w", err)
	}

	var lvl slog.Level
	if err = lvl.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	return slogutil.New(&slogutil.Config{
		Output:       output,
		Format:       format,
		AddTimestamp: true,
		Level:        lvl,
	}), nil
}

// StartMetricsServer serves the metrics set on cfg.MetricsAddr, if set
func (d *Dependencies) StartMetricsServer() {
	if d.Config.MetricsAddr == "" {
		return
	}

	d.metricsServer = &http.Server{
		Addr:         d.Config.MetricsAddr,
		Handler:      d.metricsHandler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	srv := d.metricsServer
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.Logger.Error("serving metrics", "addr", srv.Addr, slogutil.KeyError, err)
		}
	}()
}

// metricsHandler serves the metrics set in the Prometheus text format
func (d *Dependencies) metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		buf := new(bytes.Buffer)
		d.Metrics.WritePrometheus(buf)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = buf.WriteTo(w)
	})

	return mux
}

// Close cleans up all dependencies
func (d *Dependencies) Close() {
	if d.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = d.metricsServer.Shutdown(ctx)
		cancel()
		d.metricsServer = nil
	}

	if d.NotificationManager != nil {
		_ = d.NotificationManager.Close()
	}

	if d.logFile != nil {
		_ = d.logFile.Close()
		d.logFile = nil
	}
}

// Application represents the main application
type Application struct {
	deps    *Dependencies
	stdin   io.Reader
	stdout  io.Writer
	process *process.Manager
}

// NewApplication creates a new application with the given dependencies
func NewApplication(deps *Dependencies, stdin io.Reader, stdout io.Writer) *Application {
	return &Application{
		deps:   deps,
		stdin:  stdin,
		stdout: stdout,
	}
}

// Add adds a filter entry for keyword
func (a *Application) Add(keyword string) error {
	added, err := a.deps.Service.Add(keyword)
	if err != nil {
		return err
	}

	if !added {
		fmt.Fprintln(a.stdout, "Ignored empty keyword")
		return nil
	}

	fmt.Fprintf(a.stdout, "Added filter #%d: %s\n", a.deps.Service.Len(), strings.TrimSpace(keyword))
	return nil
}

// List prints the filter entries in priority order
func (a *Application) List(asJSON bool) error {
	rules := a.deps.Service.Rules()

	if asJSON {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rules)
	}

	if len(rules) == 0 {
		fmt.Fprintln(a.stdout, "No filter entries")
		return nil
	}

	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tKEYWORD\tENABLED\tMUTE\tREPORT")
	for i, r := range rules {
		fmt.Fprintf(tw, "%d\t%s\t%t\t%t\t%t\n", i+1, r.Keyword, r.Enabled, r.Mute, r.Report)
	}
	return tw.Flush()
}

// Set changes one field of entry n (1-based)
func (a *Application) Set(n int, field, value string) error {
	return a.deps.Service.Edit(n-1, filter.Field(field), value)
}

// Remove deletes entry n (1-based)
func (a *Application) Remove(n int) error {
	return a.deps.Service.Remove(n - 1)
}

// Move moves entry from to position to (both 1-based)
func (a *Application) Move(from, to int) error {
	return a.deps.Service.Move(from-1, to-1)
}

// Clear removes all entries
func (a *Application) Clear() error {
	return a.deps.Service.Clear()
}

// Check runs one message through the filter and prints what happened
func (a *Application) Check(ctx context.Context, sender, text string) filter.Outcome {
	msg := &chat.Message{Sender: sender, Text: text}
	out := a.deps.Dispatcher.Handle(ctx, msg)

	if !out.Matched {
		fmt.Fprintln(a.stdout, "no match")
		return out
	}

	fmt.Fprintf(a.stdout, "matched %q (actions: %s)\n", out.Rule.Keyword, strings.Join(out.Rule.Actions(), ", "))
	if out.Muted {
		fmt.Fprintln(a.stdout, "message muted")
	} else {
		fmt.Fprintf(a.stdout, "message: %s\n", msg.Text)
	}

	return out
}

// Filter reads chat lines from stdin and writes the surviving lines to stdout
func (a *Application) Filter(ctx context.Context) error {
	a.deps.StartMetricsServer()

	cm := monitor.NewChatMonitor(a.deps.Dispatcher, a.deps.Config.Separator, a.stdout, a.deps.Logger)
	defer a.logDropped(cm)

	return source.NewReaderSource(a.stdin, cm, a.deps.Logger).Run(ctx)
}

// Run wraps command under a PTY and filters its chat output
func (a *Application) Run(command string, args []string) error {
	a.deps.StartMetricsServer()

	cm := monitor.NewChatMonitor(a.deps.Dispatcher, a.deps.Config.Separator, a.stdout, a.deps.Logger)
	a.process = process.NewManager(cm, a.deps.Logger.With(slogutil.KeyPrefix, "process"))
	defer a.logDropped(cm)

	if err := a.process.Start(command, args); err != nil {
		return err
	}

	return a.process.Wait()
}

// logDropped logs how many lines cm muted
func (a *Application) logDropped(cm *monitor.ChatMonitor) {
	a.deps.Logger.Info("chat filtering finished", "muted_lines", cm.Dropped())
}

// Relay filters chat messages between Kafka topics until ctx is canceled
func (a *Application) Relay(ctx context.Context) error {
	if err := a.deps.Config.ValidateKafka(); err != nil {
		return err
	}

	a.deps.StartMetricsServer()

	src, err := source.NewKafkaSource(
		a.deps.Config.Kafka,
		a.deps.Dispatcher,
		a.deps.Logger.With(slogutil.KeyPrefix, "relay"),
		a.deps.Metrics,
	)
	if err != nil {
		return err
	}
	defer src.Close()

	if err = src.EnsureTopic(ctx, a.deps.Config.Kafka.TargetTopic, 1); err != nil {
		a.deps.Logger.WarnContext(ctx, "target topic not verified", slogutil.KeyError, err)
	}

	return src.Run(ctx)
}

// Stop gracefully stops a wrapped process, if any
func (a *Application) Stop() error {
	if a.process == nil {
		return nil
	}
	return a.process.Stop()
}

// ExitCode returns the exit code of the wrapped process
func (a *Application) ExitCode() int {
	if a.process == nil {
		return 0
	}
	return a.process.ExitCode()
}
