package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/AdguardTeam/golibs/errors"
	flag "github.com/spf13/pflag"

	"github.com/Veraticus/chatfilter/pkg/config"
)

// errUsage is returned for malformed command lines
const errUsage errors.Error = "invalid usage"

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run executes the command line and returns the process exit code
func run(argv []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("chatfilter", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SetInterspersed(false)

	var (
		configPath string
		storePath  string
		logLevel   string
		help       bool
	)
	fs.StringVar(&configPath, "config", "", "Path to config file")
	fs.StringVar(&storePath, "store", "", "Path to the filter settings file")
	fs.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.BoolVarP(&help, "help", "h", false, "Show help message")
	fs.Usage = func() { printUsage(stderr, fs) }

	if err := fs.Parse(argv); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	args := fs.Args()
	if help || len(args) == 0 {
		printUsage(stdout, fs)
		return 0
	}

	if configPath != "" {
		if err := os.Setenv("CHATFILTER_CONFIG", configPath); err != nil {
			fmt.Fprintf(stderr, "Error setting config path: %v\n", err)
			return 1
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return 1
	}
	if storePath != "" {
		cfg.StorePath = storePath
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	deps, err := NewDependencies(ctx, cfg, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error creating dependencies: %v\n", err)
		return 1
	}
	defer deps.Close()

	app := NewApplication(deps, stdin, stdout)

	code, err := dispatch(ctx, app, args[0], args[1:], stdout)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if errors.Is(err, errUsage) {
			return 2
		}
		return 1
	}

	return code
}

// dispatch runs one subcommand
func dispatch(ctx context.Context, app *Application, cmd string, args []string, stdout io.Writer) (int, error) {
	switch cmd {
	case "add":
		if len(args) == 0 {
			return 0, fmt.Errorf("%w: add KEYWORD", errUsage)
		}
		return 0, app.Add(strings.Join(args, " "))
	case "list":
		fs := flag.NewFlagSet("list", flag.ContinueOnError)
		asJSON := fs.Bool("json", false, "Print entries as JSON")
		if err := fs.Parse(args); err != nil {
			return 0, fmt.Errorf("%w: %w", errUsage, err)
		}
		return 0, app.List(*asJSON)
	case "set":
		if len(args) < 3 {
			return 0, fmt.Errorf("%w: set N FIELD VALUE", errUsage)
		}
		n, err := parseIndex(args[0])
		if err != nil {
			return 0, err
		}
		return 0, app.Set(n, args[1], strings.Join(args[2:], " "))
	case "remove":
		if len(args) != 1 {
			return 0, fmt.Errorf("%w: remove N", errUsage)
		}
		n, err := parseIndex(args[0])
		if err != nil {
			return 0, err
		}
		return 0, app.Remove(n)
	case "move":
		if len(args) != 2 {
			return 0, fmt.Errorf("%w: move FROM TO", errUsage)
		}
		from, err := parseIndex(args[0])
		if err != nil {
			return 0, err
		}
		to, err := parseIndex(args[1])
		if err != nil {
			return 0, err
		}
		return 0, app.Move(from, to)
	case "clear":
		return 0, app.Clear()
	case "check":
		fs := flag.NewFlagSet("check", flag.ContinueOnError)
		sender := fs.String("sender", "", "Sender name reported with the message")
		if err := fs.Parse(args); err != nil {
			return 0, fmt.Errorf("%w: %w", errUsage, err)
		}
		if fs.NArg() == 0 {
			return 0, fmt.Errorf("%w: check [--sender NAME] MESSAGE", errUsage)
		}
		out := app.Check(ctx, *sender, strings.Join(fs.Args(), " "))
		if out.Muted {
			return 3, nil
		}
		return 0, nil
	case "filter":
		return 0, app.Filter(ctx)
	case "run":
		return runWrapped(ctx, app, args)
	case "relay":
		return 0, app.Relay(ctx)
	case "help":
		fmt.Fprint(stdout, usageText)
		return 0, nil
	default:
		return 0, fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

// runWrapped runs a program under a PTY and returns its exit code
func runWrapped(ctx context.Context, app *Application, args []string) (int, error) {
	if len(args) > 0 && args[0] == "--" {
		args = args[1:]
	}
	if len(args) == 0 {
		return 0, fmt.Errorf("%w: run [--] COMMAND [ARGS...]", errUsage)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = app.Stop()
		case <-done:
		}
	}()

	// Ensure the wrapped process is stopped on panic
	defer func() {
		if r := recover(); r != nil {
			_ = app.Stop()
			panic(r)
		}
	}()

	if err := app.Run(args[0], args[1:]); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return 1, err
		}
	}

	return app.ExitCode(), nil
}

// parseIndex parses a 1-based entry number
func parseIndex(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: entry number must be a positive integer, got %q", errUsage, s)
	}
	return n, nil
}

const usageText = `chatfilter - keyword filter for chat messages

Usage: chatfilter [OPTIONS] COMMAND [ARGS...]

Commands:
  add KEYWORD                 Add a filter entry (enabled, mute on, report off)
  list [--json]               List filter entries in priority order
  set N FIELD VALUE           Change keyword, enabled, mute or report of entry N
  remove N                    Remove entry N
  move FROM TO                Move an entry to another position
  clear                       Remove all entries
  check [--sender NAME] MSG   Run one message through the filter
  filter                      Filter "Sender: message" lines from stdin to stdout
  run [--] COMMAND [ARGS...]  Run COMMAND under a PTY and filter its chat output
  relay                       Filter chat records between Kafka topics

Entries are numbered from 1. The first enabled entry whose keyword appears in
a message (case-insensitive) decides what happens to it.
`

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprint(w, usageText)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Options:")
	fmt.Fprint(w, fs.FlagUsages())
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment Variables:")
	fmt.Fprintln(w, "  CHATFILTER_CONFIG          Path to config file")
	fmt.Fprintln(w, "  CHATFILTER_STORE           Path to the filter settings file")
	fmt.Fprintln(w, "  CHATFILTER_LOG_LEVEL       Log level (default: info)")
	fmt.Fprintln(w, "  CHATFILTER_LOG_FORMAT      Log format: text, json, default (default: text)")
	fmt.Fprintln(w, "  CHATFILTER_LOG_FILE        Write logs to this file instead of stderr")
	fmt.Fprintln(w, "  CHATFILTER_SEPARATOR       Sender/message separator (default: \": \")")
	fmt.Fprintln(w, "  CHATFILTER_METRICS_ADDR    Serve metrics on this address")
	fmt.Fprintln(w, "  CHATFILTER_NTFY_SERVER     Ntfy server URL (default: https://ntfy.sh)")
	fmt.Fprintln(w, "  CHATFILTER_NTFY_TOPIC      Ntfy topic for reports, reports are only logged when empty")
	fmt.Fprintln(w, "  CHATFILTER_KAFKA_BROKERS   Kafka brokers for relay (comma-separated)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Configuration file: ~/.config/chatfilter/config.yaml")
}
