package process

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"

	"github.com/Veraticus/chatfilter/pkg/interfaces"
)

// WrappedEnv is set in the environment of wrapped processes so that
// chatfilter does not wrap itself.
const WrappedEnv = "CHATFILTER_WRAPPED"

// ErrAlreadyWrapped is returned by Start when running inside chatfilter.
const ErrAlreadyWrapped errors.Error = "already wrapped by chatfilter"

// defaultDrainTimeout bounds how long Wait waits for remaining output after
// the process exits.
const defaultDrainTimeout = 2 * time.Second

// Manager runs a chat program under a PTY and feeds its output through the
// output handler
type Manager struct {
	ptyManager    PTY
	outputHandler interfaces.DataHandler
	stdin         io.Reader
	stdout        io.Writer
	logger        *slog.Logger
	drainTimeout  time.Duration

	exitCode int
	mu       sync.Mutex
	sigChan  chan os.Signal
	done     chan struct{}
	copyDone chan struct{}
}

// Ensure Manager implements interfaces.ProcessWrapper
var _ interfaces.ProcessWrapper = (*Manager)(nil)

// NewManager creates a new process manager reading the terminal on
// os.Stdin. Output goes to outputHandler, or straight to os.Stdout when
// outputHandler is nil.
func NewManager(outputHandler interfaces.DataHandler, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}

	return &Manager{
		ptyManager:    NewPTYManager(logger),
		outputHandler: outputHandler,
		stdin:         os.Stdin,
		stdout:        os.Stdout,
		logger:        logger,
		drainTimeout:  defaultDrainTimeout,
		done:          make(chan struct{}),
	}
}

// Start starts the chat program
func (m *Manager) Start(command string, args []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if os.Getenv(WrappedEnv) == "1" {
		return ErrAlreadyWrapped
	}

	env := append(os.Environ(), WrappedEnv+"=1")

	if err := m.ptyManager.Start(command, args, env); err != nil {
		return fmt.Errorf("failed to start process: %w", err)
	}

	var out io.Writer = m.stdout
	if m.outputHandler != nil {
		out = handlerWriter{h: m.outputHandler}
	}

	m.copyDone = make(chan struct{})
	go func() {
		defer close(m.copyDone)

		if err := m.ptyManager.CopyIO(m.stdin, out); err != nil {
			m.logger.Error("copying process i/o", slogutil.KeyError, err)
		}
	}()

	m.setupSignalForwarding()

	m.logger.Debug("started wrapped process", "command", command, "args", args)

	return nil
}

// Wait waits for the process to exit, drains its remaining output and
// flushes the output handler
func (m *Manager) Wait() error {
	if m.ptyManager == nil {
		return ErrNotStarted
	}

	err := m.ptyManager.Wait()

	m.mu.Lock()
	if state := m.ptyManager.ProcessState(); state != nil {
		m.exitCode = state.ExitCode()
	}
	copyDone := m.copyDone
	m.mu.Unlock()

	if copyDone != nil {
		select {
		case <-copyDone:
		case <-time.After(m.drainTimeout):
			m.logger.Debug("output still open after exit, closing pty")
		}
	}

	if cerr := m.ptyManager.Close(); cerr != nil {
		m.logger.Debug("closing pty", slogutil.KeyError, cerr)
	}

	if m.outputHandler != nil {
		m.outputHandler.Flush()
	}

	// Ensure terminal is restored
	_ = m.ptyManager.Stop()

	close(m.done)
	m.cleanupSignals()

	return err
}

// ExitCode returns the exit code of the process
func (m *Manager) ExitCode() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exitCode
}

// setupSignalForwarding sets up signal forwarding to the child process
func (m *Manager) setupSignalForwarding() {
	m.sigChan = make(chan os.Signal, 1)
	signal.Notify(m.sigChan,
		syscall.SIGTERM,
		syscall.SIGINT,
		syscall.SIGHUP,
		syscall.SIGQUIT,
		syscall.SIGUSR1,
		syscall.SIGUSR2,
	)

	go m.forwardSignals()
}

// forwardSignals forwards signals to the child process
func (m *Manager) forwardSignals() {
	for {
		select {
		case sig, ok := <-m.sigChan:
			if !ok {
				return
			}
			proc := m.ptyManager.Process()
			if proc == nil {
				continue
			}
			if err := proc.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
				m.logger.Warn("forwarding signal", "signal", sig.String(), slogutil.KeyError, err)
			}
		case <-m.done:
			return
		}
	}
}

// cleanupSignals stops signal forwarding
func (m *Manager) cleanupSignals() {
	if m.sigChan != nil {
		signal.Stop(m.sigChan)
	}
}

// Stop gracefully stops the manager and cleans up resources
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ptyManager == nil {
		return nil
	}

	// Ensure terminal is restored
	_ = m.ptyManager.Stop()

	proc := m.ptyManager.Process()
	if proc == nil {
		return nil
	}

	// SIGTERM first, then kill.
	if err := proc.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return proc.Kill()
	}

	return nil
}

// handlerWriter adapts a DataHandler to io.Writer
type handlerWriter struct {
	h interfaces.DataHandler
}

func (w handlerWriter) Write(p []byte) (int, error) {
	w.h.HandleData(p)
	return len(p), nil
}
