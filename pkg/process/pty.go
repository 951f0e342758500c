package process

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/creack/pty"
)

// Errors returned by PTYManager.
const (
	ErrAlreadyStarted errors.Error = "process already started"
	ErrNotStarted     errors.Error = "process not started"
)

// PTYManager handles PTY-based process execution
type PTYManager struct {
	cmd         *exec.Cmd
	pty         *os.File
	mu          sync.Mutex
	stopChan    chan struct{}
	wg          sync.WaitGroup
	restoreFunc func()
	logger      *slog.Logger
}

// Ensure PTYManager implements PTY
var _ PTY = (*PTYManager)(nil)

// NewPTYManager creates a new PTY manager
func NewPTYManager(logger *slog.Logger) *PTYManager {
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}

	return &PTYManager{
		stopChan: make(chan struct{}),
		logger:   logger,
	}
}

// Start starts a process with PTY
func (p *PTYManager) Start(command string, args []string, env []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil {
		return ErrAlreadyStarted
	}

	cmd := exec.Command(command, args...)
	cmd.Env = env

	f, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("failed to start PTY: %w", err)
	}
	p.cmd = cmd
	p.pty = f

	// Some environments don't have a terminal to copy from.
	if err = p.copyTerminalSize(); err != nil {
		p.logger.Debug("copying terminal size", slogutil.KeyError, err)
	}

	p.wg.Add(1)
	go p.monitorTerminalSize()

	return nil
}

// GetPTY returns the PTY file descriptor
func (p *PTYManager) GetPTY() *os.File {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pty
}

// Wait waits for the process to complete. The PTY stays open so pending
// output can still be read; call Close afterwards.
func (p *PTYManager) Wait() error {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()

	if cmd == nil {
		return ErrNotStarted
	}

	err := cmd.Wait()

	close(p.stopChan)
	p.wg.Wait()

	return err
}

// Close closes the PTY master. It is safe to call more than once.
func (p *PTYManager) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pty == nil {
		return nil
	}

	err := p.pty.Close()
	p.pty = nil
	if err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("closing pty: %w", err)
	}

	return nil
}

// ProcessState returns the process state
func (p *PTYManager) ProcessState() *os.ProcessState {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd == nil {
		return nil
	}
	return p.cmd.ProcessState
}

// Process returns the underlying process
func (p *PTYManager) Process() *os.Process {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd == nil {
		return nil
	}
	return p.cmd.Process
}

// Stop restores the terminal state changed by CopyIO
func (p *PTYManager) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.restoreFunc != nil {
		p.restoreFunc()
		p.restoreFunc = nil
	}

	return nil
}

// copyTerminalSize copies the terminal size from stdin to the PTY. p.mu must
// be held.
func (p *PTYManager) copyTerminalSize() error {
	size, err := pty.GetsizeFull(os.Stdin)
	if err != nil {
		return err
	}

	return pty.Setsize(p.pty, size)
}

// monitorTerminalSize monitors for terminal size changes
func (p *PTYManager) monitorTerminalSize() {
	defer p.wg.Done()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGWINCH)
	defer signal.Stop(sigChan)

	for {
		select {
		case <-sigChan:
			p.mu.Lock()
			if p.pty != nil {
				if err := p.copyTerminalSize(); err != nil {
					p.logger.Debug("resizing pty", slogutil.KeyError, err)
				}
			}
			p.mu.Unlock()
		case <-p.stopChan:
			return
		}
	}
}

// CopyIO copies stdin to the PTY and PTY output to stdout. If stdin is a
// terminal it is put into raw mode until CopyIO returns. CopyIO returns once
// the output side reaches EOF, which for a PTY happens after the child exits.
func (p *PTYManager) CopyIO(stdin io.Reader, stdout io.Writer) error {
	p.mu.Lock()
	if p.pty == nil {
		p.mu.Unlock()
		return fmt.Errorf("PTY not initialized")
	}
	ptyFile := p.pty
	p.mu.Unlock()

	if file, ok := stdin.(*os.File); ok && isTerminal(int(file.Fd())) {
		restore, err := setRawMode(int(file.Fd()))
		if err != nil {
			p.logger.Debug("entering raw mode", slogutil.KeyError, err)
		} else {
			p.mu.Lock()
			p.restoreFunc = restore
			p.mu.Unlock()

			defer func() { _ = p.Stop() }()
		}
	}

	// The input copy ends on stdin EOF or once the PTY is closed, whichever
	// comes first, and is not waited for.
	if stdin != nil {
		go func() {
			if _, err := io.Copy(ptyFile, stdin); err != nil && !isClosedPTY(err) {
				p.logger.Debug("copying input", slogutil.KeyError, err)
			}
		}()
	}

	if _, err := io.Copy(stdout, ptyFile); err != nil && !isClosedPTY(err) {
		return fmt.Errorf("stdout copy error: %w", err)
	}

	return nil
}

// isClosedPTY reports whether err is how a PTY signals that its other side
// has gone away.
func isClosedPTY(err error) bool {
	return errors.Is(err, syscall.EIO) || errors.Is(err, os.ErrClosed)
}
