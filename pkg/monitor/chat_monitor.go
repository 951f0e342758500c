package monitor

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/AdguardTeam/golibs/logutil/slogutil"

	"github.com/Veraticus/chatfilter/pkg/chat"
	"github.com/Veraticus/chatfilter/pkg/interfaces"
)

// ChatMonitor filters a stream of program output. Complete lines that parse
// as chat are passed to the message handler; muted messages are dropped and
// everything else is written to the output unchanged.
type ChatMonitor struct {
	handler   interfaces.MessageHandler
	separator string
	out       io.Writer
	logger    *slog.Logger

	mu         sync.Mutex
	lineBuffer bytes.Buffer
	dropped    int
}

// Ensure ChatMonitor implements interfaces.DataHandler and io.Writer
var (
	_ interfaces.DataHandler = (*ChatMonitor)(nil)
	_ io.Writer              = (*ChatMonitor)(nil)
)

// NewChatMonitor creates a chat monitor writing surviving output to out.
// An empty separator means chat.DefaultSeparator.
func NewChatMonitor(handler interfaces.MessageHandler, separator string, out io.Writer, logger *slog.Logger) *ChatMonitor {
	if separator == "" {
		separator = chat.DefaultSeparator
	}
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}

	return &ChatMonitor{
		handler:   handler,
		separator: separator,
		out:       out,
		logger:    logger,
	}
}

// Write implements io.Writer so the monitor can sit directly in an io.Copy.
// It never fails; output errors are logged.
func (cm *ChatMonitor) Write(p []byte) (int, error) {
	cm.HandleData(p)
	return len(p), nil
}

// HandleData processes raw output data
func (cm *ChatMonitor) HandleData(data []byte) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.lineBuffer.Write(data)

	buffer := cm.lineBuffer.Bytes()
	start := 0
	for i := 0; i < len(buffer); i++ {
		if buffer[i] == '\n' {
			cm.processLine(string(buffer[start:i]), true)
			start = i + 1
		}
	}

	// Keep any incomplete line in the buffer
	rest := append([]byte(nil), buffer[start:]...)
	cm.lineBuffer.Reset()
	cm.lineBuffer.Write(rest)
}

// HandleLine implements the OutputHandler interface
func (cm *ChatMonitor) HandleLine(line string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.processLine(strings.TrimSuffix(line, "\n"), true)
}

// Flush processes any remaining partial line without adding a newline.
func (cm *ChatMonitor) Flush() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.lineBuffer.Len() > 0 {
		line := cm.lineBuffer.String()
		cm.lineBuffer.Reset()
		cm.processLine(line, false)
	}
}

// Dropped returns how many lines were muted so far.
func (cm *ChatMonitor) Dropped() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.dropped
}

// processLine dispatches one line and writes it out unless it was muted.
// newline tells whether the line was terminated in the input. cm.mu must be
// held.
func (cm *ChatMonitor) processLine(line string, newline bool) {
	if cm.handler != nil {
		if msg, ok := chat.ParseLine(StripEscapes(line), cm.separator); ok {
			cm.handler.HandleMessage(context.Background(), msg)
			if msg.Muted() {
				cm.dropped++
				return
			}
		}
	}

	if cm.out == nil {
		return
	}

	if newline {
		line += "\n"
	}
	if _, err := io.WriteString(cm.out, line); err != nil {
		cm.logger.Error("writing filtered output", slogutil.KeyError, err)
	}
}
