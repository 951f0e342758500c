// Package interfaces defines the core interfaces used throughout the application.
package interfaces

import (
	"context"

	"github.com/Veraticus/chatfilter/pkg/chat"
)

// ProcessWrapper wraps a process whose output is filtered.
type ProcessWrapper interface {
	Start(command string, args []string) error
	Wait() error
	ExitCode() int
}

// OutputHandler processes output lines.
type OutputHandler interface {
	HandleLine(line string)
}

// DataHandler processes raw output data.
type DataHandler interface {
	OutputHandler
	HandleData(data []byte)
	Flush()
}

// MessageHandler applies the filter rules to a single chat message. It may
// mute msg in place and must do so before returning.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *chat.Message)
}

// RateLimiter limits notification frequency.
type RateLimiter interface {
	Allow() bool
	Reset()
}
