// Package source feeds chat messages from outside the process through the
// filter.
package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/AdguardTeam/golibs/logutil/slogutil"

	"github.com/Veraticus/chatfilter/pkg/interfaces"
)

// maxLineSize bounds a single chat line.
const maxLineSize = 64 * 1024

// ReaderSource reads chat lines from a reader and hands them to an output
// handler, usually a monitor.ChatMonitor writing the surviving lines.
type ReaderSource struct {
	r       io.Reader
	handler interfaces.DataHandler
	logger  *slog.Logger
}

// NewReaderSource creates a source reading from r.
func NewReaderSource(r io.Reader, handler interfaces.DataHandler, logger *slog.Logger) *ReaderSource {
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}

	return &ReaderSource{
		r:       r,
		handler: handler,
		logger:  logger,
	}
}

// Run reads until EOF or until ctx is canceled. The handler is flushed before
// Run returns. A read blocked in r is abandoned on cancellation.
func (s *ReaderSource) Run(ctx context.Context) error {
	lines := make(chan string)
	errc := make(chan error, 1)

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(s.r)
		scanner.Buffer(make([]byte, 0, 4096), maxLineSize)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- scanner.Err()
	}()

	defer s.handler.Flush()

	count := 0
	for {
		select {
		case <-ctx.Done():
			s.logger.DebugContext(ctx, "reader source canceled", "lines", count)
			return nil
		case line, ok := <-lines:
			if !ok {
				return s.finish(ctx, errc, count)
			}
			count++
			s.handler.HandleLine(line)
		}
	}
}

func (s *ReaderSource) finish(ctx context.Context, errc <-chan error, count int) error {
	var err error
	select {
	case err = <-errc:
	default:
	}

	if err != nil {
		return fmt.Errorf("reading chat lines: %w", err)
	}

	s.logger.DebugContext(ctx, "reader source finished", "lines", count)

	return nil
}
