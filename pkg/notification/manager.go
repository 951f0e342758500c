package notification

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	cache "github.com/patrickmn/go-cache"

	"github.com/Veraticus/chatfilter/pkg/config"
	"github.com/Veraticus/chatfilter/pkg/interfaces"
)

// Manager orchestrates report forwarding with deduplication, batching and
// rate limiting
type Manager struct {
	config      config.ReportConfig
	notifier    Notifier
	rateLimiter interfaces.RateLimiter
	batcher     *Batcher
	seen        *cache.Cache
	logger      *slog.Logger

	mu sync.Mutex
	wg sync.WaitGroup
}

// Ensure Manager implements Notifier
var _ Notifier = (*Manager)(nil)

// NewManager creates a new notification manager
func NewManager(cfg config.ReportConfig, notifier Notifier, rateLimiter interfaces.RateLimiter, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}

	m := &Manager{
		config:      cfg,
		notifier:    notifier,
		rateLimiter: rateLimiter,
		logger:      logger,
	}

	if cfg.DedupWindow > 0 {
		m.seen = cache.New(cfg.DedupWindow, 2*cfg.DedupWindow)
	}

	// Create batcher if batch window is configured
	if cfg.BatchWindow > 0 {
		m.batcher = NewBatcher(cfg.BatchWindow, m.sendBatch)
	}

	return m
}

// Send batches a notification or hands it to a background delivery. It does
// not wait on the notifier; delivery failures are logged. Repeats of the same
// sender and message within the dedup window are dropped.
func (m *Manager) Send(notification Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.seen != nil {
		if err := m.seen.Add(dedupKey(notification), struct{}{}, cache.DefaultExpiration); err != nil {
			m.logger.Debug("dropping duplicate report", "sender", notification.Sender)
			return nil
		}
	}

	// Check rate limit
	if m.rateLimiter != nil && !m.rateLimiter.Allow() {
		m.logger.Debug("report rate limited", "sender", notification.Sender)
		return nil
	}

	// If batching is enabled, add to batch
	if m.batcher != nil {
		m.batcher.Add(notification)
		return nil
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.deliver(notification)
	}()

	return nil
}

// sendBatch sends a batch of notifications as a single notification
func (m *Manager) sendBatch(notifications []Notification) {
	if len(notifications) == 0 {
		return
	}

	if len(notifications) == 1 {
		m.deliver(notifications[0])
		return
	}

	m.deliver(Notification{
		Title:   fmt.Sprintf("Chat reports: %d messages", len(notifications)),
		Message: formatBatchMessage(notifications),
		Time:    time.Now(),
		Keyword: "batch",
	})
}

// deliver sends n, logging failures; reports are advisory.
func (m *Manager) deliver(n Notification) {
	if err := m.notifier.Send(n); err != nil {
		m.logger.Error("failed to forward report", slogutil.KeyError, err)
	}
}

// Close flushes pending batches and waits for in-flight deliveries
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Flush any pending batches
	if m.batcher != nil {
		m.batcher.Flush()
	}

	m.wg.Wait()

	return nil
}

func dedupKey(n Notification) string {
	return strings.ToLower(n.Sender) + "\x00" + n.Message
}

// formatBatchMessage formats multiple notifications into a single message
func formatBatchMessage(notifications []Notification) string {
	var b strings.Builder
	for i, n := range notifications {
		if i > 0 {
			b.WriteString("\n---\n")
		}
		b.WriteString(n.Keyword)
		b.WriteString(": ")
		if n.Sender != "" {
			b.WriteString(n.Sender)
			b.WriteString(": ")
		}
		b.WriteString(n.Message)
	}
	return b.String()
}
