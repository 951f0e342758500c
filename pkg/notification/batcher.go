package notification

import (
	"sync"
	"time"
)

// Batcher groups notifications added within a time window and hands each
// group to a callback.
type Batcher struct {
	window   time.Duration
	callback func([]Notification)

	mu      sync.Mutex
	pending []Notification
	timer   *time.Timer

	// sendMu keeps callbacks from overlapping so batches arrive in order.
	sendMu sync.Mutex
}

// NewBatcher creates a new notification batcher
func NewBatcher(window time.Duration, callback func([]Notification)) *Batcher {
	return &Batcher{
		window:   window,
		callback: callback,
	}
}

// Add adds a notification to the batch, starting the window if it is the
// first one.
func (b *Batcher) Add(n Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending = append(b.pending, n)

	if b.timer == nil {
		b.timer = time.AfterFunc(b.window, b.flush)
	}
}

// Pending returns the number of notifications waiting for the window to
// close.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.pending)
}

// take removes and returns the pending notifications.
func (b *Batcher) take() []Notification {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}

	toSend := b.pending
	b.pending = nil
	return toSend
}

// flush sends all pending notifications
func (b *Batcher) flush() {
	b.sendMu.Lock()
	defer b.sendMu.Unlock()

	toSend := b.take()
	if len(toSend) == 0 {
		return
	}

	b.callback(toSend)
}

// Flush immediately sends any pending notifications
func (b *Batcher) Flush() {
	b.flush()
}
