// Package notification forwards reported chat messages to external sinks.
package notification

import "time"

// Notification represents a notification to be sent.
type Notification struct {
	Title   string
	Message string
	Time    time.Time
	Keyword string
	Sender  string
}

// Notifier sends notifications.
type Notifier interface {
	Send(notification Notification) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(n Notification) error

// Send implements Notifier
func (f NotifierFunc) Send(n Notification) error {
	return f(n)
}
