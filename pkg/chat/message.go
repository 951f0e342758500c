// Package chat models chat messages and the plain-text line format used to
// carry them.
package chat

import (
	"strings"
)

// DefaultSeparator splits sender from text in a chat line.
const DefaultSeparator = ": "

// Message is a single chat message. Sender and Text may carry markup tags.
type Message struct {
	Sender string
	Text   string

	// prefix is anything before the sender on the original line, such as a
	// bracketed timestamp. It is restored by Line.
	prefix string
	muted  bool
}

// Muted reports whether the message text has been blanked.
func (m *Message) Muted() bool {
	return m.muted
}

// Mute blanks the message text so nothing is displayed downstream.
func (m *Message) Mute() {
	m.Text = ""
	m.muted = true
}

// Line renders m back into the line format using sep. A muted message renders
// as an empty string.
func (m *Message) Line(sep string) string {
	if m.Muted() {
		return ""
	}
	if m.Sender == "" {
		return m.prefix + m.Text
	}
	return m.prefix + m.Sender + sep + m.Text
}

// ParseLine splits a "Sender: text" line. It returns false for lines that do
// not look like chat, which callers pass through untouched. A leading
// "[...]" timestamp is kept aside and restored by Line.
func ParseLine(line, sep string) (*Message, bool) {
	if sep == "" {
		sep = DefaultSeparator
	}

	line = strings.TrimRight(line, "\r")

	var prefix string
	rest := line
	if strings.HasPrefix(rest, "[") {
		if end := strings.Index(rest, "] "); end > 0 {
			prefix = rest[:end+2]
			rest = rest[end+2:]
		}
	}

	sender, text, ok := strings.Cut(rest, sep)
	if !ok || strings.TrimSpace(StripTags(sender)) == "" {
		return nil, false
	}

	return &Message{
		Sender: sender,
		Text:   text,
		prefix: prefix,
	}, true
}
