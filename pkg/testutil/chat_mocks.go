package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/Veraticus/chatfilter/pkg/chat"
	"github.com/Veraticus/chatfilter/pkg/interfaces"
	"github.com/Veraticus/chatfilter/pkg/matcher"
	"github.com/Veraticus/chatfilter/pkg/rule"
	"github.com/Veraticus/chatfilter/pkg/store"
)

// Ensure the mocks implement their interfaces
var (
	_ interfaces.MessageHandler = (*MockMessageHandler)(nil)
	_ matcher.Matcher           = (*MockMatcher)(nil)
	_ store.ConfigManager       = (*MockConfigManager)(nil)
)

// MockMessageHandler records messages and mutes those containing MuteWord
type MockMessageHandler struct {
	mu       sync.Mutex
	muteWord string
	messages []chat.Message
}

// NewMockMessageHandler creates a handler muting messages whose text contains
// muteWord. An empty muteWord mutes nothing.
func NewMockMessageHandler(muteWord string) *MockMessageHandler {
	return &MockMessageHandler{muteWord: muteWord}
}

// HandleMessage implements the MessageHandler interface
func (m *MockMessageHandler) HandleMessage(_ context.Context, msg *chat.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages = append(m.messages, *msg)
	if m.muteWord != "" && strings.Contains(msg.Text, m.muteWord) {
		msg.Mute()
	}
}

// GetMessages returns a copy of the messages seen, as they were before muting
func (m *MockMessageHandler) GetMessages() []chat.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]chat.Message, len(m.messages))
	copy(result, m.messages)
	return result
}

// MockMatcher returns a fixed result and records the text it was asked about
type MockMatcher struct {
	mu     sync.Mutex
	result rule.FilterRule
	found  bool
	calls  []string
}

// NewMockMatcher creates a new mock matcher
func NewMockMatcher(result rule.FilterRule, found bool) *MockMatcher {
	return &MockMatcher{
		result: result,
		found:  found,
	}
}

// Match implements the Matcher interface
func (m *MockMatcher) Match(message string) (rule.FilterRule, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, message)
	return m.result, m.found
}

// SetMatchResult sets what Match will return
func (m *MockMatcher) SetMatchResult(result rule.FilterRule, found bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.result = result
	m.found = found
}

// GetCalls returns the messages Match was called with
func (m *MockMatcher) GetCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]string, len(m.calls))
	copy(result, m.calls)
	return result
}

// MockConfigManager is an in-memory store.ConfigManager with error injection
type MockConfigManager struct {
	mu       sync.Mutex
	values   map[string]string
	getErr   error
	setErr   error
	setCount int
}

// NewMockConfigManager creates a new mock config manager
func NewMockConfigManager() *MockConfigManager {
	return &MockConfigManager{
		values: map[string]string{},
	}
}

func configKey(group, key string) string {
	return group + "." + key
}

// Get implements the ConfigManager interface
func (m *MockConfigManager) Get(group, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getErr != nil {
		return "", false, m.getErr
	}

	v, ok := m.values[configKey(group, key)]
	return v, ok, nil
}

// Set implements the ConfigManager interface
func (m *MockConfigManager) Set(group, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.setCount++
	if m.setErr != nil {
		return m.setErr
	}

	m.values[configKey(group, key)] = value
	return nil
}

// SetValue stores a raw value without counting it as a Set call
func (m *MockConfigManager) SetValue(group, key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[configKey(group, key)] = value
}

// Value returns the raw stored value
func (m *MockConfigManager) Value(group, key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.values[configKey(group, key)]
	return v, ok
}

// SetGetError sets the error to return from Get
func (m *MockConfigManager) SetGetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getErr = err
}

// SetSetError sets the error to return from Set
func (m *MockConfigManager) SetSetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setErr = err
}

// GetSetCount returns how many times Set was called
func (m *MockConfigManager) GetSetCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setCount
}
