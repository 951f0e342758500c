// Package matcher finds the first enabled keyword rule contained in a message.
package matcher

import (
	"strings"

	"github.com/Veraticus/chatfilter/pkg/rule"
)

// Match returns the first enabled rule in rules whose keyword occurs in
// message, ignoring case. message must already be stripped of markup.
func Match(message string, rules []rule.FilterRule) (rule.FilterRule, bool) {
	if len(rules) == 0 {
		return rule.FilterRule{}, false
	}

	text := strings.ToLower(message)
	for _, r := range rules {
		kw := strings.ToLower(strings.TrimSpace(r.Keyword))
		if !r.Enabled || kw == "" {
			continue
		}

		if strings.Contains(text, kw) {
			return r, true
		}
	}

	return rule.FilterRule{}, false
}

// KeywordMatcher matches messages against the current rules of a Snapshotter.
type KeywordMatcher struct {
	rules Snapshotter
}

// Ensure KeywordMatcher implements Matcher
var _ Matcher = (*KeywordMatcher)(nil)

// NewKeywordMatcher creates a matcher reading rules from src on every call.
func NewKeywordMatcher(src Snapshotter) *KeywordMatcher {
	return &KeywordMatcher{rules: src}
}

// Match implements Matcher
func (m *KeywordMatcher) Match(message string) (rule.FilterRule, bool) {
	return Match(message, m.rules.Snapshot())
}
