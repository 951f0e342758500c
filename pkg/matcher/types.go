package matcher

import "github.com/Veraticus/chatfilter/pkg/rule"

// Matcher finds the rule a message triggers.
type Matcher interface {
	Match(message string) (rule.FilterRule, bool)
}

// Snapshotter provides a consistent, read-only view of the rule list.
// Implementations must not mutate a returned slice after handing it out.
type Snapshotter interface {
	Snapshot() rule.List
}

// StaticRules is a Snapshotter over a fixed list.
type StaticRules rule.List

// Snapshot implements Snapshotter
func (s StaticRules) Snapshot() rule.List {
	return rule.List(s)
}
