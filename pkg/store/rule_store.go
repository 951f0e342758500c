package store

import (
	"github.com/AdguardTeam/golibs/errors"

	"github.com/Veraticus/chatfilter/pkg/rule"
)

const (
	// GroupName is the configuration group holding filter settings.
	GroupName = "neokeywordfilter"

	// RulesKey is the key under GroupName holding the JSON rule list.
	RulesKey = "filters"

	// DefaultRules is the stored value when no rules have been saved.
	DefaultRules = "[]"
)

// RuleStore loads and saves the rule list as a JSON array under a single key.
type RuleStore struct {
	cm    ConfigManager
	group string
	key   string
}

// NewRuleStore creates a rule store using the default group and key.
func NewRuleStore(cm ConfigManager) *RuleStore {
	return &RuleStore{
		cm:    cm,
		group: GroupName,
		key:   RulesKey,
	}
}

// Load returns the stored rules. An absent value yields an empty list.
// Keywords are trimmed and rules with empty keywords are dropped.
func (s *RuleStore) Load() (l rule.List, err error) {
	defer func() { err = errors.Annotate(err, "loading %s.%s: %w", s.group, s.key) }()

	data, ok, err := s.cm.Get(s.group, s.key)
	if err != nil {
		return nil, err
	}

	if !ok || data == "" || data == DefaultRules {
		return rule.List{}, nil
	}

	l, err = rule.Unmarshal(data)
	if err != nil {
		return nil, err
	}

	return l.Normalize(), nil
}

// Save replaces the stored rules with l. Keywords are trimmed and rules with
// empty keywords are not persisted.
func (s *RuleStore) Save(l rule.List) (err error) {
	defer func() { err = errors.Annotate(err, "saving %s.%s: %w", s.group, s.key) }()

	data, err := rule.Marshal(l.Normalize())
	if err != nil {
		return err
	}

	return s.cm.Set(s.group, s.key, data)
}
