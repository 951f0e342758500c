// Package rule defines keyword filter rules and their JSON wire form.
package rule

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AdguardTeam/golibs/errors"
)

// ErrEmptyKeyword is returned when a rule keyword is empty after trimming.
const ErrEmptyKeyword errors.Error = "empty keyword"

// FilterRule is a single keyword filter.
type FilterRule struct {
	Keyword string `json:"keyword"`
	Enabled bool   `json:"enabled"`
	Mute    bool   `json:"mute"`
	Report  bool   `json:"report"`
}

// New returns a rule for keyword with the defaults used for newly added
// filters: enabled, muting, not reporting.
func New(keyword string) (FilterRule, error) {
	kw := strings.TrimSpace(keyword)
	if kw == "" {
		return FilterRule{}, ErrEmptyKeyword
	}

	return FilterRule{
		Keyword: kw,
		Enabled: true,
		Mute:    true,
		Report:  false,
	}, nil
}

// Validate reports whether r can be persisted.
func (r FilterRule) Validate() error {
	if strings.TrimSpace(r.Keyword) == "" {
		return ErrEmptyKeyword
	}

	return nil
}

// Actions returns the names of the actions r triggers, in dispatch order.
func (r FilterRule) Actions() []string {
	var actions []string
	if r.Report {
		actions = append(actions, "report")
	}
	if r.Mute {
		actions = append(actions, "mute")
	}
	return actions
}

// List is an ordered sequence of rules. Order is match priority.
type List []FilterRule

// Clone returns a copy of l that shares no memory with it.
func (l List) Clone() List {
	if l == nil {
		return List{}
	}

	c := make(List, len(l))
	copy(c, l)
	return c
}

// Normalize returns a copy of l with keywords trimmed and rules with empty
// keywords dropped.
func (l List) Normalize() List {
	out := make(List, 0, len(l))
	for _, r := range l {
		r.Keyword = strings.TrimSpace(r.Keyword)
		if r.Keyword == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Marshal encodes l as a JSON array. A nil list encodes as "[]".
func Marshal(l List) (string, error) {
	if l == nil {
		l = List{}
	}

	b, err := json.Marshal(l)
	if err != nil {
		return "", fmt.Errorf("encoding rules: %w", err)
	}

	return string(b), nil
}

// Unmarshal decodes a JSON array of rules. Empty input decodes to an empty
// list.
func Unmarshal(data string) (List, error) {
	data = strings.TrimSpace(data)
	if data == "" {
		return List{}, nil
	}

	var l List
	if err := json.Unmarshal([]byte(data), &l); err != nil {
		return nil, fmt.Errorf("decoding rules: %w", err)
	}

	if l == nil {
		l = List{}
	}

	return l, nil
}
