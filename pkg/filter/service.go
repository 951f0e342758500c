// Package filter owns the keyword rule list and applies matched rules to chat
// messages.
package filter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"

	"github.com/Veraticus/chatfilter/pkg/matcher"
	"github.com/Veraticus/chatfilter/pkg/rule"
)

const (
	// ErrIndex is returned when a rule index is out of range.
	ErrIndex errors.Error = "rule index out of range"

	// ErrField is returned for an unknown rule field name.
	ErrField errors.Error = "unknown rule field"
)

// Field names an editable rule field.
type Field string

// Editable fields.
const (
	FieldKeyword Field = "keyword"
	FieldEnabled Field = "enabled"
	FieldMute    Field = "mute"
	FieldReport  Field = "report"
)

// Persister loads and saves the full rule list.
type Persister interface {
	Load() (rule.List, error)
	Save(l rule.List) error
}

// Observer is called with the new snapshot after every mutation.
type Observer func(rules rule.List)

// Service holds the ordered rule list. Readers get immutable snapshots;
// mutations are serialized and each one publishes a fresh snapshot and saves
// the whole list.
type Service struct {
	store  Persister
	logger *slog.Logger

	mu        sync.Mutex
	observers []Observer

	rules atomic.Pointer[rule.List]
}

// Ensure Service implements matcher.Snapshotter
var _ matcher.Snapshotter = (*Service)(nil)

// NewService creates an empty service saving through store. A nil logger
// discards output.
func NewService(store Persister, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}

	s := &Service{
		store:  store,
		logger: logger,
	}

	empty := rule.List{}
	s.rules.Store(&empty)

	return s
}

// Load replaces the rules with the persisted list. A failure is logged and
// leaves the list empty; it is returned only for callers that want to report
// it.
func (s *Service) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.store.Load()
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to load filter entries", slogutil.KeyError, err)
		l = rule.List{}
	}

	s.publish(l)
	s.logger.DebugContext(ctx, "loaded filter entries", "count", len(l))

	return err
}

// Snapshot implements matcher.Snapshotter. The returned list must not be
// modified.
func (s *Service) Snapshot() rule.List {
	return *s.rules.Load()
}

// Rules returns a copy of the current rules.
func (s *Service) Rules() rule.List {
	return s.Snapshot().Clone()
}

// Len returns the number of rules.
func (s *Service) Len() int {
	return len(s.Snapshot())
}

// Subscribe registers o to be called after every mutation. o runs while the
// service is locked for writing and must not mutate the service.
func (s *Service) Subscribe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.observers = append(s.observers, o)
}

// Add appends a rule for keyword with the default actions. Empty or
// whitespace-only keywords are ignored and Add returns false.
func (s *Service) Add(keyword string) (bool, error) {
	r, err := rule.New(keyword)
	if err != nil {
		return false, nil
	}

	err = s.mutate(func(l rule.List) (rule.List, bool, error) {
		return append(l, r), true, nil
	})

	return true, err
}

// Insert appends r as given. r must have a non-empty keyword.
func (s *Service) Insert(r rule.FilterRule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	r.Keyword = strings.TrimSpace(r.Keyword)

	return s.mutate(func(l rule.List) (rule.List, bool, error) {
		return append(l, r), true, nil
	})
}

// Remove deletes the rule at index i.
func (s *Service) Remove(i int) error {
	return s.mutate(func(l rule.List) (rule.List, bool, error) {
		if err := checkIndex(l, i); err != nil {
			return nil, false, err
		}
		return append(l[:i], l[i+1:]...), true, nil
	})
}

// Move changes the priority of the rule at from so that it ends up at to.
func (s *Service) Move(from, to int) error {
	return s.mutate(func(l rule.List) (rule.List, bool, error) {
		if err := checkIndex(l, from); err != nil {
			return nil, false, err
		}
		if err := checkIndex(l, to); err != nil {
			return nil, false, err
		}
		if from == to {
			return l, false, nil
		}

		r := l[from]
		l = append(l[:from], l[from+1:]...)
		l = append(l[:to], append(rule.List{r}, l[to:]...)...)
		return l, true, nil
	})
}

// Clear removes every rule.
func (s *Service) Clear() error {
	return s.mutate(func(l rule.List) (rule.List, bool, error) {
		return rule.List{}, len(l) > 0, nil
	})
}

// SetKeyword changes the keyword of rule i. An empty keyword keeps the old
// one, and an unchanged keyword does not trigger a save.
func (s *Service) SetKeyword(i int, keyword string) error {
	kw := strings.TrimSpace(keyword)

	return s.mutate(func(l rule.List) (rule.List, bool, error) {
		if err := checkIndex(l, i); err != nil {
			return nil, false, err
		}
		if kw == "" || kw == l[i].Keyword {
			return l, false, nil
		}
		l[i].Keyword = kw
		return l, true, nil
	})
}

// SetEnabled sets whether rule i takes part in matching.
func (s *Service) SetEnabled(i int, v bool) error {
	return s.setFlag(i, func(r *rule.FilterRule) { r.Enabled = v })
}

// SetMute sets whether rule i blanks matching messages.
func (s *Service) SetMute(i int, v bool) error {
	return s.setFlag(i, func(r *rule.FilterRule) { r.Mute = v })
}

// SetReport sets whether rule i flags matching messages for report.
func (s *Service) SetReport(i int, v bool) error {
	return s.setFlag(i, func(r *rule.FilterRule) { r.Report = v })
}

// Edit sets a field of rule i from its string form. Flag values accept
// true/false, 1/0, yes/no and on/off.
func (s *Service) Edit(i int, field Field, value string) error {
	field, err := ParseField(string(field))
	if err != nil {
		return err
	}

	if field == FieldKeyword {
		return s.SetKeyword(i, value)
	}

	v, err := ParseBool(value)
	if err != nil {
		return fmt.Errorf("field %s: %w", field, err)
	}

	switch field {
	case FieldEnabled:
		return s.SetEnabled(i, v)
	case FieldMute:
		return s.SetMute(i, v)
	case FieldReport:
		return s.SetReport(i, v)
	default:
		return fmt.Errorf("%w: %q", ErrField, field)
	}
}

// ParseField validates a field name.
func ParseField(name string) (Field, error) {
	f := Field(strings.ToLower(strings.TrimSpace(name)))
	switch f {
	case FieldKeyword, FieldEnabled, FieldMute, FieldReport:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrField, name)
	}
}

// ParseBool parses a flag value.
func ParseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid value %q (use true/false)", value)
	}
}

func (s *Service) setFlag(i int, set func(r *rule.FilterRule)) error {
	return s.mutate(func(l rule.List) (rule.List, bool, error) {
		if err := checkIndex(l, i); err != nil {
			return nil, false, err
		}
		before := l[i]
		set(&l[i])
		return l, l[i] != before, nil
	})
}

// mutate applies fn to a private copy of the rules. If fn reports a change,
// the copy becomes the new snapshot, is saved and observers are notified.
func (s *Service) mutate(fn func(l rule.List) (rule.List, bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, changed, err := fn(s.Snapshot().Clone())
	if err != nil || !changed {
		return err
	}

	s.publish(next)

	if err = s.store.Save(next); err != nil {
		s.logger.Error("failed to save filter entries", slogutil.KeyError, err)
		err = fmt.Errorf("saving rules: %w", err)
	}

	for _, o := range s.observers {
		o(next)
	}

	return err
}

// publish must be called with s.mu held.
func (s *Service) publish(l rule.List) {
	if l == nil {
		l = rule.List{}
	}
	s.rules.Store(&l)
}

func checkIndex(l rule.List, i int) error {
	if i < 0 || i >= len(l) {
		return fmt.Errorf("%w: %d (have %d)", ErrIndex, i, len(l))
	}
	return nil
}
