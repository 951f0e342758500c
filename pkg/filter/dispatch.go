package filter

import (
	"context"
	"log/slog"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/VictoriaMetrics/metrics"

	"github.com/Veraticus/chatfilter/pkg/chat"
	"github.com/Veraticus/chatfilter/pkg/interfaces"
	"github.com/Veraticus/chatfilter/pkg/matcher"
	"github.com/Veraticus/chatfilter/pkg/notification"
	"github.com/Veraticus/chatfilter/pkg/rule"
)

// Metric names exported by the dispatcher.
const (
	MetricMessages = "chatfilter_messages_total"
	MetricMatches  = "chatfilter_matches_total"
	MetricMuted    = "chatfilter_muted_total"
	MetricReported = "chatfilter_reported_total"
)

// Outcome describes what dispatch did with a message.
type Outcome struct {
	Rule     rule.FilterRule
	Matched  bool
	Muted    bool
	Reported bool
}

// Dispatcher matches chat messages and applies the actions of the first
// matching rule: report, then mute.
type Dispatcher struct {
	matcher  matcher.Matcher
	notifier notification.Notifier
	logger   *slog.Logger

	messages *metrics.Counter
	matches  *metrics.Counter
	muted    *metrics.Counter
	reported *metrics.Counter
}

// Ensure Dispatcher implements interfaces.MessageHandler
var _ interfaces.MessageHandler = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher. notifier may be nil, in which case
// reports only go to logger. Counters are registered in set; a nil set gets a
// private one.
func NewDispatcher(m matcher.Matcher, notifier notification.Notifier, logger *slog.Logger, set *metrics.Set) *Dispatcher {
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}
	if set == nil {
		set = metrics.NewSet()
	}

	return &Dispatcher{
		matcher:  m,
		notifier: notifier,
		logger:   logger,
		messages: set.GetOrCreateCounter(MetricMessages),
		matches:  set.GetOrCreateCounter(MetricMatches),
		muted:    set.GetOrCreateCounter(MetricMuted),
		reported: set.GetOrCreateCounter(MetricReported),
	}
}

// Handle checks msg against the rules. On a match it logs a report record if
// the rule reports and blanks msg.Text if the rule mutes; both happen before
// Handle returns.
func (d *Dispatcher) Handle(ctx context.Context, msg *chat.Message) Outcome {
	d.messages.Inc()

	original := msg.Text
	r, ok := d.matcher.Match(chat.StripTags(original))
	if !ok {
		return Outcome{}
	}

	d.matches.Inc()
	d.logger.InfoContext(ctx, "keyword found in chat message", "keyword", r.Keyword, "message", original)

	out := Outcome{Rule: r, Matched: true}

	if r.Report {
		d.report(ctx, r, msg.Sender, original)
		out.Reported = true
	}

	if r.Mute {
		msg.Mute()
		d.muted.Inc()
		out.Muted = true
	}

	return out
}

// HandleMessage implements interfaces.MessageHandler
func (d *Dispatcher) HandleMessage(ctx context.Context, msg *chat.Message) {
	_ = d.Handle(ctx, msg)
}

func (d *Dispatcher) report(ctx context.Context, r rule.FilterRule, sender, original string) {
	d.reported.Inc()

	name := chat.StripTags(sender)
	d.logger.WarnContext(
		ctx,
		"flagged chat message for report",
		"sender", name,
		"message", original,
		"keyword", r.Keyword,
	)

	if d.notifier == nil {
		return
	}

	err := d.notifier.Send(notification.Notification{
		Title:   "Chat report: " + r.Keyword,
		Message: name + ": " + chat.StripTags(original),
		Time:    time.Now(),
		Keyword: r.Keyword,
		Sender:  name,
	})
	if err != nil {
		d.logger.ErrorContext(ctx, "failed to forward report", slogutil.KeyError, err)
	}
}
