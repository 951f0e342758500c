package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/VictoriaMetrics/metrics"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"

	"github.com/Veraticus/chatfilter/pkg/chat"
	"github.com/Veraticus/chatfilter/pkg/config"
	"github.com/Veraticus/chatfilter/pkg/interfaces"
)

// Metric names exported by the Kafka relay.
const (
	MetricRelayForwarded = "chatfilter_relay_forwarded_total"
	MetricRelayDropped   = "chatfilter_relay_dropped_total"
	MetricRelayInvalid   = "chatfilter_relay_invalid_total"
)

// Record is the JSON value of a chat message on Kafka.
type Record struct {
	Sender  string `json:"sender"`
	Message string `json:"message"`
}

// KafkaSource consumes chat messages from one topic, runs them through the
// message handler and produces the messages that were not muted to another
// topic.
type KafkaSource struct {
	client  *kgo.Client
	handler interfaces.MessageHandler
	source  string
	target  string
	grouped bool
	logger  *slog.Logger

	forwarded *metrics.Counter
	dropped   *metrics.Counter
	invalid   *metrics.Counter
}

// NewKafkaSource creates a relay client for cfg. Extra options are appended
// to the client options. A nil set gets a private one.
func NewKafkaSource(
	cfg config.KafkaConfig,
	handler interfaces.MessageHandler,
	logger *slog.Logger,
	set *metrics.Set,
	extra ...kgo.Opt,
) (s *KafkaSource, err error) {
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}
	if set == nil {
		set = metrics.NewSet()
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumeTopics(cfg.SourceTopic),
		kgo.DefaultProduceTopic(cfg.TargetTopic),
		kgo.ProduceRequestTimeout(5 * time.Second),
		kgo.RecordDeliveryTimeout(10 * time.Second),
	}
	if cfg.MaxWaitTime > 0 {
		opts = append(opts, kgo.FetchMaxWait(cfg.MaxWaitTime))
	}
	if cfg.GroupID != "" {
		opts = append(opts, kgo.ConsumerGroup(cfg.GroupID), kgo.DisableAutoCommit())
	}
	opts = append(opts, extra...)

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating kafka client: %w", err)
	}

	return &KafkaSource{
		client:    client,
		handler:   handler,
		source:    cfg.SourceTopic,
		target:    cfg.TargetTopic,
		grouped:   cfg.GroupID != "",
		logger:    logger,
		forwarded: set.GetOrCreateCounter(MetricRelayForwarded),
		dropped:   set.GetOrCreateCounter(MetricRelayDropped),
		invalid:   set.GetOrCreateCounter(MetricRelayInvalid),
	}, nil
}

// EnsureTopic creates topic with the given number of partitions unless it
// already exists.
func (s *KafkaSource) EnsureTopic(ctx context.Context, topic string, partitions int32) (err error) {
	defer func() { err = errors.Annotate(err, "ensuring topic %q: %w", topic) }()

	req := kmsg.NewCreateTopicsRequest()
	rt := kmsg.NewCreateTopicsRequestTopic()
	rt.Topic = topic
	rt.NumPartitions = partitions
	rt.ReplicationFactor = -1
	req.Topics = append(req.Topics, rt)

	resp, err := req.RequestWith(ctx, s.client)
	if err != nil {
		return err
	}

	for _, t := range resp.Topics {
		if terr := kerr.ErrorForCode(t.ErrorCode); terr != nil && !errors.Is(terr, kerr.TopicAlreadyExists) {
			return terr
		}
	}

	return nil
}

// Run relays messages until ctx is canceled or the client is closed. With a
// consumer group, offsets are committed only after the batch's surviving
// messages have been produced.
func (s *KafkaSource) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "relaying chat messages", "source", s.source, "target", s.target)

	for {
		fetches := s.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return nil
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			s.logger.WarnContext(ctx, "fetch error", "topic", topic, "partition", partition, slogutil.KeyError, err)
		})

		var out []*kgo.Record
		fetches.EachRecord(func(rec *kgo.Record) {
			if fwd := s.process(ctx, rec); fwd != nil {
				out = append(out, fwd)
			}
		})

		if len(out) > 0 {
			if err := s.client.ProduceSync(ctx, out...).FirstErr(); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("producing to %s: %w", s.target, err)
			}
			s.forwarded.Add(len(out))
		}

		if s.grouped {
			if err := s.client.CommitUncommittedOffsets(ctx); err != nil && ctx.Err() == nil {
				s.logger.WarnContext(ctx, "committing offsets", slogutil.KeyError, err)
			}
		}
	}
}

// process filters one record and returns the record to forward, or nil.
func (s *KafkaSource) process(ctx context.Context, rec *kgo.Record) *kgo.Record {
	var in Record
	if err := json.Unmarshal(rec.Value, &in); err != nil {
		s.invalid.Inc()
		s.logger.WarnContext(ctx, "skipping invalid chat record", "offset", rec.Offset, slogutil.KeyError, err)
		return nil
	}

	msg := &chat.Message{Sender: in.Sender, Text: in.Message}
	s.handler.HandleMessage(ctx, msg)
	if msg.Muted() {
		s.dropped.Inc()
		return nil
	}

	val, err := json.Marshal(Record{Sender: msg.Sender, Message: msg.Text})
	if err != nil {
		s.invalid.Inc()
		s.logger.ErrorContext(ctx, "encoding chat record", slogutil.KeyError, err)
		return nil
	}

	return &kgo.Record{
		Topic:   s.target,
		Key:     rec.Key,
		Value:   val,
		Headers: rec.Headers,
	}
}

// Close closes the Kafka client
func (s *KafkaSource) Close() {
	s.client.Close()
}
