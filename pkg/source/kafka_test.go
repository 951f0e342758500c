package source_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kfake"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/Veraticus/chatfilter/pkg/config"
	"github.com/Veraticus/chatfilter/pkg/filter"
	"github.com/Veraticus/chatfilter/pkg/matcher"
	"github.com/Veraticus/chatfilter/pkg/rule"
	"github.com/Veraticus/chatfilter/pkg/source"
)

const (
	testSourceTopic = "chat.in"
	testTargetTopic = "chat.out"
)

func newTestCluster(t *testing.T) []string {
	t.Helper()

	c, err := kfake.NewCluster(kfake.SeedTopics(1, testSourceTopic, testTargetTopic))
	require.NoError(t, err)
	t.Cleanup(c.Close)

	return c.ListenAddrs()
}

func newClient(t *testing.T, addrs []string, opts ...kgo.Opt) *kgo.Client {
	t.Helper()

	opts = append([]kgo.Opt{
		kgo.SeedBrokers(addrs...),
		kgo.FetchMaxWait(time.Second),
		kgo.ProduceRequestTimeout(time.Second),
		kgo.RecordDeliveryTimeout(7 * time.Second),
	}, opts...)

	cl, err := kgo.NewClient(opts...)
	require.NoError(t, err)
	t.Cleanup(cl.Close)

	return cl
}

func produce(t *testing.T, cl *kgo.Client, values ...string) {
	t.Helper()

	var recs []*kgo.Record
	for _, v := range values {
		recs = append(recs, &kgo.Record{Topic: testSourceTopic, Value: []byte(v)})
	}
	require.NoError(t, cl.ProduceSync(context.Background(), recs...).FirstErr())
}

func consume(t *testing.T, cl *kgo.Client, want int) []source.Record {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var got []source.Record
	for len(got) < want {
		fetches := cl.PollFetches(ctx)
		require.NoError(t, ctx.Err(), "timed out waiting for %d records, got %d", want, len(got))
		require.Empty(t, fetches.Errors())

		fetches.EachRecord(func(rec *kgo.Record) {
			var r source.Record
			require.NoError(t, json.Unmarshal(rec.Value, &r))
			got = append(got, r)
		})
	}

	return got
}

func TestKafkaSource_Relay(t *testing.T) {
	addrs := newTestCluster(t)

	rules := matcher.StaticRules(rule.List{
		{Keyword: "gold", Enabled: true, Mute: true, Report: true},
		{Keyword: "foo", Enabled: false, Mute: true},
	})
	set := metrics.NewSet()
	d := filter.NewDispatcher(matcher.NewKeywordMatcher(rules), nil, nil, set)

	src, err := source.NewKafkaSource(config.KafkaConfig{
		Brokers:     addrs,
		SourceTopic: testSourceTopic,
		TargetTopic: testTargetTopic,
		MaxWaitTime: 100 * time.Millisecond,
	}, d, nil, set)
	require.NoError(t, err)
	t.Cleanup(src.Close)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()

	producer := newClient(t, addrs)
	produce(t, producer,
		`{"sender":"Alice","message":"hello"}`,
		`{"sender":"Spammer","message":"Buy <col=ff0000>GOLD</col>"}`,
		`not json`,
		`{"sender":"Bob","message":"foo bar"}`,
	)

	consumer := newClient(t, addrs, kgo.ConsumeTopics(testTargetTopic))
	got := consume(t, consumer, 2)

	want := []source.Record{
		{Sender: "Alice", Message: "hello"},
		{Sender: "Bob", Message: "foo bar"},
	}
	assert.Equal(t, want, got)

	cancel()
	select {
	case err = <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.Equal(t, uint64(1), set.GetOrCreateCounter(source.MetricRelayDropped).Get())
	assert.Equal(t, uint64(1), set.GetOrCreateCounter(source.MetricRelayInvalid).Get())
	assert.Equal(t, uint64(2), set.GetOrCreateCounter(source.MetricRelayForwarded).Get())
	assert.Equal(t, uint64(3), set.GetOrCreateCounter(filter.MetricMessages).Get())
}

func TestKafkaSource_EnsureTopic(t *testing.T) {
	addrs := newTestCluster(t)

	src, err := source.NewKafkaSource(config.KafkaConfig{
		Brokers:     addrs,
		SourceTopic: testSourceTopic,
		TargetTopic: "chat.filtered",
	}, nil, nil, nil)
	require.NoError(t, err)
	t.Cleanup(src.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, src.EnsureTopic(ctx, "chat.filtered", 1))

	// Existing topics are not an error.
	require.NoError(t, src.EnsureTopic(ctx, "chat.filtered", 1))
	require.NoError(t, src.EnsureTopic(ctx, testSourceTopic, 1))
}

func TestKafkaSource_RunStopsOnClose(t *testing.T) {
	addrs := newTestCluster(t)

	src, err := source.NewKafkaSource(config.KafkaConfig{
		Brokers:     addrs,
		SourceTopic: testSourceTopic,
		TargetTopic: testTargetTopic,
		MaxWaitTime: 100 * time.Millisecond,
	}, nil, nil, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- src.Run(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	src.Close()

	select {
	case err = <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}
