package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestNewProducerRequiresBrokers(t *testing.T) {
	_, err := NewProducer()
	require.Error(t, err)

	_, err = NewProducer(WithBrokers([]string{"localhost:9092"}), WithRequiredAcks(3))
	require.Error(t, err)
}

func TestProducerConfigOptions(t *testing.T) {
	cfg := defaultProducerConfig()
	for _, opt := range []ProducerOption{
		WithBrokers([]string{"a:9092", "b:9092"}),
		WithCompression("zstd"),
		WithBatching(0, 50*time.Millisecond),
		WithMaxAttempts(0),
		WithTimeouts(time.Second, 0),
	} {
		opt(&cfg)
	}
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 50*time.Millisecond, cfg.BatchTimeout)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, time.Second, cfg.WriteTimeout)
	assert.Equal(t, 10*time.Second, cfg.ReadTimeout)

	w := cfg.writer()
	assert.Equal(t, kafka.Zstd, w.Compression)
	assert.Equal(t, kafka.RequireAll, w.RequiredAcks)
}

func TestParseCompression(t *testing.T) {
	assert.Equal(t, kafka.Snappy, parseCompression("snappy"))
	assert.Equal(t, kafka.Lz4, parseCompression("lz4"))
	assert.Equal(t, kafka.Gzip, parseCompression(""))
	assert.Equal(t, kafka.Gzip, parseCompression("brotli"))
}

func TestPublishBatchEncodesValuesAndHeaders(t *testing.T) {
	fw := &fakeWriter{}
	p := newProducer(fw, "gzip")

	err := p.PublishBatch(context.Background(), "deskcast.runs", []Message{
		{Key: []byte("NETWORK_GENERAL/3"), Value: map[string]int{"rows": 8}, Headers: map[string]string{HeaderRunID: "r1"}},
		{Value: "plain"},
		{Value: []byte("raw")},
	})
	require.NoError(t, err)
	require.Len(t, fw.msgs, 3)

	assert.Equal(t, "deskcast.runs", fw.msgs[0].Topic)
	assert.JSONEq(t, `{"rows":8}`, string(fw.msgs[0].Value))
	assert.Equal(t, "r1", ExtractHeader(fw.msgs[0], HeaderRunID))
	assert.Equal(t, "plain", string(fw.msgs[1].Value))
	assert.Equal(t, "raw", string(fw.msgs[2].Value))
	assert.Empty(t, fw.msgs[1].Headers)
	assert.Equal(t, fw.msgs[0].Time, fw.msgs[2].Time)

	require.NoError(t, p.Close())
	assert.True(t, fw.closed)
}

func TestPublishBatchStopsOnEncodeError(t *testing.T) {
	fw := &fakeWriter{}
	p := newProducer(fw, "gzip")

	err := p.PublishBatch(context.Background(), "t", []Message{{Value: "ok"}, {Value: make(chan int)}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "message 1")
	assert.Empty(t, fw.msgs)

	require.NoError(t, p.PublishBatch(context.Background(), "t", nil))
}

func TestPublishWrapsWriterError(t *testing.T) {
	boom := errors.New("broker down")
	p := newProducer(&fakeWriter{err: boom}, "gzip")
	err := p.PublishMessage(context.Background(), "deskcast.logs", map[string]string{"level": "warn"})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "deskcast.logs")
}

func TestRunIDContext(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", RunIDFromContext(ctx))
	assert.Equal(t, ctx, WithRunID(ctx, ""))
	assert.Equal(t, "r9", RunIDFromContext(WithRunID(ctx, "r9")))

	km := kafka.Message{Headers: []kafka.Header{{Key: HeaderRunID, Value: nil}, {Key: "other", Value: []byte("x")}}}
	assert.Equal(t, "", ExtractHeader(km, HeaderRunID))
	assert.Equal(t, "x", ExtractHeader(km, "other"))
}

func TestBackoffWithJitterBounds(t *testing.T) {
	for attempt := 1; attempt <= 6; attempt++ {
		d := backoffWithJitter(100*time.Millisecond, time.Second, attempt)
		assert.LessOrEqual(t, d, time.Second)
		assert.Greater(t, d, time.Duration(0))
	}
	assert.LessOrEqual(t, backoffWithJitter(0, 0, 1), 50*time.Millisecond)
}

type handlerFunc func(context.Context, []byte) error

func (f handlerFunc) Topic() string                              { return "deskcast.runs" }
func (f handlerFunc) Handle(ctx context.Context, b []byte) error { return f(ctx, b) }

func TestConsumerRetriesThenGivesUp(t *testing.T) {
	c, err := NewConsumer(nil, WithConsumerBrokers([]string{"localhost:9092"}),
		WithConsumerRetry(2, time.Millisecond, 2*time.Millisecond))
	require.NoError(t, err)

	var seen []string
	var errs int
	c.WithConsumerHook(HookFuncs{
		Before: func(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
			return WithRunID(ctx, ExtractHeader(km, HeaderRunID)), km, data, nil
		},
		Err: func(context.Context, string, kafka.Message, []byte, error) { errs++ },
	})

	calls := 0
	h := handlerFunc(func(ctx context.Context, _ []byte) error {
		calls++
		seen = append(seen, RunIDFromContext(ctx))
		return errors.New("nope")
	})
	km := kafka.Message{Topic: "deskcast.runs", Headers: []kafka.Header{{Key: HeaderRunID, Value: []byte("r3")}}}

	require.Error(t, c.handle(h, km))
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, errs)
	assert.Equal(t, []string{"r3", "r3", "r3"}, seen)
}

func TestConsumerRecoversHandlerPanic(t *testing.T) {
	c, err := NewConsumer(nil, WithConsumerBrokers([]string{"localhost:9092"}))
	require.NoError(t, err)

	h := handlerFunc(func(context.Context, []byte) error { panic("bad payload") })
	err = c.handle(h, kafka.Message{Topic: "deskcast.runs"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad payload")
}

func TestConsumerStartNeedsHandlers(t *testing.T) {
	c, err := NewConsumer(nil, WithConsumerBrokers([]string{"localhost:9092"}))
	require.NoError(t, err)
	require.Error(t, c.Start())
}
