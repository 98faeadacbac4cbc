package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

// Message is one record handed to PublishBatch. Value may be raw bytes, a
// string, or anything encoding/json can marshal.
type Message struct {
	Key     []byte
	Value   interface{}
	Headers map[string]string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes run events and aggregated logs.
type Producer struct {
	w           messageWriter
	compression string
	now         func() time.Time
}

func NewProducer(opts ...ProducerOption) (*Producer, error) {
	cfg := defaultProducerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return newProducer(cfg.writer(), cfg.Compression), nil
}

func newProducer(w messageWriter, compression string) *Producer {
	return &Producer{w: w, compression: compression, now: time.Now}
}

// Publish sends a single message. Headers may be nil.
func (p *Producer) Publish(ctx context.Context, topic string, key []byte, value interface{}, headers map[string]string) error {
	return p.PublishBatch(ctx, topic, []Message{{Key: key, Value: value, Headers: headers}})
}

// PublishMessage satisfies logger.Publisher so aggregated logs ride the same writer.
func (p *Producer) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.Publish(ctx, topic, nil, payload, nil)
}

// PublishBatch writes all messages in one call. Nothing is written if any
// value fails to encode.
func (p *Producer) PublishBatch(ctx context.Context, topic string, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}

	start := p.now()
	batch, size, err := p.toKafka(topic, messages, start)
	if err != nil {
		return err
	}

	err = p.w.WriteMessages(ctx, batch...)
	producerStats().observe(topic, p.compression, size, len(batch), time.Since(start), err)
	if err != nil {
		return fmt.Errorf("kafka publish %s: %w", topic, err)
	}
	return nil
}

func (p *Producer) toKafka(topic string, messages []Message, ts time.Time) ([]kafka.Message, int64, error) {
	out := make([]kafka.Message, len(messages))
	var size int64
	for i, m := range messages {
		v, err := encode(m.Value)
		if err != nil {
			return nil, 0, fmt.Errorf("kafka publish %s: message %d: %w", topic, i, err)
		}
		km := kafka.Message{Topic: topic, Key: m.Key, Value: v, Time: ts}
		if len(m.Headers) > 0 {
			km.Headers = make([]kafka.Header, 0, len(m.Headers))
			for k, hv := range m.Headers {
				km.Headers = append(km.Headers, kafka.Header{Key: k, Value: []byte(hv)})
			}
		}
		out[i] = km
		size += int64(len(v))
	}
	return out, size, nil
}

func (p *Producer) Close() error {
	if p == nil || p.w == nil {
		return nil
	}
	return p.w.Close()
}

func encode(value interface{}) ([]byte, error) {
	switch val := value.(type) {
	case []byte:
		return val, nil
	case string:
		return []byte(val), nil
	case nil:
		return nil, nil
	}
	v, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	return v, nil
}

type producerMetrics struct {
	messages *prometheus.CounterVec
	bytes    *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	producerMetricsOnce sync.Once
	producerMetricsInst *producerMetrics
)

func producerStats() *producerMetrics {
	producerMetricsOnce.Do(func() {
		producerMetricsInst = &producerMetrics{
			messages: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "deskcast_kafka_producer_messages_total",
				Help: "Messages published to Kafka by result",
			}, []string{"topic", "result"}),
			bytes: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "deskcast_kafka_producer_bytes_total",
				Help: "Encoded payload bytes published",
			}, []string{"topic", "compression"}),
			latency: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "deskcast_kafka_producer_publish_seconds",
				Help:    "Time spent in one batch write",
				Buckets: prometheus.DefBuckets,
			}, []string{"topic"}),
		}
	})
	return producerMetricsInst
}

func (m *producerMetrics) observe(topic, compression string, size int64, count int, dur time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.messages.WithLabelValues(topic, result).Add(float64(count))
	if err == nil {
		m.bytes.WithLabelValues(topic, compression).Add(float64(size))
	}
	m.latency.WithLabelValues(topic).Observe(dur.Seconds())
}
