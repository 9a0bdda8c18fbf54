package capture

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/flockd-io/flockd/internal/logging"
	"github.com/flockd-io/flockd/internal/metrics"
)

// KafkaConfig configures a KafkaSink.
type KafkaConfig struct {
	Brokers           []string
	Topic             string
	Partitions        int32
	ReplicationFactor int16
	RunID             string
}

// producer is the part of *kgo.Client the sink uses.
type producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
	Flush(ctx context.Context) error
	Close()
}

// topicCreator is the part of *kadm.Client used to create the topic.
type topicCreator interface {
	CreateTopics(ctx context.Context, partitions int32, replicationFactor int16, configs map[string]*string, topics ...string) (kadm.CreateTopicResponses, error)
}

// KafkaSink publishes one record per frame. The key is the tick and the
// value is the binary frame.
type KafkaSink struct {
	client  producer
	cfg     KafkaConfig
	metrics *metrics.CaptureMetrics
	logger  *logging.Logger
}

// NewKafkaSink connects to the brokers and creates the topic if needed.
func NewKafkaSink(ctx context.Context, cfg KafkaConfig, m *metrics.CaptureMetrics, logger *logging.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("capture: kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("capture: kafka topic is required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("capture: kafka client: %w", err)
	}
	if err := EnsureTopic(ctx, kadm.NewClient(client), cfg); err != nil {
		client.Close()
		return nil, err
	}
	return newKafkaSink(client, cfg, m, logger), nil
}

func newKafkaSink(client producer, cfg KafkaConfig, m *metrics.CaptureMetrics, logger *logging.Logger) *KafkaSink {
	if logger == nil {
		logger = logging.Nop()
	}
	return &KafkaSink{
		client:  client,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With(map[string]any{"component": "kafka-sink", "topic": cfg.Topic}),
	}
}

// EnsureTopic creates cfg.Topic. An existing topic is not an error.
func EnsureTopic(ctx context.Context, adm topicCreator, cfg KafkaConfig) error {
	partitions := cfg.Partitions
	if partitions <= 0 {
		partitions = 1
	}
	rf := cfg.ReplicationFactor
	if rf <= 0 {
		rf = 1
	}
	resp, err := adm.CreateTopics(ctx, partitions, rf, nil, cfg.Topic)
	if err != nil {
		return fmt.Errorf("capture: create topic %s: %w", cfg.Topic, err)
	}
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("capture: create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

func (k *KafkaSink) Name() string { return metrics.SinkKafka }

// WriteFrame produces f asynchronously. Delivery failures are logged and
// counted when the broker answers.
func (k *KafkaSink) WriteFrame(ctx context.Context, f Frame) error {
	rec := &kgo.Record{
		Topic: k.cfg.Topic,
		Key:   []byte(strconv.FormatUint(f.Tick, 10)),
		Value: EncodeFrame(f),
	}
	if k.cfg.RunID != "" {
		rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: "run", Value: []byte(k.cfg.RunID)})
	}
	n := len(f.Records)
	k.client.Produce(ctx, rec, func(r *kgo.Record, err error) {
		if k.metrics != nil {
			k.metrics.RecordSink(metrics.SinkKafka, n, err == nil)
		}
		if err != nil {
			k.logger.Warnf("frame produce failed", map[string]any{
				"tick":  f.Tick,
				"error": err.Error(),
			})
		}
	})
	return nil
}

// Close waits for outstanding records and closes the client.
func (k *KafkaSink) Close(ctx context.Context) error {
	err := k.client.Flush(ctx)
	k.client.Close()
	return err
}
