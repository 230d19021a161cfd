// Package sink publishes recorded strategy transitions to external systems.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"beacon/internal/strategy"
)

// FlushTimeout bounds how long shutdown waits for lingering records.
const FlushTimeout = 5 * time.Second

// Producer is the subset of *kgo.Client used by the publisher.
type Producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
	Flush(ctx context.Context) error
}

// KafkaPublisher forwards transitions to a Kafka topic, keyed by domain so a
// domain's transitions stay ordered within one partition.
type KafkaPublisher struct {
	producer Producer
	topic    string
	logger   *slog.Logger
}

// NewKafkaPublisher creates a publisher on an existing producer.
func NewKafkaPublisher(producer Producer, topic string, logger *slog.Logger) (*KafkaPublisher, error) {
	if producer == nil {
		return nil, errors.New("producer is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaPublisher{producer: producer, topic: topic, logger: logger}, nil
}

// NewClient connects a producer client to brokers.
func NewClient(brokers []string, topic string) (*kgo.Client, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerLinger(50*time.Millisecond),
		kgo.RecordDeliveryTimeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("creating kafka client: %w", err)
	}
	return client, nil
}

// EnsureTopic creates topic unless it already exists.
func EnsureTopic(ctx context.Context, client *kgo.Client, topic string, partitions int32, replicationFactor int16) error {
	resp, err := kadm.NewClient(client).CreateTopic(ctx, partitions, replicationFactor, nil, topic)
	if err == nil {
		err = resp.Err
	}
	if err != nil && !errors.Is(err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("creating topic %s: %w", topic, err)
	}
	return nil
}

// OnTransition enqueues the event. Delivery is asynchronous; failures are
// logged and never reach the control loop.
func (p *KafkaPublisher) OnTransition(ctx context.Context, ev strategy.TransitionEvent) {
	value, err := json.Marshal(ev)
	if err != nil {
		p.logger.ErrorContext(ctx, "encoding strategy transition", "domain", ev.Domain, "error", err)
		return
	}

	record := &kgo.Record{
		Topic:     p.topic,
		Key:       []byte(ev.Domain),
		Value:     value,
		Timestamp: ev.OccurredAt,
	}
	// the evaluation context ends with the tick; the record must outlive it
	p.producer.Produce(context.WithoutCancel(ctx), record, func(r *kgo.Record, err error) {
		if err != nil {
			p.logger.Warn("publishing strategy transition failed",
				"topic", r.Topic,
				"domain", string(r.Key),
				"error", err,
			)
		}
	})
}

// Flush waits up to timeout for buffered records, including those still in the
// linger window, to be acknowledged.
func (p *KafkaPublisher) Flush(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := p.producer.Flush(ctx); err != nil {
		return fmt.Errorf("flushing topic %s: %w", p.topic, err)
	}
	return nil
}
