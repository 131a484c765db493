package events

import (
	"context"

	"github.com/quantumlayerhq/rollforge/pkg/config"
	"github.com/quantumlayerhq/rollforge/pkg/kafka"
)

// KafkaPublisher publishes envelopes through pkg/kafka's sarama
// SyncProducer, keyed by the envelope's correlation id (the deployment
// id for every event type this engine emits).
type KafkaPublisher struct {
	producer *kafka.Producer
	topic    string
}

// NewKafkaPublisher wraps an already-constructed kafka.Producer.
func NewKafkaPublisher(producer *kafka.Producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

// NewKafkaPublisherFromConfig builds the producer and wraps it in one
// step, using the deployment-events topic from KafkaConfig.
func NewKafkaPublisherFromConfig(cfg config.KafkaConfig) (*KafkaPublisher, error) {
	producer, err := kafka.NewProducer(cfg)
	if err != nil {
		return nil, err
	}
	return NewKafkaPublisher(producer, cfg.Topics.DeploymentEvents), nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, envelope Envelope) error {
	return p.producer.Publish(ctx, p.topic, envelope.CorrelationID, envelope)
}

// Close releases the underlying producer.
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
