package repository

import (
	"context"

	"VolBot/internal/domain/models"
	"VolBot/pkg/kafka"
)

// KafkaNotifier publishes trade reports to a Kafka topic, keyed by signal
// id so per-signal ordering survives partitioning.
type KafkaNotifier struct {
	producer *kafka.Producer
	topic    string
}

func NewKafkaNotifier(producer *kafka.Producer, topic string) *KafkaNotifier {
	return &KafkaNotifier{producer: producer, topic: topic}
}

func (n *KafkaNotifier) SendTradeReport(ctx context.Context, r *models.TradeReport) error {
	return n.producer.Publish(ctx, n.topic, []byte(r.SignalID), r)
}

// PublishMessage lets the producer double as the logger's aggregated
// error-log sink.
func (n *KafkaNotifier) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return n.producer.Publish(ctx, topic, nil, payload)
}

func (n *KafkaNotifier) Close() error {
	return n.producer.Close()
}
