package push

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
)

// DefaultKafkaTopic carries payment events for all terminals.
const DefaultKafkaTopic = "kasir.payment.events"

// KafkaSource receives push events from a Kafka topic.
type KafkaSource struct {
	r *kafka.Reader
}

// NewKafkaSource creates a reader in the consumer group of terminalID so
// every terminal sees every payment event.
func NewKafkaSource(brokers []string, topic, terminalID string) *KafkaSource {
	if topic == "" {
		topic = DefaultKafkaTopic
	}
	return &KafkaSource{r: kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        "kasir-" + terminalID,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
		StartOffset:    kafka.LastOffset,
	})}
}

// Listen implements Source. Offsets are committed after the handler
// returns.
func (s *KafkaSource) Listen(ctx context.Context, h Handler) error {
	defer func() { _ = s.r.Close() }()

	for {
		m, err := s.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "fetch message")
		}
		if err := h(ctx, m.Value); err != nil {
			return err
		}
		if err := s.r.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "commit message")
		}
	}
}
