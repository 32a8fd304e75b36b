package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// mirrorMessage is the payload published to Kafka. Details stay sealed in
// the primary store and are never mirrored.
type mirrorMessage struct {
	EventID   string    `json:"event_id"`
	Seq       int64     `json:"seq"`
	Action    Action    `json:"action"`
	Model     string    `json:"model"`
	RecordID  *int64    `json:"record_id,omitempty"`
	UserID    *int64    `json:"user_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Hash      string    `json:"hash"`
}

func encodeMirror(e Entry) ([]byte, error) {
	return json.Marshal(mirrorMessage{
		EventID:   e.EventID,
		Seq:       e.Seq,
		Action:    e.Action,
		Model:     e.Model,
		RecordID:  e.RecordID,
		UserID:    e.UserID,
		CreatedAt: e.CreatedAt,
		Hash:      e.Hash,
	})
}

// KafkaPublisher mirrors committed entries to a Kafka topic asynchronously.
type KafkaPublisher struct {
	client *kgo.Client
	logger *slog.Logger
}

var _ Publisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher connects a producer for topic on brokers.
func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, fmt.Errorf("audit: kafka brokers and topic are required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerLinger(50*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("audit: creating kafka client: %w", err)
	}
	return &KafkaPublisher{client: client, logger: logger}, nil
}

// Publish enqueues e; delivery failures are logged.
func (p *KafkaPublisher) Publish(ctx context.Context, e Entry) {
	value, err := encodeMirror(e)
	if err != nil {
		p.logger.WarnContext(ctx, "audit mirror encode failed", slog.String("error", err.Error()))
		return
	}
	rec := &kgo.Record{Key: []byte(e.Model), Value: value}
	// The caller's context may end with its request; production outlives it.
	p.client.Produce(context.WithoutCancel(ctx), rec, func(_ *kgo.Record, err error) {
		if err != nil {
			p.logger.Warn("audit mirror publish failed",
				slog.String("event_id", e.EventID),
				slog.String("error", err.Error()))
		}
	})
}

// Close flushes buffered records and closes the producer.
func (p *KafkaPublisher) Close(ctx context.Context) error {
	err := p.client.Flush(ctx)
	p.client.Close()
	return err
}
