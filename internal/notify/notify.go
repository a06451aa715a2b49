// Package notify tells other sync participants that a user's data changed so
// they can start a sync cycle. Delivery is best effort; correctness never
// depends on it because every participant also pulls by cursor.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/atinyakov/HealthSync/internal/models"
	"github.com/segmentio/kafka-go"
)

// EventRecordChanged is the type of every message published by this package.
const EventRecordChanged = "record.changed"

// Change describes one record version that participants have not received yet.
type Change struct {
	Event     string      `json:"event"`
	UserID    string      `json:"userId"`
	Kind      models.Kind `json:"kind"`
	ID        string      `json:"id"`
	UpdatedAt time.Time   `json:"updatedAt"`
	Deleted   bool        `json:"isDeleted"`
	// Origin is the client that produced the change, empty for server-side edits.
	Origin string `json:"origin,omitempty"`
}

// ChangeOf builds a Change for rec.
func ChangeOf(rec models.Record, origin string) Change {
	return Change{
		Event:     EventRecordChanged,
		UserID:    rec.UserID,
		Kind:      rec.Kind,
		ID:        rec.ID,
		UpdatedAt: rec.UpdatedAt,
		Deleted:   rec.IsDeleted(),
		Origin:    origin,
	}
}

// Nop discards every change. It is used when no brokers are configured.
type Nop struct{}

// Publish implements the notifier contract.
func (Nop) Publish(context.Context, ...Change) error { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes changes to a Kafka topic keyed by user id, so all
// changes of one user land on the same partition.
type KafkaPublisher struct {
	brokers []string
	topic   string

	mu     sync.Mutex
	writer messageWriter
}

// NewKafkaPublisher creates a publisher. The writer is created on first use.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{brokers: brokers, topic: topic}
}

// Publish writes one message per change.
func (p *KafkaPublisher) Publish(ctx context.Context, changes ...Change) error {
	if len(changes) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(changes))
	for _, c := range changes {
		body, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("encode change %s/%s: %w", c.Kind, c.ID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(c.UserID),
			Value: body,
			Headers: []kafka.Header{
				{Key: "event", Value: []byte(c.Event)},
			},
		})
	}
	if err := p.writerForTopic().WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish changes: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) writerForTopic() messageWriter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.writer != nil {
		return p.writer
	}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(p.brokers...),
		Topic:        p.topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		Async:        false,
	}
	return p.writer
}

// Close releases the writer.
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.writer == nil {
		return nil
	}
	err := p.writer.Close()
	p.writer = nil
	return err
}
