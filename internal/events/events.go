// Package events publishes domain events after a unit of work commits.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

type Type string

const (
	PrescriptionCreated          Type = "prescription.created"
	PrescriptionCompleted        Type = "prescription.completed"
	PrescriptionCancelled        Type = "prescription.cancelled"
	PrescriptionStatusOverridden Type = "prescription.status_overridden"
	MedicineLowStock             Type = "medicine.low_stock"
)

type Event struct {
	ID          string    `json:"id"`
	Type        Type      `json:"type"`
	OwnerID     string    `json:"owner_id"`
	AggregateID string    `json:"aggregate_id"`
	OccurredAt  time.Time `json:"occurred_at"`
	Payload     any       `json:"payload"`
}

func New(t Type, owner, aggregateID string, payload any) Event {
	return Event{
		ID:          uuid.NewString(),
		Type:        t,
		OwnerID:     owner,
		AggregateID: aggregateID,
		OccurredAt:  time.Now().UTC(),
		Payload:     payload,
	}
}

// Key keeps events of one aggregate on one partition.
func (e Event) Key() string { return e.OwnerID + "/" + e.AggregateID }

type Publisher interface {
	Publish(ctx context.Context, evs ...Event) error
}

// Nop drops every event; used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, ...Event) error { return nil }

// messageWriter abstracts kafka.Writer for testability.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON to one topic (segmentio/kafka-go).
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher creates a synchronous writer; brokers is a comma-separated host:port list.
func NewKafkaPublisher(brokers, topic string) *KafkaPublisher {
	var addrs []string
	for _, a := range strings.Split(brokers, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(addrs...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}}
}

// newKafkaPublisherWith wraps an existing writer.
func newKafkaPublisherWith(w messageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

func (k *KafkaPublisher) Publish(ctx context.Context, evs ...Event) error {
	if len(evs) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(evs))
	for _, e := range evs {
		b, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", e.Type, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:     []byte(e.Key()),
			Value:   b,
			Headers: []kafka.Header{{Key: "event-type", Value: []byte(e.Type)}},
			Time:    e.OccurredAt,
		})
	}
	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (k *KafkaPublisher) Close() error { return k.writer.Close() }
