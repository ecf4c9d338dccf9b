// Package kafka forwards checkout events from the in-process bus to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/frahmantamala/checkout/internal/core/events"
	kafkago "github.com/segmentio/kafka-go"
)

// MessageWriter is satisfied by *kafkago.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

type Config struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

type Forwarder struct {
	writer       MessageWriter
	writeTimeout time.Duration
	logger       *slog.Logger
}

func NewWriter(config Config) *kafkago.Writer {
	return &kafkago.Writer{
		Addr:         kafkago.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireOne,
	}
}

func NewForwarder(writer MessageWriter, writeTimeout time.Duration, logger *slog.Logger) *Forwarder {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &Forwarder{
		writer:       writer,
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

// Register subscribes the forwarder to every event on bus.
func (f *Forwarder) Register(bus *events.EventBus) {
	bus.Subscribe(events.AllEvents, f.Handle)
}

// Handle writes one event keyed by session id so a session's events stay ordered within a partition.
func (f *Forwarder) Handle(ctx context.Context, event events.Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event.EventID(), err)
	}

	key := event.EventID()
	if data, ok := event.Payload().(map[string]interface{}); ok {
		if sessionID, ok := data["session_id"].(string); ok && sessionID != "" {
			key = sessionID
		}
	}

	ctx, cancel := context.WithTimeout(ctx, f.writeTimeout)
	defer cancel()

	err = f.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(key),
		Value: value,
		Time:  event.OccurredAt(),
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(event.EventType())},
			{Key: "event_id", Value: []byte(event.EventID())},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to forward event %s: %w", event.EventID(), err)
	}

	f.logger.Debug("event forwarded to kafka", "event_type", event.EventType(), "event_id", event.EventID())
	return nil
}

func (f *Forwarder) Close() error {
	return f.writer.Close()
}
