package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/clover/pkg/tracing"
)

// SchemaVersion is stamped on every message header.
const SchemaVersion = "1.0"

// MessageWriter is the part of kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes change events to a single topic.
type Producer struct {
	writer MessageWriter
	logger ectologger.Logger
	topic  string
}

type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	RequiredAcks int
	Compression  string
}

func NewProducer(cfg ProducerConfig, logger ectologger.Logger) *Producer {
	compression := kafka.Snappy
	switch cfg.Compression {
	case "gzip":
		compression = kafka.Gzip
	case "lz4":
		compression = kafka.Lz4
	case "zstd":
		compression = kafka.Zstd
	case "none":
		compression = 0
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:            compression,
		AllowAutoTopicCreation: true,
	}

	return NewProducerWithWriter(writer, cfg.Topic, logger)
}

func NewProducerWithWriter(writer MessageWriter, topic string, logger ectologger.Logger) *Producer {
	return &Producer{
		writer: writer,
		logger: logger,
		topic:  topic,
	}
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// Event is a change to one stored entity. Key orders events of the same entity on one partition.
type Event struct {
	EventType  string          `json:"event_type"`
	EntityType string          `json:"entity_type"`
	Key        string          `json:"key"`
	RunID      string          `json:"run_id,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// PublishEvents writes the events in one batch.
func (p *Producer) PublishEvents(ctx context.Context, events []*Event) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishEvents")
	defer span.End()

	if len(events) == 0 {
		return nil
	}

	messages := make([]kafka.Message, len(events))
	for i, event := range events {
		if event.Timestamp.IsZero() {
			event.Timestamp = time.Now().UTC()
		}

		data, err := json.Marshal(event)
		if err != nil {
			return err
		}

		messages[i] = kafka.Message{
			Topic: p.topic,
			Key:   []byte(event.Key),
			Value: data,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(event.EventType)},
				{Key: "entity_type", Value: []byte(event.EntityType)},
				{Key: "schema_version", Value: []byte(SchemaVersion)},
			},
		}
	}

	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"batch_size": len(events),
		}).Error("Failed to publish events batch")
		return err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"batch_size": len(events),
		"topic":      p.topic,
	}).Debug("Published events batch")

	return nil
}
