package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/aster/pkg/metrics"
	"github.com/Ramsey-B/aster/pkg/tracing"
)

// PublisherConfig holds Kafka publisher configuration
type PublisherConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	RequiredAcks int
	WriteTimeout time.Duration
	Compression  string
}

// Publisher writes domain events to Kafka. Events sharing a partition key
// land on one partition, so per-conversation emission order survives the
// broker.
type Publisher struct {
	writer *kafka.Writer
	logger ectologger.Logger
	topic  string
}

// NewPublisher creates a new Kafka publisher
func NewPublisher(cfg PublisherConfig, logger ectologger.Logger) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}

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
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{}, // Hash by key for partition affinity
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		WriteTimeout:           cfg.WriteTimeout,
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:            compression,
		AllowAutoTopicCreation: true,
	}

	return &Publisher{
		writer: writer,
		logger: logger,
		topic:  cfg.Topic,
	}, nil
}

// Publish writes a single domain event
func (p *Publisher) Publish(ctx context.Context, event *DomainEvent) error {
	ctx, span := tracing.StartSpan(ctx, "events.Publisher.Publish")
	defer span.End()

	start := time.Now()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.SchemaVersion == "" {
		event.SchemaVersion = SchemaVersion
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize domain event: %w", err)
	}

	// Key by subdomain plus the event's grouping key so one conversation's
	// events stay ordered
	key := event.Subdomain
	if event.PartitionKey != "" {
		key = fmt.Sprintf("%s:%s", event.Subdomain, event.PartitionKey)
	}

	headers := []kafka.Header{
		{Key: "event_type", Value: []byte(event.Type)},
		{Key: "subdomain", Value: []byte(event.Subdomain)},
		{Key: "schema_version", Value: []byte(event.SchemaVersion)},
	}
	if traceParent := tracing.GetTraceParent(ctx); traceParent != "" {
		headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(traceParent)})
	}
	if traceState := tracing.GetTraceState(ctx); traceState != "" {
		headers = append(headers, kafka.Header{Key: "tracestate", Value: []byte(traceState)})
	}

	msg := kafka.Message{
		Key:     []byte(key),
		Value:   data,
		Headers: headers,
		Time:    event.Timestamp,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"event_type": event.Type,
			"event_id":   event.ID,
		}).Error("Failed to publish domain event")
		return fmt.Errorf("failed to publish domain event: %w", err)
	}

	metrics.KafkaPublishDuration.Observe(time.Since(start).Seconds())

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"event_type": event.Type,
		"event_id":   event.ID,
		"subdomain":  event.Subdomain,
	}).Debug("Published domain event")

	return nil
}

// Close closes the publisher
func (p *Publisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close publisher: %w", err)
	}
	p.logger.Info("Kafka publisher closed")
	return nil
}

// Stats returns writer statistics
func (p *Publisher) Stats() kafka.WriterStats {
	return p.writer.Stats()
}
