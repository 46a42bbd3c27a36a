package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/trogers1052/stock-ingest-pipeline/internal/models"
)

// messageWriter is the part of *kafka.Writer the producer uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes pipeline progress events to Kafka
type Producer struct {
	writer messageWriter
	topic  string
	now    func() time.Time
}

// NewProducer creates a new Kafka producer
func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}

	return &Producer{
		writer: writer,
		topic:  topic,
		now:    time.Now,
	}
}

// PublishSymbolOutcome publishes SYMBOL_INGESTED or SYMBOL_FAILED, keyed by symbol
func (p *Producer) PublishSymbolOutcome(ctx context.Context, runID string, outcome models.SymbolOutcome) error {
	eventType := models.EventSymbolIngested
	if outcome.State == models.StateFailed {
		eventType = models.EventSymbolFailed
	}
	event := models.IngestEvent{
		EventType: eventType,
		RunID:     runID,
		Symbol:    outcome.Symbol,
		Outcome:   &outcome,
		Timestamp: p.now(),
	}
	return p.publish(ctx, outcome.Symbol, event)
}

// PublishRunCompleted publishes RUN_COMPLETED, keyed by run id
func (p *Producer) PublishRunCompleted(ctx context.Context, report *models.RunReport) error {
	event := models.IngestEvent{
		EventType: models.EventRunCompleted,
		RunID:     report.RunID,
		Report:    report,
		Timestamp: p.now(),
	}
	return p.publish(ctx, report.RunID, event)
}

func (p *Producer) publish(ctx context.Context, key string, event models.IngestEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to kafka topic %s: %w", p.topic, err)
	}

	return nil
}

// Close closes the Kafka producer
func (p *Producer) Close() error {
	return p.writer.Close()
}
