package models

import "time"

// Ingest event types published to Kafka
const (
	EventSymbolIngested = "SYMBOL_INGESTED"
	EventSymbolFailed   = "SYMBOL_FAILED"
	EventRunCompleted   = "RUN_COMPLETED"
)

// IngestEvent represents a Kafka event for pipeline progress
type IngestEvent struct {
	EventType string         `json:"event_type"`
	RunID     string         `json:"run_id"`
	Symbol    string         `json:"symbol,omitempty"`
	Outcome   *SymbolOutcome `json:"outcome,omitempty"`
	Report    *RunReport     `json:"report,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
