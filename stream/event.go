// Package stream provides a real-time event broker for request lifecycle
// events. It bridges the ext.Extension system to in-process subscribers
// via topic-based pub/sub.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	// Request events.
	EventRequestSubmitted EventType = "request.submitted"
	EventRequestAdmitted  EventType = "request.admitted"
	EventRequestStarted   EventType = "request.started"
	EventRequestRetrying  EventType = "request.retrying"
	EventRequestFinished  EventType = "request.finished"
	EventRequestRejected  EventType = "request.rejected"
)

// Event is the envelope sent to subscribers on a topic channel.
type Event struct {
	// Type identifies the lifecycle event.
	Type EventType `json:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts"`

	// Topic is the channel this event was published on.
	Topic string `json:"topic"`

	// Data is the event-specific payload.
	Data json.RawMessage `json:"data"`
}

// RequestEventData is the payload for request lifecycle events.
// Fields beyond RequestID are populated per event type: Attempt and
// NextDelayMs for retries, Status/Attempts/LatencyMs/WorkerID for
// terminal outcomes, Error for failures and rejections.
type RequestEventData struct {
	RequestID    string `json:"request_id"`
	PayloadBytes int    `json:"payload_bytes,omitempty"`
	Status       string `json:"status,omitempty"`
	Attempt      int    `json:"attempt,omitempty"`
	Attempts     int    `json:"attempts,omitempty"`
	NextDelayMs  int64  `json:"next_delay_ms,omitempty"`
	LatencyMs    int64  `json:"latency_ms,omitempty"`
	WorkerID     string `json:"worker_id,omitempty"`
	Error        string `json:"error,omitempty"`
}
