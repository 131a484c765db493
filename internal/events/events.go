// Package events defines the wire event envelope emitted by the
// Analytics Recorder, plus the Kafka-backed publisher
// adapter, grounded on pkg/kafka's sarama wrapper.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type enumerates the event_type values spec section 6 names.
type Type string

const (
	TypeDeploymentStarted    Type = "deployment.started"
	TypeDeploymentSucceeded  Type = "deployment.succeeded"
	TypeDeploymentFailed     Type = "deployment.failed"
	TypeDeploymentRolledBack Type = "deployment.rolled_back"
	TypeRollbackStarted      Type = "rollback.started"
	TypeRollbackSucceeded    Type = "rollback.succeeded"
	TypeRollbackFailed       Type = "rollback.failed"
	TypeAlertCreated         Type = "alert.created"
)

// Envelope is the spec §6 wire-event JSON shape.
type Envelope struct {
	EventType     Type      `json:"event_type"`
	EventID       uuid.UUID `json:"event_id"`
	Timestamp     time.Time `json:"timestamp"`
	Source        string    `json:"source"`
	CorrelationID string    `json:"correlation_id"`
	Data          any       `json:"data"`
}

// NewEnvelope stamps an envelope with a fresh event id and the current
// time, source fixed to the one this engine identifies itself as.
func NewEnvelope(eventType Type, correlationID string, data any) Envelope {
	return Envelope{
		EventType:     eventType,
		EventID:       uuid.New(),
		Timestamp:     time.Now().UTC(),
		Source:        "rollforge",
		CorrelationID: correlationID,
		Data:          data,
	}
}

// Publisher is the injected broker port the Analytics Recorder publishes
// onto. Publish is expected to be best-effort: a caller
// logs a failure and moves on rather than letting it block the
// durable/in-memory write path.
type Publisher interface {
	Publish(ctx context.Context, envelope Envelope) error
}

// NoopPublisher drops every event, used where no broker is configured;
// the spec lists the broker as "optionally".
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, envelope Envelope) error { return nil }
