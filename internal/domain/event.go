package domain

import (
	"strings"
	"time"
)

// TimestampLayout is the ISO-8601 millisecond form used for event and audit timestamps.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// EventSource records where a normalized event came from.
type EventSource string

const (
	SourceWebhook        EventSource = "webhook"
	SourceReconciliation EventSource = "reconciliation"
)

// NormalizedEvent is the canonical shape every inbound occurrence is reduced to.
// Enrichment is attached by the worker, never at intake.
type NormalizedEvent struct {
	EventID           string         `json:"event_id"`
	EventType         string         `json:"event_type"`
	OccurredAt        string         `json:"occurred_at"`
	TenantID          string         `json:"tenant_id"`
	ResourceID        string         `json:"resource_id"`
	ResourceVersion   string         `json:"resource_version,omitempty"`
	Payload           map[string]any `json:"payload"`
	Enrichment        *Enrichment    `json:"enrichment,omitempty"`
	Source            EventSource    `json:"source"`
	SignatureVerified bool           `json:"signature_verified"`
}

// OccurredTime parses OccurredAt, falling back to now when it is not a valid timestamp.
func (e NormalizedEvent) OccurredTime(now time.Time) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, e.OccurredAt); err == nil {
		return t
	}
	return now
}

// Entity returns the entity type prefix of the event type (the part before the first dot).
func (e NormalizedEvent) Entity() string {
	prefix, _, _ := strings.Cut(e.EventType, ".")
	return prefix
}

// WithEnrichment returns a copy of the event carrying the given enrichment.
func (e NormalizedEvent) WithEnrichment(enrichment *Enrichment) NormalizedEvent {
	e.Enrichment = enrichment
	return e
}

// CanonicalEventRecord is the write-once stored form of a verified event.
type CanonicalEventRecord struct {
	Event      NormalizedEvent   `json:"event"`
	AuditID    string            `json:"audit_id"`
	ReceivedAt time.Time         `json:"received_at"`
	RawBody    string            `json:"raw_body"`
	Headers    map[string]string `json:"headers"`
}

// QueueJob references canonical state by id. ReplayReason is set for DLQ and
// reconciliation replays.
type QueueJob struct {
	EventID      string `json:"event_id"`
	AuditID      string `json:"audit_id"`
	ReplayReason string `json:"replay_reason,omitempty"`
}

// Replay reasons attached to re-enqueued jobs.
const (
	ReplayReasonDLQ             = "dlq-replay"
	ReplayReasonMissingResource = "missing-resource-detected"
)
