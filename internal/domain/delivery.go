package domain

import (
	"time"
)

// DeliveryResult is what a connector reports after a delivery attempt.
type DeliveryResult struct {
	Success bool   `json:"success"`
	Details string `json:"details,omitempty"`
}

// DeliveryContext is passed to every connector delivery.
type DeliveryContext struct {
	EventID        string
	IdempotencyKey string
}

// HistoryStatus classifies an entry in the event history.
type HistoryStatus string

const (
	HistoryAccepted  HistoryStatus = "accepted"
	HistoryDuplicate HistoryStatus = "duplicate"
	HistoryProcessed HistoryStatus = "processed"
	HistoryFailed    HistoryStatus = "failed"
	HistoryReplayed  HistoryStatus = "replayed"
)

// EventHistoryRecord is an observational entry in the capped history lists.
type EventHistoryRecord struct {
	Timestamp  time.Time     `json:"timestamp"`
	Status     HistoryStatus `json:"status"`
	EventID    string        `json:"event_id"`
	EventType  string        `json:"event_type"`
	TenantID   string        `json:"tenant_id"`
	ResourceID string        `json:"resource_id"`
	AuditID    string        `json:"audit_id,omitempty"`
	Detail     string        `json:"detail,omitempty"`
}

// HistoryFor builds a history record for the given event.
func HistoryFor(event NormalizedEvent, status HistoryStatus, auditID, detail string, at time.Time) EventHistoryRecord {
	return EventHistoryRecord{
		Timestamp:  at.UTC(),
		Status:     status,
		EventID:    event.EventID,
		EventType:  event.EventType,
		TenantID:   event.TenantID,
		ResourceID: event.ResourceID,
		AuditID:    auditID,
		Detail:     detail,
	}
}
