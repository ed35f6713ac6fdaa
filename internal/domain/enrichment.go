package domain

// EntityType is one of the resource kinds the ledger and reconciliation track.
type EntityType string

const (
	EntityTicket EntityType = "ticket"
	EntityOrder  EntityType = "order"
)

// TrackedEntities lists the entity types that participate in reconciliation.
var TrackedEntities = []EntityType{EntityTicket, EntityOrder}

// TrackedEntityForEvent maps an event to its reconciliation entity, if any.
func TrackedEntityForEvent(event NormalizedEvent) (EntityType, bool) {
	switch EntityType(event.Entity()) {
	case EntityTicket:
		return EntityTicket, true
	case EntityOrder:
		return EntityOrder, true
	}
	return "", false
}

// Enrichment holds optional upstream snapshots attached by the worker.
// Field names under the snapshots mirror the upstream GraphQL schema.
type Enrichment struct {
	Ticket *TicketSnapshot `json:"ticket,omitempty"`
	Order  *OrderSnapshot  `json:"order,omitempty"`
}

type CustomerRef struct {
	ID           string `json:"id"`
	CustomerID   string `json:"customerID,omitempty"`
	CustomerName string `json:"customerName,omitempty"`
}

type OrderRef struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
}

type TicketSnapshot struct {
	ID           string       `json:"id"`
	TicketNumber string       `json:"ticketNumber,omitempty"`
	Status       string       `json:"status,omitempty"`
	CreatedAt    string       `json:"createdAt,omitempty"`
	UpdatedAt    string       `json:"updatedAt,omitempty"`
	NetWeight    *float64     `json:"netWeight,omitempty"`
	Customer     *CustomerRef `json:"customer,omitempty"`
	Order        *OrderRef    `json:"order,omitempty"`
}

type OrderSnapshot struct {
	ID          string       `json:"id"`
	OrderNumber string       `json:"orderNumber,omitempty"`
	Status      string       `json:"status,omitempty"`
	UpdatedAt   string       `json:"updatedAt,omitempty"`
	Customer    *CustomerRef `json:"customer,omitempty"`
}

// ChangedResource is one entry returned by the upstream changed-since query.
type ChangedResource struct {
	ID        string `json:"id"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}
