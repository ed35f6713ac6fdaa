// Package upstream talks to the Fast-Weigh GraphQL API: single-resource
// lookups for enrichment and changed-since listings for reconciliation.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Priya8975/fastweigh-event-gateway/internal/config"
	"github.com/Priya8975/fastweigh-event-gateway/internal/domain"
	"github.com/sony/gobreaker"
)

// isoMillis matches the timestamp shape the upstream API expects for DateTime arguments.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

var ErrNotConfigured = errors.New("upstream graphql url is not configured")

const ticketByIDQuery = `query TicketById($id: ID!) {
  ticket(id: $id) {
    id
    ticketNumber
    status
    createdAt
    updatedAt
    netWeight
    customer { id customerID customerName }
    order { id status }
  }
}`

const orderByIDQuery = `query OrderById($id: ID!) {
  order(id: $id) {
    id
    orderNumber
    status
    updatedAt
    customer { id customerID customerName }
  }
}`

const changedTicketsQuery = `query ChangedTickets($since: DateTime!) {
  tickets(updatedSince: $since) { id updatedAt }
}`

const changedOrdersQuery = `query ChangedOrders($since: DateTime!) {
  orders(updatedSince: $since) { id updatedAt }
}`

// Client is a minimal GraphQL client. Every request passes through a circuit
// breaker so a failing upstream does not stall workers and reconciliation runs.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
}

func NewClient(cfg config.UpstreamConfig, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		endpoint:   cfg.GraphQLURL,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		logger:     logger,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "fastweigh-graphql",
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("upstream circuit breaker state change",
					"name", name,
					"from", from.String(),
					"to", to.String(),
				)
			},
		}),
	}
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphqlError struct {
	Message string `json:"message"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors"`
}

// do posts one GraphQL operation and decodes its data field into out.
func (c *Client) do(ctx context.Context, query string, variables map[string]any, out any) error {
	if c.endpoint == "" {
		return ErrNotConfigured
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.post(ctx, query, variables, out)
	})
	return err
}

func (c *Client) post(ctx context.Context, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("encoding graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating graphql request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling upstream graphql: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("upstream graphql returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var gr graphqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return fmt.Errorf("decoding graphql response: %w", err)
	}
	if len(gr.Errors) > 0 {
		msgs := make([]string, len(gr.Errors))
		for i, e := range gr.Errors {
			msgs[i] = e.Message
		}
		return fmt.Errorf("upstream graphql errors: %s", strings.Join(msgs, "; "))
	}
	if out == nil || len(gr.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(gr.Data, out); err != nil {
		return fmt.Errorf("decoding graphql data: %w", err)
	}
	return nil
}

// FetchTicket returns the ticket snapshot, or nil if the upstream has no such ticket.
func (c *Client) FetchTicket(ctx context.Context, id string) (*domain.TicketSnapshot, error) {
	var data struct {
		Ticket *domain.TicketSnapshot `json:"ticket"`
	}
	if err := c.do(ctx, ticketByIDQuery, map[string]any{"id": id}, &data); err != nil {
		return nil, fmt.Errorf("fetching ticket %s: %w", id, err)
	}
	return data.Ticket, nil
}

// FetchOrder returns the order snapshot, or nil if the upstream has no such order.
func (c *Client) FetchOrder(ctx context.Context, id string) (*domain.OrderSnapshot, error) {
	var data struct {
		Order *domain.OrderSnapshot `json:"order"`
	}
	if err := c.do(ctx, orderByIDQuery, map[string]any{"id": id}, &data); err != nil {
		return nil, fmt.Errorf("fetching order %s: %w", id, err)
	}
	return data.Order, nil
}

// FetchChanged lists resources of the entity type updated since the given
// instant. Entries without a string id are skipped.
func (c *Client) FetchChanged(ctx context.Context, entity domain.EntityType, since time.Time) ([]domain.ChangedResource, error) {
	var query, field string
	switch entity {
	case domain.EntityTicket:
		query, field = changedTicketsQuery, "tickets"
	case domain.EntityOrder:
		query, field = changedOrdersQuery, "orders"
	default:
		return nil, fmt.Errorf("unsupported entity type %q", entity)
	}

	var data map[string][]any
	vars := map[string]any{"since": since.UTC().Format(isoMillis)}
	if err := c.do(ctx, query, vars, &data); err != nil {
		return nil, fmt.Errorf("fetching changed %s: %w", field, err)
	}

	items := data[field]
	resources := make([]domain.ChangedResource, 0, len(items))
	for _, raw := range items {
		item, _ := raw.(map[string]any)
		id, ok := item["id"].(string)
		if !ok {
			continue
		}
		updatedAt, _ := item["updatedAt"].(string)
		resources = append(resources, domain.ChangedResource{ID: id, UpdatedAt: updatedAt})
	}
	return resources, nil
}
