package connector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/Priya8975/fastweigh-event-gateway/internal/domain"
)

const CSVConnectorName = "csv-accounting"

var csvHeader = []string{"event_id", "event_type", "occurred_at", "tenant_id", "resource_id", "source", "status"}

// CSVConnector appends ticket and billing events to an accounting export file.
type CSVConnector struct {
	path string
	mu   sync.Mutex
}

func NewCSVConnector(path string) *CSVConnector {
	return &CSVConnector{path: path}
}

func (c *CSVConnector) Name() string {
	return CSVConnectorName
}

func (c *CSVConnector) Supports(event domain.NormalizedEvent) bool {
	return hasAnyPrefix(event.EventType, "ticket.", "billing.")
}

// Transform returns the CSV row. Only scalar payload values are exported.
func (c *CSVConnector) Transform(event domain.NormalizedEvent) (any, error) {
	return []string{
		event.EventID,
		event.EventType,
		event.OccurredAt,
		event.TenantID,
		event.ResourceID,
		string(event.Source),
		scalarString(event.Payload["status"]),
	}, nil
}

func (c *CSVConnector) Deliver(_ context.Context, payload any, _ domain.DeliveryContext) (domain.DeliveryResult, error) {
	row, ok := payload.([]string)
	if !ok {
		return domain.DeliveryResult{}, fmt.Errorf("csv connector: unexpected payload type %T", payload)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return domain.DeliveryResult{}, fmt.Errorf("creating export directory: %w", err)
	}

	f, err := os.OpenFile(c.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return domain.DeliveryResult{}, fmt.Errorf("opening export file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return domain.DeliveryResult{}, fmt.Errorf("reading export file: %w", err)
	}

	var b strings.Builder
	if info.Size() == 0 {
		b.WriteString(csvLine(csvHeader))
	}
	b.WriteString(csvLine(row))

	if _, err := f.WriteString(b.String()); err != nil {
		return domain.DeliveryResult{}, fmt.Errorf("appending to export file: %w", err)
	}
	return domain.DeliveryResult{Success: true, Details: "appended to " + c.path}, nil
}

// csvLine quotes every field and doubles embedded quotes.
func csvLine(fields []string) string {
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}
	return strings.Join(quoted, ",") + "\n"
}

func scalarString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	}
	return ""
}
