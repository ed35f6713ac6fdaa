package intake

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Priya8975/fastweigh-event-gateway/internal/domain"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
)

const (
	defaultTenant = "unknown-tenant"
	schemaURL     = "https://schemas.fast-weigh.local/webhook-event.json"
)

// webhookEventSchema describes the inbound envelope. Anything not listed is
// ignored; data and payload are opaque objects.
const webhookEventSchema = `{
  "type": "object",
  "required": ["id", "type"],
  "properties": {
    "id":         {"type": "string", "minLength": 1},
    "type":       {"type": "string", "minLength": 1},
    "createdAt":  {"type": "string"},
    "timestamp":  {"type": "string"},
    "tenantId":   {"type": "string"},
    "accountId":  {"type": "string"},
    "resourceId": {"type": "string"},
    "data":       {"type": "object"},
    "payload":    {"type": "object"},
    "version":    {"type": ["string", "number"]}
  }
}`

type incomingEvent struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	CreatedAt  *string         `json:"createdAt"`
	Timestamp  *string         `json:"timestamp"`
	TenantID   *string         `json:"tenantId"`
	AccountID  *string         `json:"accountId"`
	ResourceID *string         `json:"resourceId"`
	Data       map[string]any  `json:"data"`
	Payload    map[string]any  `json:"payload"`
	Version    json.RawMessage `json:"version"`
}

// Normalizer validates a verified webhook body and reduces it to a NormalizedEvent.
type Normalizer struct {
	schema *jsonschema.Schema
	now    func() time.Time
}

func NewNormalizer() (*Normalizer, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(webhookEventSchema))
	if err != nil {
		return nil, fmt.Errorf("parsing webhook schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("loading webhook schema: %w", err)
	}
	schema, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compiling webhook schema: %w", err)
	}
	return &Normalizer{schema: schema, now: time.Now}, nil
}

// Normalize parses and validates body. Malformed JSON is a bad-input error;
// schema violations are validation errors naming the offending field.
func (n *Normalizer) Normalize(body []byte) (domain.NormalizedEvent, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return domain.NormalizedEvent{}, domain.NewBadInputError("webhook body is not valid JSON")
	}
	if err := n.schema.Validate(inst); err != nil {
		return domain.NormalizedEvent{}, validationError(err)
	}

	var in incomingEvent
	if err := json.Unmarshal(body, &in); err != nil {
		return domain.NormalizedEvent{}, domain.NewBadInputError("webhook body is not valid JSON")
	}
	return n.normalize(in), nil
}

func (n *Normalizer) normalize(in incomingEvent) domain.NormalizedEvent {
	payload := in.Data
	if payload == nil {
		payload = in.Payload
	}
	if payload == nil {
		payload = map[string]any{}
	}

	occurredAt := n.now().UTC().Format(domain.TimestampLayout)
	if in.CreatedAt != nil {
		occurredAt = *in.CreatedAt
	} else if in.Timestamp != nil {
		occurredAt = *in.Timestamp
	}

	tenant := defaultTenant
	if in.TenantID != nil {
		tenant = *in.TenantID
	} else if in.AccountID != nil {
		tenant = *in.AccountID
	}

	resourceID := in.ID
	if in.ResourceID != nil {
		resourceID = *in.ResourceID
	} else if id, ok := payload["id"].(string); ok {
		resourceID = id
	}

	version := versionString(in.Version)
	if version == "" {
		version = scalarVersion(payload["version"])
	}

	return domain.NormalizedEvent{
		EventID:           in.ID,
		EventType:         in.Type,
		OccurredAt:        occurredAt,
		TenantID:          tenant,
		ResourceID:        resourceID,
		ResourceVersion:   version,
		Payload:           payload,
		Source:            domain.SourceWebhook,
		SignatureVerified: true,
	}
}

// versionString renders a top-level version that is either a string or a
// number literal.
func versionString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func scalarVersion(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	}
	return ""
}

// validationError turns the first leaf schema violation into a field error.
func validationError(err error) error {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return domain.NewValidationError("body", err.Error())
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}

	field := strings.Join(ve.InstanceLocation, ".")
	message := "is invalid"
	switch k := ve.ErrorKind.(type) {
	case *kind.Required:
		if len(k.Missing) > 0 {
			field = k.Missing[0]
		}
		message = "is required"
	case *kind.Type:
		message = "must be of type " + strings.Join(k.Want, " or ")
	case *kind.MinLength:
		message = "must not be empty"
	}
	if field == "" {
		field = "body"
	}
	return domain.NewValidationError(field, message)
}
