package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Priya8975/fastweigh-event-gateway/internal/domain"
	"github.com/google/uuid"
)

type auditEntry struct {
	AuditID    string            `json:"auditId"`
	ReceivedAt string            `json:"receivedAt"`
	Headers    map[string]string `json:"headers"`
	RawBody    string            `json:"rawBody"`
}

// FileAuditWriter keeps the raw body and signature headers of every accepted
// webhook as {dir}/{auditId}.json.
type FileAuditWriter struct {
	dir string
	now func() time.Time
}

func NewFileAuditWriter(dir string) *FileAuditWriter {
	return &FileAuditWriter{dir: dir, now: time.Now}
}

func (w *FileAuditWriter) Write(_ context.Context, rawBody string, headers map[string]string) (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating audit directory: %w", err)
	}

	entry := auditEntry{
		AuditID:    uuid.NewString(),
		ReceivedAt: w.now().UTC().Format(domain.TimestampLayout),
		Headers:    headers,
		RawBody:    rawBody,
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding audit entry: %w", err)
	}

	path := filepath.Join(w.dir, entry.AuditID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing audit entry: %w", err)
	}
	return entry.AuditID, nil
}
