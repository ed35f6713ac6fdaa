package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Priya8975/fastweigh-event-gateway/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	latestReportKey = "reconciliation:latest-report"
	reportTTL       = 30 * 24 * time.Hour
)

// ReportStore persists one JSON file per reconciliation run and caches the
// most recent report in Redis.
type ReportStore struct {
	dir         string
	redisClient *redis.Client
}

func NewReportStore(dir string, redisClient *redis.Client) *ReportStore {
	return &ReportStore{dir: dir, redisClient: redisClient}
}

// reportFileName sorts lexically in run start order.
func reportFileName(report domain.ReconciliationReport) string {
	return report.StartedAt.UTC().Format("20060102T150405Z") + "_" + report.RunID + ".json"
}

// Save writes the report file and then updates the latest pointer.
func (s *ReportStore) Save(ctx context.Context, report domain.ReconciliationReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}

	path := filepath.Join(s.dir, reportFileName(report))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing report %s: %w", report.RunID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("finalizing report %s: %w", report.RunID, err)
	}

	if err := s.redisClient.Set(ctx, latestReportKey, data, reportTTL).Err(); err != nil {
		return fmt.Errorf("caching latest report: %w", err)
	}
	return nil
}

// Latest returns the cached latest report, falling back to the newest file.
// It returns nil when no run has been recorded.
func (s *ReportStore) Latest(ctx context.Context) (*domain.ReconciliationReport, error) {
	data, err := s.redisClient.Get(ctx, latestReportKey).Bytes()
	if err == nil {
		var report domain.ReconciliationReport
		if err := json.Unmarshal(data, &report); err != nil {
			return nil, fmt.Errorf("decoding latest report: %w", err)
		}
		return &report, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("reading latest report: %w", err)
	}

	reports, err := s.List(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(reports) == 0 {
		return nil, nil
	}
	return &reports[0], nil
}

// List returns up to limit reports, newest first.
func (s *ReportStore) List(_ context.Context, limit int) ([]domain.ReconciliationReport, error) {
	if limit <= 0 {
		return []domain.ReconciliationReport{}, nil
	}

	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return []domain.ReconciliationReport{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading report directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			names = append(names, entry.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	reports := make([]domain.ReconciliationReport, 0, limit)
	for _, name := range names {
		if len(reports) >= limit {
			break
		}
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			return nil, fmt.Errorf("reading report %s: %w", name, err)
		}
		var report domain.ReconciliationReport
		if err := json.Unmarshal(data, &report); err != nil {
			return nil, fmt.Errorf("decoding report %s: %w", name, err)
		}
		reports = append(reports, report)
	}
	return reports, nil
}
