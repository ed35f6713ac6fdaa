package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Priya8975/fastweigh-event-gateway/internal/domain"
	"github.com/redis/go-redis/v9"
)

// LedgerRetention bounds how long a processed-resource entry is kept.
const LedgerRetention = 30 * 24 * time.Hour

// Ledger records, per entity type, the last time each resource was processed.
// Each entity has a sorted set scored by unix milliseconds.
type Ledger struct {
	redisClient *redis.Client
	now         func() time.Time
}

func NewLedger(redisClient *redis.Client) *Ledger {
	return &Ledger{redisClient: redisClient, now: time.Now}
}

func ledgerKey(entity domain.EntityType) string {
	return fmt.Sprintf("tracking:processed:%ss", entity)
}

// MarkProcessed records the resource's timestamp and prunes entries older than
// the retention horizon in the same transaction. The timestamp only moves
// forward, so a late or replayed older event leaves a newer mark in place.
func (l *Ledger) MarkProcessed(ctx context.Context, entity domain.EntityType, resourceID string, at time.Time) error {
	key := ledgerKey(entity)
	cutoff := l.now().Add(-LedgerRetention).UnixMilli()

	_, err := l.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAddArgs(ctx, key, redis.ZAddArgs{
			GT:      true,
			Members: []redis.Z{{Score: float64(at.UnixMilli()), Member: resourceID}},
		})
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
		return nil
	})
	if err != nil {
		return fmt.Errorf("marking %s %s processed: %w", entity, resourceID, err)
	}
	return nil
}

// MissingProcessed returns the ids whose ledger entry is absent or older than since.
// Order of ids is preserved.
func (l *Ledger) MissingProcessed(ctx context.Context, entity domain.EntityType, ids []string, since time.Time) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	key := ledgerKey(entity)
	pipe := l.redisClient.Pipeline()
	cmds := make([]*redis.FloatCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.ZScore(ctx, key, id)
	}
	// redis.Nil for absent members surfaces here and is handled per command below.
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("reading %s ledger: %w", entity, err)
	}

	threshold := float64(since.UnixMilli())
	var missing []string
	for i, cmd := range cmds {
		score, err := cmd.Result()
		if errors.Is(err, redis.Nil) {
			missing = append(missing, ids[i])
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s ledger entry %s: %w", entity, ids[i], err)
		}
		if score < threshold {
			missing = append(missing, ids[i])
		}
	}
	return missing, nil
}

// LastProcessed returns the recorded timestamp for a resource.
func (l *Ledger) LastProcessed(ctx context.Context, entity domain.EntityType, resourceID string) (time.Time, bool, error) {
	score, err := l.redisClient.ZScore(ctx, ledgerKey(entity), resourceID).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("reading %s ledger entry %s: %w", entity, resourceID, err)
	}
	return time.UnixMilli(int64(score)), true, nil
}
