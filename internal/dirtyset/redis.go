package dirtyset

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	dirtyKey      = "dirty_polls"
	processingKey = "dirty_polls:processing"
)

// Redis is the process-shared tracker. Votes accepted by any server
// process SADD into one well-known set; the drain RENAMEs that key to a
// processing key so concurrent marks start filling a fresh set.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func (r *Redis) MarkDirty(ctx context.Context, pollID uuid.UUID) error {
	const op = "dirtyset.Redis.MarkDirty"

	if err := r.rdb.SAdd(ctx, dirtyKey, pollID.String()).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (r *Redis) SnapshotAndClear(ctx context.Context) ([]uuid.UUID, error) {
	const op = "dirtyset.Redis.SnapshotAndClear"

	// RENAME fails when the key does not exist (no dirty polls) or
	// vanished between ticks; either way the cycle is a no-op.
	if err := r.rdb.Rename(ctx, dirtyKey, processingKey).Err(); err != nil {
		return nil, nil
	}

	members, err := r.rdb.SMembers(ctx, processingKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ids := make([]uuid.UUID, 0, len(members))
	for _, member := range members {
		id, err := uuid.Parse(member)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}

	// Best effort: a leftover processing key is overwritten by the next
	// RENAME, so a failed delete only re-broadcasts, never loses polls.
	r.rdb.Del(ctx, processingKey)

	return ids, nil
}
