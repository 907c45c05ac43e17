package offline

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"medipos/backend/internal/domain"
)

const (
	redisOpKeyPrefix = "offline:op:"
	redisIndexKey    = "offline:index"
)

// RedisQueue persists the offline queue in redis so a terminal crash does not
// lose captured sales. Operations live as JSON values keyed by local id, with
// a sorted set indexing them by enqueue time.
type RedisQueue struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisQueue(addr string, password string, db int) *RedisQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisQueue{
		client: client,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func (q *RedisQueue) Enqueue(ctx context.Context, op QueuedOperation) (QueuedOperation, error) {
	if err := normalizeOperation(&op, q.now()); err != nil {
		return QueuedOperation{}, err
	}
	if err := q.save(ctx, op); err != nil {
		return QueuedOperation{}, err
	}
	err := q.client.ZAdd(ctx, redisIndexKey, redis.Z{
		Score:  float64(op.EnqueuedAt.UnixNano()),
		Member: op.LocalID,
	}).Err()
	if err != nil {
		return QueuedOperation{}, err
	}
	return op, nil
}

func (q *RedisQueue) Pending(ctx context.Context) ([]QueuedOperation, error) {
	return q.filter(ctx, func(op QueuedOperation) bool { return op.Status == StatusQueued })
}

func (q *RedisQueue) MarkSyncing(ctx context.Context, localIDs []string) error {
	return q.transition(ctx, localIDs, StatusQueued, StatusSyncing)
}

func (q *RedisQueue) Requeue(ctx context.Context, localIDs []string) error {
	return q.transition(ctx, localIDs, StatusSyncing, StatusQueued)
}

func (q *RedisQueue) transition(ctx context.Context, localIDs []string, from string, to string) error {
	for _, id := range localIDs {
		op, err := q.load(ctx, id)
		if err != nil {
			return err
		}
		if op.Status != from {
			continue
		}
		op.Status = to
		op.UpdatedAt = q.now()
		if err := q.save(ctx, op); err != nil {
			return err
		}
	}
	return nil
}

func (q *RedisQueue) ApplyResult(ctx context.Context, result domain.SyncResult) error {
	op, err := q.load(ctx, result.LocalID)
	if err != nil {
		return err
	}

	op.Attempts++
	op.UpdatedAt = q.now()
	op.ServerInvoiceID = result.ServerInvoiceID
	op.Conflicts = result.Conflicts
	op.Error = result.Error

	switch result.Status {
	case domain.SyncStatusSynced:
		op.Status = StatusSynced
	case domain.SyncStatusNeedsReview:
		op.Status = StatusNeedsReview
	default:
		op.Status = StatusFailed
	}
	return q.save(ctx, op)
}

func (q *RedisQueue) List(ctx context.Context) ([]QueuedOperation, error) {
	return q.filter(ctx, func(QueuedOperation) bool { return true })
}

func (q *RedisQueue) PurgeSynced(ctx context.Context, olderThan time.Time) (int, error) {
	ops, err := q.List(ctx)
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, op := range ops {
		if op.Status != StatusSynced || !op.UpdatedAt.Before(olderThan) {
			continue
		}
		if err := q.client.Del(ctx, redisOpKeyPrefix+op.LocalID).Err(); err != nil {
			return purged, err
		}
		if err := q.client.ZRem(ctx, redisIndexKey, op.LocalID).Err(); err != nil {
			return purged, err
		}
		purged++
	}
	return purged, nil
}

func (q *RedisQueue) filter(ctx context.Context, keep func(QueuedOperation) bool) ([]QueuedOperation, error) {
	ids, err := q.client.ZRange(ctx, redisIndexKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	out := make([]QueuedOperation, 0, len(ids))
	for _, id := range ids {
		op, err := q.load(ctx, id)
		if err != nil {
			if err == ErrOperationNotFound {
				// Index entry outlived its value; drop it.
				_ = q.client.ZRem(ctx, redisIndexKey, id).Err()
				continue
			}
			return nil, err
		}
		if keep(op) {
			out = append(out, op)
		}
	}
	return out, nil
}

func (q *RedisQueue) load(ctx context.Context, localID string) (QueuedOperation, error) {
	val, err := q.client.Get(ctx, redisOpKeyPrefix+localID).Result()
	if err == redis.Nil {
		return QueuedOperation{}, ErrOperationNotFound
	}
	if err != nil {
		return QueuedOperation{}, err
	}

	var op QueuedOperation
	if err := json.Unmarshal([]byte(val), &op); err != nil {
		return QueuedOperation{}, err
	}
	return op, nil
}

func (q *RedisQueue) save(ctx context.Context, op QueuedOperation) error {
	payload, err := json.Marshal(op)
	if err != nil {
		return err
	}
	return q.client.Set(ctx, redisOpKeyPrefix+op.LocalID, payload, 0).Err()
}
