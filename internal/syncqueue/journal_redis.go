package syncqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisJournal keeps the pending queue in a Redis list so queued writes
// survive restarts. Entries carry no TTL: a queued write must never expire
// on its own, and the dead-letter list is trimmed operationally.
type RedisJournal struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisJournal(rdb *redis.Client, prefix string) *RedisJournal {
	p := strings.TrimSpace(prefix)
	if p == "" {
		p = "rank"
	}
	return &RedisJournal{rdb: rdb, prefix: p}
}

func (j *RedisJournal) keyPending() string { return j.prefix + ":sync:pending" }
func (j *RedisJournal) keyDead() string    { return j.prefix + ":sync:dead" }

func (j *RedisJournal) Append(ctx context.Context, w *Write) error {
	raw, err := json.Marshal(w)
	if err != nil {
		return err
	}
	return j.rdb.RPush(ctx, j.keyPending(), raw).Err()
}

func (j *RedisJournal) Peek(ctx context.Context) (*Write, error) {
	raw, err := j.rdb.LIndex(ctx, j.keyPending(), 0).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var w Write
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode sync write: %w", err)
	}
	return &w, nil
}

func (j *RedisJournal) RemoveHead(ctx context.Context) error {
	err := j.rdb.LPop(ctx, j.keyPending()).Err()
	if err == redis.Nil {
		return nil
	}
	return err
}

func (j *RedisJournal) RecordAttempt(ctx context.Context, id, attemptErr string) error {
	head, err := j.Peek(ctx)
	if err != nil {
		return err
	}
	if head == nil || head.ID != id {
		return nil
	}
	head.Attempts++
	head.LastError = attemptErr
	raw, err := json.Marshal(head)
	if err != nil {
		return err
	}
	return j.rdb.LSet(ctx, j.keyPending(), 0, raw).Err()
}

func (j *RedisJournal) MoveHeadToDead(ctx context.Context, reason string) error {
	head, err := j.Peek(ctx)
	if err != nil {
		return err
	}
	if head == nil {
		return nil
	}
	head.Attempts++
	head.LastError = reason
	raw, err := json.Marshal(head)
	if err != nil {
		return err
	}

	pipe := j.rdb.TxPipeline()
	pipe.RPush(ctx, j.keyDead(), raw)
	pipe.LPop(ctx, j.keyPending())
	_, err = pipe.Exec(ctx)
	return err
}

func (j *RedisJournal) Len(ctx context.Context) (int, error) {
	n, err := j.rdb.LLen(ctx, j.keyPending()).Result()
	return int(n), err
}

func (j *RedisJournal) DeadLen(ctx context.Context) (int, error) {
	n, err := j.rdb.LLen(ctx, j.keyDead()).Result()
	return int(n), err
}

func (j *RedisJournal) Pending(ctx context.Context, limit int) ([]*Write, error) {
	if limit <= 0 {
		return nil, nil
	}
	raws, err := j.rdb.LRange(ctx, j.keyPending(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*Write, 0, len(raws))
	for _, raw := range raws {
		var w Write
		if err := json.Unmarshal([]byte(raw), &w); err != nil {
			return nil, fmt.Errorf("decode sync write: %w", err)
		}
		out = append(out, &w)
	}
	return out, nil
}
