// Package roster tracks which owner currently has an active ranking run.
// One run per owner: registration is guarded by SetNX so two rooms cannot
// start concurrent runs for the same identity.
package roster

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const ttlOwner = 24 * time.Hour

var (
	ErrOwnerBusy   = errors.New("owner already has an active run")
	ErrRunMismatch = errors.New("run does not belong to this owner")
)

type Store struct {
	rdb    *redis.Client
	prefix string
}

func NewStore(rdb *redis.Client, prefix string) *Store {
	if strings.TrimSpace(prefix) == "" {
		prefix = "rank"
	}
	return &Store{rdb: rdb, prefix: prefix}
}

func (s *Store) keyOwner(ownerHash string) string { return s.prefix + ":roster:owner:" + ownerHash }
func (s *Store) keyActive() string                { return s.prefix + ":roster:active" }

// Register claims the owner slot for a run. Returns ErrOwnerBusy when the
// owner already holds a different run.
func (s *Store) Register(ctx context.Context, ownerHash, runUUID string) error {
	ok, err := s.rdb.SetNX(ctx, s.keyOwner(ownerHash), runUUID, ttlOwner).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrOwnerBusy
	}
	if err := s.rdb.SAdd(ctx, s.keyActive(), ownerHash).Err(); err != nil {
		return err
	}
	_ = s.rdb.Expire(ctx, s.keyActive(), ttlOwner).Err()
	return nil
}

// Lookup returns the run UUID held by the owner, or "" when the owner has
// no active run.
func (s *Store) Lookup(ctx context.Context, ownerHash string) (string, error) {
	id, err := s.rdb.Get(ctx, s.keyOwner(ownerHash)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// Release frees the owner slot, but only if it still holds the given run.
// A concurrent re-registration is left untouched and reported as
// ErrRunMismatch.
func (s *Store) Release(ctx context.Context, ownerHash, runUUID string) error {
	key := s.keyOwner(ownerHash)
	return s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Result()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}
		if cur != runUUID {
			return ErrRunMismatch
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SRem(ctx, s.keyActive(), ownerHash)
			return nil
		})
		return err
	}, key)
}

// Refresh extends the TTL of an owner's claim while a run is in progress.
func (s *Store) Refresh(ctx context.Context, ownerHash string) error {
	if err := s.rdb.Expire(ctx, s.keyOwner(ownerHash), ttlOwner).Err(); err != nil {
		return err
	}
	return s.rdb.Expire(ctx, s.keyActive(), ttlOwner).Err()
}

// ListActive returns the owner hashes with registered runs. Stale index
// entries whose owner key has expired are dropped.
func (s *Store) ListActive(ctx context.Context) ([]string, error) {
	owners, err := s.rdb.SMembers(ctx, s.keyActive()).Result()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, o := range owners {
		id, err := s.Lookup(ctx, o)
		if err != nil {
			return nil, err
		}
		if id == "" {
			_ = s.rdb.SRem(ctx, s.keyActive(), o).Err()
			continue
		}
		out = append(out, o)
	}
	return out, nil
}
