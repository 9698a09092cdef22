package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"booktalk/pkg/domain"
)

const (
	connKeyPrefix    = "conn:"
	userIdxKeyPrefix = "userconn:"
)

// RedisConnectionStore keeps connection rows in Redis. Each row is a JSON
// value with a TTL matching its absolute expiry; a per-user set provides the
// secondary lookup. Expiry is enforced twice: Redis drops the row key, and
// reads filter on the stored expiresAt in case of clock skew.
type RedisConnectionStore struct {
	client *redis.Client
}

// NewRedisConnectionStore builds a Redis-backed connection store.
func NewRedisConnectionStore(addr, password string) *RedisConnectionStore {
	return &RedisConnectionStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
	}
}

func connKey(id string) string      { return connKeyPrefix + id }
func userIdxKey(userID string) string { return userIdxKeyPrefix + userID }

func redisCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 3*time.Second)
}

// SaveConnection upserts the row and refreshes both TTLs.
func (s *RedisConnectionStore) SaveConnection(conn domain.Connection) error {
	ttl := time.Until(conn.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("connection %s already expired", conn.ID)
	}
	data, err := json.Marshal(conn)
	if err != nil {
		return fmt.Errorf("marshal connection: %w", err)
	}
	ctx, cancel := redisCtx()
	defer cancel()
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, connKey(conn.ID), data, ttl)
	pipe.SAdd(ctx, userIdxKey(conn.UserID), conn.ID)
	// The index set outlives individual rows; stale members are pruned on
	// read. Keep its TTL at least as long as the newest row.
	pipe.Expire(ctx, userIdxKey(conn.UserID), ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// GetConnection returns the row by connection ID.
func (s *RedisConnectionStore) GetConnection(id string) (domain.Connection, bool, error) {
	ctx, cancel := redisCtx()
	defer cancel()
	val, err := s.client.Get(ctx, connKey(id)).Result()
	if err == redis.Nil {
		return domain.Connection{}, false, nil
	}
	if err != nil {
		return domain.Connection{}, false, err
	}
	var conn domain.Connection
	if err := json.Unmarshal([]byte(val), &conn); err != nil {
		return domain.Connection{}, false, fmt.Errorf("unmarshal connection: %w", err)
	}
	if conn.Expired(time.Now().UTC()) {
		return domain.Connection{}, false, nil
	}
	return conn, true, nil
}

// DeleteConnection removes the row and its index entry. Deleting an absent
// row is a no-op.
func (s *RedisConnectionStore) DeleteConnection(id string) error {
	ctx, cancel := redisCtx()
	defer cancel()
	val, err := s.client.Get(ctx, connKey(id)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	var conn domain.Connection
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, connKey(id))
	if jsonErr := json.Unmarshal([]byte(val), &conn); jsonErr == nil && conn.UserID != "" {
		pipe.SRem(ctx, userIdxKey(conn.UserID), id)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// ListConnectionsByUser resolves the user's index set, dropping (and
// pruning) members whose row key has expired.
func (s *RedisConnectionStore) ListConnectionsByUser(userID string) ([]domain.Connection, error) {
	ctx, cancel := redisCtx()
	defer cancel()
	ids, err := s.client.SMembers(ctx, userIdxKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, connKey(id))
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	res := make([]domain.Connection, 0, len(vals))
	var stale []any
	for i, val := range vals {
		raw, ok := val.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var conn domain.Connection
		if err := json.Unmarshal([]byte(raw), &conn); err != nil {
			return nil, fmt.Errorf("unmarshal connection: %w", err)
		}
		if conn.Expired(now) {
			stale = append(stale, ids[i])
			continue
		}
		res = append(res, conn)
	}
	if len(stale) > 0 {
		if err := s.client.SRem(ctx, userIdxKey(userID), stale...).Err(); err != nil && err != redis.Nil {
			return nil, err
		}
	}
	return res, nil
}
