package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/agribot/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix  = "agribot:session:"
	redisTurnSuffix = ":turns"
	defaultRedisTTL = 24 * time.Hour
)

// RedisStore implements Repository on Redis. Session metadata lives in a JSON
// string key and turns in a list; both expire together after ttl of inactivity.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects to the Redis server at url and verifies it with a ping.
func NewRedis(ctx context.Context, url string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%w: parse redis url: %v", ErrInvalidConfig, err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisWithClient(client, ttl), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

// GetSession implements Repository. Reads refresh the TTL.
func (s *RedisStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	key := s.key(sessionID)
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var session domain.Session
	if err := json.Unmarshal([]byte(val), &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}

	_, _ = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Expire(ctx, key, s.ttl)
		pipe.Expire(ctx, key+redisTurnSuffix, s.ttl)
		return nil
	})

	return &session, nil
}

// PutSession implements Repository.
func (s *RedisStore) PutSession(ctx context.Context, session *domain.Session) error {
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = session.CreatedAt
	}
	val, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	key := s.key(session.ID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, val, s.ttl)
		pipe.Expire(ctx, key+redisTurnSuffix, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

// AppendTurns implements Repository using WATCH/MULTI/EXEC so the session
// update and list push commit together.
func (s *RedisStore) AppendTurns(ctx context.Context, sessionID string, turns ...domain.Turn) error {
	if len(turns) == 0 {
		return ErrNoTurns
	}

	key := s.key(sessionID)
	listKey := key + redisTurnSuffix

	values := make([]interface{}, 0, len(turns))
	for _, t := range turns {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("encode turn: %w", err)
		}
		values = append(values, data)
	}

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		var session domain.Session
		if err := json.Unmarshal([]byte(val), &session); err != nil {
			return fmt.Errorf("decode session: %w", err)
		}
		session.UpdatedAt = time.Now().UTC()
		newVal, err := json.Marshal(&session)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, listKey, values...)
			pipe.Set(ctx, key, newVal, s.ttl)
			pipe.Expire(ctx, listKey, s.ttl)
			return nil
		})
		return err
	}, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("append turns: %w", err)
	}
	return nil
}

// History implements Repository.
func (s *RedisStore) History(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	vals, err := s.client.LRange(ctx, s.key(sessionID)+redisTurnSuffix, 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read history: %w", err)
	}
	turns := make([]domain.Turn, 0, len(vals))
	for _, v := range vals {
		var t domain.Turn
		if err := json.Unmarshal([]byte(v), &t); err != nil {
			return nil, fmt.Errorf("decode turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// DeleteSession implements Repository.
func (s *RedisStore) DeleteSession(ctx context.Context, sessionID string) error {
	key := s.key(sessionID)
	if err := s.client.Del(ctx, key, key+redisTurnSuffix).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// CleanupExpiredSessions implements Repository. Redis expires idle keys on
// its own, so there is nothing to sweep.
func (s *RedisStore) CleanupExpiredSessions(context.Context, time.Duration) (int64, error) {
	return 0, nil
}

// Ping implements Repository.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close implements Repository.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(id string) string {
	return redisKeyPrefix + id
}
