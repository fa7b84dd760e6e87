package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	pkgerrors "github.com/AltairaLabs/LiveInspect/pkg/errors"
)

const (
	defaultPrefix = "liveinspect"
	defaultTTL    = 2 * time.Hour
)

// RedisStore is a Store shared by several relay instances. Each record is a
// JSON value with a TTL, so sessions of a crashed instance expire on their own.
// A set indexes the live IDs for List and Count.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTTL sets the record time-to-live. Zero disables expiry.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix for Redis keys.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore creates a Redis-backed registry.
//
// Example:
//
//	store := NewRedisStore(
//	    redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
//	    WithTTL(time.Hour),
//	)
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	store := &RedisStore{
		client: client,
		ttl:    defaultTTL,
		prefix: defaultPrefix,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Register stores a record and adds it to the index.
func (s *RedisStore) Register(ctx context.Context, rec *Record) error {
	if rec == nil || rec.ID == "" {
		return ErrInvalidID
	}
	cp := *rec
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now()
	}
	cp.UpdatedAt = cp.CreatedAt
	return s.save(ctx, &cp)
}

// Update rewrites the state of a registered record and refreshes its TTL.
func (s *RedisStore) Update(ctx context.Context, id string, state State, code pkgerrors.Code) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	rec.State = state
	if code != pkgerrors.CodeNone {
		rec.LastErrorCode = code
	}
	rec.UpdatedAt = now()
	return s.save(ctx, rec)
}

// Deregister removes a record and its index entry.
func (s *RedisStore) Deregister(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalidID
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.sessionKey(id))
	pipe.SRem(ctx, s.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

// Get loads one record.
func (s *RedisStore) Get(ctx context.Context, id string) (*Record, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	data, err := s.client.Get(ctx, s.sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &rec, nil
}

// List loads every indexed record. Index entries whose record has expired
// are pruned.
func (s *RedisStore) List(ctx context.Context) ([]*Record, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers failed: %w", err)
	}
	if len(ids) == 0 {
		return []*Record{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.sessionKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget failed: %w", err)
	}

	out := make([]*Record, 0, len(values))
	var stale []any
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record %s: %w", ids[i], err)
		}
		out = append(out, &rec)
	}
	if len(stale) > 0 {
		s.client.SRem(ctx, s.indexKey(), stale...)
	}

	sortRecords(out)
	return out, nil
}

// Count returns the number of live records.
func (s *RedisStore) Count(ctx context.Context) (int, error) {
	recs, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

func (s *RedisStore) save(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.sessionKey(rec.ID), data, s.ttl)
	pipe.SAdd(ctx, s.indexKey(), rec.ID)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.indexKey(), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

func (s *RedisStore) sessionKey(id string) string {
	return fmt.Sprintf("%s:session:%s", s.prefix, id)
}

func (s *RedisStore) indexKey() string {
	return s.prefix + ":sessions"
}
