package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"asisaid.cn/coda/internal/common/errors"
)

// RedisStore keeps documents in two keys per namespace: a list of document
// ids in insertion order (<ns>:ids) and a hash of id to JSON body (<ns>:docs).
type RedisStore struct {
	mu     sync.Mutex
	client *redis.Client
	ids    string
	docs   string
}

// RedisConfig holds Redis-specific configuration
type RedisConfig struct {
	// Addr is the Redis server address (host:port)
	Addr string
	// Password is the Redis password (optional)
	Password string
	// Namespace prefixes every key the store writes
	Namespace string
	// DialTimeout bounds the initial connection check
	DialTimeout time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DialTimeout: cfg.DialTimeout,
	})

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, errors.E("store.NewRedisStore", errors.ErrConnection, err, cfg.Addr)
	}

	return NewRedisStoreWithClient(client, cfg.Namespace), nil
}

// NewRedisStoreWithClient creates a store on an existing client
func NewRedisStoreWithClient(client *redis.Client, namespace string) *RedisStore {
	return &RedisStore{
		client: client,
		ids:    namespace + ":ids",
		docs:   namespace + ":docs",
	}
}

type redisEntry struct {
	id  string
	doc Document
}

// all loads every document in list order. Ids whose body is gone are skipped.
func (s *RedisStore) all(ctx context.Context) ([]redisEntry, error) {
	ids, err := s.client.LRange(ctx, s.ids, 0, -1).Result()
	if err != nil {
		return nil, s.wrap("RedisStore.scan", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	bodies, err := s.client.HMGet(ctx, s.docs, ids...).Result()
	if err != nil {
		return nil, s.wrap("RedisStore.scan", err)
	}

	out := make([]redisEntry, 0, len(ids))
	for i, raw := range bodies {
		body, ok := raw.(string)
		if !ok {
			continue
		}
		doc, err := decodeDocument([]byte(body))
		if err != nil {
			return nil, err
		}
		out = append(out, redisEntry{id: ids[i], doc: doc})
	}
	return out, nil
}

func (s *RedisStore) matching(ctx context.Context, q Query, limit int) ([]redisEntry, error) {
	m, err := Compile(q)
	if err != nil {
		return nil, err
	}
	entries, err := s.all(ctx)
	if err != nil {
		return nil, err
	}
	var out []redisEntry
	for _, e := range entries {
		if !m.Matches(e.doc) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Find returns every matching document in insertion order.
func (s *RedisStore) Find(ctx context.Context, q Query) ([]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.matching(ctx, q, 0)
	if err != nil {
		return nil, err
	}
	var out []Document
	for _, e := range entries {
		out = append(out, e.doc)
	}
	return out, nil
}

// FindOne returns the first matching document.
func (s *RedisStore) FindOne(ctx context.Context, q Query) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.matching(ctx, q, 1)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, errors.ErrNotFound
	}
	return entries[0].doc, nil
}

// Insert adds a document.
func (s *RedisStore) Insert(ctx context.Context, doc Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return errors.E("RedisStore.Insert", errors.ErrInvalidMetadata, err)
	}
	id := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.docs, id, data)
		pipe.RPush(ctx, s.ids, id)
		return nil
	})
	if err != nil {
		return s.wrap("RedisStore.Insert", err)
	}
	return nil
}

// Update replaces the first matching document, keeping its list position.
func (s *RedisStore) Update(ctx context.Context, q Query, doc Document) (int64, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return 0, errors.E("RedisStore.Update", errors.ErrInvalidMetadata, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.matching(ctx, q, 1)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}
	if err := s.client.HSet(ctx, s.docs, entries[0].id, data).Err(); err != nil {
		return 0, s.wrap("RedisStore.Update", err)
	}
	return 1, nil
}

// DeleteMany removes every matching document.
func (s *RedisStore) DeleteMany(ctx context.Context, q Query) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.matching(ctx, q, 0)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.id
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.LRem(ctx, s.ids, 1, id)
		}
		pipe.HDel(ctx, s.docs, ids...)
		return nil
	})
	if err != nil {
		return 0, s.wrap("RedisStore.DeleteMany", err)
	}
	return int64(len(ids)), nil
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return errors.E("RedisStore.Ping", errors.ErrConnection, err)
	}
	return nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// wrap classifies transport failures as connection errors.
func (s *RedisStore) wrap(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(op, err)
	}
	return errors.E(op, errors.ErrConnection, err)
}
