/*
Package redis provides a Store backed by two redis hashes.

KEYS:
  <prefix>:entries      id -> entry JSON
  <prefix>:redemptions  id -> redemption JSON

The client is created lazily and checked with PING; a failed check is not
cached. Total folds both hashes on every call.
*/
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hearth/points-ledger/ledger"
	goredis "github.com/redis/go-redis/v9"
)

// Name is the backend name reported by Store.
const Name = "redis"

// DefaultPrefix namespaces the ledger keys.
const DefaultPrefix = "points"

// Config selects the redis server.
type Config struct {
	Address     string
	Username    string
	Password    string
	Database    int
	KeyPrefix   string
	DialTimeout time.Duration
}

// Store implements ledger.Store on redis hashes.
type Store struct {
	cfg Config

	mu     sync.Mutex
	client *goredis.Client
}

// New validates cfg. It does not connect.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis: empty address")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultPrefix
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	return &Store{cfg: cfg}, nil
}

func (s *Store) Name() string { return Name }

// Close closes the client if one was created.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

func (s *Store) conn(ctx context.Context) (*goredis.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return s.client, nil
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:        s.cfg.Address,
		Username:    s.cfg.Username,
		Password:    s.cfg.Password,
		DB:          s.cfg.Database,
		DialTimeout: s.cfg.DialTimeout,
		MaxRetries:  -1,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, ledger.Unavailable(Name, "ping", err)
	}
	s.client = client
	return client, nil
}

func (s *Store) key(c ledger.Collection) string {
	return s.cfg.KeyPrefix + ":" + string(c)
}

// =============================================================================
// GENERIC HASH HELPERS
// =============================================================================

func put[T any](ctx context.Context, s *Store, c ledger.Collection, id ledger.RecordID, v T) error {
	client, err := s.conn(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", c, id, err)
	}
	if err := client.HSet(ctx, s.key(c), string(id), data).Err(); err != nil {
		return ledger.Unavailable(Name, "hset", err)
	}
	return nil
}

func all[T any](ctx context.Context, s *Store, c ledger.Collection) ([]T, error) {
	client, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := client.HGetAll(ctx, s.key(c)).Result()
	if err != nil {
		return nil, ledger.Unavailable(Name, "hgetall", err)
	}
	out := make([]T, 0, len(raw))
	for id, data := range raw {
		var v T
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			return nil, ledger.Unavailable(Name, "decode", fmt.Errorf("%s %s: %w", c, id, err))
		}
		out = append(out, v)
	}
	return out, nil
}

// take reads and deletes one field atomically.
func take[T any](ctx context.Context, s *Store, c ledger.Collection, id ledger.RecordID) (T, error) {
	var v T
	client, err := s.conn(ctx)
	if err != nil {
		return v, err
	}

	key := s.key(c)
	var get *goredis.StringCmd
	_, err = client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		get = p.HGet(ctx, key, string(id))
		p.HDel(ctx, key, string(id))
		return nil
	})
	if errors.Is(err, goredis.Nil) || (err == nil && errors.Is(get.Err(), goredis.Nil)) {
		return v, &ledger.RecordNotFoundError{Collection: c, ID: id}
	}
	if err != nil {
		return v, ledger.Unavailable(Name, "hdel", err)
	}
	if err := json.Unmarshal([]byte(get.Val()), &v); err != nil {
		return v, ledger.Unavailable(Name, "decode", err)
	}
	return v, nil
}

// =============================================================================
// ledger.Store
// =============================================================================

func (s *Store) AppendEntry(ctx context.Context, e ledger.Entry) (ledger.Entry, error) {
	return e, put(ctx, s, ledger.CollectionEntries, e.ID, e)
}

func (s *Store) AppendRedemption(ctx context.Context, r ledger.Redemption) (ledger.Redemption, error) {
	return r, put(ctx, s, ledger.CollectionRedemptions, r.ID, r)
}

func (s *Store) ListEntries(ctx context.Context) ([]ledger.Entry, error) {
	return all[ledger.Entry](ctx, s, ledger.CollectionEntries)
}

func (s *Store) ListRedemptions(ctx context.Context) ([]ledger.Redemption, error) {
	return all[ledger.Redemption](ctx, s, ledger.CollectionRedemptions)
}

func (s *Store) RemoveEntry(ctx context.Context, id ledger.RecordID) (ledger.Entry, error) {
	return take[ledger.Entry](ctx, s, ledger.CollectionEntries, id)
}

func (s *Store) RemoveRedemption(ctx context.Context, id ledger.RecordID) (ledger.Redemption, error) {
	return take[ledger.Redemption](ctx, s, ledger.CollectionRedemptions, id)
}

// Total folds both hashes.
func (s *Store) Total(ctx context.Context) (int64, error) {
	entries, err := s.ListEntries(ctx)
	if err != nil {
		return 0, err
	}
	redemptions, err := s.ListRedemptions(ctx)
	if err != nil {
		return 0, err
	}
	return ledger.ComputeTotal(entries, redemptions), nil
}
