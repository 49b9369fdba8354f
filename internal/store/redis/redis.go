package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/AlexKimmel/PageGate/internal/store"
)

// maxUpdateRetries bounds the optimistic WATCH loop in Update.
const maxUpdateRetries = 8

// Store implements store.Store on a shared Redis instance, for deployments
// where several replicas must agree on rate-limit and cache state. Update
// uses a WATCH/MULTI transaction, retried when another writer touches the
// key mid-flight.
type Store struct {
	client *redis.Client
	prefix string

	// watch defaults to client.Watch; swapped in tests to drive the
	// retry loop without a server.
	watch func(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error
}

func New(client *redis.Client, prefix string) *Store {
	return &Store{client: client, prefix: prefix, watch: client.Watch}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: redis get %q: %w", key, err)
	}
	return b, nil
}

func (s *Store) Put(ctx context.Context, key string, val []byte) error {
	if err := s.client.Set(ctx, s.prefix+key, val, 0).Err(); err != nil {
		return fmt.Errorf("store: redis set %q: %w", key, err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, key string, fn store.UpdateFunc) error {
	rkey := s.prefix + key

	txn := func(tx *redis.Tx) error {
		old, err := tx.Get(ctx, rkey).Bytes()
		if errors.Is(err, redis.Nil) {
			old = nil
		} else if err != nil {
			return err
		}

		next, err := fn(old)
		if errors.Is(err, store.Tombstone) {
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, rkey)
				return nil
			})
			return err
		}
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rkey, next, 0)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		err := s.watch(ctx, txn, rkey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("store: redis update %q: contention, gave up", key)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("store: redis del %q: %w", key, err)
	}
	return nil
}

func (s *Store) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), s.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("store: redis scan: %w", err)
	}
	return keys, nil
}

func (s *Store) Close() error { return s.client.Close() }

var _ store.Store = (*Store)(nil)
