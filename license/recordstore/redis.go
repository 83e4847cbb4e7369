package recordstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/CloudNativeWorks/cnw-subscription-license/license"
)

const defaultRedisPrefix = "license:"

// RedisOption configures a Redis store.
type RedisOption func(*Redis)

// WithKeyPrefix sets the namespace prepended to every Redis key.
// Default: "license:".
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *Redis) {
		s.prefix = prefix
	}
}

// Redis implements license.Store on Redis. Records are JSON strings, the
// subscription index is a hash and the key set backs enumeration. Mutate uses
// WATCH/MULTI so a concurrent writer aborts and retries the transaction.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

var _ license.Store = (*Redis)(nil)

// NewRedis creates a Redis-backed store on an existing client.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	s := &Redis{client: client, prefix: defaultRedisPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Redis) recordKey(key string) string { return s.prefix + "record:" + key }
func (s *Redis) indexKey() string            { return s.prefix + "by-subscription" }
func (s *Redis) setKey() string              { return s.prefix + "keys" }

func decodeRecord(raw []byte) (*license.Record, error) {
	var rec license.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode license: %w", err)
	}
	return &rec, nil
}

func (s *Redis) Get(ctx context.Context, key string) (*license.Record, error) {
	raw, err := s.client.Get(ctx, s.recordKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, license.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get license: %w", err)
	}
	return decodeRecord(raw)
}

func (s *Redis) Put(ctx context.Context, rec license.Record) error {
	_, err := s.Mutate(ctx, rec.LicenseKey, overwrite(rec))
	return err
}

func (s *Redis) Mutate(ctx context.Context, key string, fn license.MutateFunc) (*license.Record, error) {
	rk := s.recordKey(key)
	for attempt := 0; attempt < maxMutateAttempts; attempt++ {
		var stored *license.Record
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			var current *license.Record
			raw, err := tx.Get(ctx, rk).Bytes()
			switch {
			case errors.Is(err, redis.Nil):
			case err != nil:
				return fmt.Errorf("get license: %w", err)
			default:
				if current, err = decodeRecord(raw); err != nil {
					return err
				}
			}

			next, err := fn(current)
			if err != nil {
				return err
			}
			if next == nil {
				stored = current
				return nil
			}
			if err := license.CheckTransition(key, current, next); err != nil {
				return err
			}
			payload, err := json.Marshal(next)
			if err != nil {
				return fmt.Errorf("encode license: %w", err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, rk, payload, 0)
				pipe.SAdd(ctx, s.setKey(), key)
				if current != nil && current.BillingSubscriptionID != "" && current.BillingSubscriptionID != next.BillingSubscriptionID {
					pipe.HDel(ctx, s.indexKey(), current.BillingSubscriptionID)
				}
				if next.BillingSubscriptionID != "" {
					pipe.HSet(ctx, s.indexKey(), next.BillingSubscriptionID, key)
				}
				return nil
			})
			if err != nil {
				return err
			}
			stored = next
			return nil
		}, rk)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return stored, nil
	}
	return nil, license.ErrConflict
}

func (s *Redis) FindBySubscription(ctx context.Context, subscriptionID string) (string, error) {
	key, err := s.client.HGet(ctx, s.indexKey(), subscriptionID).Result()
	if errors.Is(err, redis.Nil) {
		return "", license.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("find by subscription: %w", err)
	}
	return key, nil
}

func (s *Redis) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.client.SMembers(ctx, s.setKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Redis) Close(_ context.Context) error {
	return nil // caller manages the redis client lifecycle
}
