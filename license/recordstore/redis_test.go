package recordstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CloudNativeWorks/cnw-subscription-license/license"
)

func newRedisStore(t *testing.T, opts ...RedisOption) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, opts...), mr
}

func TestRedisStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) license.Store {
		s, _ := newRedisStore(t)
		return s
	})
}

func TestRedisStoreKeyLayout(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t, WithKeyPrefix("app:"))

	require.NoError(t, s.Put(ctx, license.Record{
		LicenseKey:            "k1",
		BillingSubscriptionID: "sub_1",
		Status:                license.StatusActive,
	}))

	assert.True(t, mr.Exists("app:record:k1"))
	assert.Equal(t, "k1", mr.HGet("app:by-subscription", "sub_1"))
	members, err := mr.Members("app:keys")
	require.NoError(t, err)
	assert.Equal(t, []string{"k1"}, members)
}

func TestRedisStoreCorruptRecord(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t)
	require.NoError(t, mr.Set("license:record:k1", "{not json"))

	_, err := s.Get(ctx, "k1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, license.ErrNotFound)
}
