package recordstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CloudNativeWorks/cnw-subscription-license/license"
)

// runStoreContract exercises the behaviour every license.Store must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) license.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "nope")
		assert.ErrorIs(t, err, license.ErrNotFound)
	})

	t.Run("put then get", func(t *testing.T) {
		s := newStore(t)
		rec := license.Record{
			LicenseKey:            "k1",
			BillingCustomerID:     "cus_1",
			BillingSubscriptionID: "sub_1",
			Email:                 "a@example.com",
			Status:                license.StatusActive,
			CurrentPeriodEnd:      1700000000,
			CreatedAt:             1690000000,
			DeviceID:              "dev1",
			LastEventAt:           1690000100,
		}
		require.NoError(t, s.Put(ctx, rec))

		got, err := s.Get(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, rec, *got)

		key, err := s.FindBySubscription(ctx, "sub_1")
		require.NoError(t, err)
		assert.Equal(t, "k1", key)
	})

	t.Run("mutate without change", func(t *testing.T) {
		s := newStore(t)
		stored, err := s.Mutate(ctx, "k1", func(cur *license.Record) (*license.Record, error) {
			assert.Nil(t, cur)
			return nil, nil
		})
		require.NoError(t, err)
		assert.Nil(t, stored)

		_, err = s.Get(ctx, "k1")
		assert.ErrorIs(t, err, license.ErrNotFound)
	})

	t.Run("mutate propagates fn error", func(t *testing.T) {
		s := newStore(t)
		boom := errors.New("boom")
		_, err := s.Mutate(ctx, "k1", func(*license.Record) (*license.Record, error) {
			return nil, boom
		})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("key mismatch rejected", func(t *testing.T) {
		s := newStore(t)
		err := s.Put(ctx, license.Record{LicenseKey: "other", Status: license.StatusUnpaid})
		require.NoError(t, err)
		_, err = s.Mutate(ctx, "k1", func(*license.Record) (*license.Record, error) {
			return &license.Record{LicenseKey: "k2", Status: license.StatusUnpaid}, nil
		})
		assert.ErrorIs(t, err, license.ErrKeyMismatch)
	})

	t.Run("device lock cannot move", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, license.Record{LicenseKey: "k1", Status: license.StatusUnpaid, DeviceID: "dev1"}))

		_, err := s.Mutate(ctx, "k1", func(cur *license.Record) (*license.Record, error) {
			next := *cur
			next.DeviceID = "dev2"
			return &next, nil
		})
		assert.ErrorIs(t, err, license.ErrDeviceLocked)

		got, err := s.Get(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, "dev1", got.DeviceID)
	})

	t.Run("subscription index follows changes", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, license.Record{LicenseKey: "k1", Status: license.StatusActive, BillingSubscriptionID: "sub_old"}))
		_, err := s.Mutate(ctx, "k1", func(cur *license.Record) (*license.Record, error) {
			next := *cur
			next.BillingSubscriptionID = "sub_new"
			return &next, nil
		})
		require.NoError(t, err)

		_, err = s.FindBySubscription(ctx, "sub_old")
		assert.ErrorIs(t, err, license.ErrNotFound)
		key, err := s.FindBySubscription(ctx, "sub_new")
		require.NoError(t, err)
		assert.Equal(t, "k1", key)
	})

	t.Run("keys sorted", func(t *testing.T) {
		s := newStore(t)
		for _, k := range []string{"c", "a", "b"} {
			require.NoError(t, s.Put(ctx, license.Record{LicenseKey: k, Status: license.StatusUnpaid}))
		}
		keys, err := s.Keys(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, keys)

		found, err := license.ScanForSubscription(ctx, s, "sub_x")
		assert.ErrorIs(t, err, license.ErrNotFound)
		assert.Empty(t, found)
	})

	t.Run("concurrent mutations are serialized", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, license.Record{LicenseKey: "k1", Status: license.StatusActive}))

		const workers = 4
		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Mutate(ctx, "k1", func(cur *license.Record) (*license.Record, error) {
					next := *cur
					next.CurrentPeriodEnd++
					return &next, nil
				})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		applied := int64(0)
		for err := range errs {
			if err == nil {
				applied++
				continue
			}
			assert.ErrorIs(t, err, license.ErrConflict)
		}
		got, err := s.Get(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, applied, got.CurrentPeriodEnd)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(*testing.T) license.Store {
		return NewMemory()
	})
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.Put(ctx, license.Record{LicenseKey: "k1", Status: license.StatusActive}))

	got, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	got.Status = license.StatusCanceled

	again, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, license.StatusActive, again.Status)
}
