package license

import (
	"context"
	"errors"
	"fmt"
)

// MutateFunc computes the next version of a record from the current one.
// current is nil when no record exists. Returning a nil record leaves the
// store untouched.
type MutateFunc func(current *Record) (*Record, error)

// Store is the durable mapping from license key to record.
//
// Mutate is the only way to read-modify-write: implementations run fn against
// the latest stored value and commit only if nothing changed underneath it,
// re-running fn on conflict. fn may therefore be called more than once and
// must not have side effects.
type Store interface {
	// Get returns the record for key or ErrNotFound.
	Get(ctx context.Context, key string) (*Record, error)

	// Put overwrites the record stored under rec.LicenseKey.
	Put(ctx context.Context, rec Record) error

	// Mutate atomically replaces the record under key with fn's result and
	// returns the stored record: the current one if fn made no change, nil
	// if there is none.
	Mutate(ctx context.Context, key string, fn MutateFunc) (*Record, error)

	// FindBySubscription resolves a license key from a billing subscription
	// id through the store's secondary index, or returns ErrNotFound.
	FindBySubscription(ctx context.Context, subscriptionID string) (string, error)

	// Keys enumerates every license key. Expensive; used only by fallbacks
	// and tooling.
	Keys(ctx context.Context) ([]string, error)

	// Close releases resources owned by the store.
	Close(ctx context.Context) error
}

// CheckTransition enforces the record invariants every store applies before
// committing next over current: the key is immutable and a device lock, once
// set, cannot move to a different device.
func CheckTransition(key string, current, next *Record) error {
	if next == nil {
		return nil
	}
	if next.LicenseKey != key {
		return fmt.Errorf("%w: %q stored under %q", ErrKeyMismatch, next.LicenseKey, key)
	}
	if current != nil && current.DeviceID != "" && next.DeviceID != "" && current.DeviceID != next.DeviceID {
		return ErrDeviceLocked
	}
	return nil
}

// ScanForSubscription is the linear reverse lookup: it walks every record
// looking for a matching billing subscription id. O(total licenses).
func ScanForSubscription(ctx context.Context, store Store, subscriptionID string) (string, error) {
	keys, err := store.Keys(ctx)
	if err != nil {
		return "", fmt.Errorf("list keys: %w", err)
	}
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		rec, err := store.Get(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("get %s: %w", key, err)
		}
		if rec.BillingSubscriptionID == subscriptionID {
			return key, nil
		}
	}
	return "", ErrNotFound
}
