package recordstore

import (
	"context"
	"sort"
	"sync"

	"github.com/CloudNativeWorks/cnw-subscription-license/license"
)

// Memory is an in-process license.Store. Mutations are serialized by a single
// mutex, which makes every Mutate trivially atomic.
type Memory struct {
	mu      sync.RWMutex
	records map[string]license.Record
	bySub   map[string]string
}

var _ license.Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]license.Record),
		bySub:   make(map[string]string),
	}
}

func (m *Memory) Get(_ context.Context, key string) (*license.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[key]
	if !ok {
		return nil, license.ErrNotFound
	}
	return &rec, nil
}

func (m *Memory) Put(ctx context.Context, rec license.Record) error {
	_, err := m.Mutate(ctx, rec.LicenseKey, overwrite(rec))
	return err
}

func (m *Memory) Mutate(_ context.Context, key string, fn license.MutateFunc) (*license.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var current *license.Record
	if rec, ok := m.records[key]; ok {
		current = &rec
	}
	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return current, nil
	}
	if err := license.CheckTransition(key, current, next); err != nil {
		return nil, err
	}

	if current != nil && current.BillingSubscriptionID != "" && current.BillingSubscriptionID != next.BillingSubscriptionID {
		delete(m.bySub, current.BillingSubscriptionID)
	}
	if next.BillingSubscriptionID != "" {
		m.bySub[next.BillingSubscriptionID] = key
	}
	m.records[key] = *next
	stored := *next
	return &stored, nil
}

func (m *Memory) FindBySubscription(_ context.Context, subscriptionID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.bySub[subscriptionID]
	if !ok {
		return "", license.ErrNotFound
	}
	return key, nil
}

func (m *Memory) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.records))
	for k := range m.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) Close(_ context.Context) error {
	return nil
}
