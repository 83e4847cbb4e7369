package license_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/CloudNativeWorks/cnw-subscription-license/license"
	"github.com/CloudNativeWorks/cnw-subscription-license/license/recordstore"
)

const periodEnd = int64(1702592000)

type processorFixture struct {
	store     *recordstore.Memory
	provider  *fakeProvider
	processor *license.Processor
}

func newProcessorFixture(t *testing.T, opts ...license.ProcessorOption) *processorFixture {
	t.Helper()
	f := &processorFixture{
		store:    recordstore.NewMemory(),
		provider: newFakeProvider(),
	}
	f.provider.addSubscription(license.Subscription{
		ID:               "sub_1",
		CustomerID:       "cus_1",
		Status:           "active",
		CurrentPeriodEnd: periodEnd,
	})
	opts = append([]license.ProcessorOption{
		license.WithProcessorLogger(zaptest.NewLogger(t)),
		license.WithProcessorClock(fixedClock(time.Unix(1700000000, 0))),
	}, opts...)
	f.processor = license.NewProcessor(f.store, f.provider, opts...)
	return f
}

func (f *processorFixture) get(t *testing.T, key string) license.Record {
	t.Helper()
	rec, err := f.store.Get(context.Background(), key)
	require.NoError(t, err)
	return *rec
}

func checkoutEvent(created int64) *license.Event {
	return &license.Event{
		ID:             "evt_checkout",
		Type:           license.EventCheckoutCompleted,
		Created:        created,
		LicenseKey:     "k1",
		CustomerID:     "cus_1",
		SubscriptionID: "sub_1",
		Email:          "buyer@example.com",
	}
}

func TestProcessorCheckoutCompleted(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t)

	out, err := f.processor.Process(ctx, checkoutEvent(100))
	require.NoError(t, err)
	assert.Equal(t, license.OutcomeApplied, out)

	want := license.Record{
		LicenseKey:            "k1",
		BillingCustomerID:     "cus_1",
		BillingSubscriptionID: "sub_1",
		Email:                 "buyer@example.com",
		Status:                license.StatusActive,
		CurrentPeriodEnd:      periodEnd,
		CreatedAt:             1700000000,
		LastEventAt:           100,
	}
	assert.Equal(t, want, f.get(t, "k1"))

	// Redelivery leaves the record as it was.
	out, err = f.processor.Process(ctx, checkoutEvent(100))
	require.NoError(t, err)
	assert.Equal(t, license.OutcomeUnchanged, out)
	assert.Equal(t, want, f.get(t, "k1"))
}

func TestProcessorCheckoutKeepsProvisionalDevice(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t)
	require.NoError(t, f.store.Put(ctx, license.Record{
		LicenseKey: "k1",
		Status:     license.StatusUnpaid,
		CreatedAt:  1600000000,
		DeviceID:   "dev1",
	}))

	_, err := f.processor.Process(ctx, checkoutEvent(100))
	require.NoError(t, err)

	rec := f.get(t, "k1")
	assert.Equal(t, license.StatusActive, rec.Status)
	assert.Equal(t, "dev1", rec.DeviceID)
	assert.Equal(t, int64(1600000000), rec.CreatedAt)
}

func TestProcessorCheckoutFallsBackToSubscriptionCustomer(t *testing.T) {
	f := newProcessorFixture(t)
	ev := checkoutEvent(100)
	ev.CustomerID = ""

	_, err := f.processor.Process(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, "cus_1", f.get(t, "k1").BillingCustomerID)
}

func TestProcessorIgnoresUncorrelatedEvents(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t)

	events := []*license.Event{
		{Type: license.EventCheckoutCompleted, SubscriptionID: "sub_1"},
		{Type: license.EventCheckoutCompleted, LicenseKey: "k1"},
		{Type: license.EventSubscriptionUpdated, SubscriptionStatus: "active"},
		{Type: license.EventSubscriptionUpdated, LicenseKey: "missing", SubscriptionStatus: "active"},
		{Type: license.EventSubscriptionDeleted, LicenseKey: "missing"},
		{Type: license.EventInvoicePaymentSucceeded, SubscriptionID: "sub_unknown"},
		{Type: license.EventInvoicePaymentFailed},
	}
	for _, ev := range events {
		out, err := f.processor.Process(ctx, ev)
		require.NoError(t, err)
		assert.Equal(t, license.OutcomeIgnored, out, "event %s", ev.Type)
	}

	keys, err := f.store.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestProcessorUnhandledType(t *testing.T) {
	f := newProcessorFixture(t)
	out := f.processor.Handle(context.Background(), &license.Event{Type: "customer.created"})
	assert.Equal(t, license.OutcomeUnhandled, out)
}

func TestProcessorSubscriptionLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t)
	_, err := f.processor.Process(ctx, checkoutEvent(100))
	require.NoError(t, err)

	out, err := f.processor.Process(ctx, &license.Event{
		Type:               license.EventSubscriptionUpdated,
		Created:            200,
		LicenseKey:         "k1",
		SubscriptionStatus: "past_due",
		CurrentPeriodEnd:   periodEnd + 10,
	})
	require.NoError(t, err)
	assert.Equal(t, license.OutcomeApplied, out)
	rec := f.get(t, "k1")
	assert.Equal(t, license.StatusPastDue, rec.Status)
	assert.Equal(t, periodEnd+10, rec.CurrentPeriodEnd)

	_, err = f.processor.Process(ctx, &license.Event{
		Type:               license.EventSubscriptionUpdated,
		Created:            250,
		LicenseKey:         "k1",
		SubscriptionStatus: "incomplete",
		CurrentPeriodEnd:   periodEnd + 10,
	})
	require.NoError(t, err)
	assert.Equal(t, license.StatusUnpaid, f.get(t, "k1").Status)

	_, err = f.processor.Process(ctx, &license.Event{
		Type:             license.EventSubscriptionDeleted,
		Created:          300,
		LicenseKey:       "k1",
		CurrentPeriodEnd: periodEnd + 20,
	})
	require.NoError(t, err)
	rec = f.get(t, "k1")
	assert.Equal(t, license.StatusCanceled, rec.Status)
	assert.Equal(t, periodEnd+20, rec.CurrentPeriodEnd)
	assert.Equal(t, int64(300), rec.LastEventAt)
}

func TestProcessorSkipsStaleEvents(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t)
	_, err := f.processor.Process(ctx, checkoutEvent(100))
	require.NoError(t, err)
	_, err = f.processor.Process(ctx, &license.Event{
		Type:             license.EventSubscriptionDeleted,
		Created:          300,
		LicenseKey:       "k1",
		CurrentPeriodEnd: periodEnd,
	})
	require.NoError(t, err)

	out, err := f.processor.Process(ctx, &license.Event{
		Type:               license.EventSubscriptionUpdated,
		Created:            200,
		LicenseKey:         "k1",
		SubscriptionStatus: "active",
		CurrentPeriodEnd:   periodEnd,
	})
	require.NoError(t, err)
	assert.Equal(t, license.OutcomeStale, out)
	assert.Equal(t, license.StatusCanceled, f.get(t, "k1").Status)
}

func TestProcessorInvoiceEvents(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t)
	_, err := f.processor.Process(ctx, checkoutEvent(100))
	require.NoError(t, err)

	out, err := f.processor.Process(ctx, &license.Event{
		Type:           license.EventInvoicePaymentFailed,
		Created:        200,
		SubscriptionID: "sub_1",
	})
	require.NoError(t, err)
	assert.Equal(t, license.OutcomeApplied, out)
	assert.Equal(t, license.StatusPastDue, f.get(t, "k1").Status)

	f.provider.addSubscription(license.Subscription{
		ID:               "sub_1",
		CustomerID:       "cus_1",
		Status:           "active",
		CurrentPeriodEnd: periodEnd + 2592000,
	})
	out, err = f.processor.Process(ctx, &license.Event{
		Type:           license.EventInvoicePaymentSucceeded,
		Created:        300,
		SubscriptionID: "sub_1",
	})
	require.NoError(t, err)
	assert.Equal(t, license.OutcomeApplied, out)
	rec := f.get(t, "k1")
	assert.Equal(t, license.StatusActive, rec.Status)
	assert.Equal(t, periodEnd+2592000, rec.CurrentPeriodEnd)
}

// indexlessStore hides the subscription index so only a scan can correlate.
type indexlessStore struct {
	*recordstore.Memory
}

func (indexlessStore) FindBySubscription(context.Context, string) (string, error) {
	return "", license.ErrNotFound
}

func TestProcessorInvoiceScanFallback(t *testing.T) {
	ctx := context.Background()
	mem := recordstore.NewMemory()
	require.NoError(t, mem.Put(ctx, license.Record{
		LicenseKey:            "k1",
		BillingSubscriptionID: "sub_1",
		Status:                license.StatusActive,
	}))
	store := indexlessStore{mem}
	ev := &license.Event{Type: license.EventInvoicePaymentFailed, SubscriptionID: "sub_1"}

	out, err := license.NewProcessor(store, newFakeProvider()).Process(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, license.OutcomeIgnored, out)

	out, err = license.NewProcessor(store, newFakeProvider(), license.WithScanFallback(true)).Process(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, license.OutcomeApplied, out)

	rec, err := mem.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, license.StatusPastDue, rec.Status)
}

func TestProcessorProviderFailure(t *testing.T) {
	f := newProcessorFixture(t)
	f.provider.fail = true

	_, err := f.processor.Process(context.Background(), checkoutEvent(100))
	require.ErrorIs(t, err, errProvider)

	// Handle swallows the error; the event is still acknowledged.
	out := f.processor.Handle(context.Background(), checkoutEvent(100))
	assert.Equal(t, license.OutcomeFailed, out)
}
