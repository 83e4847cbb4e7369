package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/CloudNativeWorks/cnw-subscription-license/license"
)

type stubProvider struct {
	err   error
	calls int
}

func (s *stubProvider) GetSubscription(context.Context, string) (*license.Subscription, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &license.Subscription{ID: "sub_1", Status: "active"}, nil
}

func (s *stubProvider) CreateCheckoutSession(_ context.Context, p license.CheckoutParams) (*license.CheckoutSession, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &license.CheckoutSession{ID: "cs_" + p.LicenseKey}, nil
}

func (s *stubProvider) CreatePortalSession(context.Context, string, string) (*license.PortalSession, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &license.PortalSession{URL: "https://portal.example"}, nil
}

func TestBreakerPassesThrough(t *testing.T) {
	stub := &stubProvider{}
	b := NewBreaker(stub, DefaultBreakerConfig(), zaptest.NewLogger(t))

	sess, err := b.CreateCheckoutSession(context.Background(), license.CheckoutParams{LicenseKey: "k1"})
	require.NoError(t, err)
	assert.Equal(t, "cs_k1", sess.ID)

	sub, err := b.GetSubscription(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, "sub_1", sub.ID)

	portal, err := b.CreatePortalSession(context.Background(), "cus_1", "")
	require.NoError(t, err)
	assert.Equal(t, "https://portal.example", portal.URL)
	assert.Equal(t, "closed", b.State())
}

func TestBreakerTripsAndRecovers(t *testing.T) {
	boom := errors.New("boom")
	stub := &stubProvider{err: boom}
	b := NewBreaker(stub, BreakerConfig{
		MaxRequests:         1,
		Timeout:             50 * time.Millisecond,
		ConsecutiveFailures: 2,
	}, zaptest.NewLogger(t))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := b.GetSubscription(ctx, "sub_1")
		require.ErrorIs(t, err, boom)
	}
	assert.Equal(t, "open", b.State())

	_, err := b.GetSubscription(ctx, "sub_1")
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 2, stub.calls)

	stub.err = nil
	require.Eventually(t, func() bool { return b.State() == "half-open" }, time.Second, 10*time.Millisecond)
	_, err = b.GetSubscription(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, "closed", b.State())
}

func TestBreakerIgnoresCanceledCallers(t *testing.T) {
	stub := &stubProvider{err: context.Canceled}
	b := NewBreaker(stub, BreakerConfig{ConsecutiveFailures: 1}, nil)

	for i := 0; i < 3; i++ {
		_, err := b.GetSubscription(context.Background(), "sub_1")
		require.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, "closed", b.State())
}
