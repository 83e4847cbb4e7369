package license_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/CloudNativeWorks/cnw-subscription-license/license"
)

var errProvider = errors.New("provider unavailable")

// fakeProvider is an in-memory payment provider.
type fakeProvider struct {
	mu            sync.Mutex
	subscriptions map[string]*license.Subscription
	checkouts     []license.CheckoutParams
	portals       []string
	fail          bool
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{subscriptions: make(map[string]*license.Subscription)}
}

func (p *fakeProvider) addSubscription(sub license.Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscriptions[sub.ID] = &sub
}

func (p *fakeProvider) GetSubscription(_ context.Context, id string) (*license.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return nil, errProvider
	}
	sub, ok := p.subscriptions[id]
	if !ok {
		return nil, errors.New("no such subscription")
	}
	cp := *sub
	return &cp, nil
}

func (p *fakeProvider) CreateCheckoutSession(_ context.Context, params license.CheckoutParams) (*license.CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return nil, errProvider
	}
	p.checkouts = append(p.checkouts, params)
	return &license.CheckoutSession{ID: "cs_" + params.LicenseKey, URL: "https://pay.example/" + params.LicenseKey}, nil
}

func (p *fakeProvider) CreatePortalSession(_ context.Context, customerID, returnURL string) (*license.PortalSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return nil, errProvider
	}
	p.portals = append(p.portals, customerID)
	return &license.PortalSession{URL: "https://portal.example/" + customerID + "?return=" + returnURL}, nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
