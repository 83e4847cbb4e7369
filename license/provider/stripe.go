// Package provider adapts external payment providers to the license package.
package provider

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/CloudNativeWorks/cnw-subscription-license/license"
)

// metadataLicenseKey is the metadata field carrying the license key on
// checkout sessions and subscriptions.
const metadataLicenseKey = "license_key"

// StripeOption configures a Stripe provider.
type StripeOption func(*stripeConfig)

type stripeConfig struct {
	backends *stripe.Backends
}

// WithBackendURL points the Stripe API client at a different base URL.
// Used for tests and local mock servers.
func WithBackendURL(url string) StripeOption {
	return func(c *stripeConfig) {
		backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL:               stripe.String(url),
			MaxNetworkRetries: stripe.Int64(0),
			LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
		})
		c.backends = &stripe.Backends{API: backend, Connect: backend, Uploads: backend}
	}
}

// Stripe implements license.Provider and license.EventParser on the Stripe API.
type Stripe struct {
	api *client.API
}

var (
	_ license.Provider    = (*Stripe)(nil)
	_ license.EventParser = (*Stripe)(nil)
)

// NewStripe creates a Stripe provider authenticated with secretKey.
func NewStripe(secretKey string, opts ...StripeOption) *Stripe {
	var cfg stripeConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Stripe{api: client.New(secretKey, cfg.backends)}
}

func (s *Stripe) CreateCheckoutSession(ctx context.Context, p license.CheckoutParams) (*license.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(p.PriceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{metadataLicenseKey: p.LicenseKey},
		},
	}
	params.Context = ctx
	params.AddMetadata(metadataLicenseKey, p.LicenseKey)

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe checkout session: %w", err)
	}
	return &license.CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

func (s *Stripe) GetSubscription(ctx context.Context, subscriptionID string) (*license.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := s.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("stripe subscription %s: %w", subscriptionID, err)
	}
	out := &license.Subscription{
		ID:               sub.ID,
		Status:           string(sub.Status),
		CurrentPeriodEnd: sub.CurrentPeriodEnd,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	return out, nil
}

func (s *Stripe) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*license.PortalSession, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer: stripe.String(customerID),
	}
	if returnURL != "" {
		params.ReturnURL = stripe.String(returnURL)
	}
	params.Context = ctx
	sess, err := s.api.BillingPortalSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe portal session: %w", err)
	}
	return &license.PortalSession{URL: sess.URL}, nil
}
