package license

import "context"

// SubscriptionFetcher reads a subscription's current state from the payment
// provider.
type SubscriptionFetcher interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
}

// Provider is the slice of the payment provider API this service consumes.
type Provider interface {
	SubscriptionFetcher

	// CreateCheckoutSession starts a hosted subscription checkout tagged with
	// params.LicenseKey on both the session and the future subscription.
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)

	// CreatePortalSession opens a hosted billing-management session.
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (*PortalSession, error)
}

// EventParser decodes a verified webhook body into an Event.
type EventParser interface {
	ParseEvent(payload []byte) (*Event, error)
}
