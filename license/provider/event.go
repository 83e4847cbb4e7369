package provider

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v76"

	"github.com/CloudNativeWorks/cnw-subscription-license/license"
)

// ErrMalformedEvent is returned when a verified webhook body is not a
// decodable Stripe event.
var ErrMalformedEvent = errors.New("malformed webhook event")

// ParseEvent decodes a Stripe event envelope into a license.Event. Event types
// the processor does not handle are returned with only the envelope fields.
func (s *Stripe) ParseEvent(payload []byte) (*license.Event, error) {
	return ParseStripeEvent(payload)
}

// ParseStripeEvent is ParseEvent without a configured client.
func ParseStripeEvent(payload []byte) (*license.Event, error) {
	var env stripe.Event
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: no event type", ErrMalformedEvent)
	}
	ev := &license.Event{
		ID:      env.ID,
		Type:    license.EventType(env.Type),
		Created: env.Created,
	}
	if env.Data == nil || len(env.Data.Raw) == 0 {
		return ev, nil
	}

	var err error
	switch ev.Type {
	case license.EventCheckoutCompleted:
		err = decodeCheckoutSession(env.Data.Raw, ev)
	case license.EventSubscriptionUpdated, license.EventSubscriptionDeleted:
		err = decodeSubscription(env.Data.Raw, ev)
	case license.EventInvoicePaymentSucceeded, license.EventInvoicePaymentFailed:
		err = decodeInvoice(env.Data.Raw, ev)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, env.Type, err)
	}
	return ev, nil
}

func decodeCheckoutSession(raw json.RawMessage, ev *license.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return err
	}
	ev.LicenseKey = sess.Metadata[metadataLicenseKey]
	if sess.Customer != nil {
		ev.CustomerID = sess.Customer.ID
	}
	if sess.Subscription != nil {
		ev.SubscriptionID = sess.Subscription.ID
	}
	switch {
	case sess.CustomerDetails != nil && sess.CustomerDetails.Email != "":
		ev.Email = sess.CustomerDetails.Email
	default:
		ev.Email = sess.CustomerEmail
	}
	return nil
}

func decodeSubscription(raw json.RawMessage, ev *license.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return err
	}
	ev.LicenseKey = sub.Metadata[metadataLicenseKey]
	ev.SubscriptionID = sub.ID
	if sub.Customer != nil {
		ev.CustomerID = sub.Customer.ID
	}
	ev.SubscriptionStatus = string(sub.Status)
	ev.CurrentPeriodEnd = sub.CurrentPeriodEnd
	return nil
}

func decodeInvoice(raw json.RawMessage, ev *license.Event) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return err
	}
	if inv.Subscription != nil {
		ev.SubscriptionID = inv.Subscription.ID
	}
	if inv.Customer != nil {
		ev.CustomerID = inv.Customer.ID
	}
	ev.Email = inv.CustomerEmail
	return nil
}
