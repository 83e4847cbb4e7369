package license

// Status is the billing status of a license record. The server owns it; only
// the webhook processor changes it.
type Status string

const (
	StatusUnpaid   Status = "unpaid"
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
)

// Verdict-only statuses. They never appear on a stored Record.
const (
	StatusUnknown         Status = "unknown"
	StatusMachineMismatch Status = "machine_mismatch"
)

// StatusFromProvider maps a payment provider subscription status onto the
// local record vocabulary. Anything unrecognised is treated as unpaid.
func StatusFromProvider(providerStatus string) Status {
	switch providerStatus {
	case "active":
		return StatusActive
	case "past_due":
		return StatusPastDue
	case "canceled":
		return StatusCanceled
	default:
		return StatusUnpaid
	}
}

// Record is the server-side entitlement for one license key.
// Timestamps are Unix seconds.
type Record struct {
	LicenseKey            string `json:"licenseKey" bson:"_id"`
	BillingCustomerID     string `json:"billingCustomerId" bson:"billing_customer_id"`
	BillingSubscriptionID string `json:"billingSubscriptionId" bson:"billing_subscription_id"`
	Email                 string `json:"email" bson:"email"`
	Status                Status `json:"status" bson:"status"`
	CurrentPeriodEnd      int64  `json:"currentPeriodEnd" bson:"current_period_end"`
	CreatedAt             int64  `json:"createdAt" bson:"created_at"`
	DeviceID              string `json:"deviceId,omitempty" bson:"device_id,omitempty"`

	// LastEventAt is the creation time of the newest provider event applied
	// to this record. Older events are skipped.
	LastEventAt int64 `json:"lastEventAt,omitempty" bson:"last_event_at,omitempty"`
}

// Verdict is the answer to "does this license currently grant access".
// ExpiresAt is reported even when Valid is false.
type Verdict struct {
	Valid     bool   `json:"valid"`
	Status    Status `json:"status"`
	ExpiresAt int64  `json:"expiresAt"`
}

// EventType identifies a payment provider lifecycle event.
type EventType string

const (
	EventCheckoutCompleted       EventType = "checkout.session.completed"
	EventSubscriptionUpdated     EventType = "customer.subscription.updated"
	EventSubscriptionDeleted     EventType = "customer.subscription.deleted"
	EventInvoicePaymentSucceeded EventType = "invoice.payment_succeeded"
	EventInvoicePaymentFailed    EventType = "invoice.payment_failed"
)

// Event is a provider webhook event reduced to the fields the processor
// correlates and mutates on. Fields that do not apply to the event type are
// left empty.
type Event struct {
	ID      string
	Type    EventType
	Created int64

	// LicenseKey comes from the correlation metadata attached at checkout.
	LicenseKey string

	CustomerID     string
	SubscriptionID string
	Email          string

	// SubscriptionStatus and CurrentPeriodEnd are set on subscription events.
	SubscriptionStatus string
	CurrentPeriodEnd   int64
}

// Subscription is the provider's view of a recurring subscription.
type Subscription struct {
	ID               string
	CustomerID       string
	Status           string
	CurrentPeriodEnd int64
}

// CheckoutParams describes a hosted checkout session request.
type CheckoutParams struct {
	PriceID    string
	LicenseKey string
	SuccessURL string
	CancelURL  string
}

// CheckoutSession is a created hosted checkout.
type CheckoutSession struct {
	ID  string
	URL string
}

// PortalSession is a created billing-management session.
type PortalSession struct {
	URL string
}
