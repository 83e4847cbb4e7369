package license

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CheckoutConfig holds the provider settings for new subscriptions.
type CheckoutConfig struct {
	PriceID         string
	SuccessURL      string
	CancelURL       string
	PortalReturnURL string
}

// CheckoutResult is returned to a client starting a purchase.
type CheckoutResult struct {
	CheckoutURL string
	LicenseKey  string
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithKeyGenerator replaces the license key generator.
func WithKeyGenerator(gen func() string) OrchestratorOption {
	return func(o *Orchestrator) {
		o.newKey = gen
	}
}

// WithOrchestratorClock sets the time source used for createdAt.
func WithOrchestratorClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// Orchestrator mints license keys, starts checkouts and brokers billing
// portal sessions.
type Orchestrator struct {
	store    Store
	provider Provider
	cfg      CheckoutConfig
	newKey   func() string
	now      func() time.Time
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(store Store, provider Provider, cfg CheckoutConfig, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		provider: provider,
		cfg:      cfg,
		newKey:   uuid.NewString,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// StartCheckout mints a fresh license key and opens a checkout session
// correlated to it. With a deviceID, a provisional unpaid record is written
// so the device lock exists before payment completes.
func (o *Orchestrator) StartCheckout(ctx context.Context, deviceID string) (*CheckoutResult, error) {
	key := o.newKey()
	session, err := o.provider.CreateCheckoutSession(ctx, CheckoutParams{
		PriceID:    o.cfg.PriceID,
		LicenseKey: key,
		SuccessURL: o.cfg.SuccessURL,
		CancelURL:  o.cfg.CancelURL,
	})
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	if deviceID != "" {
		createdAt := o.now().Unix()
		// The webhook may already have landed, so merge rather than overwrite.
		_, err := o.store.Mutate(ctx, key, func(cur *Record) (*Record, error) {
			if cur != nil {
				if cur.DeviceID != "" {
					return nil, nil
				}
				next := *cur
				next.DeviceID = deviceID
				return &next, nil
			}
			return &Record{
				LicenseKey: key,
				Status:     StatusUnpaid,
				CreatedAt:  createdAt,
				DeviceID:   deviceID,
			}, nil
		})
		if err != nil {
			return nil, fmt.Errorf("write provisional license: %w", err)
		}
	}

	return &CheckoutResult{CheckoutURL: session.URL, LicenseKey: key}, nil
}

// OpenPortal opens a billing-management session for the customer behind
// licenseKey. Unknown keys return ErrNotFound; provisional records whose
// checkout has not completed return ErrNoBillingCustomer.
func (o *Orchestrator) OpenPortal(ctx context.Context, licenseKey string) (string, error) {
	if licenseKey == "" {
		return "", ErrNotFound
	}
	rec, err := o.store.Get(ctx, licenseKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", err
		}
		return "", fmt.Errorf("load license: %w", err)
	}
	if rec.BillingCustomerID == "" {
		return "", ErrNoBillingCustomer
	}
	session, err := o.provider.CreatePortalSession(ctx, rec.BillingCustomerID, o.cfg.PortalReturnURL)
	if err != nil {
		return "", fmt.Errorf("create portal session: %w", err)
	}
	return session.URL, nil
}
