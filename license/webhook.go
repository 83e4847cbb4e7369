package license

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Outcome reports what processing an event did to the store.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeStale     Outcome = "stale"
	OutcomeUnhandled Outcome = "unhandled"
	OutcomeFailed    Outcome = "failed"
)

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithProcessorLogger sets the logger used by Handle.
func WithProcessorLogger(l *zap.Logger) ProcessorOption {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithProcessorClock sets the time source used for createdAt on new records.
func WithProcessorClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) {
		p.now = now
	}
}

// WithScanFallback makes invoice events fall back to a full scan of the
// store when the subscription index has no entry.
func WithScanFallback(enabled bool) ProcessorOption {
	return func(p *Processor) {
		p.scanFallback = enabled
	}
}

// Processor applies provider lifecycle events to license records.
//
// Every mutation is a pure function of the event and the current record, run
// through Store.Mutate, so duplicates re-apply to an identical record and
// concurrent deliveries for one key cannot interleave halfway.
type Processor struct {
	store        Store
	subs         SubscriptionFetcher
	logger       *zap.Logger
	now          func() time.Time
	scanFallback bool
}

// NewProcessor creates a Processor writing to store and reading
// subscriptions from subs.
func NewProcessor(store Store, subs SubscriptionFetcher, opts ...ProcessorOption) *Processor {
	p := &Processor{
		store:  store,
		subs:   subs,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle processes ev and logs the result. It never fails: once a webhook is
// authenticated the sender is always acknowledged.
func (p *Processor) Handle(ctx context.Context, ev *Event) Outcome {
	log := p.logger.With(
		zap.String("event_id", ev.ID),
		zap.String("event_type", string(ev.Type)),
		zap.String("license_key", ev.LicenseKey),
		zap.String("subscription_id", ev.SubscriptionID),
	)
	outcome, err := p.Process(ctx, ev)
	switch {
	case err != nil:
		log.Error("webhook event processing failed", zap.Error(err))
		return OutcomeFailed
	case outcome == OutcomeIgnored:
		log.Warn("webhook event has no resolvable license, dropped")
	case outcome == OutcomeStale:
		log.Info("webhook event older than last applied event, skipped")
	default:
		log.Debug("webhook event processed", zap.String("outcome", string(outcome)))
	}
	return outcome
}

// Process applies ev. Correlation misses are OutcomeIgnored, not errors.
func (p *Processor) Process(ctx context.Context, ev *Event) (Outcome, error) {
	switch ev.Type {
	case EventCheckoutCompleted:
		return p.checkoutCompleted(ctx, ev)
	case EventSubscriptionUpdated:
		if ev.LicenseKey == "" {
			return OutcomeIgnored, nil
		}
		return p.apply(ctx, ev.LicenseKey, ev, false, func(cur *Record) Record {
			next := *cur
			next.Status = StatusFromProvider(ev.SubscriptionStatus)
			next.CurrentPeriodEnd = ev.CurrentPeriodEnd
			fillBillingIDs(&next, ev.CustomerID, ev.SubscriptionID)
			return next
		})
	case EventSubscriptionDeleted:
		if ev.LicenseKey == "" {
			return OutcomeIgnored, nil
		}
		return p.apply(ctx, ev.LicenseKey, ev, false, func(cur *Record) Record {
			next := *cur
			next.Status = StatusCanceled
			next.CurrentPeriodEnd = ev.CurrentPeriodEnd
			fillBillingIDs(&next, ev.CustomerID, ev.SubscriptionID)
			return next
		})
	case EventInvoicePaymentSucceeded:
		key, err := p.resolveSubscription(ctx, ev.SubscriptionID)
		if errors.Is(err, ErrNotFound) {
			return OutcomeIgnored, nil
		}
		if err != nil {
			return "", err
		}
		sub, err := p.subs.GetSubscription(ctx, ev.SubscriptionID)
		if err != nil {
			return "", fmt.Errorf("fetch subscription %s: %w", ev.SubscriptionID, err)
		}
		return p.apply(ctx, key, ev, false, func(cur *Record) Record {
			next := *cur
			next.Status = StatusActive
			next.CurrentPeriodEnd = sub.CurrentPeriodEnd
			return next
		})
	case EventInvoicePaymentFailed:
		key, err := p.resolveSubscription(ctx, ev.SubscriptionID)
		if errors.Is(err, ErrNotFound) {
			return OutcomeIgnored, nil
		}
		if err != nil {
			return "", err
		}
		return p.apply(ctx, key, ev, false, func(cur *Record) Record {
			next := *cur
			next.Status = StatusPastDue
			return next
		})
	default:
		return OutcomeUnhandled, nil
	}
}

func (p *Processor) checkoutCompleted(ctx context.Context, ev *Event) (Outcome, error) {
	if ev.LicenseKey == "" || ev.SubscriptionID == "" {
		return OutcomeIgnored, nil
	}
	sub, err := p.subs.GetSubscription(ctx, ev.SubscriptionID)
	if err != nil {
		return "", fmt.Errorf("fetch subscription %s: %w", ev.SubscriptionID, err)
	}
	createdAt := p.now().Unix()
	return p.apply(ctx, ev.LicenseKey, ev, true, func(cur *Record) Record {
		next := Record{
			LicenseKey:            ev.LicenseKey,
			BillingCustomerID:     ev.CustomerID,
			BillingSubscriptionID: ev.SubscriptionID,
			Email:                 ev.Email,
			Status:                StatusActive,
			CurrentPeriodEnd:      sub.CurrentPeriodEnd,
			CreatedAt:             createdAt,
		}
		if next.BillingCustomerID == "" {
			next.BillingCustomerID = sub.CustomerID
		}
		if cur != nil {
			next.DeviceID = cur.DeviceID
			if cur.CreatedAt != 0 {
				next.CreatedAt = cur.CreatedAt
			}
			if next.Email == "" {
				next.Email = cur.Email
			}
		}
		return next
	})
}

// apply runs change against the record under key inside Store.Mutate,
// skipping absent records (unless create is set) and events older than the
// newest one already applied.
func (p *Processor) apply(ctx context.Context, key string, ev *Event, create bool, change func(cur *Record) Record) (Outcome, error) {
	var outcome Outcome
	_, err := p.store.Mutate(ctx, key, func(cur *Record) (*Record, error) {
		if cur == nil && !create {
			outcome = OutcomeIgnored
			return nil, nil
		}
		if cur != nil && ev.Created > 0 && ev.Created < cur.LastEventAt {
			outcome = OutcomeStale
			return nil, nil
		}
		next := change(cur)
		next.LastEventAt = ev.Created
		if cur != nil && cur.LastEventAt > next.LastEventAt {
			next.LastEventAt = cur.LastEventAt
		}
		if cur != nil && next == *cur {
			outcome = OutcomeUnchanged
			return nil, nil
		}
		outcome = OutcomeApplied
		return &next, nil
	})
	if err != nil {
		return "", fmt.Errorf("update license %s: %w", key, err)
	}
	return outcome, nil
}

func (p *Processor) resolveSubscription(ctx context.Context, subscriptionID string) (string, error) {
	if subscriptionID == "" {
		return "", ErrNotFound
	}
	key, err := p.store.FindBySubscription(ctx, subscriptionID)
	if err == nil || !errors.Is(err, ErrNotFound) || !p.scanFallback {
		return key, err
	}
	return ScanForSubscription(ctx, p.store, subscriptionID)
}

func fillBillingIDs(rec *Record, customerID, subscriptionID string) {
	if rec.BillingCustomerID == "" {
		rec.BillingCustomerID = customerID
	}
	if rec.BillingSubscriptionID == "" {
		rec.BillingSubscriptionID = subscriptionID
	}
}
