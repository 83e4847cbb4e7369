package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/CloudNativeWorks/cnw-subscription-license/license"
)

// ErrUnavailable is returned while the breaker is rejecting calls.
var ErrUnavailable = errors.New("payment provider unavailable")

// BreakerConfig tunes the circuit breaker around the payment provider.
type BreakerConfig struct {
	// MaxRequests is the number of probe calls allowed while half-open.
	MaxRequests uint32
	// Interval is the closed-state window after which counts reset.
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
}

// DefaultBreakerConfig suits an external HTTP API.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         3,
		Interval:            2 * time.Minute,
		Timeout:             10 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// Breaker wraps a license.Provider with a circuit breaker so an outage at the
// provider fails fast instead of tying up request handlers.
type Breaker struct {
	next   license.Provider
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

var _ license.Provider = (*Breaker)(nil)

// NewBreaker decorates next. A nil logger disables state-change logging.
func NewBreaker(next license.Provider, cfg BreakerConfig, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = DefaultBreakerConfig().ConsecutiveFailures
	}
	b := &Breaker{next: next, logger: logger}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "payment-provider",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			// A canceled caller says nothing about provider health.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return b
}

// State reports the breaker state ("closed", "open" or "half-open").
func (b *Breaker) State() string {
	return b.cb.State().String()
}

func (b *Breaker) CreateCheckoutSession(ctx context.Context, params license.CheckoutParams) (*license.CheckoutSession, error) {
	return execute(b, func() (*license.CheckoutSession, error) {
		return b.next.CreateCheckoutSession(ctx, params)
	})
}

func (b *Breaker) GetSubscription(ctx context.Context, subscriptionID string) (*license.Subscription, error) {
	return execute(b, func() (*license.Subscription, error) {
		return b.next.GetSubscription(ctx, subscriptionID)
	})
}

func (b *Breaker) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*license.PortalSession, error) {
	return execute(b, func() (*license.PortalSession, error) {
		return b.next.CreatePortalSession(ctx, customerID, returnURL)
	})
}

func execute[T any](b *Breaker, fn func() (*T, error)) (*T, error) {
	result, err := b.cb.Execute(func() (any, error) {
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err != nil {
		return nil, err
	}
	return result.(*T), nil
}
