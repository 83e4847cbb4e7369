// Package httpapi exposes the license service over HTTP.
//
// Routes:
//
//	POST /checkout   start a subscription checkout, optionally device-locked
//	POST /validate   report whether a license currently grants access
//	POST /webhook    receive signed payment provider events
//	GET  /manage     open the billing portal for a license
//	GET  /healthz    liveness
//
// Every route except /webhook allows any origin.
package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/CloudNativeWorks/cnw-subscription-license/license"
)

// SignatureHeader is the request header carrying the webhook signature.
const SignatureHeader = "Stripe-Signature"

// maxWebhookBody caps the size of a webhook payload.
const maxWebhookBody = 1 << 20

// Validator answers validation requests.
type Validator interface {
	Validate(ctx context.Context, licenseKey, deviceID string) (*license.ValidationResult, error)
}

// Checkout starts purchases and opens billing portals.
type Checkout interface {
	StartCheckout(ctx context.Context, deviceID string) (*license.CheckoutResult, error)
	OpenPortal(ctx context.Context, licenseKey string) (string, error)
}

// EventHandler applies verified webhook events.
type EventHandler interface {
	Handle(ctx context.Context, ev *license.Event) license.Outcome
}

// Handler serves the license HTTP API.
type Handler struct {
	validator Validator
	checkout  Checkout
	events    EventHandler
	verifier  *license.SignatureVerifier
	parser    license.EventParser
	logger    *zap.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the request and error logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHandler creates a Handler.
func NewHandler(validator Validator, checkout Checkout, events EventHandler, verifier *license.SignatureVerifier, parser license.EventParser, opts ...Option) *Handler {
	h := &Handler{
		validator: validator,
		checkout:  checkout,
		events:    events,
		verifier:  verifier,
		parser:    parser,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router builds the route tree.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.logger))
	r.Use(recoverer(h.logger))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeText(w, http.StatusNotFound, "Not Found")
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeText(w, http.StatusOK, "ok")
	})
	r.Post("/webhook", h.webhook)

	r.Group(func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type"},
		}))
		r.Use(allowAnyOrigin)

		r.Post("/checkout", h.startCheckout)
		r.Post("/validate", h.validate)
		r.Get("/manage", h.manage)
		for _, path := range []string{"/checkout", "/validate", "/manage"} {
			r.Options(path, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			})
		}
	})
	return r
}
