package client

import (
	"time"

	"github.com/CloudNativeWorks/cnw-subscription-license/license"
)

// Status is the local entitlement-to-use state. It is a different vocabulary
// from the server's billing status (license.Status); FromVerdict joins them.
type Status string

const (
	StatusTrial   Status = "trial"
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
)

// FromVerdict maps a server verdict onto the local vocabulary. Only a valid
// verdict grants access; every other billing state, a device mismatch and an
// unknown key all read as expired.
func FromVerdict(v license.Verdict) Status {
	if v.Valid {
		return StatusActive
	}
	return StatusExpired
}

// State is the persisted client license state. Timestamps are Unix seconds.
type State struct {
	LicenseKey      string           `json:"licenseKey,omitempty"`
	Status          Status           `json:"status"`
	ExpiresAt       int64            `json:"expiresAt"`
	TrialStartedAt  int64            `json:"trialStartedAt"`
	LastOnlineCheck int64            `json:"lastOnlineCheck"`
	Receipt         *license.Receipt `json:"receipt,omitempty"`
}

// IsValid reports whether s grants access at now: trial and active states
// until they expire, expired never.
func (s State) IsValid(now time.Time) bool {
	switch s.Status {
	case StatusTrial, StatusActive:
		return s.ExpiresAt > now.Unix()
	default:
		return false
	}
}

// DaysRemaining is the number of started days left before ExpiresAt.
func (s State) DaysRemaining(now time.Time) int {
	left := s.ExpiresAt - now.Unix()
	if left <= 0 {
		return 0
	}
	return int((left + 86399) / 86400)
}

// ValidateRequest is the request body for POST /validate.
type ValidateRequest struct {
	LicenseKey string `json:"licenseKey"`
	DeviceID   string `json:"deviceId,omitempty"`
}

// ValidateResponse is the server's verdict, plus a signed receipt when the
// server has a signing key.
type ValidateResponse struct {
	license.Verdict
	Receipt *license.Receipt `json:"receipt,omitempty"`
}

// CheckoutRequest is the request body for POST /checkout.
type CheckoutRequest struct {
	DeviceID string `json:"deviceId,omitempty"`
}

// CheckoutResponse is returned by POST /checkout. Older servers only send URL.
type CheckoutResponse struct {
	CheckoutURL string `json:"checkoutUrl"`
	URL         string `json:"url"`
	LicenseKey  string `json:"licenseKey"`
}

// Link returns the checkout URL under whichever name the server used.
func (r CheckoutResponse) Link() string {
	if r.CheckoutURL != "" {
		return r.CheckoutURL
	}
	return r.URL
}

// ManageResponse is returned by GET /manage.
type ManageResponse struct {
	PortalURL string `json:"portalUrl"`
	URL       string `json:"url"`
}

// Link returns the portal URL under whichever name the server used.
func (r ManageResponse) Link() string {
	if r.PortalURL != "" {
		return r.PortalURL
	}
	return r.URL
}
