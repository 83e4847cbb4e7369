package client

import (
	"time"

	"github.com/CloudNativeWorks/cnw-subscription-license/license"
)

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithOpener sets how checkout and portal URLs are shown to the user.
// Without one the URLs are only returned.
func WithOpener(o Opener) ManagerOption {
	return func(m *Manager) {
		m.opener = o
	}
}

// WithReceiptVerifier makes the manager adopt a granting verdict only when it
// carries a receipt signed by the trusted key, and re-check the cached receipt
// on Open.
func WithReceiptVerifier(v *license.ReceiptVerifier) ManagerOption {
	return func(m *Manager) {
		m.verifier = v
	}
}

// WithTrialPeriod sets the trial window measured from first launch.
// Default is 7 days.
func WithTrialPeriod(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.trialPeriod = d
	}
}

// WithMaxOfflineAge sets how long a cached active verdict is trusted without
// reaching the server. Default is 30 days.
func WithMaxOfflineAge(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.maxOfflineAge = d
	}
}

// WithPollInterval sets the validation interval while waiting for a
// checkout. Default is 5 seconds.
func WithPollInterval(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.pollInterval = d
	}
}

// WithMaxCheckoutWait bounds how long a checkout is polled. Default is 30 minutes.
func WithMaxCheckoutWait(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.maxCheckoutWait = d
	}
}

// WithClock replaces the manager's time source.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// WithOnChange registers a callback invoked with the effective state after
// every persisted change, including background refreshes.
func WithOnChange(fn func(State)) ManagerOption {
	return func(m *Manager) {
		m.onChange = fn
	}
}
