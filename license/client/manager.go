package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/CloudNativeWorks/cnw-subscription-license/license"
)

const (
	DefaultTrialPeriod     = 7 * 24 * time.Hour
	DefaultMaxOfflineAge   = 30 * 24 * time.Hour
	DefaultPollInterval    = 5 * time.Second
	DefaultMaxCheckoutWait = 30 * time.Minute
)

// Opener shows a URL to the user, typically by launching a browser.
type Opener interface {
	Open(url string) error
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(url string) error

func (f OpenerFunc) Open(url string) error { return f(url) }

// Manager owns the local license state: it persists it, re-derives the
// effective status, validates online when it can and falls back to the
// cached state when it cannot.
//
// Call Open before anything else and Close when done.
type Manager struct {
	client   *OnlineClient
	store    *StateFile
	opener   Opener
	verifier *license.ReceiptVerifier
	onChange func(State)

	trialPeriod     time.Duration
	maxOfflineAge   time.Duration
	pollInterval    time.Duration
	maxCheckoutWait time.Duration
	now             func() time.Time

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu    sync.Mutex
	state State
	wait  *CheckoutWait
}

// NewManager creates a Manager talking to client and persisting to store.
func NewManager(client *OnlineClient, store *StateFile, opts ...ManagerOption) *Manager {
	m := &Manager{
		client:          client,
		store:           store,
		trialPeriod:     DefaultTrialPeriod,
		maxOfflineAge:   DefaultMaxOfflineAge,
		pollInterval:    DefaultPollInterval,
		maxCheckoutWait: DefaultMaxCheckoutWait,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.ctx, m.stop = context.WithCancel(context.Background())
	return m
}

// Open loads the persisted state, starting a trial on first launch, and
// returns the effective state without waiting on the network. When a license
// key is cached it is re-validated in the background; failures leave the
// loaded state in place.
func (m *Manager) Open(ctx context.Context) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}
	s, err := m.store.Load()
	switch {
	case errors.Is(err, ErrStateNotFound), errors.Is(err, ErrStateCorrupt):
		s = m.freshTrial()
		if err := m.store.Save(s); err != nil {
			return State{}, fmt.Errorf("save initial state: %w", err)
		}
	case err != nil:
		return State{}, err
	}

	if m.verifier != nil && s.Status == StatusActive && !m.cachedReceiptValid(s) {
		s.Status = StatusExpired
		s.Receipt = nil
		if err := m.store.Save(s); err != nil {
			return State{}, fmt.Errorf("save state: %w", err)
		}
	}

	m.mu.Lock()
	m.state = s
	snap := m.effective(s)
	m.mu.Unlock()

	if s.LicenseKey != "" {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			_, _ = m.Refresh(m.ctx)
		}()
	}
	return snap, nil
}

// Close stops background refreshes and any checkout wait, and waits for them.
func (m *Manager) Close() {
	m.stop()
	m.wg.Wait()
}

// State returns the effective state now.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.effective(m.state)
}

// IsValid reports whether the effective state grants access now.
func (m *Manager) IsValid() bool {
	return m.State().IsValid(m.now())
}

// Refresh validates the cached license key online and adopts the verdict.
// On any failure the cached state is kept and returned with the error.
func (m *Manager) Refresh(ctx context.Context) (State, error) {
	m.mu.Lock()
	key := m.state.LicenseKey
	m.mu.Unlock()
	if key == "" {
		return m.State(), ErrNoLicenseKey
	}

	resp, err := m.client.Validate(ctx, ValidateRequest{LicenseKey: key})
	if err != nil {
		return m.State(), fmt.Errorf("validate license: %w", err)
	}
	if err := m.checkReceipt(key, resp); err != nil {
		return m.State(), err
	}
	return m.adopt(key, resp, true)
}

// ActivateKey validates key and adopts it if the server says it grants
// access. Otherwise the previous state is left untouched and the reason is
// returned: ErrLicenseNotFound, ErrMachineMismatch, ErrLicenseInactive or a
// transport error.
func (m *Manager) ActivateKey(ctx context.Context, key string) (State, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return m.State(), ErrNoLicenseKey
	}

	resp, err := m.client.Validate(ctx, ValidateRequest{LicenseKey: key})
	if err != nil {
		return m.State(), fmt.Errorf("activate license: %w", err)
	}
	if err := m.checkReceipt(key, resp); err != nil {
		return m.State(), err
	}
	if !resp.Valid {
		switch resp.Status {
		case license.StatusUnknown:
			return m.State(), ErrLicenseNotFound
		case license.StatusMachineMismatch:
			return m.State(), ErrMachineMismatch
		default:
			return m.State(), fmt.Errorf("%w: %s", ErrLicenseInactive, resp.Status)
		}
	}
	return m.adopt(key, resp, false)
}

// Deactivate forgets the license key and its cached verdict. The trial start
// is kept, so the result is the remaining trial or expired.
func (m *Manager) Deactivate() (State, error) {
	m.CancelCheckout()

	m.mu.Lock()
	next := State{
		Status:         StatusExpired,
		TrialStartedAt: m.state.TrialStartedAt,
	}
	if err := m.store.Save(next); err != nil {
		m.mu.Unlock()
		return m.State(), fmt.Errorf("save state: %w", err)
	}
	m.state = next
	snap := m.effective(next)
	m.mu.Unlock()

	m.notify(snap)
	return snap, nil
}

// ManagePortal fetches the billing portal URL for the cached key and hands it
// to the Opener.
func (m *Manager) ManagePortal(ctx context.Context) (string, error) {
	m.mu.Lock()
	key := m.state.LicenseKey
	m.mu.Unlock()
	if key == "" {
		return "", ErrNoLicenseKey
	}

	url, err := m.client.ManagePortal(ctx, key)
	if err != nil {
		return "", fmt.Errorf("open billing portal: %w", err)
	}
	if m.opener != nil {
		if err := m.opener.Open(url); err != nil {
			return url, fmt.Errorf("open portal url: %w", err)
		}
	}
	return url, nil
}

// adopt applies a verdict for key. With onlyIfCurrent set the verdict is
// dropped if the cached key changed while the request was in flight.
func (m *Manager) adopt(key string, resp *ValidateResponse, onlyIfCurrent bool) (State, error) {
	m.mu.Lock()
	if onlyIfCurrent && m.state.LicenseKey != key {
		snap := m.effective(m.state)
		m.mu.Unlock()
		return snap, nil
	}
	next := m.state
	next.LicenseKey = key
	next.Status = FromVerdict(resp.Verdict)
	next.ExpiresAt = resp.ExpiresAt
	next.LastOnlineCheck = m.now().Unix()
	next.Receipt = resp.Receipt
	if err := m.store.Save(next); err != nil {
		snap := m.effective(m.state)
		m.mu.Unlock()
		return snap, fmt.Errorf("save state: %w", err)
	}
	m.state = next
	snap := m.effective(next)
	m.mu.Unlock()

	m.notify(snap)
	return snap, nil
}

// effective re-derives the status of a stored state at the current time.
// A cached active verdict counts only while it is unexpired and was
// confirmed online within the max offline age. Otherwise the trial window
// decides: a pending checkout or an invalid key never takes the trial away.
func (m *Manager) effective(s State) State {
	now := m.now().Unix()
	out := s
	if s.LicenseKey != "" && s.Status == StatusActive && s.LastOnlineCheck > 0 &&
		now <= s.LastOnlineCheck+seconds(m.maxOfflineAge) && s.ExpiresAt > now {
		return out
	}
	if trialEnd := s.TrialStartedAt + seconds(m.trialPeriod); now < trialEnd {
		out.Status = StatusTrial
		out.ExpiresAt = trialEnd
		return out
	}
	out.Status = StatusExpired
	return out
}

func (m *Manager) freshTrial() State {
	now := m.now().Unix()
	return State{
		Status:         StatusTrial,
		ExpiresAt:      now + seconds(m.trialPeriod),
		TrialStartedAt: now,
	}
}

// checkReceipt verifies the receipt behind a granting verdict. Verdicts that
// deny access cannot unlock anything and need none.
func (m *Manager) checkReceipt(key string, resp *ValidateResponse) error {
	if m.verifier == nil || !resp.Valid {
		return nil
	}
	claims, err := m.verifier.Verify(resp.Receipt)
	if err != nil {
		return fmt.Errorf("verify receipt: %w", err)
	}
	if claims.LicenseKey != key || claims.Valid != resp.Valid ||
		claims.Status != resp.Status || claims.ExpiresAt != resp.ExpiresAt {
		return fmt.Errorf("verify receipt: %w: claims do not match verdict", license.ErrReceiptInvalid)
	}
	if !m.sameDevice(claims) {
		return fmt.Errorf("verify receipt: %w: issued to another device", license.ErrReceiptInvalid)
	}
	return nil
}

func (m *Manager) cachedReceiptValid(s State) bool {
	claims, err := m.verifier.Verify(s.Receipt)
	return err == nil && claims.Valid && m.sameDevice(claims) &&
		claims.LicenseKey == s.LicenseKey && claims.ExpiresAt == s.ExpiresAt
}

// sameDevice reports whether a receipt was issued to this client's device.
// Receipts without a device, or a client without one, are not bound.
func (m *Manager) sameDevice(claims *license.ReceiptClaims) bool {
	local := m.client.DeviceID()
	return claims.DeviceID == "" || local == "" || claims.DeviceID == local
}

func (m *Manager) notify(s State) {
	if m.onChange != nil {
		m.onChange(s)
	}
}

func seconds(d time.Duration) int64 {
	return int64(d / time.Second)
}
