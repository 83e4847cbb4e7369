package client

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// CheckoutWait tracks a checkout started by Manager.StartCheckout. The
// manager polls the server until the new license is active, the wait is
// canceled or the maximum wait elapses.
type CheckoutWait struct {
	LicenseKey string
	URL        string

	cancel context.CancelFunc
	done   chan struct{}
	state  State
	err    error
}

// Done is closed when the wait has finished.
func (w *CheckoutWait) Done() <-chan struct{} { return w.done }

// Cancel stops polling. The stored state is not modified.
func (w *CheckoutWait) Cancel() { w.cancel() }

// Result blocks until the wait finishes. It returns the active state, or
// ErrCheckoutCanceled or ErrCheckoutTimeout with the state at that moment.
func (w *CheckoutWait) Result() (State, error) {
	<-w.done
	return w.state, w.err
}

// StartCheckout asks the server for a new license key, stores it as pending
// and opens the checkout URL. The returned wait completes once the payment
// has been confirmed. Only one checkout can be in progress at a time.
func (m *Manager) StartCheckout(ctx context.Context) (*CheckoutWait, error) {
	waitCtx, cancel := context.WithTimeout(m.ctx, m.maxCheckoutWait)
	w := &CheckoutWait{cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	if m.wait != nil {
		m.mu.Unlock()
		cancel()
		return nil, ErrCheckoutInProgress
	}
	m.wait = w
	m.mu.Unlock()

	resp, err := m.client.StartCheckout(ctx)
	if err != nil {
		m.finishWait(w, m.State(), err)
		return nil, fmt.Errorf("start checkout: %w", err)
	}
	if waitCtx.Err() != nil {
		m.finishWait(w, m.State(), ErrCheckoutCanceled)
		return nil, ErrCheckoutCanceled
	}

	m.mu.Lock()
	next := m.state
	next.LicenseKey = resp.LicenseKey
	next.Status = StatusExpired
	next.ExpiresAt = 0
	next.LastOnlineCheck = 0
	next.Receipt = nil
	if err := m.store.Save(next); err != nil {
		m.mu.Unlock()
		m.finishWait(w, m.State(), err)
		return nil, fmt.Errorf("save state: %w", err)
	}
	m.state = next
	snap := m.effective(next)
	m.mu.Unlock()
	m.notify(snap)

	w.LicenseKey = resp.LicenseKey
	w.URL = resp.Link()

	m.wg.Add(1)
	go m.pollCheckout(waitCtx, w)

	if m.opener != nil {
		if err := m.opener.Open(w.URL); err != nil {
			w.Cancel()
			return nil, fmt.Errorf("open checkout url: %w", err)
		}
	}
	return w, nil
}

// CancelCheckout stops the checkout wait in progress, if any.
func (m *Manager) CancelCheckout() {
	m.mu.Lock()
	w := m.wait
	m.mu.Unlock()
	if w != nil {
		w.Cancel()
	}
}

func (m *Manager) pollCheckout(ctx context.Context, w *CheckoutWait) {
	defer m.wg.Done()
	defer w.cancel()

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			err := ErrCheckoutCanceled
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				err = ErrCheckoutTimeout
			}
			m.finishWait(w, m.State(), err)
			return
		case <-ticker.C:
			state, err := m.Refresh(ctx)
			if err == nil && state.Status == StatusActive {
				m.finishWait(w, state, nil)
				return
			}
		}
	}
}

// finishWait releases the checkout slot before signalling the waiter, so a
// caller woken by Done can start the next checkout immediately.
func (m *Manager) finishWait(w *CheckoutWait, state State, err error) {
	m.mu.Lock()
	if m.wait == w {
		m.wait = nil
	}
	m.mu.Unlock()

	w.state = state
	w.err = err
	w.cancel()
	close(w.done)
}
