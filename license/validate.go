package license

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Evaluate decides whether rec grants access to deviceID at now.
//
// A missing record is unknown. A device-locked record presented by a
// different device is a machine mismatch; a caller that sends no device id
// is judged on status alone. Active records are valid. Canceled records stay
// valid until the paid period ends. Nothing else is valid, whatever its
// period end says.
func Evaluate(rec *Record, deviceID string, now time.Time) Verdict {
	if rec == nil {
		return Verdict{Valid: false, Status: StatusUnknown}
	}
	if rec.DeviceID != "" && deviceID != "" && rec.DeviceID != deviceID {
		return Verdict{Valid: false, Status: StatusMachineMismatch}
	}
	valid := rec.Status == StatusActive ||
		(rec.Status == StatusCanceled && now.Unix() < rec.CurrentPeriodEnd)
	return Verdict{
		Valid:     valid,
		Status:    rec.Status,
		ExpiresAt: rec.CurrentPeriodEnd,
	}
}

// ValidationResult is a verdict plus its optional signed receipt.
type ValidationResult struct {
	Verdict
	Receipt *Receipt `json:"receipt,omitempty"`
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithValidatorClock sets the time source used for period checks.
func WithValidatorClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) {
		v.now = now
	}
}

// WithReceiptSigner makes the validator attach a signed receipt to every
// verdict about an existing record.
func WithReceiptSigner(s *ReceiptSigner) ValidatorOption {
	return func(v *Validator) {
		v.signer = s
	}
}

// Validator answers entitlement queries against the record store.
type Validator struct {
	store  Store
	now    func() time.Time
	signer *ReceiptSigner
}

// NewValidator creates a Validator reading from store.
func NewValidator(store Store, opts ...ValidatorOption) *Validator {
	v := &Validator{store: store, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate looks up licenseKey and evaluates it for deviceID. Unknown keys
// are reported in the verdict, not as an error; only store failures are
// returned as errors.
func (v *Validator) Validate(ctx context.Context, licenseKey, deviceID string) (*ValidationResult, error) {
	if licenseKey == "" {
		return &ValidationResult{Verdict: Evaluate(nil, deviceID, v.now())}, nil
	}
	rec, err := v.store.Get(ctx, licenseKey)
	if errors.Is(err, ErrNotFound) {
		rec = nil
	} else if err != nil {
		return nil, fmt.Errorf("load license: %w", err)
	}

	now := v.now()
	res := &ValidationResult{Verdict: Evaluate(rec, deviceID, now)}
	if v.signer != nil && rec != nil {
		receipt, err := v.signer.Sign(ReceiptClaims{
			LicenseKey: licenseKey,
			DeviceID:   deviceID,
			Valid:      res.Valid,
			Status:     res.Status,
			ExpiresAt:  res.ExpiresAt,
			IssuedAt:   now.Unix(),
		})
		if err != nil {
			return nil, fmt.Errorf("sign receipt: %w", err)
		}
		res.Receipt = receipt
	}
	return res, nil
}
