package license

import "errors"

// Sentinel errors for record store access.
var (
	ErrNotFound     = errors.New("license not found")
	ErrDeviceLocked = errors.New("license is locked to another device")
	ErrKeyMismatch  = errors.New("record license key does not match its storage key")
	ErrConflict     = errors.New("concurrent modification, retries exhausted")

	ErrNoBillingCustomer = errors.New("license has no billing customer yet")
)

// Sentinel errors for webhook signature verification.
var (
	ErrMissingSignature = errors.New("missing webhook signature")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrSignatureExpired = errors.New("webhook signature timestamp outside tolerance")
)

// Sentinel errors for signed validation receipts.
var (
	ErrReceiptMissing = errors.New("validation receipt missing")
	ErrReceiptInvalid = errors.New("validation receipt signature invalid")
	ErrReceiptKey     = errors.New("invalid receipt key")
)
