package license

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// ReceiptClaims is the signed statement behind a validation verdict.
type ReceiptClaims struct {
	LicenseKey string `json:"licenseKey"`
	DeviceID   string `json:"deviceId,omitempty"`
	Valid      bool   `json:"valid"`
	Status     Status `json:"status"`
	ExpiresAt  int64  `json:"expiresAt"`
	IssuedAt   int64  `json:"issuedAt"`
}

// Receipt is an Ed25519-signed ReceiptClaims document. Claims holds the
// signed JSON bytes and travels base64-encoded, so re-encoding the enclosing
// document (indenting, compacting, escaping) never alters what was signed.
type Receipt struct {
	Claims    []byte `json:"claims"`
	Signature string `json:"signature"`
}

// ReceiptSigner signs validation verdicts on the server.
type ReceiptSigner struct {
	key ed25519.PrivateKey
}

// NewReceiptSigner creates a signer from a base64-encoded 32-byte Ed25519 seed.
func NewReceiptSigner(base64Seed string) (*ReceiptSigner, error) {
	seed, err := base64.StdEncoding.DecodeString(base64Seed)
	if err != nil {
		return nil, fmt.Errorf("%w: base64 decode: %v", ErrReceiptKey, err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: seed length %d, expected %d", ErrReceiptKey, len(seed), ed25519.SeedSize)
	}
	return &ReceiptSigner{key: ed25519.NewKeyFromSeed(seed)}, nil
}

// PublicKey returns the base64 public key clients should trust.
func (s *ReceiptSigner) PublicKey() string {
	return base64.StdEncoding.EncodeToString(s.key.Public().(ed25519.PublicKey))
}

// Sign marshals and signs claims.
func (s *ReceiptSigner) Sign(claims ReceiptClaims) (*Receipt, error) {
	raw, err := json.Marshal(claims)
	if err != nil {
		return nil, fmt.Errorf("marshal claims: %w", err)
	}
	return &Receipt{
		Claims:    raw,
		Signature: base64.StdEncoding.EncodeToString(ed25519.Sign(s.key, raw)),
	}, nil
}

// ReceiptVerifier checks receipts against a trusted public key.
type ReceiptVerifier struct {
	key ed25519.PublicKey
}

// NewReceiptVerifier creates a verifier for a base64-encoded Ed25519 public key.
func NewReceiptVerifier(base64PubKey string) (*ReceiptVerifier, error) {
	raw, err := base64.StdEncoding.DecodeString(base64PubKey)
	if err != nil {
		return nil, fmt.Errorf("%w: base64 decode: %v", ErrReceiptKey, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: key length %d, expected %d", ErrReceiptKey, len(raw), ed25519.PublicKeySize)
	}
	return &ReceiptVerifier{key: ed25519.PublicKey(raw)}, nil
}

// Verify checks the signature over the raw claims bytes and decodes them.
func (v *ReceiptVerifier) Verify(r *Receipt) (*ReceiptClaims, error) {
	if r == nil || len(r.Claims) == 0 || r.Signature == "" {
		return nil, ErrReceiptMissing
	}
	sig, err := base64.StdEncoding.DecodeString(r.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: signature decode: %v", ErrReceiptInvalid, err)
	}
	if !ed25519.Verify(v.key, r.Claims, sig) {
		return nil, ErrReceiptInvalid
	}
	var claims ReceiptClaims
	if err := json.Unmarshal(r.Claims, &claims); err != nil {
		return nil, fmt.Errorf("%w: parse claims: %v", ErrReceiptInvalid, err)
	}
	return &claims, nil
}
