package license

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultSignatureTolerance is the maximum accepted age of a signed webhook.
const DefaultSignatureTolerance = 300 * time.Second

// SignatureVerifier checks the "t=<unix>,v1=<hex hmac>" header sent with
// provider webhooks.
type SignatureVerifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewSignatureVerifier returns a verifier for the shared webhook secret.
// A non-positive tolerance selects DefaultSignatureTolerance.
func NewSignatureVerifier(secret string, tolerance time.Duration) *SignatureVerifier {
	if tolerance <= 0 {
		tolerance = DefaultSignatureTolerance
	}
	return &SignatureVerifier{
		secret:    []byte(secret),
		tolerance: tolerance,
		now:       time.Now,
	}
}

// WithClock replaces the verifier's time source.
func (v *SignatureVerifier) WithClock(now func() time.Time) *SignatureVerifier {
	v.now = now
	return v
}

// Verify returns nil when header carries a fresh HMAC-SHA256 of
// "{timestamp}.{payload}" under the shared secret. Any v1 entry may match,
// which keeps verification working while the secret is being rolled.
func (v *SignatureVerifier) Verify(payload []byte, header string) error {
	if strings.TrimSpace(header) == "" {
		return ErrMissingSignature
	}

	var timestamp string
	var candidates []string
	for _, item := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(item), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			candidates = append(candidates, value)
		}
	}
	if timestamp == "" {
		return fmt.Errorf("%w: no timestamp", ErrInvalidSignature)
	}
	signedAt, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp %q", ErrInvalidSignature, timestamp)
	}
	limit := int64(v.tolerance / time.Second)
	switch age := v.now().Unix() - signedAt; {
	case age > limit:
		return fmt.Errorf("%w: signed %ds ago", ErrSignatureExpired, age)
	case age < -limit:
		return fmt.Errorf("%w: signed %ds in the future", ErrSignatureExpired, -age)
	}
	if len(candidates) == 0 {
		return fmt.Errorf("%w: no v1 signature", ErrInvalidSignature)
	}

	expected := computeSignature(v.secret, timestamp, payload)
	for _, candidate := range candidates {
		got, err := hex.DecodeString(candidate)
		if err != nil {
			continue
		}
		if hmac.Equal(got, expected) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// SignatureHeader builds a header value for payload signed at t. It is what
// the provider sends and is used by tests and local tooling.
func SignatureHeader(secret string, payload []byte, t time.Time) string {
	timestamp := strconv.FormatInt(t.Unix(), 10)
	mac := computeSignature([]byte(secret), timestamp, payload)
	return "t=" + timestamp + ",v1=" + hex.EncodeToString(mac)
}

func computeSignature(secret []byte, timestamp string, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}
