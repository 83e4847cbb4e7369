package license_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CloudNativeWorks/cnw-subscription-license/license"
	"github.com/CloudNativeWorks/cnw-subscription-license/license/recordstore"
)

func TestEvaluate(t *testing.T) {
	now := time.Unix(1700000000, 0)
	future := now.Unix() + 3600
	past := now.Unix() - 3600

	tests := []struct {
		name   string
		rec    *license.Record
		device string
		want   license.Verdict
	}{
		{
			name: "missing record",
			want: license.Verdict{Valid: false, Status: license.StatusUnknown},
		},
		{
			name: "active",
			rec:  &license.Record{Status: license.StatusActive, CurrentPeriodEnd: future},
			want: license.Verdict{Valid: true, Status: license.StatusActive, ExpiresAt: future},
		},
		{
			name: "active past period end stays valid",
			rec:  &license.Record{Status: license.StatusActive, CurrentPeriodEnd: past},
			want: license.Verdict{Valid: true, Status: license.StatusActive, ExpiresAt: past},
		},
		{
			name: "canceled within period",
			rec:  &license.Record{Status: license.StatusCanceled, CurrentPeriodEnd: future},
			want: license.Verdict{Valid: true, Status: license.StatusCanceled, ExpiresAt: future},
		},
		{
			name: "canceled after period",
			rec:  &license.Record{Status: license.StatusCanceled, CurrentPeriodEnd: past},
			want: license.Verdict{Valid: false, Status: license.StatusCanceled, ExpiresAt: past},
		},
		{
			name: "canceled exactly at period end",
			rec:  &license.Record{Status: license.StatusCanceled, CurrentPeriodEnd: now.Unix()},
			want: license.Verdict{Valid: false, Status: license.StatusCanceled, ExpiresAt: now.Unix()},
		},
		{
			name: "past due never valid",
			rec:  &license.Record{Status: license.StatusPastDue, CurrentPeriodEnd: future},
			want: license.Verdict{Valid: false, Status: license.StatusPastDue, ExpiresAt: future},
		},
		{
			name: "unpaid never valid",
			rec:  &license.Record{Status: license.StatusUnpaid, CurrentPeriodEnd: future},
			want: license.Verdict{Valid: false, Status: license.StatusUnpaid, ExpiresAt: future},
		},
		{
			name:   "same device",
			rec:    &license.Record{Status: license.StatusActive, CurrentPeriodEnd: future, DeviceID: "dev1"},
			device: "dev1",
			want:   license.Verdict{Valid: true, Status: license.StatusActive, ExpiresAt: future},
		},
		{
			name:   "other device",
			rec:    &license.Record{Status: license.StatusActive, CurrentPeriodEnd: future, DeviceID: "dev1"},
			device: "dev2",
			want:   license.Verdict{Valid: false, Status: license.StatusMachineMismatch},
		},
		{
			name: "locked record without caller device",
			rec:  &license.Record{Status: license.StatusActive, CurrentPeriodEnd: future, DeviceID: "dev1"},
			want: license.Verdict{Valid: true, Status: license.StatusActive, ExpiresAt: future},
		},
		{
			name:   "unlocked record any device",
			rec:    &license.Record{Status: license.StatusActive, CurrentPeriodEnd: future},
			device: "dev9",
			want:   license.Verdict{Valid: true, Status: license.StatusActive, ExpiresAt: future},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, license.Evaluate(tt.rec, tt.device, now))
		})
	}
}

func TestValidator(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	store := recordstore.NewMemory()
	require.NoError(t, store.Put(ctx, license.Record{
		LicenseKey:       "k1",
		Status:           license.StatusActive,
		CurrentPeriodEnd: now.Unix() + 100,
		DeviceID:         "dev1",
	}))
	v := license.NewValidator(store, license.WithValidatorClock(fixedClock(now)))

	res, err := v.Validate(ctx, "k1", "dev1")
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Nil(t, res.Receipt)

	res, err = v.Validate(ctx, "missing", "dev1")
	require.NoError(t, err)
	assert.Equal(t, license.Verdict{Status: license.StatusUnknown}, res.Verdict)

	res, err = v.Validate(ctx, "", "")
	require.NoError(t, err)
	assert.Equal(t, license.StatusUnknown, res.Status)
}

func TestValidatorSignsReceipts(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	store := recordstore.NewMemory()
	require.NoError(t, store.Put(ctx, license.Record{
		LicenseKey:       "k1",
		Status:           license.StatusCanceled,
		CurrentPeriodEnd: now.Unix() + 100,
	}))

	signer, err := license.NewReceiptSigner(testSeed)
	require.NoError(t, err)
	v := license.NewValidator(store, license.WithValidatorClock(fixedClock(now)), license.WithReceiptSigner(signer))

	res, err := v.Validate(ctx, "k1", "dev1")
	require.NoError(t, err)
	require.NotNil(t, res.Receipt)

	verifier, err := license.NewReceiptVerifier(signer.PublicKey())
	require.NoError(t, err)
	claims, err := verifier.Verify(res.Receipt)
	require.NoError(t, err)
	assert.Equal(t, license.ReceiptClaims{
		LicenseKey: "k1",
		DeviceID:   "dev1",
		Valid:      true,
		Status:     license.StatusCanceled,
		ExpiresAt:  now.Unix() + 100,
		IssuedAt:   now.Unix(),
	}, *claims)

	res, err = v.Validate(ctx, "missing", "")
	require.NoError(t, err)
	assert.Nil(t, res.Receipt)
}
