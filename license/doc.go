// Package license keeps subscription entitlements for desktop licenses.
//
// It reconciles three asynchronous sources of truth into one record per
// license key:
//
//   - payment provider webhooks, applied by Processor
//   - validation requests from clients, answered by Validator
//   - checkout initiation, handled by Orchestrator
//
// Records live behind the Store interface; implementations are in the
// recordstore subpackage. The client subpackage holds the desktop side.
//
// # Validation
//
//	v := license.NewValidator(store)
//	res, err := v.Validate(ctx, "license-key", "device-fingerprint")
//
// An unknown key yields Status "unknown", a key locked to another device
// yields "machine_mismatch". Canceled subscriptions stay valid until their
// paid period ends; there is no grace period after that.
package license
