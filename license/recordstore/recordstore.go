// Package recordstore provides license.Store implementations.
//
// Every store makes Mutate atomic with the primitive its backend offers:
// a mutex in memory, a row lock in PostgreSQL, a version compare-and-swap in
// MongoDB and WATCH/MULTI in Redis. Each also maintains a secondary index from
// billing subscription id to license key.
package recordstore

import (
	"regexp"

	"github.com/CloudNativeWorks/cnw-subscription-license/license"
)

// maxMutateAttempts bounds optimistic retries before ErrConflict.
const maxMutateAttempts = 8

// validIdentifier matches safe table and collection names.
var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func overwrite(rec license.Record) license.MutateFunc {
	return func(*license.Record) (*license.Record, error) {
		return &rec, nil
	}
}
