// Package id mints identifiers for conversion jobs.
package id

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// New returns a 32-character hex job id. If the system entropy source is
// unreadable it falls back to a nanosecond timestamp, which still keeps
// concurrent jobs on one host distinct.
func New() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("job-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}
