// Package idgen generates random identifiers for scored transactions.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// WithPrefix returns prefix followed by 24 random hex characters,
// e.g. "txn_9f86d081884c7d659a2feaa0".
func WithPrefix(prefix string) string {
	var b [12]byte
	// crypto/rand.Read never returns an error on supported platforms.
	_, _ = rand.Read(b[:])
	return prefix + hex.EncodeToString(b[:])
}
