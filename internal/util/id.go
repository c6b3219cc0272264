// Package util holds small helpers shared across packages.
package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns an opaque id of the form "prefix_<32 hex chars>". The prefix
// names the entity kind (usr, dev, prof, jti) so ids are self-describing in
// logs and database rows.
func NewID(prefix string) string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return prefix + "_" + hex.EncodeToString(buf)
}
