// Package cryptox holds the hashing helpers used to address cached remote
// results: request fingerprints and content digests.
package cryptox

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// partSeparator keeps ("ab","c") and ("a","bc") apart.
const partSeparator = "\x1f"

// Fingerprint derives a stable cache key from the identifying inputs of a
// request. Each part is trimmed and lower-cased before hashing, so callers
// can pass user-entered text directly. The result is 64 hex characters.
func Fingerprint(parts ...string) string {
	normalized := make([]string, len(parts))
	for i, p := range parts {
		normalized[i] = strings.ToLower(strings.TrimSpace(p))
	}
	sum := blake2b.Sum256([]byte(strings.Join(normalized, partSeparator)))
	return hex.EncodeToString(sum[:])
}

// Digest returns the hex BLAKE2b-256 digest of data, e.g. an uploaded image,
// so binary inputs can take part in a Fingerprint.
func Digest(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}
