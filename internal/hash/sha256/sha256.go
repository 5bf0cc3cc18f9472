// Package sha256 derives stable, fixed-width keys from normalized URLs.
package sha256

import (
	"crypto/sha256"
	"encoding/base64"
)

// KeyLength is the width of every key returned by Key.
const KeyLength = 23

// Key returns the first KeyLength characters of the unpadded base64url
// encoding of the SHA-256 digest of s. Keys are safe in URLs, file names and
// SQL text columns, and sort the same way on every platform.
func Key(s string) string {
	sum := sha256.Sum256([]byte(s))
	return base64.RawURLEncoding.EncodeToString(sum[:])[:KeyLength]
}
