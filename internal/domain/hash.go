package domain

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentHash returns the stable hex fingerprint of a blob. Identical
// content always produces the identical hash, which keys idempotent index
// writes and embedding cache entries.
func ContentHash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// PathFingerprint returns a short stable fingerprint of a file path, safe
// to embed in store keys regardless of the characters the path contains.
func PathFingerprint(path string) string {
	h := sha256.Sum256([]byte(path))
	return hex.EncodeToString(h[:8])
}
