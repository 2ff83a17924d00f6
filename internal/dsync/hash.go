package dsync

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashPayload returns the SHA-256 digest of the serialized payload as a
// lowercase hex string. The digest is order-sensitive on the serialized
// bytes: two payloads that are logically equivalent but serialize
// differently hash differently. Hash equality is therefore a conservative
// proxy for "unchanged", never a test of logical equivalence.
func HashPayload(payload []byte) string {
	h := sha256.Sum256(payload)
	return hex.EncodeToString(h[:])
}

// HashEqual reports whether two digests are equal. Plain string equality;
// hashes are never ordered.
func HashEqual(a, b string) bool {
	return a == b
}
