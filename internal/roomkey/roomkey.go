package roomkey

import (
	"crypto/sha256"
	"encoding/hex"
)

// Derive maps a (topic, secret) pair to the stable registry key for its room.
// The secret is hashed and truncated before it enters the key, so the key never
// contains the secret in a recoverable form. The key is a lookup handle, not a
// security boundary.
func Derive(topic, secret string) string {
	secretSum := sha256.Sum256([]byte(secret))
	secretHash := hex.EncodeToString(secretSum[:])[:8]

	keySum := sha256.Sum256([]byte(topic + ":" + secretHash))
	return hex.EncodeToString(keySum[:])[:16]
}

// Rendezvous returns the 32-byte mesh rendezvous key for a (topic, secret)
// pair. Peers derive the same key independently and meet on it; it never
// travels on the wire.
func Rendezvous(topic, secret string) []byte {
	sum := sha256.Sum256([]byte(topic + secret))
	return sum[:]
}
