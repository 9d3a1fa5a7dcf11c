package signing

import (
	"encoding/base64"

	"golang.org/x/crypto/blake2b"
)

// Digest computes the BLAKE2b-512 content hash of the given body bytes.
// The hash is computed over the exact wire bytes, never a re-serialized
// form, so callers must pass the bytes they received or will transmit.
func Digest(body []byte) []byte {
	sum := blake2b.Sum512(body)
	return sum[:]
}

// DigestBase64 returns the base64 encoding of the BLAKE2b-512 digest,
// which is the form carried in the authorization header.
func DigestBase64(body []byte) string {
	return base64.StdEncoding.EncodeToString(Digest(body))
}
