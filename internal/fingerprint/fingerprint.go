// Package fingerprint computes content identity hashes for fetched
// documents and monitored pages.
//
// A fingerprint is the lowercase hex SHA-256 digest of the exact bytes it
// is given. No normalization is applied: callers that want whitespace or
// encoding to be ignored must normalize before hashing.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// Hash is a hex encoded SHA-256 digest.
type Hash string

// Empty is the fingerprint of a zero-length payload.
const Empty Hash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// Bytes returns the fingerprint of b. Nil and empty input return Empty.
func Bytes(b []byte) Hash {
	if len(b) == 0 {
		return Empty
	}
	sum := sha256.Sum256(b)
	return Hash(hex.EncodeToString(sum[:]))
}

// Text returns the fingerprint of the UTF-8 bytes of s.
func Text(s string) Hash {
	return Bytes([]byte(s))
}

// Reader streams r into the digest and returns the fingerprint together
// with the number of bytes consumed.
func Reader(r io.Reader) (Hash, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	if n == 0 {
		return Empty, 0, nil
	}
	return Hash(hex.EncodeToString(h.Sum(nil))), n, nil
}

// String returns the hex digest.
func (h Hash) String() string { return string(h) }

// IsEmpty reports whether h is the zero-length sentinel or unset.
func (h Hash) IsEmpty() bool { return h == "" || h == Empty }

// Short returns the first 12 hex characters, for log output.
func (h Hash) Short() string {
	if len(h) <= 12 {
		return string(h)
	}
	return string(h[:12])
}
