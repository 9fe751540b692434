package plan

import (
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Integrity errors.
var (
	ErrUnsupportedAlgorithm = errors.New("unsupported hash algorithm")
	ErrInvalidHash          = errors.New("invalid hash format")
)

// Supported hash algorithms.
const (
	AlgorithmSHA256  = "sha256"
	AlgorithmSHA512  = "sha512"
	AlgorithmBLAKE2b = "blake2b"
)

// hashLengths maps algorithm to expected hex string length.
var hashLengths = map[string]int{
	AlgorithmSHA256:  64,
	AlgorithmSHA512:  128,
	AlgorithmBLAKE2b: 128, // BLAKE2b-512
}

// Integrity is a declared content checksum. It is an immutable value object.
type Integrity struct {
	algorithm string
	hash      string
}

// ParseIntegrity parses "algorithm:hex". A bare 64-character hex string is
// taken as sha256. The empty string yields the zero Integrity.
func ParseIntegrity(s string) (Integrity, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Integrity{}, nil
	}

	algorithm, digest, found := strings.Cut(s, ":")
	if !found {
		algorithm, digest = AlgorithmSHA256, s
	}
	algorithm = strings.ToLower(algorithm)
	digest = strings.ToLower(digest)

	expectedLen, ok := hashLengths[algorithm]
	if !ok {
		return Integrity{}, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algorithm)
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return Integrity{}, fmt.Errorf("%w: invalid hex encoding", ErrInvalidHash)
	}
	if len(digest) != expectedLen {
		return Integrity{}, fmt.Errorf("%w: expected %d chars for %s, got %d",
			ErrInvalidHash, expectedLen, algorithm, len(digest))
	}

	return Integrity{algorithm: algorithm, hash: digest}, nil
}

// Algorithm returns the hash algorithm.
func (i Integrity) Algorithm() string {
	return i.algorithm
}

// Hash returns the hex-encoded digest.
func (i Integrity) Hash() string {
	return i.hash
}

// String returns the integrity in "algorithm:hash" format.
func (i Integrity) String() string {
	if i.IsZero() {
		return ""
	}
	return i.algorithm + ":" + i.hash
}

// IsZero reports whether no checksum was declared.
func (i Integrity) IsZero() bool {
	return i.algorithm == "" && i.hash == ""
}

// NewHash returns a streaming hasher for the algorithm. The zero Integrity
// hashes with sha256 so that unverified artifacts still get a digest.
func (i Integrity) NewHash() hash.Hash {
	switch i.algorithm {
	case AlgorithmSHA512:
		return sha512.New()
	case AlgorithmBLAKE2b:
		h, _ := blake2b.New512(nil) // only fails for oversized keys
		return h
	default:
		return sha256.New()
	}
}

// Matches reports whether a computed digest (hex, any case) equals the
// declared one. The comparison runs in constant time.
func (i Integrity) Matches(digest string) bool {
	if i.IsZero() {
		return false
	}
	want, got := strings.ToLower(i.hash), strings.ToLower(digest)
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

// Sum returns the hex digest of data under the algorithm.
func (i Integrity) Sum(data []byte) string {
	h := i.NewHash()
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
