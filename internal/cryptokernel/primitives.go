// Package cryptokernel implements the Crypto Kernel (C1): primitives
// (AEAD, hash, KDF, scalar multiplication, randomness), per-file content
// key caching, key rotation, and chunk compression. It is stateless
// except for the content-key cache, which it exclusively owns.
package cryptokernel

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the AEAD key size (XChaCha20-Poly1305).
	KeySize = chacha20poly1305.KeySize
	// NonceSize is the AEAD nonce size for the X-variant.
	NonceSize = chacha20poly1305.NonceSizeX
	// tagSize is the Poly1305 authentication tag appended by Seal.
	tagSize = chacha20poly1305.Overhead

	// DefaultChunkSize is the default plaintext chunk size (§4.1): 512 KiB.
	DefaultChunkSize = 524288
)

// ErrDecryptionFailed is returned when an AEAD open fails at any layer.
var ErrDecryptionFailed = errors.New("cryptokernel: decryption failed")

// AEADEncrypt seals plaintext under key/nonce with the given associated
// data using XChaCha20-Poly1305 (32-byte key, 24-byte nonce, 16-byte tag).
func AEADEncrypt(key, nonce, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("cryptokernel: invalid key: %w", err)
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("cryptokernel: nonce must be %d bytes, got %d", NonceSize, len(nonce))
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

// AEADDecrypt opens ciphertext under key/nonce with the given associated
// data. Failing authentication returns ErrDecryptionFailed.
func AEADDecrypt(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	return AEADDecryptInto(nil, key, nonce, ciphertext, aad)
}

// AEADDecryptInto is AEADDecrypt, but appends the opened plaintext to dst
// instead of allocating a fresh buffer. Callers that already hold a
// reusable, appropriately-sized dst (e.g. from a BufferPool) avoid a
// per-call allocation; dst[:0] is the usual caller idiom.
func AEADDecryptInto(dst, key, nonce, ciphertext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("cryptokernel: invalid key: %w", err)
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("cryptokernel: nonce must be %d bytes, got %d", NonceSize, len(nonce))
	}
	plaintext, err := aead.Open(dst, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// Hash32 hashes the concatenation of parts to 32 bytes using BLAKE2b.
func Hash32(parts ...[]byte) [32]byte {
	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 only fails for an oversized key, which we never pass.
		panic(fmt.Sprintf("cryptokernel: blake2b init: %v", err))
	}
	for _, p := range parts {
		h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// KDF derives length bytes from ikm via HKDF-SHA256 with the given salt and
// info strings.
func KDF(ikm, info, salt []byte, length int) ([]byte, error) {
	r := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("cryptokernel: hkdf expand: %w", err)
	}
	return out, nil
}

// RandBytes returns n cryptographically random bytes.
func RandBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("cryptokernel: rand: %w", err)
	}
	return buf, nil
}

// ConstantTimeEqual compares two byte slices in constant time relative to
// their shared length. Unequal lengths are rejected before the compare
// (the spec treats a length mismatch as a fast skip, never a timing-safe
// comparison of padded buffers).
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// ScalarMult performs scalar multiplication on Curve25519: scalar·point.
// The scalar is clamped per RFC 7748 by the underlying X25519 function.
func ScalarMult(scalar, point [32]byte) ([32]byte, error) {
	out, err := curve25519.X25519(scalar[:], point[:])
	if err != nil {
		return [32]byte{}, fmt.Errorf("cryptokernel: scalar mult: %w", err)
	}
	var result [32]byte
	copy(result[:], out)
	return result, nil
}

// HashToPoint maps an arbitrary byte string onto a Curve25519 u-coordinate.
// This is a simplified (non-Elligator) hash-to-curve sufficient for the
// single-server OPRF construction in §4.3.2: deterministic, and uniform
// enough over the u-coordinate space that distinct tokens map to distinct
// points with overwhelming probability.
func HashToPoint(data []byte) [32]byte {
	sum := sha256.Sum256(data)
	// Clear the high bit so the value is always a valid field element,
	// mirroring the clamping X25519 itself performs on scalars.
	sum[31] &= 0x7f
	return sum
}

// BytesToScalar reduces an arbitrary-length byte string into a Curve25519
// scalar. Bytes beyond 32 are ignored; a short input is zero-padded — both
// treated as "skip undefined/out-of-bounds bytes as zero" per §4.3.2.
func BytesToScalar(b []byte) [32]byte {
	var scalar [32]byte
	n := len(b)
	if n > 32 {
		n = 32
	}
	copy(scalar[:n], b[:n])
	// Clamp per RFC 7748 so every derived scalar lands in the correct subgroup.
	scalar[0] &= 248
	scalar[31] &= 127
	scalar[31] |= 64
	return scalar
}
