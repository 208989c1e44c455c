package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// KeySize is the secretbox symmetric key size in bytes.
	KeySize = 32

	// NonceSize is the secretbox nonce size in bytes.
	NonceSize = 24
)

// encoding is the text form used for keys, nonces and sealed payloads.
// URL-safe without padding so encoded material survives query strings
// and form bodies untouched.
var encoding = base64.RawURLEncoding

// GenerateKey generates a new 32-byte secretbox key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// KeyFromBase64 decodes a base64url-encoded secretbox key.
func KeyFromBase64(s string) ([]byte, error) {
	key, err := encoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}

// KeyToBase64 encodes a secretbox key to base64url.
func KeyToBase64(key []byte) string {
	return encoding.EncodeToString(key)
}

// NewNonce generates a fresh random secretbox nonce.
func NewNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return nonce, nil
}

// Encrypt seals plaintext under key and nonce and returns the base64url
// ciphertext. The nonce is not embedded; callers transport it alongside
// the ciphertext.
func Encrypt(plaintext string, key, nonce []byte) (string, error) {
	k, n, err := checkSizes(key, nonce)
	if err != nil {
		return "", err
	}
	sealed := secretbox.Seal(nil, []byte(plaintext), n, k)
	return encoding.EncodeToString(sealed), nil
}

// Decrypt opens base64url ciphertext sealed under key and nonce.
// Any failure (bad encoding, wrong key, wrong nonce, tampered box)
// reports ok=false without distinguishing the cause.
func Decrypt(ciphertext string, key, nonce []byte) (string, bool) {
	k, n, err := checkSizes(key, nonce)
	if err != nil {
		return "", false
	}
	sealed, err := encoding.DecodeString(ciphertext)
	if err != nil {
		return "", false
	}
	plain, ok := secretbox.Open(nil, sealed, n, k)
	if !ok {
		return "", false
	}
	return string(plain), true
}

// ToBase64 encodes raw bytes to base64url without padding.
func ToBase64(b []byte) string {
	return encoding.EncodeToString(b)
}

// FromBase64 decodes base64url text, reporting ok=false on malformed input.
func FromBase64(s string) ([]byte, bool) {
	b, err := encoding.DecodeString(s)
	if err != nil {
		return nil, false
	}
	return b, true
}

// RandomID returns n random bytes as a base64url string.
func RandomID(n int) (string, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("failed to generate random id: %w", err)
	}
	return encoding.EncodeToString(b), nil
}

// SecureCompare compares two strings in constant time. When lengths
// differ the candidate is compared against the reference itself so the
// comparison cost does not reveal the reference length; the result is
// still false. Comparing two empty strings reports true.
func SecureCompare(reference, candidate string) bool {
	ref := []byte(reference)
	cand := []byte(candidate)

	same := true
	if len(ref) != len(cand) {
		same = false
		cand = ref
	}
	return subtle.ConstantTimeCompare(ref, cand) == 1 && same
}

func checkSizes(key, nonce []byte) (*[KeySize]byte, *[NonceSize]byte, error) {
	if len(key) != KeySize {
		return nil, nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	if len(nonce) != NonceSize {
		return nil, nil, fmt.Errorf("nonce must be %d bytes, got %d", NonceSize, len(nonce))
	}
	var k [KeySize]byte
	var n [NonceSize]byte
	copy(k[:], key)
	copy(n[:], nonce)
	return &k, &n, nil
}
