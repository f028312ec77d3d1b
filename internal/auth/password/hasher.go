// Package password derives and verifies salted PBKDF2-HMAC-SHA256 credentials.
//
// Stored form is "salt_hex:key_hex" at DefaultIterations, or
// "iterations:salt_hex:key_hex" for any other count. A value without a
// separator is a legacy unsalted SHA-256 hex digest; it still verifies but
// NeedsRehash reports true so callers can upgrade it on the next login.
package password

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	DefaultIterations = 100_000
	SaltLength        = 32
	KeyLength         = 32
)

// Hasher hashes and verifies passwords.
type Hasher struct {
	iterations int

	dummyOnce sync.Once
	dummy     string
}

// New returns a Hasher using iterations, never fewer than DefaultIterations.
func New(iterations int) *Hasher {
	if iterations < DefaultIterations {
		iterations = DefaultIterations
	}
	return &Hasher{iterations: iterations}
}

// Hash derives a fresh credential with a random salt.
func (h *Hasher) Hash(password string) (string, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	key := pbkdf2.Key([]byte(password), salt, h.iterations, KeyLength, sha256.New)

	if h.iterations == DefaultIterations {
		return hex.EncodeToString(salt) + ":" + hex.EncodeToString(key), nil
	}
	return strconv.Itoa(h.iterations) + ":" + hex.EncodeToString(salt) + ":" + hex.EncodeToString(key), nil
}

// Verify reports whether password matches stored. Malformed input yields false.
func (h *Hasher) Verify(password, stored string) bool {
	if !strings.Contains(stored, ":") {
		return verifyLegacy(password, stored)
	}

	iterations, salt, key, ok := parse(stored)
	if !ok {
		return false
	}
	derived := pbkdf2.Key([]byte(password), salt, iterations, len(key), sha256.New)
	return subtle.ConstantTimeCompare(derived, key) == 1
}

// NeedsRehash reports whether stored is a legacy digest or uses fewer
// iterations than this Hasher.
func (h *Hasher) NeedsRehash(stored string) bool {
	if !strings.Contains(stored, ":") {
		return true
	}
	iterations, _, _, ok := parse(stored)
	return !ok || iterations < h.iterations
}

// VerifyDummy burns the same CPU as a real verification. Used when the
// account does not exist so response timing does not reveal it.
func (h *Hasher) VerifyDummy(password string) {
	h.dummyOnce.Do(func() {
		d, err := h.Hash("dummy-password-for-timing")
		if err != nil {
			d = strings.Repeat("00", SaltLength) + ":" + strings.Repeat("00", KeyLength)
		}
		h.dummy = d
	})
	h.Verify(password, h.dummy)
}

func parse(stored string) (iterations int, salt, key []byte, ok bool) {
	parts := strings.Split(stored, ":")
	iterations = DefaultIterations

	switch len(parts) {
	case 2:
	case 3:
		n, err := strconv.Atoi(parts[0])
		if err != nil || n <= 0 {
			return 0, nil, nil, false
		}
		iterations = n
		parts = parts[1:]
	default:
		return 0, nil, nil, false
	}

	salt, err := hex.DecodeString(parts[0])
	if err != nil || len(salt) == 0 {
		return 0, nil, nil, false
	}
	key, err = hex.DecodeString(parts[1])
	if err != nil || len(key) == 0 {
		return 0, nil, nil, false
	}
	return iterations, salt, key, true
}

// verifyLegacy checks an unsalted SHA-256 hex digest. Migration path only.
func verifyLegacy(password, stored string) bool {
	want, err := hex.DecodeString(stored)
	if err != nil || len(want) != sha256.Size {
		return false
	}
	sum := sha256.Sum256([]byte(password))
	return subtle.ConstantTimeCompare(sum[:], want) == 1
}
