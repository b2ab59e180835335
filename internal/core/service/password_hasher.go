package service

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	defaultHashIterations = 300_000
	saltBytes             = 16
	digestBytes           = 32
)

// PasswordHasher derives and verifies password digests. Hashing is
// PBKDF2-SHA256 over the UTF-8 password bytes and a per-record hex salt,
// deliberately slow. Records with an empty salt carry a digest from the
// legacy single-round unsalted scheme and verify through a fallback path.
type PasswordHasher struct {
	iterations int
}

func NewPasswordHasher(iterations int) *PasswordHasher {
	if iterations <= 0 {
		iterations = defaultHashIterations
	}
	return &PasswordHasher{iterations: iterations}
}

// Hash returns the hex digest of password under salt. When salt is empty a
// fresh one is generated from a cryptographically strong source.
func (h *PasswordHasher) Hash(password, salt string) (digest, usedSalt string, err error) {
	if salt == "" {
		b := make([]byte, saltBytes)
		if _, err := rand.Read(b); err != nil {
			return "", "", fmt.Errorf("generate salt: %w", err)
		}
		salt = hex.EncodeToString(b)
	}
	key := pbkdf2.Key([]byte(password), []byte(salt), h.iterations, digestBytes, sha256.New)
	return hex.EncodeToString(key), salt, nil
}

// Verify reports whether password matches the stored digest. An empty salt
// selects the legacy unsalted comparison; callers should upgrade the record
// with a fresh Hash after a successful legacy match.
func (h *PasswordHasher) Verify(password, digest, salt string) bool {
	if salt == "" {
		legacy := sha256.Sum256([]byte(password))
		return subtle.ConstantTimeCompare([]byte(hex.EncodeToString(legacy[:])), []byte(digest)) == 1
	}
	key := pbkdf2.Key([]byte(password), []byte(salt), h.iterations, digestBytes, sha256.New)
	return subtle.ConstantTimeCompare([]byte(hex.EncodeToString(key)), []byte(digest)) == 1
}
