// Package authstub implements the PBKDF2-HMAC-SHA256 store.PasswordHasher:
// 100,000 iterations, 16-byte salt, 64-byte derived key.
package authstub

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"

	"golang.org/x/crypto/pbkdf2"
)

const (
	iterations = 100_000
	saltLength = 16
	keyLength  = 64
)

// Hasher implements store.PasswordHasher.
type Hasher struct{}

func (Hasher) GenerateSalt() ([]byte, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}

func (Hasher) Hash(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, iterations, keyLength, sha256.New)
}

func (h Hasher) Verify(password string, salt, hash []byte) bool {
	computed := h.Hash(password, salt)
	return subtle.ConstantTimeCompare(computed, hash) == 1
}
