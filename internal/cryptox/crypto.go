// Package cryptox holds the hashing primitives used for passwords and
// refresh token secrets.
package cryptox

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"golang.org/x/crypto/argon2"
)

const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32

	// SaltLength is the size of per-user password salts.
	SaltLength = 16
)

// HashPassword derives an argon2id hash of password with salt.
func HashPassword(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// NewSalt returns a fresh random password salt.
func NewSalt() []byte {
	return common.GenerateRandByteArray(SaltLength)
}

// VerifyPassword recomputes the hash of candidate and compares it with
// stored in constant time.
func VerifyPassword(stored, salt, candidate []byte) bool {
	computed := HashPassword(candidate, salt)
	defer common.WipeByteArray(computed)
	return subtle.ConstantTimeCompare(stored, computed) == 1
}

// DigestToken returns the hex SHA-256 of a raw refresh secret. Only the
// digest is persisted, so a leaked table cannot be replayed.
func DigestToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
