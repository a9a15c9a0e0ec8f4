package utils

import (
	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the registration strength floor. Anything shorter is
// rejected before hashing.
const MinPasswordLength = 12

// hashCost is fixed rather than bcrypt.DefaultCost so that hash timing stays
// stable across library upgrades.
const hashCost = 12

// HashPassword hashes a plaintext password with bcrypt. The caller owns the
// password bytes and is responsible for scrubbing them afterwards.
func HashPassword(password []byte) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(password, hashCost)
	return string(hash), err
}

// CheckPasswordHash compares a plaintext password with a bcrypt hash.
func CheckPasswordHash(password []byte, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), password) == nil
}
