package crypto

import (
	"crypto/sha1"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the derived key length in bytes.
	KeySize = 32
	// SaltSize is the length of the random salt stored in front of every
	// ciphertext.
	SaltSize = 16
	// DefaultKdfIterations is used when a document does not record a count.
	DefaultKdfIterations = 1000
	// MinKdfIterations is the lowest count accepted from a document.
	MinKdfIterations = 1000
)

// DeriveKey stretches password with PBKDF2-HMAC-SHA1.
func DeriveKey(password string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(password), salt, iterations, KeySize, sha1.New)
}
