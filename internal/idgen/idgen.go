// Package idgen generates the short IDs that link connections to
// credential records.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// CredentialPrefix marks IDs of harvested credential records.
const CredentialPrefix = "cred-"

// alphabet excludes characters that need escaping in XML attributes and
// SQL literals.
const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters after the prefix.
const Length = 12

// CredentialID returns a new credential record ID.
func CredentialID() (string, error) {
	return WithPrefix(CredentialPrefix)
}

// WithPrefix returns prefix followed by Length random characters.
func WithPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return prefix + id, nil
}
