// Package random provides cryptographically secure random byte generation
// for use in identifiers such as transfer tokens.
package random

import "crypto/rand"

// New generates a new byte slice of the specified length using a
// cryptographically secure random source.
func New(length int) ([]byte, error) {
	result := make([]byte, length)
	if _, err := rand.Read(result); err != nil {
		return nil, err
	}
	return result, nil
}
