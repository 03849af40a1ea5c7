// Package identifier generates short, collision-resistant textual tokens
// used to name resumable-transfer temporary files.
package identifier

import (
	"errors"
	"strings"

	"github.com/opendataspace/csyncgo/pkg/encoding"
	"github.com/opendataspace/csyncgo/pkg/random"
)

const (
	// PrefixTransfer is the prefix used for resumable transfer tokens.
	PrefixTransfer = "xfer"

	// requiredPrefixLength is the required length for identifier prefixes.
	requiredPrefixLength = 4
	// collisionResistantLength is the number of random bytes needed to
	// ensure collision-resistance in an identifier.
	collisionResistantLength = 16
)

// New generates a new collision-resistant identifier with the specified
// prefix. The prefix should have a length of requiredPrefixLength.
func New(prefix string) (string, error) {
	if len(prefix) != requiredPrefixLength {
		return "", errors.New("incorrect prefix length")
	}
	for _, r := range prefix {
		if !('a' <= r && r <= 'z') {
			return "", errors.New("invalid prefix character")
		}
	}

	value, err := random.New(collisionResistantLength)
	if err != nil {
		return "", err
	}

	builder := &strings.Builder{}
	builder.WriteString(prefix)
	builder.WriteRune('_')
	builder.WriteString(encoding.EncodeBase62(value))

	return builder.String(), nil
}
