// Package randid generates the prefixed opaque identifiers exposed to ACP
// agents and webhook consumers.
package randid

import (
	"crypto/rand"
	"math/big"
)

const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// DefaultLength is the length of the random part of every public id.
const DefaultLength = 16

// String returns n characters drawn uniformly from [a-zA-Z0-9].
func String(n int) (string, error) {
	out := make([]byte, n)
	max := big.NewInt(int64(len(alphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out), nil
}

// New returns prefix followed by DefaultLength random alphanumerics.
func New(prefix string) (string, error) {
	suffix, err := String(DefaultLength)
	if err != nil {
		return "", err
	}
	return prefix + suffix, nil
}
