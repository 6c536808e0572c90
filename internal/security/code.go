package security

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
)

const DefaultCodeLength = 6

var ErrInvalidCodeLength = errors.New("code length must be between 4 and 10")

// NewNumericCode returns a uniformly distributed decimal code of the given length,
// leading zeros included.
func NewNumericCode(length int) (string, error) {
	if length < 4 || length > 10 {
		return "", ErrInvalidCodeLength
	}
	out := make([]byte, length)
	ten := big.NewInt(10)
	for i := range out {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		out[i] = byte('0' + n.Int64())
	}
	return string(out), nil
}

// IsNumericCode reports whether v is exactly length ASCII digits.
func IsNumericCode(v string, length int) bool {
	if len(v) != length {
		return false
	}
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return false
		}
	}
	return true
}
