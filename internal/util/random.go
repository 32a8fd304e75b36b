package util

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

var (
	allowedRandomChars = []rune("23456789ABCDEFGHJKLMNPQRSTVWXYZabcdefghjkmnpqrstvwxyz")
)

// RandomChars returns n characters from an unambiguous alphabet.
func RandomChars(n int) (string, error) {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		idx, err := RandomIntn(len(allowedRandomChars))
		if err != nil {
			return "", fmt.Errorf("generating random char index: %w", err)
		}
		sb.WriteRune(allowedRandomChars[idx])
	}
	return sb.String(), nil
}

// RandomDigits returns n decimal digits; the first digit is never zero.
func RandomDigits(n int) (string, error) {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		lo, span := 0, 10
		if i == 0 {
			lo, span = 1, 9
		}
		d, err := RandomIntn(span)
		if err != nil {
			return "", fmt.Errorf("generating random digit: %w", err)
		}
		sb.WriteByte(byte('0' + lo + d))
	}
	return sb.String(), nil
}

func RandomIntn(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, fmt.Errorf("generating random number: %w", err)
	}
	return int(n.Int64()), nil
}

func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generating random bytes: %w", err)
	}
	return b, nil
}
