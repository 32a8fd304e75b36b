package util

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeyLength is the size of every derived key, an AES-256 key.
const KeyLength = 32

// DeriveKey expands seed into a KeyLength key bound to label with
// HKDF-SHA256. Keys derived under different labels are independent.
func DeriveKey(seed, salt []byte, label string) ([]byte, error) {
	if len(seed) == 0 {
		return nil, errors.New("util: key derivation needs a seed")
	}
	if label == "" {
		return nil, errors.New("util: key derivation needs a label")
	}
	k := make([]byte, KeyLength)
	if _, err := io.ReadFull(hkdf.New(sha256.New, seed, salt, []byte(label)), k); err != nil {
		return nil, fmt.Errorf("util: deriving %s key: %w", label, err)
	}
	return k, nil
}
