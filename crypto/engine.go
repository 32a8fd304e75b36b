// Package crypto implements the field-level cipher used for PII at rest.
//
// Two modes share one AES-256-CBC key. Non-deterministic encryption draws a
// fresh IV per call and produces "ivHex:cipherHex"; deterministic encryption
// uses the all-zero IV and produces bare "cipherHex", so equal plaintexts
// give equal ciphertexts and can be matched by exact lookup. A separate
// AES-256-GCM subkey seals opaque blobs such as audit details.
package crypto

import (
	"errors"
	"fmt"
	"strings"

	"github.com/awnumar/memguard"

	icrypto "github.com/jmcleod/donorhub/internal/crypto"
	"github.com/jmcleod/donorhub/internal/derrors"
	"github.com/jmcleod/donorhub/internal/util"
)

const (
	KeySize = util.AESKeySize
	IVSize  = util.AESIVSize
)

var (
	// ErrInvalidKey is returned when key material is missing or mis-sized.
	ErrInvalidKey = errors.New("crypto: invalid key material")

	// ErrFormat is returned when a ciphertext cannot be parsed or decrypted.
	ErrFormat = derrors.New(derrors.CodeValidation, "invalid ciphertext format")
)

var zeroIV = make([]byte, IVSize)

// Engine is safe for concurrent use; it holds no mutable state.
type Engine struct {
	key     *memguard.Enclave
	sealKey *memguard.Enclave
}

// NewEngine builds an Engine from a 32-byte key and a 16-byte general IV.
// The inputs are copied and may be wiped by the caller afterwards.
func NewEngine(key, iv []byte) (*Engine, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key is %d bytes, want %d", ErrInvalidKey, len(key), KeySize)
	}
	if len(iv) != IVSize {
		return nil, fmt.Errorf("%w: iv is %d bytes, want %d", ErrInvalidKey, len(iv), IVSize)
	}
	sealKey, err := icrypto.DeriveSealKey(key, iv)
	if err != nil {
		return nil, fmt.Errorf("deriving seal key: %w", err)
	}
	// NewEnclave wipes its argument.
	return &Engine{
		key:     memguard.NewEnclave(util.CopyBytes(key)),
		sealKey: memguard.NewEnclave(sealKey),
	}, nil
}

// NewEngineFromHex decodes hex-encoded key material and calls NewEngine.
func NewEngineFromHex(keyHex, ivHex string) (*Engine, error) {
	if keyHex == "" || ivHex == "" {
		return nil, fmt.Errorf("%w: key and iv are required", ErrInvalidKey)
	}
	key, err := util.HexDecode(keyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: key is not hex", ErrInvalidKey)
	}
	defer util.WipeBytes(key)
	iv, err := util.HexDecode(ivHex)
	if err != nil {
		return nil, fmt.Errorf("%w: iv is not hex", ErrInvalidKey)
	}
	return NewEngine(key, iv)
}

// Encrypt encrypts plaintext under a fresh random IV.
func (e *Engine) Encrypt(plaintext string) (string, error) {
	iv, err := util.RandomBytes(IVSize)
	if err != nil {
		return "", err
	}
	ct, err := e.cbcEncrypt([]byte(plaintext), iv)
	if err != nil {
		return "", err
	}
	return util.HexEncode(iv) + ":" + util.HexEncode(ct), nil
}

// Decrypt reverses Encrypt. Inputs without exactly one ':' separator, or
// whose parts fail to decode or decrypt, yield ErrFormat.
func (e *Engine) Decrypt(ciphertext string) (string, error) {
	parts := strings.Split(ciphertext, ":")
	if len(parts) != 2 {
		return "", ErrFormat
	}
	iv, err := util.HexDecode(parts[0])
	if err != nil || len(iv) != IVSize {
		return "", ErrFormat
	}
	ct, err := util.HexDecode(parts[1])
	if err != nil {
		return "", ErrFormat
	}
	return e.cbcDecrypt(ct, iv)
}

// EncryptDeterministic encrypts plaintext under the fixed zero IV.
func (e *Engine) EncryptDeterministic(plaintext string) (string, error) {
	ct, err := e.cbcEncrypt([]byte(plaintext), zeroIV)
	if err != nil {
		return "", err
	}
	return util.HexEncode(ct), nil
}

// DecryptDeterministic reverses EncryptDeterministic.
func (e *Engine) DecryptDeterministic(ciphertext string) (string, error) {
	ct, err := util.HexDecode(ciphertext)
	if err != nil {
		return "", ErrFormat
	}
	return e.cbcDecrypt(ct, zeroIV)
}

// BlindIndex returns the deterministic ciphertext of the folded form of
// value, for case-insensitive exact matching of non-deterministic fields.
func (e *Engine) BlindIndex(value string) (string, error) {
	return e.EncryptDeterministic(util.FoldKey(value))
}

// Seal encrypts plaintext with AES-256-GCM bound to aad.
func (e *Engine) Seal(plaintext, aad []byte) ([]byte, error) {
	var out []byte
	err := withKey(e.sealKey, func(k []byte) error {
		var err error
		out, err = util.EncryptAESWithAAD(plaintext, k, aad)
		return err
	})
	return out, err
}

// Open reverses Seal. A mismatched aad or tampered blob yields ErrFormat.
func (e *Engine) Open(sealed, aad []byte) ([]byte, error) {
	var out []byte
	err := withKey(e.sealKey, func(k []byte) error {
		var err error
		out, err = util.DecryptAESWithAAD(sealed, k, aad)
		if err != nil {
			return ErrFormat
		}
		return nil
	})
	return out, err
}

func (e *Engine) cbcEncrypt(plaintext, iv []byte) ([]byte, error) {
	var out []byte
	err := withKey(e.key, func(k []byte) error {
		var err error
		out, err = util.EncryptAESCBC(plaintext, k, iv)
		return err
	})
	return out, err
}

func (e *Engine) cbcDecrypt(ct, iv []byte) (string, error) {
	var out []byte
	err := withKey(e.key, func(k []byte) error {
		var err error
		out, err = util.DecryptAESCBC(ct, k, iv)
		if err != nil {
			return ErrFormat
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func withKey(enclave *memguard.Enclave, fn func(key []byte) error) error {
	buf, err := enclave.Open()
	if err != nil {
		return fmt.Errorf("opening key enclave: %w", err)
	}
	defer buf.Destroy()
	return fn(buf.Bytes())
}
