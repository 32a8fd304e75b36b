package icrypto

import "github.com/jmcleod/donorhub/internal/util"

const sealKeyInfo = "donorhub:seal-key:v1"

// DeriveSealKey derives the AES-256-GCM key used for sealed blobs from the
// field-encryption master key. The general IV salts the derivation.
func DeriveSealKey(master, salt []byte) ([]byte, error) {
	return util.DeriveKey(master, salt, sealKeyInfo)
}
