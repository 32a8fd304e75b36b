package icrypto

import (
	"bytes"
	"testing"

	"github.com/jmcleod/donorhub/internal/util"
)

func TestAAD(t *testing.T) {
	aad1 := AADAuditDetails("evt-1", "DonorRegistration", 7, 1)
	aad2 := AADAuditDetails("evt-1", "DonorRegistration", 7, 1)

	if !bytes.Equal(aad1, aad2) {
		t.Error("AADAuditDetails should be deterministic")
	}

	if bytes.Equal(aad1, AADAuditDetails("evt-1", "DonorRegistration", 8, 1)) {
		t.Error("AADAuditDetails should differ for different record IDs")
	}
	if bytes.Equal(aad1, AADAuditDetails("evt-1", "Payment", 7, 1)) {
		t.Error("AADAuditDetails should differ for different models")
	}
	// Length prefixes keep adjacent strings from bleeding into each other.
	if bytes.Equal(AADAuditDetails("ab", "c", 1, 1), AADAuditDetails("a", "bc", 1, 1)) {
		t.Error("AADAuditDetails should be unambiguous across part boundaries")
	}
}

func TestSealKeys(t *testing.T) {
	master, _ := util.NewAESKey()
	salt := []byte("0123456789abcdef")

	k1, err := DeriveSealKey(master, salt)
	if err != nil {
		t.Fatalf("DeriveSealKey failed: %v", err)
	}
	if len(k1) != 32 {
		t.Errorf("expected 32-byte key, got %d", len(k1))
	}
	if bytes.Equal(k1, master) {
		t.Error("derived key must differ from the master key")
	}
	k2, _ := DeriveSealKey(master, []byte("fedcba9876543210"))
	if bytes.Equal(k1, k2) {
		t.Error("different salts should produce different keys")
	}
}
