package crypto

import (
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/jmcleod/donorhub/internal/derrors"
)

var testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngineFromHex(testKeyHex, "0f0e0d0c0b0a09080706050403020100")
	if err != nil {
		t.Fatalf("NewEngineFromHex failed: %v", err)
	}
	return e
}

func TestEncryptRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	format := regexp.MustCompile(`^[0-9a-f]{32}:[0-9a-f]+$`)

	for _, in := range []string{"", "Jane", "123-45-6789", "Ünïcødé ✓", strings.Repeat("x", 1000)} {
		ct, err := e.Encrypt(in)
		if err != nil {
			t.Fatalf("Encrypt(%q) failed: %v", in, err)
		}
		if !format.MatchString(ct) {
			t.Errorf("ciphertext %q does not match ivHex:cipherHex", ct)
		}
		pt, err := e.Decrypt(ct)
		if err != nil {
			t.Fatalf("Decrypt failed: %v", err)
		}
		if pt != in {
			t.Errorf("expected %q, got %q", in, pt)
		}
	}
}

func TestEncryptIsRandomised(t *testing.T) {
	e := newTestEngine(t)
	a, _ := e.Encrypt("Jane")
	b, _ := e.Encrypt("Jane")
	if a == b {
		t.Error("two encryptions of the same plaintext should differ")
	}
	if strings.Split(a, ":")[0] == strings.Split(b, ":")[0] {
		t.Error("IVs should differ between calls")
	}
}

func TestDeterministic(t *testing.T) {
	e := newTestEngine(t)

	t.Run("KnownAnswer", func(t *testing.T) {
		cases := map[string]string{
			"jane@example.com": "1d88c8f6b4a3b50d2ae28f259f77e32f3841ef14fb7fb2cb04c04a16fe31aa09",
			"":                 "9f3b7504926f8bd36e3118e903a4cd4a",
		}
		for in, want := range cases {
			got, err := e.EncryptDeterministic(in)
			if err != nil {
				t.Fatalf("EncryptDeterministic(%q) failed: %v", in, err)
			}
			if got != want {
				t.Errorf("EncryptDeterministic(%q) = %s, want %s", in, got, want)
			}
		}
	})

	t.Run("RoundTrip", func(t *testing.T) {
		for _, in := range []string{"", "ACC-001", "123456789"} {
			ct, _ := e.EncryptDeterministic(in)
			pt, err := e.DecryptDeterministic(ct)
			if err != nil {
				t.Fatalf("DecryptDeterministic failed: %v", err)
			}
			if pt != in {
				t.Errorf("expected %q, got %q", in, pt)
			}
		}
	})

	t.Run("Stable", func(t *testing.T) {
		a, _ := e.EncryptDeterministic("jane@example.com")
		b, _ := e.EncryptDeterministic("jane@example.com")
		c, _ := e.EncryptDeterministic("john@example.com")
		if a != b {
			t.Error("deterministic ciphertexts should be equal")
		}
		if a == c {
			t.Error("different plaintexts should not collide")
		}
	})
}

func TestBlindIndexFoldsCase(t *testing.T) {
	e := newTestEngine(t)
	a, _ := e.BlindIndex("Jane")
	b, _ := e.BlindIndex("  JANE")
	c, _ := e.BlindIndex("Janet")
	if a != b {
		t.Error("blind index should ignore case and surrounding space")
	}
	if a == c {
		t.Error("blind index should distinguish different values")
	}
}

func TestDecryptRejectsMalformed(t *testing.T) {
	e := newTestEngine(t)
	good, _ := e.Encrypt("hello")
	parts := strings.Split(good, ":")

	cases := map[string]string{
		"NoSeparator":   "deadbeef",
		"TwoSeparators": parts[0] + ":" + parts[1] + ":00",
		"BadIVHex":      "zz:" + parts[1],
		"ShortIV":       "abcd:" + parts[1],
		"BadCipherHex":  parts[0] + ":nothex",
		"PartialBlock":  parts[0] + ":abcd",
		"EmptyString":   "",
		"OnlySeparator": ":",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := e.Decrypt(in)
			if !errors.Is(err, ErrFormat) {
				t.Fatalf("expected ErrFormat, got %v", err)
			}
			if !errors.Is(err, derrors.ErrValidation) {
				t.Error("ErrFormat should classify as a validation error")
			}
		})
	}

	if _, err := e.DecryptDeterministic("not hex"); !errors.Is(err, ErrFormat) {
		t.Errorf("expected ErrFormat, got %v", err)
	}
}

func TestNewEngineValidatesKeyMaterial(t *testing.T) {
	iv := make([]byte, IVSize)
	key := make([]byte, KeySize)

	if _, err := NewEngine(key[:16], iv); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("short key: expected ErrInvalidKey, got %v", err)
	}
	if _, err := NewEngine(key, iv[:8]); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("short iv: expected ErrInvalidKey, got %v", err)
	}
	if _, err := NewEngineFromHex("", ""); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("missing material: expected ErrInvalidKey, got %v", err)
	}
	if _, err := NewEngineFromHex("xyz", "00"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("bad hex: expected ErrInvalidKey, got %v", err)
	}

	// The caller's buffer survives construction.
	key[0] = 0x42
	if _, err := NewEngine(key, iv); err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	if key[0] != 0x42 {
		t.Error("NewEngine should not wipe the caller's key")
	}
}

func TestSealOpen(t *testing.T) {
	e := newTestEngine(t)
	aad := []byte("DonorRegistration:7")

	sealed, err := e.Seal([]byte(`{"status":"REJECTED"}`), aad)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	out, err := e.Open(sealed, aad)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if string(out) != `{"status":"REJECTED"}` {
		t.Errorf("unexpected plaintext %s", out)
	}

	if _, err := e.Open(sealed, []byte("Payment:7")); !errors.Is(err, ErrFormat) {
		t.Errorf("expected ErrFormat for mismatched aad, got %v", err)
	}
}

func TestConcurrentUse(t *testing.T) {
	e := newTestEngine(t)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ct, err := e.Encrypt("concurrent")
			if err != nil {
				t.Errorf("Encrypt failed: %v", err)
				return
			}
			if pt, err := e.Decrypt(ct); err != nil || pt != "concurrent" {
				t.Errorf("round trip failed: %q %v", pt, err)
			}
		}()
	}
	wg.Wait()
}
