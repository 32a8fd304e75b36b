package util

import (
	"encoding/hex"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// Normalize returns the NFC form of s.
func Normalize(s string) string {
	return norm.NFC.String(s)
}

// FoldKey canonicalises s for equality lookups: trimmed, NFC-normalised and
// case-folded, so "Jane " and "JANE" produce the same key.
func FoldKey(s string) string {
	return folder.String(norm.NFC.String(strings.TrimSpace(s)))
}

// Slugify lowercases s and joins its letter and digit runs with hyphens.
// Accents are dropped after NFKD decomposition.
func Slugify(s string) string {
	var sb strings.Builder
	pendingDash := false
	for _, r := range norm.NFKD.String(strings.ToLower(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pendingDash && sb.Len() > 0 {
				sb.WriteByte('-')
			}
			pendingDash = false
			sb.WriteRune(r)
		case r < 0x80:
			pendingDash = true
		}
	}
	return sb.String()
}

func HexEncode(b []byte) string {
	return hex.EncodeToString(b)
}

func HexDecode(s string) ([]byte, error) {
	return hex.DecodeString(s)
}
