package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/donorhub/audit"
	"github.com/jmcleod/donorhub/crypto"
	"github.com/jmcleod/donorhub/storage/memory"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// buildValidChain records n entries through a real audit log and returns
// them as an export.
func buildValidChain(t *testing.T, n int) auditExport {
	t.Helper()
	engine, err := crypto.NewEngineFromHex(
		"000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f",
		"0f0e0d0c0b0a09080706050403020100")
	require.NoError(t, err)

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	log := audit.NewLog(memory.NewRepository(), engine, audit.WithClock(func() time.Time {
		tick++
		return t0.Add(time.Duration(tick) * time.Second)
	}))
	ctx := context.Background()
	for i := 0; i < n; i++ {
		_, err := log.Record(ctx, audit.Event{
			UserID:   1,
			Action:   audit.ActionCreate,
			Model:    "DonorRegistration",
			RecordID: int64(i + 1),
			Details:  map[string]any{"firstName": "Jane"},
			IP:       "10.0.0.1",
		})
		require.NoError(t, err)
	}
	entries, err := log.Export(ctx)
	require.NoError(t, err)
	require.Len(t, entries, n)
	return auditExport{ExportedAt: t0, Entries: entries}
}

func checkStatus(result verifyResult, name string) string {
	for _, c := range result.Checks {
		if c.Name == name {
			return c.Status
		}
	}
	return ""
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestVerify_ValidChain(t *testing.T) {
	result := verifyAuditChain(buildValidChain(t, 5))

	assert.True(t, result.Valid)
	assert.Equal(t, 5, result.EntryCount)
	for _, c := range result.Checks {
		assert.NotEqual(t, "fail", c.Status, "check %s should not fail", c.Name)
	}
}

func TestVerify_EmptyChain(t *testing.T) {
	result := verifyAuditChain(auditExport{})

	assert.True(t, result.Valid)
	assert.Equal(t, 0, result.EntryCount)
	require.Len(t, result.Checks, 1)
	assert.Equal(t, "empty_chain", result.Checks[0].Name)
	assert.Equal(t, "pass", result.Checks[0].Status)
}

func TestVerify_TamperedEntry(t *testing.T) {
	export := buildValidChain(t, 3)
	export.Entries[1].Model = "Payment"

	result := verifyAuditChain(export)
	assert.False(t, result.Valid)
	assert.Equal(t, "fail", checkStatus(result, "entry_hashes"))
}

func TestVerify_TamperedSealedDetails(t *testing.T) {
	export := buildValidChain(t, 3)
	export.Entries[2].SealedDetails[0] ^= 0xff

	result := verifyAuditChain(export)
	assert.False(t, result.Valid)
	assert.Equal(t, "fail", checkStatus(result, "entry_hashes"))
}

func TestVerify_RemovedEntry(t *testing.T) {
	export := buildValidChain(t, 4)
	export.Entries = append(export.Entries[:1], export.Entries[2:]...)

	result := verifyAuditChain(export)
	assert.False(t, result.Valid)
	assert.Equal(t, "fail", checkStatus(result, "chain_continuity"))
	assert.Equal(t, "fail", checkStatus(result, "contiguous_sequence"))
}

func TestVerify_BrokenGenesis(t *testing.T) {
	export := buildValidChain(t, 2)
	export.Entries = export.Entries[1:]

	result := verifyAuditChain(export)
	assert.False(t, result.Valid)
	assert.Equal(t, "fail", checkStatus(result, "genesis_anchor"))
}

func TestExportRoundTrip(t *testing.T) {
	export := buildValidChain(t, 3)

	var buf bytes.Buffer
	require.NoError(t, writeExport(&buf, export))

	path := filepath.Join(t.TempDir(), "audit.json")
	require.NoError(t, writeFile(path, buf.Bytes()))

	got, err := readExport(path)
	require.NoError(t, err)
	require.Len(t, got.Entries, 3)

	result := verifyAuditChain(got)
	assert.True(t, result.Valid, result.Summary())
}

func TestReadExport_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := readExport(filepath.Join(dir, "missing.json"))
	assert.ErrorContains(t, err, "cannot read file")

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, writeFile(bad, []byte("{not json")))
	_, err = readExport(bad)
	assert.ErrorContains(t, err, "invalid JSON")
}

func TestPrintHumanResult(t *testing.T) {
	export := buildValidChain(t, 2)
	result := verifyAuditChain(export)
	result.File = "audit.json"

	var buf bytes.Buffer
	printHumanResult(&buf, result)
	assert.Contains(t, buf.String(), "Audit chain verification: audit.json")
	assert.Contains(t, buf.String(), "[PASS] genesis_anchor")
	assert.Contains(t, buf.String(), "Result: VALID")

	export.Entries[0].IP = "10.9.9.9"
	result = verifyAuditChain(export)
	buf.Reset()
	printHumanResult(&buf, result)
	assert.Contains(t, buf.String(), "[FAIL] entry_hashes")
	assert.Contains(t, buf.String(), "Result: INVALID")
}

func TestPrintJSONResult(t *testing.T) {
	result := verifyAuditChain(buildValidChain(t, 1))
	result.File = "audit.json"

	var buf bytes.Buffer
	require.NoError(t, printJSONResult(&buf, result))
	assert.Contains(t, buf.String(), `"file": "audit.json"`)
	assert.Contains(t, buf.String(), `"valid": true`)
	assert.Contains(t, buf.String(), `"entry_count": 1`)
}
