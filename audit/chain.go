package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// GenesisHash is the PrevHash of the first entry in a chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// ChainHash computes the SHA-256 link for e over its identifying fields,
// a digest of its sealed details and its PrevHash.
func ChainHash(e Entry) string {
	detailsDigest := sha256.Sum256(e.SealedDetails)
	parts := []string{
		e.EventID,
		strconv.FormatInt(e.Seq, 10),
		string(e.Action),
		e.Model,
		strconv.FormatInt(deref(e.RecordID), 10),
		strconv.FormatInt(deref(e.UserID), 10),
		e.IP,
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
		hex.EncodeToString(detailsDigest[:]),
		e.PrevHash,
	}
	h := sha256.New()
	for _, p := range parts {
		// Length-prefix each part so field boundaries are unambiguous.
		fmt.Fprintf(h, "%d:%s|", len(p), p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyResult reports the outcome of Verify.
type VerifyResult struct {
	EntryCount int           `json:"entry_count"`
	Valid      bool          `json:"valid"`
	Checks     []CheckResult `json:"checks"`
}

// CheckResult is one named verification check.
type CheckResult struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "pass", "fail", "warn"
	Detail string `json:"detail,omitempty"`
}

func (r *VerifyResult) add(name string, ok bool, detail string) {
	status := "pass"
	if !ok {
		status = "fail"
		r.Valid = false
	}
	r.Checks = append(r.Checks, CheckResult{Name: name, Status: status, Detail: detail})
}

// Verify checks an exported trail, ordered by Seq, for continuity and
// tampering.
func Verify(entries []Entry) VerifyResult {
	result := VerifyResult{EntryCount: len(entries), Valid: true}

	if len(entries) == 0 {
		result.Checks = append(result.Checks, CheckResult{
			Name: "empty_chain", Status: "pass", Detail: "no entries to verify",
		})
		return result
	}

	// 1. Genesis anchor.
	if entries[0].PrevHash == GenesisHash {
		result.add("genesis_anchor", true, "")
	} else {
		result.add("genesis_anchor", false,
			fmt.Sprintf("first entry prev_hash=%s, expected genesis hash", entries[0].PrevHash))
	}

	// 2. Every entry's own hash matches its content.
	var hashDetail string
	for i, e := range entries {
		if got := ChainHash(e); got != e.Hash {
			hashDetail = fmt.Sprintf("entry %d (id=%d) hash=%s but content hashes to %s", i, e.ID, e.Hash, got)
			break
		}
	}
	result.add("entry_hashes", hashDetail == "", hashDetail)

	// 3. Chain continuity.
	var chainDetail string
	for i := 1; i < len(entries); i++ {
		if entries[i].PrevHash != entries[i-1].Hash {
			chainDetail = fmt.Sprintf("entry %d (id=%d) has prev_hash=%s but entry %d hash is %s",
				i, entries[i].ID, entries[i].PrevHash, i-1, entries[i-1].Hash)
			break
		}
	}
	if chainDetail == "" {
		result.add("chain_continuity", true, fmt.Sprintf("all %d entries link correctly", len(entries)))
	} else {
		result.add("chain_continuity", false, chainDetail)
	}

	// 4. Contiguous sequence numbers.
	var seqDetail string
	for i, e := range entries {
		if e.Seq != int64(i+1) {
			seqDetail = fmt.Sprintf("entry %d has seq=%d, expected %d", i, e.Seq, i+1)
			break
		}
	}
	result.add("contiguous_sequence", seqDetail == "", seqDetail)

	// 5. No duplicate ids.
	seen := make(map[string]int, len(entries))
	var dupDetail string
	for i, e := range entries {
		if prev, ok := seen[e.EventID]; ok {
			dupDetail = fmt.Sprintf("entry %d and entry %d share event id=%s", prev, i, e.EventID)
			break
		}
		seen[e.EventID] = i
	}
	result.add("no_duplicate_ids", dupDetail == "", dupDetail)

	// 6. Monotonic timestamps. Clock skew is possible in legitimate
	// deployments, so this only warns.
	for i := 1; i < len(entries); i++ {
		if entries[i].CreatedAt.Before(entries[i-1].CreatedAt) {
			result.Checks = append(result.Checks, CheckResult{
				Name:   "monotonic_timestamps",
				Status: "warn",
				Detail: fmt.Sprintf("entry %d (created_at=%s) is earlier than entry %d", i, entries[i].CreatedAt.Format(time.RFC3339), i-1),
			})
			return result
		}
	}
	result.add("monotonic_timestamps", true, "")
	return result
}

// Summary renders r as one line per check.
func (r VerifyResult) Summary() string {
	var sb strings.Builder
	for _, c := range r.Checks {
		fmt.Fprintf(&sb, "[%s] %s", strings.ToUpper(c.Status), c.Name)
		if c.Detail != "" {
			fmt.Fprintf(&sb, ": %s", c.Detail)
		}
		sb.WriteByte('\n')
	}
	if r.Valid {
		fmt.Fprintf(&sb, "chain valid (%d entries)\n", r.EntryCount)
	} else {
		fmt.Fprintf(&sb, "chain INVALID (%d entries)\n", r.EntryCount)
	}
	return sb.String()
}
