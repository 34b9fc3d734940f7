package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// AlgorithmSHA256V1 is the current digest algorithm identifier. The identifier
// is stored next to every digest so that a future algorithm change does not
// silently invalidate old archives: old digests stay verifiable against the
// algorithm they were produced with.
const AlgorithmSHA256V1 = "sha256/v1"

// Field/entry separators for report-level digests. Variable-length values
// concatenated without delimiters collide ("1"+"23" vs "12"+"3"), so names and
// values are always joined with the ASCII unit/record separators.
const (
	fieldSeparator = "\x1f"
	entrySeparator = "\x1e"
)

// FieldDigest is a digest plus the identifier of the algorithm that produced it.
type FieldDigest struct {
	Algorithm string `json:"algorithm"`
	Hex       string `json:"hex"`
}

// Entry is one named canonical value contributing to a report-level digest.
type Entry struct {
	FieldName      string
	CanonicalValue string
}

// DigestField hashes a single canonical value. Pure function: equal canonical
// values always produce equal digests (content addressing, not authentication).
func DigestField(canonical string) FieldDigest {
	sum := sha256.Sum256([]byte(canonical))
	return FieldDigest{
		Algorithm: AlgorithmSHA256V1,
		Hex:       hex.EncodeToString(sum[:]),
	}
}

// VerifyField recomputes the digest of canonical using the algorithm recorded
// on d. Unknown algorithms are an error, never a silent mismatch.
func VerifyField(canonical string, d FieldDigest) (bool, error) {
	switch d.Algorithm {
	case AlgorithmSHA256V1:
		return DigestField(canonical).Hex == d.Hex, nil
	default:
		return false, fmt.Errorf("unknown digest algorithm %q", d.Algorithm)
	}
}

// DigestReport produces a single report-level fingerprint over an entry set.
// Entries are sorted by field name so the digest is independent of extraction
// order, and each entry contributes "name<US>value" joined with <RS>.
func DigestReport(entries []Entry) FieldDigest {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].FieldName < sorted[j].FieldName
	})

	var b strings.Builder
	for i, e := range sorted {
		if i > 0 {
			b.WriteString(entrySeparator)
		}
		b.WriteString(e.FieldName)
		b.WriteString(fieldSeparator)
		b.WriteString(e.CanonicalValue)
	}
	return DigestField(b.String())
}

// RequestFingerprint digests the request parameters that produced a report, so
// a later validation can confirm it is comparing like for like (same filters,
// same year, same options) before declaring drift.
func RequestFingerprint(params map[string]string) FieldDigest {
	entries := make([]Entry, 0, len(params))
	for k, v := range params {
		entries = append(entries, Entry{FieldName: k, CanonicalValue: v})
	}
	return DigestReport(entries)
}
