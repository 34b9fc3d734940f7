package models

import (
	"time"

	"bitbucket.org/mmdatafocus/profitshare_backend/checksum"
)

// ArchivedSnapshot is one archived computation of a report: an immutable,
// append-only log row. Re-archiving the same (reportType, profitYear) appends
// a new row and repoints the current pointer; prior rows are retained so an
// auditor can review what the numbers used to be.
type ArchivedSnapshot struct {
	ID         int    `gorm:"primary_key" json:"id"`
	SnapshotId string `gorm:"size:36;uniqueIndex;not null" json:"snapshot_id"`
	ReportType string `gorm:"size:50;index:idx_snapshot_key;not null" json:"report_type"`
	ProfitYear int    `gorm:"index:idx_snapshot_key;not null" json:"profit_year"`

	GeneratedAtUtc time.Time `json:"generated_at_utc"`
	ArchivedAtUtc  time.Time `json:"archived_at_utc"`

	// Digest of the request parameters that produced the report, so a later
	// validation can confirm it is comparing apples to apples.
	RequestFingerprint   string `gorm:"size:64" json:"request_fingerprint"`
	FingerprintAlgorithm string `gorm:"size:20" json:"fingerprint_algorithm"`

	// Report-level digest over the sorted entry set, for quick equality checks
	// without comparing every field.
	ReportDigest    string `gorm:"size:64" json:"report_digest"`
	DigestAlgorithm string `gorm:"size:20" json:"digest_algorithm"`

	// True when the run was an officially-relied-upon archive request rather
	// than an ad-hoc re-archival.
	IsArchiveRequest bool `json:"is_archive_request"`

	CreatedBy string    `gorm:"size:100" json:"created_by"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`

	Entries []ChecksumEntry `gorm:"foreignKey:SnapshotRowId" json:"entries"`
}

// ChecksumEntry is one named field inside a snapshot. The digest is always
// reproducible from the canonical value alone (content addressing, no salt).
type ChecksumEntry struct {
	ID            int `gorm:"primary_key" json:"id"`
	SnapshotRowId int `gorm:"index;not null" json:"snapshot_row_id"`

	FieldName       string `gorm:"size:100;not null" json:"field_name"`
	CanonicalValue  string `gorm:"size:500;not null" json:"canonical_value"`
	DigestHex       string `gorm:"size:64;not null" json:"digest_hex"`
	DigestAlgorithm string `gorm:"size:20;not null" json:"digest_algorithm"`

	// Extraction order at archival time; comparisons and report digests sort
	// by field name instead.
	Position int `json:"position"`
}

// SnapshotPointer marks the current snapshot per (reportType, profitYear).
// Repointed atomically inside PutSnapshot; rows in archived_snapshots are
// never deleted.
type SnapshotPointer struct {
	ID            int       `gorm:"primary_key" json:"id"`
	ReportType    string    `gorm:"size:50;uniqueIndex:uniq_pointer_key;not null" json:"report_type"`
	ProfitYear    int       `gorm:"uniqueIndex:uniq_pointer_key;not null" json:"profit_year"`
	SnapshotRowId int       `gorm:"not null" json:"snapshot_row_id"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// SnapshotKey identifies one archived report.
type SnapshotKey struct {
	ReportType string `json:"report_type"`
	ProfitYear int    `json:"profit_year"`
}

// Entry returns the checksum entry for fieldName, if present.
func (s *ArchivedSnapshot) Entry(fieldName string) (*ChecksumEntry, bool) {
	for i := range s.Entries {
		if s.Entries[i].FieldName == fieldName {
			return &s.Entries[i], true
		}
	}
	return nil, false
}

// ChecksumEntries converts the snapshot rows to the checksum package's entry
// form, for recomputing the report-level digest during verification.
func (s *ArchivedSnapshot) ChecksumEntries() []checksum.Entry {
	out := make([]checksum.Entry, 0, len(s.Entries))
	for _, e := range s.Entries {
		out = append(out, checksum.Entry{FieldName: e.FieldName, CanonicalValue: e.CanonicalValue})
	}
	return out
}
