package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/profitshare_backend/checksum"
	"bitbucket.org/mmdatafocus/profitshare_backend/config"
	"bitbucket.org/mmdatafocus/profitshare_backend/models"
	"bitbucket.org/mmdatafocus/profitshare_backend/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrExtractionFailure wraps extractor errors during archival. The archive
// call is all-or-nothing: on any extraction failure nothing is persisted.
var ErrExtractionFailure = errors.New("extraction failure")

// ArchiveRequest configures one archival. A single struct replaces the
// overload family the operation grew out of: the registry's extractor set is
// the base, AdditionalChecksums appends caller-derived fields, and
// IsArchiveRequest marks the run as officially relied upon.
type ArchiveRequest struct {
	ReportType string
	ProfitYear int
	// Params are the request parameters that produced Report; their
	// fingerprint is stored so later validations can confirm same-inputs.
	Params map[string]string
	// Report is the completed report object the registered extractors accept.
	Report any
	// AdditionalChecksums are extra derived-field extractors appended to the
	// registered set for this archival only.
	AdditionalChecksums []FieldExtractor
	IsArchiveRequest    bool
	// GeneratedAt is when the underlying report was computed; zero means now.
	GeneratedAt time.Time
}

// ArchiveCompletedReport snapshots a completed report run: runs the registered
// extractors, canonicalizes and digests every field, and appends one archive
// row. Exactly one PutSnapshot; any extractor failure aborts before it.
func ArchiveCompletedReport(ctx context.Context, store models.SnapshotStore, registry *ExtractorRegistry, req ArchiveRequest) (*models.ArchivedSnapshot, error) {
	logger := config.GetLogger()

	reg, ok := registry.Lookup(req.ReportType)
	if !ok {
		return nil, fmt.Errorf("report type %q is not registered", req.ReportType)
	}

	extractors := make([]FieldExtractor, 0, len(reg.Extractors)+len(req.AdditionalChecksums))
	extractors = append(extractors, reg.Extractors...)
	extractors = append(extractors, req.AdditionalChecksums...)

	entries := make([]models.ChecksumEntry, 0, len(extractors))
	seen := map[string]bool{}
	for i, ex := range extractors {
		if seen[ex.FieldName] {
			return nil, fmt.Errorf("%w: duplicate field %q", ErrExtractionFailure, ex.FieldName)
		}
		seen[ex.FieldName] = true

		value, err := ex.Extract(req.Report)
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrExtractionFailure, ex.FieldName, err)
		}
		canonical, err := checksum.Canonicalize(value, ex.Normalization)
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrExtractionFailure, ex.FieldName, err)
		}
		digest := checksum.DigestField(canonical)
		entries = append(entries, models.ChecksumEntry{
			FieldName:       ex.FieldName,
			CanonicalValue:  canonical,
			DigestHex:       digest.Hex,
			DigestAlgorithm: digest.Algorithm,
			Position:        i,
		})
	}

	reportDigest := checksum.DigestReport(entriesToChecksum(entries))
	fingerprint := checksum.RequestFingerprint(req.Params)

	generatedAt := req.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = time.Now().UTC()
	}
	userName, _ := utils.GetUserNameFromContext(ctx)

	// Rearchival is recorded as such in the audit trail; the archive content
	// itself is appended either way.
	_, priorErr := store.GetCurrentSnapshot(ctx, req.ReportType, req.ProfitYear)
	rearchive := priorErr == nil

	snap := &models.ArchivedSnapshot{
		SnapshotId:           uuid.NewString(),
		ReportType:           req.ReportType,
		ProfitYear:           req.ProfitYear,
		GeneratedAtUtc:       generatedAt.UTC(),
		ArchivedAtUtc:        time.Now().UTC(),
		RequestFingerprint:   fingerprint.Hex,
		FingerprintAlgorithm: fingerprint.Algorithm,
		ReportDigest:         reportDigest.Hex,
		DigestAlgorithm:      reportDigest.Algorithm,
		IsArchiveRequest:     req.IsArchiveRequest,
		CreatedBy:            userName,
		Entries:              entries,
	}

	if err := store.PutSnapshot(ctx, snap); err != nil {
		config.LogError(logger, "archiveWorkflow.go", "ArchiveCompletedReport", "PutSnapshot", req.ReportType, err)
		return nil, err
	}

	if err := models.CreateArchiveHistory(ctx, snap, rearchive); err != nil {
		// The snapshot is committed; a failed audit row must not unwind it.
		config.LogError(logger, "archiveWorkflow.go", "ArchiveCompletedReport", "CreateArchiveHistory", snap.SnapshotId, err)
	}

	if logger != nil {
		cid, _ := utils.GetCorrelationIdFromContext(ctx)
		logger.WithFields(logrus.Fields{
			"report_type":    req.ReportType,
			"profit_year":    req.ProfitYear,
			"snapshot_id":    snap.SnapshotId,
			"fields":         len(entries),
			"rearchive":      rearchive,
			"correlation_id": cid,
		}).Info("report snapshot archived")
	}
	return snap, nil
}

func entriesToChecksum(entries []models.ChecksumEntry) []checksum.Entry {
	out := make([]checksum.Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, checksum.Entry{FieldName: e.FieldName, CanonicalValue: e.CanonicalValue})
	}
	return out
}
