package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"bitbucket.org/mmdatafocus/profitshare_backend/checksum"
	"bitbucket.org/mmdatafocus/profitshare_backend/models"
	"github.com/shopspring/decimal"
)

func TestArchiveAndValidateRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := models.NewMemorySnapshotStore()
	report := newTestReport("125000.00", 87, "Profit Share Trust")
	registry := newTestRegistry(t, "PAY426N", report)

	snap := mustArchive(t, store, registry, "PAY426N", 2025)
	if len(snap.Entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(snap.Entries))
	}
	if snap.DigestAlgorithm != checksum.AlgorithmSHA256V1 {
		t.Errorf("digest algorithm = %q, want %q", snap.DigestAlgorithm, checksum.AlgorithmSHA256V1)
	}
	for _, e := range snap.Entries {
		ok, err := checksum.VerifyField(e.CanonicalValue, checksum.FieldDigest{Algorithm: e.DigestAlgorithm, Hex: e.DigestHex})
		if err != nil || !ok {
			t.Errorf("entry %s digest does not verify: ok=%v err=%v", e.FieldName, ok, err)
		}
	}

	// Unchanged data validates clean.
	result, err := ValidateReportChecksum(ctx, store, registry, "PAY426N", 2025, ValidateOptions{})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if result.FailedValidations != 0 {
		t.Fatalf("failed = %d, want 0: %+v", result.FailedValidations, result.FieldResults)
	}
	for _, f := range result.FieldResults {
		if f.Status != models.FieldComparisonMatch {
			t.Errorf("field %s = %s, want Match", f.FieldName, f.Status)
		}
	}
	if result.ParamsMatchArchived == nil || !*result.ParamsMatchArchived {
		t.Error("params fingerprint should match on round trip")
	}
	if result.BlocksFinalization {
		t.Error("clean run must not block finalization")
	}
}

func TestArchiveAbortsAtomicallyOnExtractorFailure(t *testing.T) {
	ctx := context.Background()
	store := models.NewMemorySnapshotStore()
	report := newTestReport("125000.00", 87, "Profit Share Trust")
	registry := newTestRegistry(t, "PAY426N", report)

	_, err := ArchiveCompletedReport(ctx, store, registry, ArchiveRequest{
		ReportType: "PAY426N",
		ProfitYear: 2025,
		Report:     report,
		AdditionalChecksums: []FieldExtractor{
			{FieldName: "Good", Extract: func(any) (any, error) { return decimal.RequireFromString("1.00"), nil }},
			{FieldName: "Broken", Extract: func(any) (any, error) { return nil, fmt.Errorf("column moved") }},
		},
	})
	if !errors.Is(err, ErrExtractionFailure) {
		t.Fatalf("err = %v, want ErrExtractionFailure", err)
	}

	// Nothing may be persisted when any field fails.
	if _, err := store.GetCurrentSnapshot(ctx, "PAY426N", 2025); !errors.Is(err, models.ErrSnapshotNotFound) {
		t.Fatalf("partial archive persisted: %v", err)
	}
}

func TestArchiveRejectsUncanonicalizableField(t *testing.T) {
	ctx := context.Background()
	store := models.NewMemorySnapshotStore()
	report := newTestReport("125000.00", 87, "Profit Share Trust")
	registry := newTestRegistry(t, "PAY426N", report)

	_, err := ArchiveCompletedReport(ctx, store, registry, ArchiveRequest{
		ReportType: "PAY426N",
		ProfitYear: 2025,
		Report:     report,
		AdditionalChecksums: []FieldExtractor{
			// float64 has no canonical form; must abort, not guess.
			{FieldName: "Rate", Extract: func(any) (any, error) { return 0.0425, nil }},
		},
	})
	if !errors.Is(err, ErrExtractionFailure) {
		t.Fatalf("err = %v, want ErrExtractionFailure for float64 field", err)
	}
	if _, err := store.GetCurrentSnapshot(ctx, "PAY426N", 2025); !errors.Is(err, models.ErrSnapshotNotFound) {
		t.Fatal("partial archive persisted after encoding failure")
	}
}

func TestArchiveRejectsDuplicateAdditionalField(t *testing.T) {
	ctx := context.Background()
	store := models.NewMemorySnapshotStore()
	report := newTestReport("125000.00", 87, "Profit Share Trust")
	registry := newTestRegistry(t, "PAY426N", report)

	_, err := ArchiveCompletedReport(ctx, store, registry, ArchiveRequest{
		ReportType: "PAY426N",
		ProfitYear: 2025,
		Report:     report,
		AdditionalChecksums: []FieldExtractor{
			{FieldName: "Total", Extract: func(any) (any, error) { return decimal.Zero, nil }},
		},
	})
	if !errors.Is(err, ErrExtractionFailure) {
		t.Fatalf("err = %v, want ErrExtractionFailure for duplicate field name", err)
	}
}

func TestArchiveUnregisteredTypeFails(t *testing.T) {
	store := models.NewMemorySnapshotStore()
	registry := NewExtractorRegistry()

	_, err := ArchiveCompletedReport(context.Background(), store, registry, ArchiveRequest{
		ReportType: "PAY999",
		ProfitYear: 2025,
	})
	if err == nil {
		t.Fatal("expected error for unregistered report type")
	}
}

func TestRearchiveAppendsAndRepointsCurrent(t *testing.T) {
	ctx := context.Background()
	store := models.NewMemorySnapshotStore()
	report := newTestReport("125000.00", 87, "Profit Share Trust")
	registry := newTestRegistry(t, "PAY426N", report)

	first := mustArchive(t, store, registry, "PAY426N", 2025)

	// Late adjustment, then rearchive.
	report.Total = decimal.RequireFromString("125750.00")
	second := mustArchive(t, store, registry, "PAY426N", 2025)

	if first.SnapshotId == second.SnapshotId {
		t.Fatal("rearchive reused the snapshot id")
	}

	current, err := store.GetCurrentSnapshot(ctx, "PAY426N", 2025)
	if err != nil {
		t.Fatalf("GetCurrentSnapshot: %v", err)
	}
	if current.SnapshotId != second.SnapshotId {
		t.Errorf("current = %s, want the rearchived %s", current.SnapshotId, second.SnapshotId)
	}

	history, err := store.GetSnapshotHistory(ctx, "PAY426N", 2025, 0)
	if err != nil {
		t.Fatalf("GetSnapshotHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history = %d rows, want 2 (append-only, never overwrite)", len(history))
	}
}

func TestArchiveContentIdempotence(t *testing.T) {
	store := models.NewMemorySnapshotStore()
	report := newTestReport("125000.00", 87, "Profit Share Trust")
	registry := newTestRegistry(t, "PAY426N", report)

	first := mustArchive(t, store, registry, "PAY426N", 2025)
	second := mustArchive(t, store, registry, "PAY426N", 2025)

	if first.ReportDigest != second.ReportDigest {
		t.Error("identical content must produce identical report digests")
	}
	if first.RequestFingerprint != second.RequestFingerprint {
		t.Error("identical params must produce identical fingerprints")
	}
}
