package workflow

import (
	"context"
	"fmt"
	"testing"

	"bitbucket.org/mmdatafocus/profitshare_backend/checksum"
	"bitbucket.org/mmdatafocus/profitshare_backend/models"
	"github.com/shopspring/decimal"
)

func TestDriftDetectedBeyondTolerance(t *testing.T) {
	ctx := context.Background()
	store := models.NewMemorySnapshotStore()
	report := newTestReport("1000.00", 87, "Profit Share Trust")
	registry := newTestRegistry(t, "PAY426N", report)
	mustArchive(t, store, registry, "PAY426N", 2025)

	// Two cents of drift: just past the default 0.01 tolerance.
	report.Total = decimal.RequireFromString("1000.02")

	result, err := ValidateReportChecksum(ctx, store, registry, "PAY426N", 2025, ValidateOptions{})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	total := fieldByName(t, result.FieldResults, "Total")
	if total.Status != models.FieldComparisonMismatch {
		t.Fatalf("Total = %s, want Mismatch", total.Status)
	}
	if total.Variance == nil || !total.Variance.Equal(decimal.RequireFromString("0.02")) {
		t.Errorf("variance = %v, want 0.02", total.Variance)
	}
	if total.CurrentValue != "1000.02" || total.ExpectedValue != "1000.00" {
		t.Errorf("values = %s/%s, want 1000.02/1000.00", total.CurrentValue, total.ExpectedValue)
	}

	// Untouched fields still match.
	if f := fieldByName(t, result.FieldResults, "Count"); f.Status != models.FieldComparisonMatch {
		t.Errorf("Count = %s, want Match", f.Status)
	}

	// The same drift is accepted under a wider caller-declared tolerance.
	tol := decimal.RequireFromString("0.05")
	relaxed, err := ValidateReportChecksum(ctx, store, registry, "PAY426N", 2025, ValidateOptions{Tolerance: &tol})
	if err != nil {
		t.Fatalf("validate relaxed: %v", err)
	}
	if f := fieldByName(t, relaxed.FieldResults, "Total"); f.Status != models.FieldComparisonMatch {
		t.Errorf("Total under 0.05 tolerance = %s, want Match", f.Status)
	}
}

func TestIntegerFieldsCompareExactly(t *testing.T) {
	ctx := context.Background()
	store := models.NewMemorySnapshotStore()
	report := newTestReport("1000.00", 87, "Profit Share Trust")
	registry := newTestRegistry(t, "PAY426N", report)
	mustArchive(t, store, registry, "PAY426N", 2025)

	report.Count = 88

	// A huge decimal tolerance must not excuse an integer drift.
	tol := decimal.RequireFromString("5")
	result, err := ValidateReportChecksum(ctx, store, registry, "PAY426N", 2025, ValidateOptions{Tolerance: &tol})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if f := fieldByName(t, result.FieldResults, "Count"); f.Status != models.FieldComparisonMismatch {
		t.Errorf("Count = %s, want Mismatch (integers compare exactly)", f.Status)
	}
}

func TestArchivedFieldMissingFromCurrentIsMismatch(t *testing.T) {
	ctx := context.Background()
	store := models.NewMemorySnapshotStore()
	report := newTestReport("1000.00", 87, "Profit Share Trust")
	registry := newTestRegistry(t, "PAY426N", report)

	// Archive with one extra caller-derived field the registry does not know.
	reg, _ := registry.Lookup("PAY426N")
	_, err := ArchiveCompletedReport(ctx, store, registry, ArchiveRequest{
		ReportType: "PAY426N",
		ProfitYear: 2025,
		Params:     reg.Params,
		Report:     report,
		AdditionalChecksums: []FieldExtractor{
			{FieldName: "GrandTotal", Extract: func(any) (any, error) { return decimal.RequireFromString("1000.00"), nil }},
		},
	})
	if err != nil {
		t.Fatalf("archive: %v", err)
	}

	result, err := ValidateReportChecksum(ctx, store, registry, "PAY426N", 2025, ValidateOptions{})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	// The dropped field is a Mismatch, never silently skipped.
	f := fieldByName(t, result.FieldResults, "GrandTotal")
	if f.Status != models.FieldComparisonMismatch {
		t.Fatalf("GrandTotal = %s, want Mismatch for a dropped field", f.Status)
	}
	if f.ExpectedValue != "1000.00" {
		t.Errorf("expected value = %s, want 1000.00", f.ExpectedValue)
	}
}

func TestCurrentFieldNotArchivedIsReported(t *testing.T) {
	ctx := context.Background()
	store := models.NewMemorySnapshotStore()
	report := newTestReport("1000.00", 87, "Profit Share Trust")
	registry := newTestRegistry(t, "PAY426N", report)
	mustArchive(t, store, registry, "PAY426N", 2025)

	// A later release adds a field; the old snapshot does not have it.
	wider := NewExtractorRegistry()
	reg := fakeRegistration("PAY426N", func(context.Context) (any, error) { return report, nil })
	reg.Extractors = append(reg.Extractors, FieldExtractor{
		FieldName: "NewField",
		Extract:   func(any) (any, error) { return decimal.RequireFromString("7.00"), nil },
	})
	if err := wider.Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}

	result, err := ValidateReportChecksum(ctx, store, wider, "PAY426N", 2025, ValidateOptions{})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if f := fieldByName(t, result.FieldResults, "NewField"); f.Status != models.FieldComparisonNotArchived {
		t.Errorf("NewField = %s, want NotArchived", f.Status)
	}
}

func TestValidateWithoutSnapshotReportsNotArchived(t *testing.T) {
	store := models.NewMemorySnapshotStore()
	report := newTestReport("1000.00", 87, "Profit Share Trust")
	registry := newTestRegistry(t, "PAY426N", report)

	result, err := ValidateReportChecksum(context.Background(), store, registry, "PAY426N", 2025, ValidateOptions{})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(result.FieldResults) != 3 {
		t.Fatalf("results = %d, want one per registered field", len(result.FieldResults))
	}
	for _, f := range result.FieldResults {
		if f.Status != models.FieldComparisonNotArchived {
			t.Errorf("field %s = %s, want NotArchived", f.FieldName, f.Status)
		}
	}
}

func TestRecomputeFailureBecomesComputeError(t *testing.T) {
	ctx := context.Background()
	store := models.NewMemorySnapshotStore()
	report := newTestReport("1000.00", 87, "Profit Share Trust")
	registry := newTestRegistry(t, "PAY426N", report)
	mustArchive(t, store, registry, "PAY426N", 2025)

	broken := NewExtractorRegistry()
	if err := broken.Register(fakeRegistration("PAY426N", func(context.Context) (any, error) {
		return nil, fmt.Errorf("ledger table is locked")
	})); err != nil {
		t.Fatalf("register: %v", err)
	}

	result, err := ValidateReportChecksum(ctx, store, broken, "PAY426N", 2025, ValidateOptions{})
	if err != nil {
		t.Fatalf("recompute failure must be captured, not returned: %v", err)
	}
	for _, f := range result.FieldResults {
		if f.Status != models.FieldComparisonComputeError {
			t.Errorf("field %s = %s, want ComputeError", f.FieldName, f.Status)
		}
	}
	if result.FailedValidations != len(result.FieldResults) {
		t.Errorf("failed = %d, want %d", result.FailedValidations, len(result.FieldResults))
	}
}

func TestRecomputePanicIsCaptured(t *testing.T) {
	ctx := context.Background()
	store := models.NewMemorySnapshotStore()
	report := newTestReport("1000.00", 87, "Profit Share Trust")
	registry := newTestRegistry(t, "PAY426N", report)
	mustArchive(t, store, registry, "PAY426N", 2025)

	panicky := NewExtractorRegistry()
	if err := panicky.Register(fakeRegistration("PAY426N", func(context.Context) (any, error) {
		panic("nil map write in report builder")
	})); err != nil {
		t.Fatalf("register: %v", err)
	}

	result, err := ValidateReportChecksum(ctx, store, panicky, "PAY426N", 2025, ValidateOptions{})
	if err != nil {
		t.Fatalf("panic must be captured, not propagated: %v", err)
	}
	for _, f := range result.FieldResults {
		if f.Status != models.FieldComparisonComputeError {
			t.Errorf("field %s = %s, want ComputeError", f.FieldName, f.Status)
		}
	}
}

func TestRecomputeTimeoutBecomesComputeError(t *testing.T) {
	t.Setenv("VALIDATION_REPORT_TIMEOUT_SECONDS", "1")
	ctx := context.Background()
	store := models.NewMemorySnapshotStore()
	report := newTestReport("1000.00", 87, "Profit Share Trust")
	registry := newTestRegistry(t, "PAY426N", report)
	mustArchive(t, store, registry, "PAY426N", 2025)

	// The recompute hangs until the per-report budget expires.
	hung := NewExtractorRegistry()
	if err := hung.Register(fakeRegistration("PAY426N", func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})); err != nil {
		t.Fatalf("register: %v", err)
	}

	result, err := ValidateReportChecksum(ctx, store, hung, "PAY426N", 2025, ValidateOptions{})
	if err != nil {
		t.Fatalf("timeout must be captured, not returned: %v", err)
	}
	if len(result.FieldResults) != 3 {
		t.Fatalf("results = %d, want one per registered field", len(result.FieldResults))
	}
	for _, f := range result.FieldResults {
		if f.Status != models.FieldComparisonComputeError {
			t.Errorf("field %s = %s, want ComputeError on a hung recompute", f.FieldName, f.Status)
		}
	}
}

func TestParamsFingerprintMismatchIsSurfaced(t *testing.T) {
	ctx := context.Background()
	store := models.NewMemorySnapshotStore()
	report := newTestReport("1000.00", 87, "Profit Share Trust")
	registry := newTestRegistry(t, "PAY426N", report)
	mustArchive(t, store, registry, "PAY426N", 2025)

	// Same data, different request parameters: drift verdicts are suspect.
	other := NewExtractorRegistry()
	reg := fakeRegistration("PAY426N", func(context.Context) (any, error) { return report, nil })
	reg.Params = map[string]string{"profitYear": "2024"}
	if err := other.Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}

	result, err := ValidateReportChecksum(ctx, store, other, "PAY426N", 2025, ValidateOptions{})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if result.ParamsMatchArchived == nil || *result.ParamsMatchArchived {
		t.Error("differing request params must set ParamsMatchArchived=false")
	}
}

func TestValidateReportFieldsCallerSupplied(t *testing.T) {
	ctx := context.Background()
	store := models.NewMemorySnapshotStore()
	report := newTestReport("1000.00", 87, "Profit Share Trust")
	registry := newTestRegistry(t, "PAY426N", report)
	mustArchive(t, store, registry, "PAY426N", 2025)

	result, err := ValidateReportFields(ctx, store, "PAY426N", 2025, map[string]decimal.Decimal{
		"Total":    decimal.RequireFromString("1000.00"),
		"OnScreen": decimal.RequireFromString("42.00"),
	}, ValidateOptions{})
	if err != nil {
		t.Fatalf("validate fields: %v", err)
	}

	if f := fieldByName(t, result.FieldResults, "Total"); f.Status != models.FieldComparisonMatch {
		t.Errorf("Total = %s, want Match", f.Status)
	}
	if f := fieldByName(t, result.FieldResults, "OnScreen"); f.Status != models.FieldComparisonNotArchived {
		t.Errorf("OnScreen = %s, want NotArchived", f.Status)
	}
	// Caller-supplied mode never compares params.
	if result.ParamsMatchArchived != nil {
		t.Error("caller-supplied mode must not set ParamsMatchArchived")
	}
}

func TestTamperedArchiveRowFailsDigestCheck(t *testing.T) {
	ctx := context.Background()
	store := models.NewMemorySnapshotStore()

	// A row whose canonical value was edited after archival: the stored digest
	// no longer reproduces, which must outrank value comparison.
	good := checksum.DigestField("1000.00")
	snap := &models.ArchivedSnapshot{
		SnapshotId: "tampered",
		ReportType: "PAY426N",
		ProfitYear: 2025,
		Entries: []models.ChecksumEntry{{
			FieldName:       "Total",
			CanonicalValue:  "9999.99",
			DigestHex:       good.Hex,
			DigestAlgorithm: good.Algorithm,
		}},
	}
	if err := store.PutSnapshot(ctx, snap); err != nil {
		t.Fatalf("PutSnapshot: %v", err)
	}

	result, err := ValidateReportFields(ctx, store, "PAY426N", 2025, map[string]decimal.Decimal{
		"Total": decimal.RequireFromString("9999.99"),
	}, ValidateOptions{})
	if err != nil {
		t.Fatalf("validate fields: %v", err)
	}
	f := fieldByName(t, result.FieldResults, "Total")
	if f.Status != models.FieldComparisonMismatch {
		t.Fatalf("Total = %s, want Mismatch for tampered row even though values agree", f.Status)
	}
}
