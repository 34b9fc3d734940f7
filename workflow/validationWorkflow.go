package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/profitshare_backend/checksum"
	"bitbucket.org/mmdatafocus/profitshare_backend/config"
	"bitbucket.org/mmdatafocus/profitshare_backend/models"
	"bitbucket.org/mmdatafocus/profitshare_backend/utils"
	"github.com/shopspring/decimal"
)

// ValidateOptions tunes a drift validation.
type ValidateOptions struct {
	// Tolerance overrides the default absolute tolerance for decimal fields
	// (0.01). Integer, string and date fields always compare exactly.
	Tolerance *decimal.Decimal
}

// ValidateReportChecksum is recompute-mode drift validation: recompute the
// report, run it through the same extractors used at archival time, and
// compare canonical values against the archived entry set. Recompute failures
// and timeouts are recorded as ComputeError inside the result, never returned
// as errors, so one broken report type cannot abort validation of others.
func ValidateReportChecksum(ctx context.Context, store models.SnapshotStore, registry *ExtractorRegistry, reportType string, profitYear int, opts ValidateOptions) (*models.ValidationRunResult, error) {
	result := newRunResult(ctx, profitYear)

	reg, ok := registry.Lookup(reportType)
	if !ok {
		return nil, fmt.Errorf("report type %q is not registered", reportType)
	}
	if reg.Recompute == nil {
		return nil, fmt.Errorf("report type %q has no recompute function", reportType)
	}

	snap, err := store.GetCurrentSnapshot(ctx, reportType, profitYear)
	if err != nil {
		if errors.Is(err, models.ErrSnapshotNotFound) {
			// No baseline yet: expected, not an error. Every registered field
			// is reported so the caller sees what would have been compared.
			for _, ex := range reg.Extractors {
				result.FieldResults = append(result.FieldResults, models.FieldValidationResult{
					ReportType: reportType,
					FieldName:  ex.FieldName,
					Status:     models.FieldComparisonNotArchived,
					Detail:     "no snapshot archived for this report and year",
				})
			}
			result.Finalize()
			return result, nil
		}
		return nil, err
	}

	current, computeErr := recomputeCurrentEntries(ctx, reg)
	if computeErr != nil {
		for _, ex := range reg.Extractors {
			result.FieldResults = append(result.FieldResults, models.FieldValidationResult{
				ReportType: reportType,
				FieldName:  ex.FieldName,
				Status:     models.FieldComparisonComputeError,
				Detail:     computeErr.Error(),
			})
		}
		result.Finalize()
		return result, nil
	}

	result.ParamsMatchArchived = utils.Ptr(checksum.RequestFingerprint(reg.Params).Hex == snap.RequestFingerprint)

	result.FieldResults = compareEntries(reportType, snap, current, opts)
	result.Finalize()
	return result, nil
}

// ValidateReportFields is caller-supplied mode: the caller already has the
// current values (a screen, an export) and wants a cheap confirmation without
// recomputation.
func ValidateReportFields(ctx context.Context, store models.SnapshotStore, reportType string, profitYear int, fields map[string]decimal.Decimal, opts ValidateOptions) (*models.ValidationRunResult, error) {
	result := newRunResult(ctx, profitYear)

	current := make([]checksum.Entry, 0, len(fields))
	for name, value := range fields {
		current = append(current, checksum.Entry{
			FieldName:      name,
			CanonicalValue: value.StringFixed(checksum.DecimalScale),
		})
	}
	sort.Slice(current, func(i, j int) bool { return current[i].FieldName < current[j].FieldName })

	snap, err := store.GetCurrentSnapshot(ctx, reportType, profitYear)
	if err != nil {
		if errors.Is(err, models.ErrSnapshotNotFound) {
			for _, e := range current {
				result.FieldResults = append(result.FieldResults, models.FieldValidationResult{
					ReportType:   reportType,
					FieldName:    e.FieldName,
					Status:       models.FieldComparisonNotArchived,
					CurrentValue: e.CanonicalValue,
					Detail:       "no snapshot archived for this report and year",
				})
			}
			result.Finalize()
			return result, nil
		}
		return nil, err
	}

	result.FieldResults = compareEntries(reportType, snap, current, opts)
	result.Finalize()
	return result, nil
}

func newRunResult(ctx context.Context, profitYear int) *models.ValidationRunResult {
	cid, _ := utils.GetCorrelationIdFromContext(ctx)
	return &models.ValidationRunResult{
		ProfitYear:     profitYear,
		EvaluatedAtUtc: time.Now().UTC(),
		CorrelationId:  cid,
	}
}

// recomputeCurrentEntries runs the module's recompute function under the
// per-report timeout and extracts the current canonical entries. A panicking
// or hung report function becomes an error here, not a crash of the run.
func recomputeCurrentEntries(ctx context.Context, reg ReportRegistration) ([]checksum.Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, config.ValidationReportTimeout())
	defer cancel()

	type outcome struct {
		report any
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("recompute panicked: %v", r)}
			}
		}()
		report, err := reg.Recompute(ctx)
		ch <- outcome{report: report, err: err}
	}()

	var report any
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("recompute %s: %w", reg.ReportType, ctx.Err())
	case out := <-ch:
		if out.err != nil {
			return nil, fmt.Errorf("recompute %s: %w", reg.ReportType, out.err)
		}
		report = out.report
	}

	entries := make([]checksum.Entry, 0, len(reg.Extractors))
	for _, ex := range reg.Extractors {
		value, err := ex.Extract(report)
		if err != nil {
			return nil, fmt.Errorf("extract %s.%s: %w", reg.ReportType, ex.FieldName, err)
		}
		canonical, err := checksum.Canonicalize(value, ex.Normalization)
		if err != nil {
			return nil, fmt.Errorf("encode %s.%s: %w", reg.ReportType, ex.FieldName, err)
		}
		entries = append(entries, checksum.Entry{FieldName: ex.FieldName, CanonicalValue: canonical})
	}
	return entries, nil
}

// compareEntries produces one result per field across the union of archived
// and current field names. A field present in the archive but absent from the
// current extraction is a Mismatch, not a skip: silent field drops are exactly
// the regression this engine exists to catch.
func compareEntries(reportType string, snap *models.ArchivedSnapshot, current []checksum.Entry, opts ValidateOptions) []models.FieldValidationResult {
	results := make([]models.FieldValidationResult, 0, len(current)+len(snap.Entries))
	currentByName := map[string]checksum.Entry{}
	for _, e := range current {
		currentByName[e.FieldName] = e
	}

	for _, e := range current {
		archived, ok := snap.Entry(e.FieldName)
		if !ok {
			results = append(results, models.FieldValidationResult{
				ReportType:   reportType,
				FieldName:    e.FieldName,
				Status:       models.FieldComparisonNotArchived,
				CurrentValue: e.CanonicalValue,
				Detail:       "field not present in archived snapshot",
			})
			continue
		}
		results = append(results, compareField(reportType, e, archived, opts))
	}

	for _, archived := range snap.Entries {
		if _, ok := currentByName[archived.FieldName]; ok {
			continue
		}
		results = append(results, models.FieldValidationResult{
			ReportType:    reportType,
			FieldName:     archived.FieldName,
			Status:        models.FieldComparisonMismatch,
			ExpectedValue: archived.CanonicalValue,
			Detail:        "archived field missing from current values",
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].FieldName < results[j].FieldName })
	return results
}

func compareField(reportType string, current checksum.Entry, archived *models.ChecksumEntry, opts ValidateOptions) models.FieldValidationResult {
	result := models.FieldValidationResult{
		ReportType:    reportType,
		FieldName:     current.FieldName,
		CurrentValue:  current.CanonicalValue,
		ExpectedValue: archived.CanonicalValue,
	}

	// Defense in depth: a stored entry whose digest no longer reproduces from
	// its canonical value means the archive row itself was tampered with or
	// corrupted, which outranks any value comparison.
	if ok, err := checksum.VerifyField(archived.CanonicalValue, checksum.FieldDigest{
		Algorithm: archived.DigestAlgorithm,
		Hex:       archived.DigestHex,
	}); err != nil || !ok {
		result.Status = models.FieldComparisonMismatch
		if err != nil {
			result.Detail = err.Error()
		} else {
			result.Detail = "archived digest does not match archived canonical value"
		}
		return result
	}

	if current.CanonicalValue == archived.CanonicalValue {
		result.Status = models.FieldComparisonMatch
		return result
	}

	currentDec, curOK := checksum.ParseCanonicalDecimal(current.CanonicalValue)
	archivedDec, arcOK := checksum.ParseCanonicalDecimal(archived.CanonicalValue)
	if curOK && arcOK {
		variance := currentDec.Sub(archivedDec)
		result.Variance = &variance
		if variance.Abs().LessThanOrEqual(effectiveTolerance(current.CanonicalValue, archived.CanonicalValue, opts)) {
			result.Status = models.FieldComparisonMatch
			return result
		}
		result.Status = models.FieldComparisonMismatch
		return result
	}

	result.Status = models.FieldComparisonMismatch
	return result
}

// effectiveTolerance: decimal-typed fields get the small epsilon (rounding can
// legitimately differ between computation paths), everything else compares
// exactly. Canonical decimals always carry a point, canonical integers never do.
func effectiveTolerance(a, b string, opts ValidateOptions) decimal.Decimal {
	if !strings.Contains(a, ".") && !strings.Contains(b, ".") {
		return decimal.Zero
	}
	return utils.DereferencePtr(opts.Tolerance, models.DefaultDecimalTolerance)
}
