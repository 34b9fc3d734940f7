package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/profitshare_backend/config"
	"bitbucket.org/mmdatafocus/profitshare_backend/models"
	"bitbucket.org/mmdatafocus/profitshare_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer trace.Tracer = otel.Tracer("profitshare-validation")

// ValidateAllRequest configures a batch validation run.
type ValidateAllRequest struct {
	// ProfitYear nil means every year that has at least one current snapshot.
	ProfitYear *int
	// RegistryFor builds the registry used for one validated year. Report
	// registrations capture a profit year in their recompute closures, so a
	// multi-year run needs a fresh registry per year. Nil means the registry
	// passed to ValidateAllReports serves every year.
	RegistryFor func(profitYear int) (*ExtractorRegistry, error)
	// Rules nil means the declared default rule set.
	Rules []models.ConsistencyRule
	// Workers bounds the fan-out; 0 means the configured default.
	Workers int
}

// ValidateAllReports fans out drift validation across every archived report
// type, fans the per-field results back in, then evaluates the cross-reference
// rules — one ValidationRunResult per profit year. Each report is an
// independently cancellable unit of work: a slow or broken report type is
// recorded as ComputeError and the rest of the run completes.
func ValidateAllReports(ctx context.Context, store models.SnapshotStore, registry *ExtractorRegistry, req ValidateAllRequest) ([]*models.ValidationRunResult, error) {
	ctx, span := tracer.Start(ctx, "ValidateAllReports")
	defer span.End()

	logger := config.GetLogger()

	// Overlapping nightly runs would double-publish alerts and double-write
	// reconciliation rows. The redis lock is a best-effort optimization:
	// correctness never depends on redis being up.
	if locker := config.GetRedisLock(); locker != nil {
		lock, err := locker.Obtain(ctx, "lock:validate-all-reports", 10*time.Minute, nil)
		if err == nil {
			defer lock.Release(ctx)
		} else if logger != nil {
			logger.WithField("err", err.Error()).Warn("validate-all lock not obtained, continuing")
		}
	}

	keys, err := store.ListCurrentKeys(ctx, req.ProfitYear)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("validation.report_count", len(keys)))

	keysByYear := map[int][]models.SnapshotKey{}
	var years []int
	for _, key := range keys {
		if _, seen := keysByYear[key.ProfitYear]; !seen {
			years = append(years, key.ProfitYear)
		}
		keysByYear[key.ProfitYear] = append(keysByYear[key.ProfitYear], key)
	}
	if req.ProfitYear != nil && len(years) == 0 {
		// Nothing archived for the requested year: an empty result, not an error.
		years = append(years, *req.ProfitYear)
	}

	registryFor := req.RegistryFor
	if registryFor == nil {
		registryFor = func(int) (*ExtractorRegistry, error) { return registry, nil }
	}

	results := make([]*models.ValidationRunResult, 0, len(years))
	for _, year := range years {
		yearRegistry, err := registryFor(year)
		if err != nil {
			return results, fmt.Errorf("build registry for %d: %w", year, err)
		}
		result := validateYear(ctx, store, yearRegistry, req, year, keysByYear[year])
		persistRunFindings(ctx, result)
		publishRunAlert(ctx, result)
		results = append(results, result)

		if logger != nil {
			logger.WithFields(logrus.Fields{
				"profit_year":         result.ProfitYear,
				"total_validations":   result.TotalValidations,
				"failed_validations":  result.FailedValidations,
				"blocks_finalization": result.BlocksFinalization,
				"correlation_id":      result.CorrelationId,
			}).Info("batch validation completed")
		}
	}
	return results, nil
}

func validateYear(ctx context.Context, store models.SnapshotStore, registry *ExtractorRegistry, req ValidateAllRequest, year int, keys []models.SnapshotKey) *models.ValidationRunResult {
	result := newRunResult(ctx, year)

	workers := req.Workers
	if workers <= 0 {
		workers = config.ValidationWorkers()
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sem = make(chan struct{}, workers)
	)
	for _, key := range keys {
		wg.Add(1)
		go func(key models.SnapshotKey) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			fieldResults := validateOneReport(ctx, store, registry, key)
			mu.Lock()
			result.FieldResults = append(result.FieldResults, fieldResults...)
			mu.Unlock()
		}(key)
	}
	wg.Wait()

	rules := req.Rules
	if rules == nil {
		rules = models.DefaultConsistencyRules()
	}
	resolver := RecomputeValueResolver(registry, store, year)
	result.RuleResults = EvaluateConsistencyRules(ctx, rules, resolver)

	result.Finalize()
	return result
}

// validateOneReport never returns a hard error: whatever goes wrong for one
// report type is captured as field results so the batch keeps its isolation
// guarantee.
func validateOneReport(ctx context.Context, store models.SnapshotStore, registry *ExtractorRegistry, key models.SnapshotKey) []models.FieldValidationResult {
	reg, ok := registry.Lookup(key.ReportType)
	if !ok || reg.Recompute == nil {
		return []models.FieldValidationResult{{
			ReportType: key.ReportType,
			Status:     models.FieldComparisonComputeError,
			Detail:     "report type has a snapshot but no registered recompute function",
		}}
	}
	res, err := ValidateReportChecksum(ctx, store, registry, key.ReportType, key.ProfitYear, ValidateOptions{})
	if err != nil {
		return []models.FieldValidationResult{{
			ReportType: key.ReportType,
			Status:     models.FieldComparisonComputeError,
			Detail:     err.Error(),
		}}
	}
	return res.FieldResults
}

// persistRunFindings writes the durable reconciliation trail for failed
// validations. Skipped entirely on DB-free runs (tests, harness).
func persistRunFindings(ctx context.Context, result *models.ValidationRunResult) {
	db := config.GetDB()
	if db == nil || result.FailedValidations == 0 {
		return
	}
	logger := config.GetLogger()
	now := time.Now().UTC()

	for _, f := range result.FieldResults {
		if f.Status == models.FieldComparisonMatch {
			continue
		}
		details := f.Detail
		if details == "" {
			details = fmt.Sprintf("current=%s archived=%s", f.CurrentValue, f.ExpectedValue)
		}
		err := db.WithContext(ctx).Create(&models.ReconciliationReport{
			CheckType:     models.ReconCheckFieldDrift,
			ReportType:    f.ReportType,
			ProfitYear:    result.ProfitYear,
			FieldName:     f.FieldName,
			Details:       fmt.Sprintf("%s: %s", f.Status, details),
			CorrelationId: result.CorrelationId,
			CreatedAt:     now,
		}).Error
		if err != nil {
			config.LogError(logger, "validateAllWorkflow.go", "persistRunFindings", "field drift row", f, err)
		}
	}
	for _, r := range result.RuleResults {
		if r.IsValid {
			continue
		}
		err := db.WithContext(ctx).Create(&models.ReconciliationReport{
			CheckType:     models.ReconCheckRuleConsistency,
			ProfitYear:    result.ProfitYear,
			RuleId:        r.RuleId,
			Details:       r.Summary,
			CorrelationId: result.CorrelationId,
			CreatedAt:     now,
		}).Error
		if err != nil {
			config.LogError(logger, "validateAllWorkflow.go", "persistRunFindings", "rule consistency row", r, err)
		}
	}
}

func publishRunAlert(ctx context.Context, result *models.ValidationRunResult) {
	if !config.DriftAlertsEnabled() || result.FailedValidations == 0 {
		return
	}
	logger := config.GetLogger()
	cid, _ := utils.GetCorrelationIdFromContext(ctx)
	err := config.PublishDriftAlert(ctx, config.DriftAlertMessage{
		ProfitYear:          result.ProfitYear,
		EvaluatedAtUtc:      result.EvaluatedAtUtc,
		FailedValidations:   result.FailedValidations,
		TotalValidations:    result.TotalValidations,
		BlocksFinalization:  result.BlocksFinalization,
		FailedCriticalRules: result.FailedCriticalRuleIds(),
		CorrelationId:       cid,
	})
	if err != nil {
		config.LogError(logger, "validateAllWorkflow.go", "publishRunAlert", "PublishDriftAlert", result.ProfitYear, err)
	}
}
