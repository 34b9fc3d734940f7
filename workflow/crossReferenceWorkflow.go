package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"bitbucket.org/mmdatafocus/profitshare_backend/checksum"
	"bitbucket.org/mmdatafocus/profitshare_backend/models"
	"bitbucket.org/mmdatafocus/profitshare_backend/utils"
	"github.com/shopspring/decimal"
)

// CurrentValueResolver fetches the current numeric value of one report field,
// by recomputation or by consulting the latest archive — the caller's choice.
type CurrentValueResolver func(ctx context.Context, reportType, fieldName string) (decimal.Decimal, error)

// ArchiveValueResolver resolves operands from the latest archived snapshots.
// Cheap, and sufficient when the nightly archival already refreshed them.
func ArchiveValueResolver(store models.SnapshotStore, profitYear int) CurrentValueResolver {
	return func(ctx context.Context, reportType, fieldName string) (decimal.Decimal, error) {
		snap, err := store.GetCurrentSnapshot(ctx, reportType, profitYear)
		if err != nil {
			if errors.Is(err, models.ErrSnapshotNotFound) {
				return decimal.Zero, fmt.Errorf("no snapshot archived for %s/%d", reportType, profitYear)
			}
			return decimal.Zero, err
		}
		entry, ok := snap.Entry(fieldName)
		if !ok {
			return decimal.Zero, fmt.Errorf("field %q not present in %s/%d snapshot", fieldName, reportType, profitYear)
		}
		value, ok := checksum.ParseCanonicalDecimal(entry.CanonicalValue)
		if !ok {
			return decimal.Zero, fmt.Errorf("field %q of %s is not numeric", fieldName, reportType)
		}
		return value, nil
	}
}

// RecomputeValueResolver resolves operands by recomputing each report through
// the registry, memoizing per report type so a rule set touching the same
// report many times recomputes it once. Falls back to the archive for report
// types without a recompute function.
func RecomputeValueResolver(registry *ExtractorRegistry, store models.SnapshotStore, profitYear int) CurrentValueResolver {
	type computed struct {
		entries []checksum.Entry
		err     error
	}
	cache := map[string]computed{}
	fallback := ArchiveValueResolver(store, profitYear)

	return func(ctx context.Context, reportType, fieldName string) (decimal.Decimal, error) {
		reg, ok := registry.Lookup(reportType)
		if !ok || reg.Recompute == nil {
			return fallback(ctx, reportType, fieldName)
		}

		c, ok := cache[reportType]
		if !ok {
			entries, err := recomputeCurrentEntries(ctx, reg)
			c = computed{entries: entries, err: err}
			cache[reportType] = c
		}
		if c.err != nil {
			return decimal.Zero, c.err
		}
		for _, e := range c.entries {
			if e.FieldName != fieldName {
				continue
			}
			value, numeric := checksum.ParseCanonicalDecimal(e.CanonicalValue)
			if !numeric {
				return decimal.Zero, fmt.Errorf("field %q of %s is not numeric", fieldName, reportType)
			}
			return value, nil
		}
		return decimal.Zero, fmt.Errorf("field %q not produced by %s extractors", fieldName, reportType)
	}
}

// EvaluateConsistencyRules evaluates the declared cross-report rules. A rule
// whose operand cannot be resolved is Invalid with the reason recorded — a
// rule can never silently pass on missing data. Results are ordered by
// priority (Critical first) then rule id.
func EvaluateConsistencyRules(ctx context.Context, rules []models.ConsistencyRule, resolver CurrentValueResolver) []models.RuleValidationResult {
	results := make([]models.RuleValidationResult, 0, len(rules))
	for _, rule := range rules {
		results = append(results, evaluateRule(ctx, rule, resolver))
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Priority.Rank() != results[j].Priority.Rank() {
			return results[i].Priority.Rank() < results[j].Priority.Rank()
		}
		return results[i].RuleId < results[j].RuleId
	})
	return results
}

func evaluateRule(ctx context.Context, rule models.ConsistencyRule, resolver CurrentValueResolver) models.RuleValidationResult {
	result := models.RuleValidationResult{
		RuleId:      rule.RuleId,
		Description: rule.Description,
		Priority:    rule.Priority,
	}

	values := make([]decimal.Decimal, len(rule.Operands))
	var failures []string
	for i, op := range rule.Operands {
		value, err := resolver(ctx, op.ReportType, op.FieldName)
		opResult := models.RuleOperandResult{ReportType: op.ReportType, FieldName: op.FieldName}
		if err != nil {
			opResult.Error = err.Error()
			failures = append(failures, fmt.Sprintf("%s.%s: %v", op.ReportType, op.FieldName, err))
		} else {
			opResult.Value = utils.Ptr(value)
			values[i] = value
		}
		result.Operands = append(result.Operands, opResult)
	}
	if len(failures) > 0 {
		result.IsValid = false
		result.Summary = "could not resolve operands: " + strings.Join(failures, "; ")
		return result
	}

	tolerance := rule.Tolerance()
	switch rule.Relation {
	case models.RuleRelationSumEquality:
		sum := decimal.Zero
		for _, v := range values[1:] {
			sum = sum.Add(v)
		}
		deviation := utils.DecimalAbsDiff(values[0], sum)
		result.MaxDeviation = &deviation
		if deviation.LessThanOrEqual(tolerance) {
			result.IsValid = true
			result.Summary = fmt.Sprintf("%s.%s equals the sum of %d components within %s",
				rule.Operands[0].ReportType, rule.Operands[0].FieldName, len(values)-1, tolerance)
			return result
		}
		result.IsValid = false
		result.Summary = fmt.Sprintf("%s.%s = %s but components sum to %s (off by %s, tolerance %s)",
			rule.Operands[0].ReportType, rule.Operands[0].FieldName,
			values[0], sum, deviation, tolerance)
		return result

	default: // Equality
		maxDeviation := decimal.Zero
		var disagreements []string
		for i := 0; i < len(values); i++ {
			for j := i + 1; j < len(values); j++ {
				diff := utils.DecimalAbsDiff(values[i], values[j])
				if diff.GreaterThan(maxDeviation) {
					maxDeviation = diff
				}
				if diff.GreaterThan(tolerance) {
					disagreements = append(disagreements, fmt.Sprintf("%s.%s=%s vs %s.%s=%s (diff %s)",
						rule.Operands[i].ReportType, rule.Operands[i].FieldName, values[i],
						rule.Operands[j].ReportType, rule.Operands[j].FieldName, values[j], diff))
				}
			}
		}
		result.MaxDeviation = &maxDeviation
		if len(disagreements) == 0 {
			result.IsValid = true
			result.Summary = fmt.Sprintf("all %d operands agree within %s", len(values), tolerance)
			return result
		}
		result.IsValid = false
		result.Summary = "operands disagree: " + strings.Join(disagreements, "; ")
		return result
	}
}
