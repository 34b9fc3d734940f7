package main

import (
	"context"
	"fmt"
	"log"

	"bitbucket.org/mmdatafocus/profitshare_backend/models"
	"bitbucket.org/mmdatafocus/profitshare_backend/utils"
	"bitbucket.org/mmdatafocus/profitshare_backend/workflow"
	"github.com/shopspring/decimal"
)

// DB-free walkthrough of the archive/validate cycle against the in-memory
// store: archive a breakdown report, drift one field, validate, then evaluate
// the rules. Useful for demoing the engine and for poking at tolerance
// behavior without standing up MySQL.

type demoBreakdown struct {
	DistributionAmount   decimal.Decimal
	ForfeitureAmount     decimal.Decimal
	VestingBalanceAmount decimal.Decimal
	ParticipantCount     int
}

func demoRegistration(report *demoBreakdown) workflow.ReportRegistration {
	extract := func(get func(*demoBreakdown) any) func(any) (any, error) {
		return func(r any) (any, error) {
			b, ok := r.(*demoBreakdown)
			if !ok {
				return nil, fmt.Errorf("expected *demoBreakdown, got %T", r)
			}
			return get(b), nil
		}
	}
	return workflow.ReportRegistration{
		ReportType: "YearEndBreakdown",
		Extractors: []workflow.FieldExtractor{
			{FieldName: "DistributionAmount", Extract: extract(func(b *demoBreakdown) any { return b.DistributionAmount })},
			{FieldName: "ForfeitureAmount", Extract: extract(func(b *demoBreakdown) any { return b.ForfeitureAmount })},
			{FieldName: "VestingBalanceAmount", Extract: extract(func(b *demoBreakdown) any { return b.VestingBalanceAmount })},
			{FieldName: "ParticipantCount", Extract: extract(func(b *demoBreakdown) any { return b.ParticipantCount })},
		},
		Recompute: func(context.Context) (any, error) { return report, nil },
		Params:    map[string]string{"profitYear": "2025"},
	}
}

func main() {
	ctx := utils.SetUserNameInContext(context.Background(), "archive-harness")

	store := models.NewMemorySnapshotStore()
	registry := workflow.NewExtractorRegistry()

	report := &demoBreakdown{
		DistributionAmount:   decimal.RequireFromString("125000.00"),
		ForfeitureAmount:     decimal.RequireFromString("3200.50"),
		VestingBalanceAmount: decimal.RequireFromString("41799.50"),
		ParticipantCount:     87,
	}
	if err := registry.Register(demoRegistration(report)); err != nil {
		log.Fatal(err)
	}

	snap, err := workflow.ArchiveCompletedReport(ctx, store, registry, workflow.ArchiveRequest{
		ReportType:       "YearEndBreakdown",
		ProfitYear:       2025,
		Params:           map[string]string{"profitYear": "2025"},
		Report:           report,
		IsArchiveRequest: true,
	})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("archived snapshot %s (digest %s)\n\n", snap.SnapshotId, snap.ReportDigest[:16])

	// Simulate upstream drift: a late adjustment shifts the distribution total
	// by two cents, just past the default tolerance.
	report.DistributionAmount = decimal.RequireFromString("125000.02")

	result, err := workflow.ValidateReportChecksum(ctx, store, registry, "YearEndBreakdown", 2025, workflow.ValidateOptions{})
	if err != nil {
		log.Fatal(err)
	}
	for _, f := range result.FieldResults {
		line := fmt.Sprintf("  %-22s %-12s current=%-12s archived=%s", f.FieldName, f.Status, f.CurrentValue, f.ExpectedValue)
		if f.Variance != nil {
			line += fmt.Sprintf(" variance=%s", f.Variance)
		}
		fmt.Println(line)
	}
	fmt.Printf("\npassed=%d failed=%d\n\n", result.PassedValidations, result.FailedValidations)

	// The same drift within a wider tolerance is accepted.
	tol := decimal.RequireFromString("0.05")
	relaxed, err := workflow.ValidateReportChecksum(ctx, store, registry, "YearEndBreakdown", 2025, workflow.ValidateOptions{Tolerance: &tol})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("with tolerance 0.05: passed=%d failed=%d\n\n", relaxed.PassedValidations, relaxed.FailedValidations)

	// Rules resolve their operands through the registry; reports without a
	// recompute function fall back to the archive.
	rules := []models.ConsistencyRule{{
		RuleId:      "DEMO-SELF-SUM",
		Description: "Breakdown components must sum to the archived component total",
		Priority:    models.RulePriorityCritical,
		Relation:    models.RuleRelationSumEquality,
		Operands: []models.RuleOperand{
			{ReportType: "YearEndBreakdown", FieldName: "DistributionAmount"},
			{ReportType: "YearEndBreakdown", FieldName: "ForfeitureAmount"},
			{ReportType: "YearEndBreakdown", FieldName: "VestingBalanceAmount"},
		},
	}}
	resolver := workflow.RecomputeValueResolver(registry, store, 2025)
	for _, rr := range workflow.EvaluateConsistencyRules(ctx, rules, resolver) {
		fmt.Printf("rule %s [%s] valid=%v: %s\n", rr.RuleId, rr.Priority, rr.IsValid, rr.Summary)
	}
}
