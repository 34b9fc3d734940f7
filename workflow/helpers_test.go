package workflow

import (
	"context"
	"fmt"
	"testing"

	"bitbucket.org/mmdatafocus/profitshare_backend/models"
	"github.com/shopspring/decimal"
)

// fakeReport stands in for a recomputed year-end report in DB-free tests.
type fakeReport struct {
	Total decimal.Decimal
	Count int
	Payee string
}

func fakeExtractors() []FieldExtractor {
	get := func(pick func(*fakeReport) any) func(any) (any, error) {
		return func(r any) (any, error) {
			fr, ok := r.(*fakeReport)
			if !ok {
				return nil, fmt.Errorf("expected *fakeReport, got %T", r)
			}
			return pick(fr), nil
		}
	}
	return []FieldExtractor{
		{FieldName: "Total", Extract: get(func(r *fakeReport) any { return r.Total })},
		{FieldName: "Count", Extract: get(func(r *fakeReport) any { return r.Count })},
		{FieldName: "Payee", Extract: get(func(r *fakeReport) any { return r.Payee })},
	}
}

func fakeRegistration(reportType string, recompute RecomputeFunc) ReportRegistration {
	return ReportRegistration{
		ReportType: reportType,
		Extractors: fakeExtractors(),
		Recompute:  recompute,
		Params:     map[string]string{"profitYear": "2025", "reportType": reportType},
	}
}

// newTestRegistry registers one fake report type whose recompute always
// returns the (mutable) report the test holds a pointer to.
func newTestRegistry(t *testing.T, reportType string, report *fakeReport) *ExtractorRegistry {
	t.Helper()
	registry := NewExtractorRegistry()
	reg := fakeRegistration(reportType, func(context.Context) (any, error) { return report, nil })
	if err := registry.Register(reg); err != nil {
		t.Fatalf("register %s: %v", reportType, err)
	}
	return registry
}

func newTestReport(total string, count int, payee string) *fakeReport {
	return &fakeReport{
		Total: decimal.RequireFromString(total),
		Count: count,
		Payee: payee,
	}
}

// mustArchive archives the registry's view of the report and fails the test on
// any error.
func mustArchive(t *testing.T, store models.SnapshotStore, registry *ExtractorRegistry, reportType string, profitYear int) *models.ArchivedSnapshot {
	t.Helper()
	reg, ok := registry.Lookup(reportType)
	if !ok {
		t.Fatalf("report type %s not registered", reportType)
	}
	report, err := reg.Recompute(context.Background())
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	snap, err := ArchiveCompletedReport(context.Background(), store, registry, ArchiveRequest{
		ReportType:       reportType,
		ProfitYear:       profitYear,
		Params:           reg.Params,
		Report:           report,
		IsArchiveRequest: true,
	})
	if err != nil {
		t.Fatalf("archive %s: %v", reportType, err)
	}
	return snap
}

func fieldByName(t *testing.T, results []models.FieldValidationResult, name string) models.FieldValidationResult {
	t.Helper()
	for _, f := range results {
		if f.FieldName == name {
			return f
		}
	}
	t.Fatalf("no result for field %s in %v", name, results)
	return models.FieldValidationResult{}
}
