package models

import "testing"

func TestFinalizeCountsAndGate(t *testing.T) {
	result := &ValidationRunResult{
		ProfitYear: 2025,
		FieldResults: []FieldValidationResult{
			{FieldName: "A", Status: FieldComparisonMatch},
			{FieldName: "B", Status: FieldComparisonMismatch},
			{FieldName: "C", Status: FieldComparisonNotArchived},
		},
		RuleResults: []RuleValidationResult{
			{RuleId: "R-OK", Priority: RulePriorityCritical, IsValid: true},
			{RuleId: "R-MED", Priority: RulePriorityMedium, IsValid: false},
		},
	}
	result.Finalize()

	if result.TotalValidations != 5 {
		t.Errorf("total = %d, want 5", result.TotalValidations)
	}
	if result.PassedValidations != 2 {
		t.Errorf("passed = %d, want 2", result.PassedValidations)
	}
	if result.FailedValidations != 3 {
		t.Errorf("failed = %d, want 3", result.FailedValidations)
	}
	// Only an invalid Critical rule blocks finalization; field mismatches and
	// lower-priority rule failures do not.
	if result.BlocksFinalization {
		t.Error("Medium rule failure must not block finalization")
	}

	result.RuleResults = append(result.RuleResults, RuleValidationResult{
		RuleId: "R-CRIT", Priority: RulePriorityCritical, IsValid: false,
	})
	result.Finalize()
	if !result.BlocksFinalization {
		t.Error("invalid Critical rule must block finalization")
	}

	ids := result.FailedCriticalRuleIds()
	if len(ids) != 1 || ids[0] != "R-CRIT" {
		t.Errorf("failed critical rules = %v, want [R-CRIT]", ids)
	}
}
