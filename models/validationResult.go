package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// FieldValidationResult is the per-field comparison outcome. Values are
// reported in canonical form so a human can read the variance without
// decoding digests.
type FieldValidationResult struct {
	ReportType    string                `json:"report_type"`
	FieldName     string                `json:"field_name"`
	Status        FieldComparisonStatus `json:"status"`
	CurrentValue  string                `json:"current_value,omitempty"`
	ExpectedValue string                `json:"expected_value,omitempty"`
	// Variance = current - expected, populated for numeric fields only.
	Variance *decimal.Decimal `json:"variance,omitempty"`
	Detail   string           `json:"detail,omitempty"`
}

// RuleOperandResult is one resolved (or failed) operand of a rule evaluation.
type RuleOperandResult struct {
	ReportType string           `json:"report_type"`
	FieldName  string           `json:"field_name"`
	Value      *decimal.Decimal `json:"value,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// RuleValidationResult reports which operands disagreed and by how much, not
// just pass/fail, so a human can triage.
type RuleValidationResult struct {
	RuleId      string              `json:"rule_id"`
	Description string              `json:"description"`
	Priority    RulePriority        `json:"priority"`
	IsValid     bool                `json:"is_valid"`
	Summary     string              `json:"summary"`
	Operands    []RuleOperandResult `json:"operands"`
	// Largest observed deviation (pairwise difference for equality rules,
	// |first - sum(rest)| for sum rules).
	MaxDeviation *decimal.Decimal `json:"max_deviation,omitempty"`
}

// ValidationRunResult is the structured output of one validation invocation.
// It is computed fresh per request and never persisted by the engine itself.
type ValidationRunResult struct {
	ProfitYear     int       `json:"profit_year"`
	EvaluatedAtUtc time.Time `json:"evaluated_at_utc"`
	CorrelationId  string    `json:"correlation_id,omitempty"`

	FieldResults []FieldValidationResult `json:"field_results"`
	RuleResults  []RuleValidationResult  `json:"rule_results"`

	// ParamsMatchArchived is set in recompute mode: false means the current
	// request parameters differ from the archived fingerprint, so observed
	// drift may just be a different question being asked.
	ParamsMatchArchived *bool `json:"params_match_archived,omitempty"`

	BlocksFinalization bool `json:"blocks_finalization"`
	TotalValidations   int  `json:"total_validations"`
	PassedValidations  int  `json:"passed_validations"`
	FailedValidations  int  `json:"failed_validations"`
}

// Finalize recomputes the aggregate counts and the finalization gate from the
// field and rule results. Call after the last result is appended.
func (r *ValidationRunResult) Finalize() {
	r.TotalValidations = len(r.FieldResults) + len(r.RuleResults)
	r.PassedValidations = 0
	r.FailedValidations = 0
	r.BlocksFinalization = false

	for _, f := range r.FieldResults {
		if f.Status == FieldComparisonMatch {
			r.PassedValidations++
		} else {
			r.FailedValidations++
		}
	}
	for _, rr := range r.RuleResults {
		if rr.IsValid {
			r.PassedValidations++
			continue
		}
		r.FailedValidations++
		if rr.Priority == RulePriorityCritical {
			r.BlocksFinalization = true
		}
	}
}

// FailedCriticalRuleIds lists invalid Critical rules, for alerting.
func (r *ValidationRunResult) FailedCriticalRuleIds() []string {
	var ids []string
	for _, rr := range r.RuleResults {
		if !rr.IsValid && rr.Priority == RulePriorityCritical {
			ids = append(ids, rr.RuleId)
		}
	}
	return ids
}
