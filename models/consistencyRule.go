package models

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// DefaultDecimalTolerance absorbs cross-path rounding between independently
// computed decimal aggregates.
var DefaultDecimalTolerance = decimal.RequireFromString("0.01")

// RuleOperand names one (reportType, fieldName) whose current value
// participates in a consistency rule.
type RuleOperand struct {
	ReportType string `json:"report_type" validate:"required"`
	FieldName  string `json:"field_name" validate:"required"`
}

// ConsistencyRule is a declared cross-report invariant: the operands' current
// values must satisfy the relation within ToleranceAbsolute.
type ConsistencyRule struct {
	RuleId            string          `json:"rule_id" validate:"required"`
	Description       string          `json:"description"`
	Priority          RulePriority    `json:"priority" validate:"required,oneof=Critical High Medium Low"`
	Relation          RuleRelation    `json:"relation" validate:"required,oneof=Equality SumEquality"`
	Operands          []RuleOperand   `json:"operands" validate:"min=2,dive"`
	ToleranceAbsolute decimal.Decimal `json:"tolerance_absolute"`
}

// Tolerance returns the declared tolerance, falling back to the default
// decimal epsilon when none was set.
func (r ConsistencyRule) Tolerance() decimal.Decimal {
	if r.ToleranceAbsolute.IsZero() {
		return DefaultDecimalTolerance
	}
	return r.ToleranceAbsolute
}

var ruleValidator = validator.New()

// ValidateConsistencyRules checks a declared rule set at startup. A malformed
// rule definition is a deployment mistake, caught before any evaluation runs.
func ValidateConsistencyRules(rules []ConsistencyRule) error {
	seen := map[string]bool{}
	for i, rule := range rules {
		if err := ruleValidator.Struct(rule); err != nil {
			return fmt.Errorf("rule %q (index %d): %w", rule.RuleId, i, err)
		}
		if seen[rule.RuleId] {
			return fmt.Errorf("duplicate rule id %q", rule.RuleId)
		}
		seen[rule.RuleId] = true
		if rule.ToleranceAbsolute.IsNegative() {
			return fmt.Errorf("rule %q: tolerance must not be negative", rule.RuleId)
		}
	}
	return nil
}

// DefaultConsistencyRules is the declared rule set for the year-end
// profit-sharing reports. Distribution and forfeiture totals are computed
// independently by several reports and must agree before finalization.
func DefaultConsistencyRules() []ConsistencyRule {
	return []ConsistencyRule{
		{
			RuleId:      "DIST-TOTALS-AGREE",
			Description: "Distribution totals must agree between the distribution register and the QPAY extract",
			Priority:    RulePriorityCritical,
			Relation:    RuleRelationEquality,
			Operands: []RuleOperand{
				{ReportType: "PAY443", FieldName: "TotalDistributions"},
				{ReportType: "QPAY129", FieldName: "TotalDistributions"},
			},
		},
		{
			RuleId:      "BREAKDOWN-SUMS-TO-TOTAL",
			Description: "Year-end breakdown components must sum to the PAY426N grand total",
			Priority:    RulePriorityCritical,
			Relation:    RuleRelationSumEquality,
			Operands: []RuleOperand{
				{ReportType: "PAY426N", FieldName: "TotalAmount"},
				{ReportType: "YearEndBreakdown", FieldName: "DistributionAmount"},
				{ReportType: "YearEndBreakdown", FieldName: "ForfeitureAmount"},
				{ReportType: "YearEndBreakdown", FieldName: "VestingBalanceAmount"},
			},
		},
		{
			RuleId:      "PARTICIPANT-COUNTS-AGREE",
			Description: "Eligible participant counts must agree between the eligibility report and the breakdown",
			Priority:    RulePriorityHigh,
			Relation:    RuleRelationEquality,
			Operands: []RuleOperand{
				{ReportType: "PAY426N", FieldName: "ParticipantCount"},
				{ReportType: "YearEndBreakdown", FieldName: "ParticipantCount"},
			},
		},
		{
			RuleId:      "FORFEITURE-TOTALS-AGREE",
			Description: "Forfeiture totals should agree between the breakdown and the forfeiture register",
			Priority:    RulePriorityMedium,
			Relation:    RuleRelationEquality,
			Operands: []RuleOperand{
				{ReportType: "YearEndBreakdown", FieldName: "ForfeitureAmount"},
				{ReportType: "PAY443", FieldName: "TotalForfeitures"},
			},
		},
	}
}
