package models

// FieldComparisonStatus is the outcome of comparing one archived field against
// its current value.
type FieldComparisonStatus string

const (
	FieldComparisonMatch        FieldComparisonStatus = "Match"
	FieldComparisonMismatch     FieldComparisonStatus = "Mismatch"
	FieldComparisonNotArchived  FieldComparisonStatus = "NotArchived"
	FieldComparisonComputeError FieldComparisonStatus = "ComputeError"
)

// RulePriority tiers cross-reference rules. Only an invalid Critical rule
// blocks year-end finalization.
type RulePriority string

const (
	RulePriorityCritical RulePriority = "Critical"
	RulePriorityHigh     RulePriority = "High"
	RulePriorityMedium   RulePriority = "Medium"
	RulePriorityLow      RulePriority = "Low"
)

// Rank orders priorities for grouping, highest first.
func (p RulePriority) Rank() int {
	switch p {
	case RulePriorityCritical:
		return 0
	case RulePriorityHigh:
		return 1
	case RulePriorityMedium:
		return 2
	case RulePriorityLow:
		return 3
	default:
		return 4
	}
}

// RuleRelation is the arithmetic relation a rule's operands must satisfy.
type RuleRelation string

const (
	// RuleRelationEquality: all operand values pairwise equal within tolerance.
	RuleRelationEquality RuleRelation = "Equality"
	// RuleRelationSumEquality: operand[0] = sum(operand[1..n]) within tolerance.
	RuleRelationSumEquality RuleRelation = "SumEquality"
)

// History action types.
const (
	HistoryActionArchive   = "ARCHIVE"
	HistoryActionRearchive = "REARCHIVE"
)

// Reconciliation check types written by the nightly validation run.
const (
	ReconCheckFieldDrift      = "FIELD_DRIFT"
	ReconCheckRuleConsistency = "RULE_CONSISTENCY"
)
