package models

import "time"

// Durable drift-detection trail written by the nightly validation run.
// The ValidationRunResult itself is never persisted; these rows are the
// reviewable residue of a run that found something.
type ReconciliationReport struct {
	ID            int       `gorm:"primary_key" json:"id"`
	CheckType     string    `gorm:"size:50;index;not null" json:"check_type"` // FIELD_DRIFT, RULE_CONSISTENCY
	ReportType    string    `gorm:"size:50;index" json:"report_type"`
	ProfitYear    int       `gorm:"index;not null" json:"profit_year"`
	FieldName     string    `gorm:"size:100" json:"field_name"`
	RuleId        string    `gorm:"size:50" json:"rule_id"`
	Details       string    `gorm:"type:text" json:"details"` // human-readable mismatch detail
	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}
