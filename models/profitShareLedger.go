package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/profitshare_backend/config"
	"github.com/shopspring/decimal"
)

// Ledger entry types. Every year-end report aggregates over these.
const (
	LedgerEntryDistribution   = "DISTRIBUTION"
	LedgerEntryForfeiture     = "FORFEITURE"
	LedgerEntryVestingBalance = "VESTING_BALANCE"
)

// Ledger entry statuses. Reports only count POSTED entries.
const (
	LedgerStatusPosted  = "POSTED"
	LedgerStatusPending = "PENDING"
	LedgerStatusVoided  = "VOIDED"
)

// ProfitShareLedger is one allocation line for one employee in one profit
// year. The year-end reports are all independent aggregations of this table,
// which is what makes cross-report consistency checkable at all.
type ProfitShareLedger struct {
	ID          int             `gorm:"primary_key" json:"id"`
	ProfitYear  int             `gorm:"index:idx_ledger_year_type;not null" json:"profit_year"`
	EmployeeId  string          `gorm:"size:20;index;not null" json:"employee_id"`
	EntryType   string          `gorm:"size:30;index:idx_ledger_year_type;not null" json:"entry_type"`
	Status      string          `gorm:"size:20;index;not null;default:POSTED" json:"status"`
	Amount      decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"amount"`
	IsQualified bool            `gorm:"not null;default:true" json:"is_qualified"`
	PostedAt    time.Time       `json:"posted_at"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func CreateProfitShareLedger(ctx context.Context, entry *ProfitShareLedger) error {
	db := config.GetDB()
	return db.WithContext(ctx).Create(entry).Error
}
