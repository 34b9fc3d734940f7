package models

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/profitshare_backend/config"
	"bitbucket.org/mmdatafocus/profitshare_backend/utils"
)

// History records that an archival happened (who, when, which snapshot),
// separate from the content of the archive itself.
type History struct {
	ID            int       `gorm:"primary_key" json:"id"`
	ActionType    string    `gorm:"size:10;not null" json:"action_type"`
	ReportType    string    `gorm:"size:50;index;not null" json:"report_type"`
	ProfitYear    int       `gorm:"index;not null" json:"profit_year"`
	SnapshotId    string    `gorm:"size:36;index" json:"snapshot_id"`
	Description   string    `gorm:"type:text" json:"description"`
	UserId        int       `gorm:"index" json:"user_id"`
	UserName      string    `gorm:"size:100" json:"user_name"`
	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// CreateArchiveHistory writes the audit row for one archival. A nil DB (test
// and harness runs on the memory store) is a no-op: the audit trail is a
// side channel, not part of the archive contract.
func CreateArchiveHistory(ctx context.Context, snap *ArchivedSnapshot, rearchive bool) error {
	db := config.GetDB()
	if db == nil {
		return nil
	}

	actionType := HistoryActionArchive
	if rearchive {
		actionType = HistoryActionRearchive
	}
	userId, _ := utils.GetUserIdFromContext(ctx)
	userName, _ := utils.GetUserNameFromContext(ctx)
	cid, _ := utils.GetCorrelationIdFromContext(ctx)

	history := History{
		ActionType: actionType,
		ReportType: snap.ReportType,
		ProfitYear: snap.ProfitYear,
		SnapshotId: snap.SnapshotId,
		Description: fmt.Sprintf("%s snapshot archived for %s/%d (%d fields)",
			actionType, snap.ReportType, snap.ProfitYear, len(snap.Entries)),
		UserId:        userId,
		UserName:      userName,
		CorrelationId: cid,
	}
	return db.WithContext(ctx).Create(&history).Error
}
