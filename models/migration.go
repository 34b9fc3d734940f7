package models

import (
	"log"

	"bitbucket.org/mmdatafocus/profitshare_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&ArchivedSnapshot{}, &ChecksumEntry{}, &SnapshotPointer{},
		&History{},
		&ReconciliationReport{},
		&ProfitShareLedger{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
