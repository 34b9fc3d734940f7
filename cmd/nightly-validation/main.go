package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/profitshare_backend/config"
	"bitbucket.org/mmdatafocus/profitshare_backend/models"
	"bitbucket.org/mmdatafocus/profitshare_backend/models/reports"
	"bitbucket.org/mmdatafocus/profitshare_backend/utils"
	"bitbucket.org/mmdatafocus/profitshare_backend/workflow"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Nightly validation job: validates every archived report against its current
// recomputation, evaluates the cross-reference rules, and exports the findings
// workbook. Exits non-zero when a Critical rule fails so the scheduler
// escalates instead of silently moving on.
func main() {
	var (
		profitYear = flag.Int("year", 0, "profit year to validate (0 = every year with archived snapshots)")
		export     = flag.Bool("export", true, "write the findings workbook")
		upload     = flag.Bool("upload", false, "upload the workbook to the audit bucket")
		timeout    = flag.Duration("timeout", 20*time.Minute, "overall run timeout")
	)
	flag.Parse()

	logger := config.GetLogger()

	config.ConnectDatabaseWithRetry()
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	}

	if err := models.ValidateConsistencyRules(models.DefaultConsistencyRules()); err != nil {
		logger.WithFields(logrus.Fields{"field": "rules"}).Error("invalid consistency rule set: " + err.Error())
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx = utils.SetCorrelationIdInContext(ctx, uuid.NewString())
	ctx = utils.SetUserNameInContext(ctx, "nightly-validation")

	store := models.NewGormSnapshotStore(config.GetDB())

	var yearFilter *int
	if *profitYear != 0 {
		yearFilter = profitYear
	}
	results, err := workflow.ValidateAllReports(ctx, store, nil, workflow.ValidateAllRequest{
		ProfitYear: yearFilter,
		RegistryFor: func(year int) (*workflow.ExtractorRegistry, error) {
			registry := workflow.NewExtractorRegistry()
			if err := reports.RegisterAll(registry, year); err != nil {
				return nil, err
			}
			return registry, nil
		},
	})
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "validate"}).Error(err.Error())
		os.Exit(2)
	}
	if len(results) == 0 {
		logger.Info("no archived snapshots to validate")
		return
	}

	blocked := false
	for _, result := range results {
		if result.BlocksFinalization {
			blocked = true
		}
		if *export {
			exportRun(ctx, logger, result, *upload)
		}
	}

	if blocked {
		logger.Warn("critical consistency failures found; finalization is blocked")
		os.Exit(1)
	}
	logger.Info("nightly validation passed")
}

func exportRun(ctx context.Context, logger *logrus.Logger, result *models.ValidationRunResult, upload bool) {
	data, err := models.ExportValidationRunExcel(result)
	if err != nil {
		config.LogError(logger, "main.go", "exportRun", "ExportValidationRunExcel", result.ProfitYear, err)
		return
	}
	filename := fmt.Sprintf("validation_%d_%s.xlsx", result.ProfitYear, time.Now().UTC().Format("20060102T150405Z"))

	if upload {
		if err := utils.SaveWorkbookToGCS(ctx, filename, data); err != nil {
			config.LogError(logger, "main.go", "exportRun", "SaveWorkbookToGCS", filename, err)
		} else {
			logger.WithFields(logrus.Fields{"object": filename}).Info("findings workbook uploaded")
		}
		return
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		config.LogError(logger, "main.go", "exportRun", "WriteFile", filename, err)
		return
	}
	logger.WithFields(logrus.Fields{"file": filename}).Info("findings workbook written")
}
