package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/profitshare_backend/config"
	"bitbucket.org/mmdatafocus/profitshare_backend/models"
	"bitbucket.org/mmdatafocus/profitshare_backend/models/reports"
	"bitbucket.org/mmdatafocus/profitshare_backend/utils"
	"bitbucket.org/mmdatafocus/profitshare_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

var snapshotStore models.SnapshotStore

// registryForYear builds a fresh registry whose recompute closures are bound
// to one profit year. Registries are cheap; the reports themselves are not
// recomputed until a workflow asks.
func registryForYear(profitYear int) (*workflow.ExtractorRegistry, error) {
	registry := workflow.NewExtractorRegistry()
	if err := reports.RegisterAll(registry, profitYear); err != nil {
		return nil, err
	}
	return registry, nil
}

type archiveRequest struct {
	ReportType string `json:"report_type" binding:"required"`
	ProfitYear int    `json:"profit_year" binding:"required"`
	// AdditionalChecksums are caller-derived decimal values archived alongside
	// the recomputed report fields, keyed by field name.
	AdditionalChecksums map[string]string `json:"additional_checksums"`
	IsArchiveRequest    bool              `json:"is_archive_request"`
}

func archiveReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req archiveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
			return
		}

		registry, err := registryForYear(req.ProfitYear)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		reg, ok := registry.Lookup(req.ReportType)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown report type %q", req.ReportType)})
			return
		}

		extra := make([]workflow.FieldExtractor, 0, len(req.AdditionalChecksums))
		for name, raw := range req.AdditionalChecksums {
			value, err := decimal.NewFromString(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("additional checksum %q: %v", name, err)})
				return
			}
			extra = append(extra, workflow.FieldExtractor{
				FieldName: name,
				Extract:   func(any) (any, error) { return value, nil },
			})
		}

		ctx := c.Request.Context()
		report, err := reg.Recompute(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		snap, err := workflow.ArchiveCompletedReport(ctx, snapshotStore, registry, workflow.ArchiveRequest{
			ReportType:          req.ReportType,
			ProfitYear:          req.ProfitYear,
			Params:              reg.Params,
			Report:              report,
			AdditionalChecksums: extra,
			IsArchiveRequest:    req.IsArchiveRequest,
		})
		if err != nil {
			if errors.Is(err, workflow.ErrExtractionFailure) {
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		cid, _ := utils.GetCorrelationIdFromContext(ctx)
		c.JSON(http.StatusOK, gin.H{
			"snapshot_id":      snap.SnapshotId,
			"report_type":      snap.ReportType,
			"profit_year":      snap.ProfitYear,
			"report_digest":    snap.ReportDigest,
			"digest_algorithm": snap.DigestAlgorithm,
			"fields":           len(snap.Entries),
			"archived_at_utc":  snap.ArchivedAtUtc.Format(time.RFC3339),
			"correlation_id":   cid,
		})
	}
}

type validateChecksumRequest struct {
	ReportType string `json:"report_type" binding:"required"`
	ProfitYear int    `json:"profit_year" binding:"required"`
	// Tolerance overrides the default 0.01 decimal tolerance, e.g. "0.05".
	Tolerance string `json:"tolerance"`
}

func parseToleranceOption(raw string) (workflow.ValidateOptions, error) {
	var opts workflow.ValidateOptions
	if raw == "" {
		return opts, nil
	}
	tol, err := decimal.NewFromString(raw)
	if err != nil || tol.IsNegative() {
		return opts, fmt.Errorf("tolerance must be a non-negative decimal")
	}
	opts.Tolerance = &tol
	return opts, nil
}

func validateChecksumHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req validateChecksumRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}
		opts, err := parseToleranceOption(req.Tolerance)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		registry, err := registryForYear(req.ProfitYear)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		result, err := workflow.ValidateReportChecksum(c.Request.Context(), snapshotStore, registry, req.ReportType, req.ProfitYear, opts)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

type validateFieldsRequest struct {
	ReportType string `json:"report_type" binding:"required"`
	ProfitYear int    `json:"profit_year" binding:"required"`
	// Fields are the caller's current decimal values, keyed by field name.
	Fields    map[string]string `json:"fields" binding:"required"`
	Tolerance string            `json:"tolerance"`
}

func validateFieldsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req validateFieldsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}
		opts, err := parseToleranceOption(req.Tolerance)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		fields := make(map[string]decimal.Decimal, len(req.Fields))
		for name, raw := range req.Fields {
			value, err := decimal.NewFromString(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("field %q: %v", name, err)})
				return
			}
			fields[name] = value
		}

		result, err := workflow.ValidateReportFields(c.Request.Context(), snapshotStore, req.ReportType, req.ProfitYear, fields, opts)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

type validateAllRequest struct {
	// ProfitYear nil means every year with archived snapshots.
	ProfitYear *int `json:"profit_year"`
}

// validateYears runs the batch validation; the workflow builds a year-bound
// registry per profit year under validation.
func validateYears(ctx context.Context, profitYear *int) ([]*models.ValidationRunResult, error) {
	return workflow.ValidateAllReports(ctx, snapshotStore, nil, workflow.ValidateAllRequest{
		ProfitYear:  profitYear,
		RegistryFor: registryForYear,
	})
}

func validateAllHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req validateAllRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}
		results, err := validateYears(c.Request.Context(), req.ProfitYear)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"runs": results})
	}
}

func snapshotHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		reportType := c.Query("report_type")
		yearStr := c.Query("profit_year")
		if reportType == "" || yearStr == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "report_type and profit_year are required"})
			return
		}
		profitYear, err := strconv.Atoi(yearStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "profit_year must be an integer"})
			return
		}
		limit := 0
		if v := c.Query("limit"); v != "" {
			limit, err = strconv.Atoi(v)
			if err != nil || limit < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
				return
			}
		}

		snaps, err := snapshotStore.GetSnapshotHistory(c.Request.Context(), reportType, profitYear, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"snapshots": snaps})
	}
}

func exportValidationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		yearStr := c.Query("profit_year")
		if yearStr == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "profit_year is required"})
			return
		}
		profitYear, err := strconv.Atoi(yearStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "profit_year must be an integer"})
			return
		}

		results, err := validateYears(c.Request.Context(), &profitYear)
		if err != nil || len(results) == 0 {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "validation run failed"})
			return
		}
		data, err := models.ExportValidationRunExcel(results[0])
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		filename := fmt.Sprintf("validation_%d_%s.xlsx", profitYear, time.Now().UTC().Format("20060102T150405Z"))
		if strings.EqualFold(c.Query("upload"), "true") {
			if err := utils.SaveWorkbookToGCS(c.Request.Context(), filename, data); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed: " + err.Error()})
				return
			}
		}
		c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
		c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

// customErrorLogger logs only requests that accumulated errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return utils.UniqueSlice(out)
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until the DB is ready, app endpoints return 503.
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context, along
	// with the caller identity headers the gateway forwards.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		ctx := utils.SetCorrelationIdInContext(c.Request.Context(), cid)
		if user := c.GetHeader("x-user-name"); user != "" {
			ctx = utils.SetUserNameInContext(ctx, user)
		}
		if idStr := c.GetHeader("x-user-id"); idStr != "" {
			if id, err := strconv.Atoi(idStr); err == nil {
				ctx = utils.SetUserIdInContext(ctx, id)
			}
		}
		c.Request = c.Request.WithContext(ctx)
		c.Header("x-correlation-id", cid)
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil || snapshotStore == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// In production, require an explicit allowlist via CORS_ALLOWED_ORIGINS
	// (comma-separated); otherwise allow all for developer convenience.
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", "x-correlation-id", "x-user-name", "x-user-id")
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition", "x-correlation-id")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	r.POST("/api/archive", archiveReportHandler())
	r.POST("/api/validate/checksum", validateChecksumHandler())
	r.POST("/api/validate/fields", validateFieldsHandler())
	r.POST("/api/validate/all", validateAllHandler())
	r.GET("/api/snapshots/history", snapshotHistoryHandler())
	r.GET("/api/validate/export", exportValidationHandler())
	r.NoRoute(customNotFoundHandler)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run DDL that blocks tables; allow running migrations as
	// a separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	if err := models.ValidateConsistencyRules(models.DefaultConsistencyRules()); err != nil {
		logger.WithFields(logrus.Fields{"field": "rules"}).Panic("invalid consistency rule set: " + err.Error())
	}

	snapshotStore = models.NewGormSnapshotStore(db)

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on port ", port)

	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}
