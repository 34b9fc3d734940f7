package reports

import (
	"context"
	"errors"
	"strconv"

	"bitbucket.org/mmdatafocus/profitshare_backend/config"
	"bitbucket.org/mmdatafocus/profitshare_backend/workflow"
	"github.com/shopspring/decimal"
)

// YearEndBreakdownReport splits the year's posted allocations by entry type.
// Its components must sum to the PAY426N grand total, which is exactly what
// the BREAKDOWN-SUMS-TO-TOTAL rule asserts.
type YearEndBreakdownReport struct {
	ProfitYear           int             `json:"profit_year"`
	DistributionAmount   decimal.Decimal `json:"distribution_amount"`
	ForfeitureAmount     decimal.Decimal `json:"forfeiture_amount"`
	VestingBalanceAmount decimal.Decimal `json:"vesting_balance_amount"`
	ParticipantCount     int             `json:"participant_count"`
}

func GetYearEndBreakdownReport(ctx context.Context, profitYear int) (*YearEndBreakdownReport, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("database is not connected")
	}

	report := YearEndBreakdownReport{ProfitYear: profitYear}

	query := `
        SELECT
            COALESCE(SUM(CASE WHEN psl.entry_type = 'DISTRIBUTION' THEN psl.amount END), 0) AS distribution_amount,
            COALESCE(SUM(CASE WHEN psl.entry_type = 'FORFEITURE' THEN psl.amount END), 0) AS forfeiture_amount,
            COALESCE(SUM(CASE WHEN psl.entry_type = 'VESTING_BALANCE' THEN psl.amount END), 0) AS vesting_balance_amount,
            COUNT(DISTINCT CASE WHEN psl.entry_type = 'DISTRIBUTION' THEN psl.employee_id END) AS participant_count
        FROM
            profit_share_ledgers AS psl
        WHERE
            psl.profit_year = ?
            AND psl.status = 'POSTED'
    `
	if err := db.WithContext(ctx).Raw(query, profitYear).Scan(&report).Error; err != nil {
		return nil, err
	}
	return &report, nil
}

func YearEndBreakdownRegistration(profitYear int) workflow.ReportRegistration {
	return workflow.ReportRegistration{
		ReportType: "YearEndBreakdown",
		Extractors: []workflow.FieldExtractor{
			field("DistributionAmount", func(r *YearEndBreakdownReport) any { return r.DistributionAmount }),
			field("ForfeitureAmount", func(r *YearEndBreakdownReport) any { return r.ForfeitureAmount }),
			field("VestingBalanceAmount", func(r *YearEndBreakdownReport) any { return r.VestingBalanceAmount }),
			field("ParticipantCount", func(r *YearEndBreakdownReport) any { return r.ParticipantCount }),
		},
		Recompute: func(ctx context.Context) (any, error) {
			return GetYearEndBreakdownReport(ctx, profitYear)
		},
		Params: map[string]string{"profitYear": strconv.Itoa(profitYear)},
	}
}
