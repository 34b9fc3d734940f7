package reports

import (
	"context"
	"errors"
	"strconv"

	"bitbucket.org/mmdatafocus/profitshare_backend/config"
	"bitbucket.org/mmdatafocus/profitshare_backend/workflow"
	"github.com/shopspring/decimal"
)

// Pay426NReport is the year-end grand-total report: one total across every
// posted allocation type, plus the distinct count of employees who received a
// distribution.
type Pay426NReport struct {
	ProfitYear       int             `json:"profit_year"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	ParticipantCount int             `json:"participant_count"`
}

func GetPay426NReport(ctx context.Context, profitYear int) (*Pay426NReport, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("database is not connected")
	}

	report := Pay426NReport{ProfitYear: profitYear}

	query := `
        SELECT
            COALESCE(SUM(psl.amount), 0) AS total_amount,
            COUNT(DISTINCT CASE WHEN psl.entry_type = 'DISTRIBUTION' THEN psl.employee_id END) AS participant_count
        FROM
            profit_share_ledgers AS psl
        WHERE
            psl.profit_year = ?
            AND psl.status = 'POSTED'
            AND psl.entry_type IN ('DISTRIBUTION', 'FORFEITURE', 'VESTING_BALANCE')
    `
	if err := db.WithContext(ctx).Raw(query, profitYear).Scan(&report).Error; err != nil {
		return nil, err
	}
	return &report, nil
}

func Pay426NRegistration(profitYear int) workflow.ReportRegistration {
	return workflow.ReportRegistration{
		ReportType: "PAY426N",
		Extractors: []workflow.FieldExtractor{
			field("TotalAmount", func(r *Pay426NReport) any { return r.TotalAmount }),
			field("ParticipantCount", func(r *Pay426NReport) any { return r.ParticipantCount }),
		},
		Recompute: func(ctx context.Context) (any, error) {
			return GetPay426NReport(ctx, profitYear)
		},
		Params: map[string]string{"profitYear": strconv.Itoa(profitYear)},
	}
}
