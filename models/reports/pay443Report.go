package reports

import (
	"context"
	"errors"
	"strconv"

	"bitbucket.org/mmdatafocus/profitshare_backend/config"
	"bitbucket.org/mmdatafocus/profitshare_backend/workflow"
	"github.com/shopspring/decimal"
)

// Pay443Report is the distribution register: the payment-side view of the
// same ledger, totalled independently of the breakdown report.
type Pay443Report struct {
	ProfitYear         int             `json:"profit_year"`
	TotalDistributions decimal.Decimal `json:"total_distributions"`
	TotalForfeitures   decimal.Decimal `json:"total_forfeitures"`
	PayeeCount         int             `json:"payee_count"`
}

func GetPay443Report(ctx context.Context, profitYear int) (*Pay443Report, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("database is not connected")
	}

	report := Pay443Report{ProfitYear: profitYear}

	query := `
        SELECT
            COALESCE(SUM(CASE WHEN psl.entry_type = 'DISTRIBUTION' THEN psl.amount END), 0) AS total_distributions,
            COALESCE(SUM(CASE WHEN psl.entry_type = 'FORFEITURE' THEN psl.amount END), 0) AS total_forfeitures,
            COUNT(DISTINCT CASE WHEN psl.entry_type = 'DISTRIBUTION' THEN psl.employee_id END) AS payee_count
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

func Pay443Registration(profitYear int) workflow.ReportRegistration {
	return workflow.ReportRegistration{
		ReportType: "PAY443",
		Extractors: []workflow.FieldExtractor{
			field("TotalDistributions", func(r *Pay443Report) any { return r.TotalDistributions }),
			field("TotalForfeitures", func(r *Pay443Report) any { return r.TotalForfeitures }),
			field("PayeeCount", func(r *Pay443Report) any { return r.PayeeCount }),
		},
		Recompute: func(ctx context.Context) (any, error) {
			return GetPay443Report(ctx, profitYear)
		},
		Params: map[string]string{"profitYear": strconv.Itoa(profitYear)},
	}
}
