package reports

import (
	"context"
	"errors"
	"strconv"

	"bitbucket.org/mmdatafocus/profitshare_backend/config"
	"bitbucket.org/mmdatafocus/profitshare_backend/workflow"
	"github.com/shopspring/decimal"
)

// Qpay129Report is the qualified-plan extract. Its distribution total is
// computed from the qualified subset of the ledger and is expected to agree
// with the PAY443 register; when entries are mis-flagged the DIST-TOTALS-AGREE
// rule is the thing that notices.
type Qpay129Report struct {
	ProfitYear         int             `json:"profit_year"`
	TotalDistributions decimal.Decimal `json:"total_distributions"`
	QualifiedCount     int             `json:"qualified_count"`
}

func GetQpay129Report(ctx context.Context, profitYear int) (*Qpay129Report, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("database is not connected")
	}

	report := Qpay129Report{ProfitYear: profitYear}

	query := `
        SELECT
            COALESCE(SUM(psl.amount), 0) AS total_distributions,
            COUNT(DISTINCT psl.employee_id) AS qualified_count
        FROM
            profit_share_ledgers AS psl
        WHERE
            psl.profit_year = ?
            AND psl.status = 'POSTED'
            AND psl.entry_type = 'DISTRIBUTION'
            AND psl.is_qualified = 1
    `
	if err := db.WithContext(ctx).Raw(query, profitYear).Scan(&report).Error; err != nil {
		return nil, err
	}
	return &report, nil
}

func Qpay129Registration(profitYear int) workflow.ReportRegistration {
	return workflow.ReportRegistration{
		ReportType: "QPAY129",
		Extractors: []workflow.FieldExtractor{
			field("TotalDistributions", func(r *Qpay129Report) any { return r.TotalDistributions }),
			field("QualifiedCount", func(r *Qpay129Report) any { return r.QualifiedCount }),
		},
		Recompute: func(ctx context.Context) (any, error) {
			return GetQpay129Report(ctx, profitYear)
		},
		Params: map[string]string{"profitYear": strconv.Itoa(profitYear)},
	}
}
