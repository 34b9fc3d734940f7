package reports

import (
	"bitbucket.org/mmdatafocus/profitshare_backend/workflow"
)

// RegisterAll registers every year-end report module for one profit year.
// Registrations are year-bound because each recompute closure re-runs its
// report for that year; callers validating several years build one registry
// per year.
func RegisterAll(registry *workflow.ExtractorRegistry, profitYear int) error {
	registrations := []workflow.ReportRegistration{
		Pay426NRegistration(profitYear),
		YearEndBreakdownRegistration(profitYear),
		Pay443Registration(profitYear),
		Qpay129Registration(profitYear),
	}
	for _, reg := range registrations {
		if err := registry.Register(reg); err != nil {
			return err
		}
	}
	return nil
}
