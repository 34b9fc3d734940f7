package reports

import (
	"fmt"

	"bitbucket.org/mmdatafocus/profitshare_backend/workflow"
)

// field builds an extractor that asserts the report's concrete type before
// reading one value from it. Keeps the per-report extractor lists down to the
// field name and the getter.
func field[R any](name string, get func(*R) any) workflow.FieldExtractor {
	return workflow.FieldExtractor{
		FieldName: name,
		Extract: func(report any) (any, error) {
			r, ok := report.(*R)
			if !ok {
				return nil, fmt.Errorf("field %s: expected %T, got %T", name, new(R), report)
			}
			return get(r), nil
		},
	}
}
