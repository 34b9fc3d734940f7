package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"bitbucket.org/mmdatafocus/profitshare_backend/checksum"
)

// FieldExtractor turns a completed report object into one named, typed value.
// Report modules supply these at registration time; the engine knows nothing
// about report shapes beyond them.
type FieldExtractor struct {
	FieldName     string
	Normalization checksum.StringNormalization
	Extract       func(report any) (any, error)
}

// RecomputeFunc recomputes the current report data. It must honor ctx: batch
// validation runs it under a per-report timeout.
type RecomputeFunc func(ctx context.Context) (any, error)

// ReportRegistration binds a report type to its extractors, recompute function
// and canonical request parameters. Built explicitly at startup; there is no
// reflection-driven field discovery.
type ReportRegistration struct {
	ReportType string
	Extractors []FieldExtractor
	// Recompute may be nil for report types that are archived by an external
	// pipeline and only validated in caller-supplied mode.
	Recompute RecomputeFunc
	// Params are the request parameters the module recomputes with; their
	// fingerprint is compared against the archived one during validation.
	Params map[string]string
}

// ExtractorRegistry maps report type names to their registrations.
type ExtractorRegistry struct {
	mu     sync.RWMutex
	byType map[string]ReportRegistration
}

func NewExtractorRegistry() *ExtractorRegistry {
	return &ExtractorRegistry{byType: map[string]ReportRegistration{}}
}

func (r *ExtractorRegistry) Register(reg ReportRegistration) error {
	if reg.ReportType == "" {
		return fmt.Errorf("report type is required")
	}
	if len(reg.Extractors) == 0 {
		return fmt.Errorf("report type %q: at least one extractor is required", reg.ReportType)
	}
	seen := map[string]bool{}
	for _, ex := range reg.Extractors {
		if ex.FieldName == "" || ex.Extract == nil {
			return fmt.Errorf("report type %q: extractor needs a field name and a function", reg.ReportType)
		}
		if seen[ex.FieldName] {
			return fmt.Errorf("report type %q: duplicate field %q", reg.ReportType, ex.FieldName)
		}
		seen[ex.FieldName] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byType[reg.ReportType]; exists {
		return fmt.Errorf("report type %q already registered", reg.ReportType)
	}
	r.byType[reg.ReportType] = reg
	return nil
}

func (r *ExtractorRegistry) Lookup(reportType string) (ReportRegistration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byType[reportType]
	return reg, ok
}

func (r *ExtractorRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.byType))
	for t := range r.byType {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
