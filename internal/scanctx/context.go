// Package scanctx defines the short-lived bundle passed to every scanner
// invocation: a Config and the Report it appends findings to (§9 glossary).
package scanctx

import (
	"context"

	"github.com/dmitriimaksimovdevelop/hostaudit/internal/config"
	"github.com/dmitriimaksimovdevelop/hostaudit/internal/model"
)

// ScanContext bundles the run configuration and aggregate report a
// scanner needs. It carries a context.Context for cancellation/deadline
// propagation into blocking scanners (notably the eBPF tracer).
type ScanContext struct {
	Ctx    context.Context
	Config *config.Config
	Report *model.Report
}

// New builds a ScanContext for one scan run.
func New(ctx context.Context, cfg *config.Config, report *model.Report) *ScanContext {
	return &ScanContext{Ctx: ctx, Config: cfg, Report: report}
}

// AddFinding is a convenience forwarder so scanners write
// `sc.AddFinding(...)` instead of threading the Report separately.
func (sc *ScanContext) AddFinding(scanner string, f model.Finding) {
	sc.Report.AddFinding(scanner, f)
}

// AddWarning forwards to the Report.
func (sc *ScanContext) AddWarning(scanner string, code model.WarningCode, detail string) {
	sc.Report.AddWarning(scanner, code, detail)
}

// AddError forwards to the Report.
func (sc *ScanContext) AddError(scanner string, code model.WarningCode, detail string) {
	sc.Report.AddError(scanner, code, detail)
}
