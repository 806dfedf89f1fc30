package model

import (
	"sync"
	"time"
)

// ScanResult is one scanner invocation: its name, wall-clock bounds, and
// the findings it emitted, in emission order (§3).
type ScanResult struct {
	Scanner   string    `json:"scanner"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Findings  []Finding `json:"findings"`
}

// DurationMS reports the scan's wall-clock duration in milliseconds.
func (r *ScanResult) DurationMS() int64 {
	return r.EndTime.Sub(r.StartTime).Milliseconds()
}

// Report is the thread-safe aggregate of ScanResults, warnings, and
// errors for one run (§3, §4.A). Findings, once appended, are never
// removed; the rule engine may mutate fields in place but must not
// reorder or delete (§3 invariant).
type Report struct {
	mu            sync.Mutex
	order         []string
	results       map[string]*ScanResult
	warnings      []Warning
	errors        []ScanError
	timingsWanted bool
}

// NewReport creates an empty Report. timings controls whether the
// scanner_timings summary is populated by callers (config.timings).
func NewReport(timings bool) *Report {
	return &Report{
		results:       make(map[string]*ScanResult),
		timingsWanted: timings,
	}
}

// RegisterScanner pre-declares a scanner's place in registration order so
// serialization preserves it even if the scanner emits nothing.
func (r *Report) RegisterScanner(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.results[name]; ok {
		return
	}
	r.order = append(r.order, name)
	r.results[name] = &ScanResult{Scanner: name}
}

// AddFinding appends a finding for scanner, creating its ScanResult (with
// start_time = now) on first use; end_time is bumped on every add so a
// crude duration falls out even without an explicit SetScanDuration call
// (§4.A).
func (r *Report) AddFinding(scanner string, f Finding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.results[scanner]
	if !ok {
		res = &ScanResult{Scanner: scanner}
		r.results[scanner] = res
		r.order = append(r.order, scanner)
	}
	if res.StartTime.IsZero() {
		res.StartTime = time.Now()
	}
	res.Findings = append(res.Findings, f)
	res.EndTime = time.Now()
}

// SetScanDuration lets the registry record precise wall-clock bounds for
// a scanner invocation, overriding the crude add-time tracking.
func (r *Report) SetScanDuration(scanner string, start, end time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.results[scanner]
	if !ok {
		res = &ScanResult{Scanner: scanner}
		r.results[scanner] = res
		r.order = append(r.order, scanner)
	}
	res.StartTime = start
	res.EndTime = end
}

// AddWarning records a non-fatal per-scanner warning.
func (r *Report) AddWarning(scanner string, code WarningCode, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warnings = append(r.warnings, Warning{Scanner: scanner, Code: code, Detail: detail})
}

// AddError records a structured scanner error.
func (r *Report) AddError(scanner string, code WarningCode, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, ScanError{Scanner: scanner, Code: code, Detail: detail})
}

// Results returns ScanResults in scanner registration order.
func (r *Report) Results() []ScanResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ScanResult, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.results[name])
	}
	return out
}

// Warnings returns all recorded warnings in emission order.
func (r *Report) Warnings() []Warning {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Warning, len(r.warnings))
	copy(out, r.warnings)
	return out
}

// Errors returns all recorded scanner errors in emission order.
func (r *Report) Errors() []ScanError {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ScanError, len(r.errors))
	copy(out, r.errors)
	return out
}

// TotalFindings counts findings across every scanner.
func (r *Report) TotalFindings() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, res := range r.results {
		total += len(res.Findings)
	}
	return total
}

// CountBySeverity counts findings at exactly the given severity.
func (r *Report) CountBySeverity(sev Severity) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, res := range r.results {
		for _, f := range res.Findings {
			if f.Severity == sev {
				count++
			}
		}
	}
	return count
}

// CountAtOrAbove counts findings at or above the given severity rank,
// used for the --fail-on-severity exit code gate (§6.1).
func (r *Report) CountAtOrAbove(sev Severity) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, res := range r.results {
		for _, f := range res.Findings {
			if f.Severity >= sev {
				count++
			}
		}
	}
	return count
}

// FindingsBySeverity buckets every finding by severity rank.
func (r *Report) FindingsBySeverity() map[Severity][]Finding {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[Severity][]Finding{}
	for _, res := range r.results {
		for _, f := range res.Findings {
			out[f.Severity] = append(out[f.Severity], f)
		}
	}
	return out
}

// ForEachFinding visits every finding, scanner-by-scanner, in registration
// order. The visitor receives a pointer into the Report's storage and may
// mutate severity/metadata in place — used by the rule engine's apply
// pass. It must never resize the underlying slice.
func (r *Report) ForEachFinding(visit func(scanner string, f *Finding)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range r.order {
		res := r.results[name]
		for i := range res.Findings {
			visit(name, &res.Findings[i])
		}
	}
}

// TimingsWanted reports whether the scanner_timings summary should be
// included by the caller (config.timings).
func (r *Report) TimingsWanted() bool {
	return r.timingsWanted
}
