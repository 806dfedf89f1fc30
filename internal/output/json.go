// Package output serializes a completed Report to JSON, the
// downstream collaborator described in §3/§7: it owns no scan logic,
// only the final artifact.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/dmitriimaksimovdevelop/hostaudit/internal/model"
)

// scanResultDoc mirrors model.ScanResult for serialization, adding the
// optional per-scanner duration gated by the timings config flag.
type scanResultDoc struct {
	Scanner    string          `json:"scanner"`
	Findings   []model.Finding `json:"findings"`
	DurationMS *int64          `json:"duration_ms,omitempty"`
}

type reportDoc struct {
	Scanners []scanResultDoc    `json:"scanners"`
	Warnings []model.Warning    `json:"warnings,omitempty"`
	Errors   []model.ScanError  `json:"errors,omitempty"`
	Summary  summaryDoc         `json:"summary"`
}

type summaryDoc struct {
	TotalFindings int `json:"total_findings"`
}

func buildDoc(report *model.Report, floor model.Severity) reportDoc {
	results := report.Results()
	doc := reportDoc{
		Warnings: report.Warnings(),
		Errors:   report.Errors(),
		Summary:  summaryDoc{TotalFindings: report.TotalFindings()},
	}
	for _, r := range results {
		findings := r.Findings
		if floor > model.Info {
			kept := make([]model.Finding, 0, len(findings))
			for _, f := range findings {
				if f.Severity >= floor {
					kept = append(kept, f)
				}
			}
			findings = kept
		}
		sr := scanResultDoc{Scanner: r.Scanner, Findings: findings}
		if report.TimingsWanted() {
			ms := r.DurationMS()
			sr.DurationMS = &ms
		}
		doc.Scanners = append(doc.Scanners, sr)
	}
	return doc
}

// WriteJSON serializes the report as indented JSON, preserving scanner
// registration order and per-scanner finding emission order. Findings
// below floor are omitted from the per-scanner lists, but Summary still
// reflects the unfiltered total. If path is "-" or empty, writes to
// stdout.
func WriteJSON(report *model.Report, path string, floor model.Severity) error {
	var w io.Writer = os.Stdout
	if path != "" && path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(buildDoc(report, floor)); err != nil {
		return fmt.Errorf("encode JSON: %w", err)
	}
	return nil
}
