package scanner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dmitriimaksimovdevelop/hostaudit/internal/config"
	"github.com/dmitriimaksimovdevelop/hostaudit/internal/model"
)

func writeSUIDBinary(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("#!/bin/true\n"), 0o4755); err != nil {
		t.Fatal(err)
	}
}

func TestSuidScannerRootFSOverrideExpectedBaseline(t *testing.T) {
	fakeRoot := t.TempDir()
	path := filepath.Join(fakeRoot, "usr", "bin", "sudo")
	writeSUIDBinary(t, path)

	cfg := config.Default()
	cfg.RootFS = fakeRoot

	sc := newTestScanContext(t, cfg)
	s := NewSuidScanner()
	if err := s.Scan(sc); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	findings := sc.Report.Results()[0].Findings
	if len(findings) != 1 {
		t.Fatalf("expected one SUID finding, got %d: %+v", len(findings), findings)
	}
	f := findings[0]
	expected, _ := f.Metadata.Get("expected")
	if expected != "true" {
		t.Errorf("expected /usr/bin/sudo to match the expected-baseline after RootFS rewrite, got expected=%q", expected)
	}
	if f.Severity != model.Low {
		t.Errorf("expected Low severity for a baseline-expected SUID binary, got %v", f.Severity)
	}
}

func TestSuidScannerRootFSOverrideUnexpectedBinary(t *testing.T) {
	fakeRoot := t.TempDir()
	path := filepath.Join(fakeRoot, "usr", "local", "bin", "mystery")
	writeSUIDBinary(t, path)

	cfg := config.Default()
	cfg.RootFS = fakeRoot

	sc := newTestScanContext(t, cfg)
	s := NewSuidScanner()
	if err := s.Scan(sc); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	findings := sc.Report.Results()[0].Findings
	if len(findings) != 1 {
		t.Fatalf("expected one SUID finding, got %d: %+v", len(findings), findings)
	}
	f := findings[0]
	if _, ok := f.Metadata.Get("expected"); ok {
		t.Error("did not expect an unlisted /usr/local/bin binary to match the baseline")
	}
	if f.Severity != model.High {
		t.Errorf("expected High severity for an unexpected SUID binary under /usr/local, got %v", f.Severity)
	}
}
