package scanner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dmitriimaksimovdevelop/hostaudit/internal/config"
)

const hardenedUnit = `[Service]
ExecStart=/usr/bin/myd
NoNewPrivileges=yes
PrivateTmp=yes
ProtectSystem=strict
ProtectHome=read-only
CapabilityBoundingSet=
RestrictNamespaces=yes
RestrictSUIDSGID=yes
ProtectKernelModules=yes
ProtectKernelTunables=yes
ProtectControlGroups=yes
MemoryDenyWriteExecute=yes
RestrictRealtime=yes
LockPersonality=yes
`

func TestSystemdUnitScannerRootFSOverride(t *testing.T) {
	fakeRoot := t.TempDir()
	unitDir := filepath.Join(fakeRoot, "etc", "systemd", "system")
	if err := os.MkdirAll(unitDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(unitDir, "myd.service"), []byte(hardenedUnit), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.RootFS = fakeRoot

	sc := newTestScanContext(t, cfg)
	s := NewSystemdUnitScanner()
	if err := s.Scan(sc); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	findings := sc.Report.Results()[0].Findings
	if len(findings) != len(hardeningDirectives) {
		t.Fatalf("expected %d directive findings, got %d: %+v", len(hardeningDirectives), len(findings), findings)
	}
	for _, f := range findings {
		status, present := f.Metadata.Get("status")
		if present && status == "mismatch" {
			t.Errorf("expected fully-hardened unit to have no mismatches, got %+v", f)
		}
	}
}

func TestSystemdUnitScannerMissingDirectivesFlagged(t *testing.T) {
	fakeRoot := t.TempDir()
	unitDir := filepath.Join(fakeRoot, "etc", "systemd", "system")
	if err := os.MkdirAll(unitDir, 0o755); err != nil {
		t.Fatal(err)
	}
	bare := "[Service]\nExecStart=/usr/bin/myd\n"
	if err := os.WriteFile(filepath.Join(unitDir, "bare.service"), []byte(bare), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.RootFS = fakeRoot

	sc := newTestScanContext(t, cfg)
	s := NewSystemdUnitScanner()
	if err := s.Scan(sc); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	findings := sc.Report.Results()[0].Findings
	mismatches := 0
	for _, f := range findings {
		if status, _ := f.Metadata.Get("status"); status == "mismatch" {
			mismatches++
		}
	}
	if mismatches != len(hardeningDirectives) {
		t.Errorf("expected every directive missing, got %d/%d mismatches", mismatches, len(hardeningDirectives))
	}
}
