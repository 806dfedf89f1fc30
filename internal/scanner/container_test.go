package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dmitriimaksimovdevelop/hostaudit/internal/config"
	"github.com/dmitriimaksimovdevelop/hostaudit/internal/model"
	"github.com/dmitriimaksimovdevelop/hostaudit/internal/scanctx"
)

func writeCgroupFile(t *testing.T, procRoot string, pid int, content string) {
	t.Helper()
	dir := filepath.Join(procRoot, itoa(pid))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "cgroup"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func itoa(n int) string {
	return string(rune('0' + n%10))
}

func newTestScanContext(t *testing.T, cfg *config.Config) *scanctx.ScanContext {
	t.Helper()
	return scanctx.New(context.Background(), cfg, model.NewReport(false))
}

func TestContainerScannerDetectsDockerID(t *testing.T) {
	procRoot := t.TempDir()
	sysRoot := t.TempDir()
	if err := os.MkdirAll(filepath.Join(sysRoot, "fs", "cgroup"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sysRoot, "fs", "cgroup", "cgroup.controllers"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	longID := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	writeCgroupFile(t, procRoot, 1, "1:name=systemd:/docker/"+longID+"\n")

	cfg := config.Default()
	cfg.ProcRoot = procRoot
	cfg.SysRoot = sysRoot
	cfg.Containers = true

	sc := newTestScanContext(t, cfg)
	s := NewContainerScanner()
	if err := s.Scan(sc); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	results := sc.Report.Results()
	if len(results) != 1 {
		t.Fatalf("expected one scan result, got %d", len(results))
	}
	findings := results[0].Findings
	if len(findings) != 1 {
		t.Fatalf("expected one finding, got %d: %+v", len(findings), findings)
	}
	runtime, _ := findings[0].Metadata.Get("runtime")
	if runtime != "docker" {
		t.Errorf("expected runtime docker, got %q", runtime)
	}
	version, _ := findings[0].Metadata.Get("cgroup_version")
	if version != "2" {
		t.Errorf("expected cgroup_version 2, got %q", version)
	}
}

func TestContainerScannerNoneDetected(t *testing.T) {
	procRoot := t.TempDir()
	sysRoot := t.TempDir()
	writeCgroupFile(t, procRoot, 1, "1:name=systemd:/init.scope\n")

	cfg := config.Default()
	cfg.ProcRoot = procRoot
	cfg.SysRoot = sysRoot
	cfg.Containers = true

	sc := newTestScanContext(t, cfg)
	s := NewContainerScanner()
	if err := s.Scan(sc); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	findings := sc.Report.Results()[0].Findings
	if len(findings) != 1 || findings[0].ID != "container:none" {
		t.Fatalf("expected container:none finding, got %+v", findings)
	}
}

func TestContainerScannerDisabledByDefault(t *testing.T) {
	cfg := config.Default()
	cfg.ProcRoot = t.TempDir()
	cfg.SysRoot = t.TempDir()
	cfg.Containers = false

	sc := newTestScanContext(t, cfg)
	s := NewContainerScanner()
	if err := s.Scan(sc); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(sc.Report.Results()) != 0 {
		t.Fatalf("expected no scan activity when disabled, got %+v", sc.Report.Results())
	}
}

func TestContainerIDFilter(t *testing.T) {
	procRoot := t.TempDir()
	sysRoot := t.TempDir()
	longID := "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	writeCgroupFile(t, procRoot, 1, "1:name=systemd:/docker/"+longID+"\n")

	cfg := config.Default()
	cfg.ProcRoot = procRoot
	cfg.SysRoot = sysRoot
	cfg.Containers = true
	cfg.ContainerIDFilter = "nomatch"

	sc := newTestScanContext(t, cfg)
	s := NewContainerScanner()
	if err := s.Scan(sc); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	findings := sc.Report.Results()[0].Findings
	if len(findings) != 1 || findings[0].ID != "container:none" {
		t.Fatalf("expected filter to exclude the match, got %+v", findings)
	}
}
