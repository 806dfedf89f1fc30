package scanner

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/dmitriimaksimovdevelop/hostaudit/internal/config"
)

func writeTestProcess(t *testing.T, procRoot string, pid int, cmdline, status string) string {
	t.Helper()
	dir := filepath.Join(procRoot, strconv.Itoa(pid))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "cmdline"), []byte(cmdline), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "status"), []byte(status), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestProcessScannerEmitsInventoryEntry(t *testing.T) {
	procRoot := t.TempDir()
	dir := writeTestProcess(t, procRoot, 42, "/usr/bin/sshd\x00-D\x00", "Name:\tsshd\nUid:\t0\t0\t0\t0\nGid:\t0\t0\t0\t0\n")
	exePath := filepath.Join(procRoot, "bin", "sshd")
	if err := os.MkdirAll(filepath.Dir(exePath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(exePath, []byte("binary"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(exePath, filepath.Join(dir, "exe")); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.ProcRoot = procRoot
	cfg.ProcessInventory = true

	sc := newTestScanContext(t, cfg)
	s := NewProcessScanner()
	if err := s.Scan(sc); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	findings := sc.Report.Results()[0].Findings
	if len(findings) != 1 {
		t.Fatalf("expected one finding, got %d: %+v", len(findings), findings)
	}
	f := findings[0]
	if f.ID != "proc:42" {
		t.Errorf("expected proc:42, got %q", f.ID)
	}
	uid, _ := f.Metadata.Get("uid")
	if uid != "0" {
		t.Errorf("expected uid 0, got %q", uid)
	}
	exe, _ := f.Metadata.Get("exe_path")
	if exe != exePath {
		t.Errorf("expected exe_path %q, got %q", exePath, exe)
	}
	if _, ok := f.Metadata.Get("sha256"); ok {
		t.Error("did not expect sha256 metadata when ProcessHash is disabled")
	}
}

func TestProcessScannerSkipsKernelThreads(t *testing.T) {
	procRoot := t.TempDir()
	writeTestProcess(t, procRoot, 2, "", "Name:\tkthreadd\nUid:\t0\t0\t0\t0\nGid:\t0\t0\t0\t0\n")

	cfg := config.Default()
	cfg.ProcRoot = procRoot
	cfg.ProcessInventory = true

	sc := newTestScanContext(t, cfg)
	s := NewProcessScanner()
	sc.Report.RegisterScanner(s.Name())
	if err := s.Scan(sc); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(sc.Report.Results()[0].Findings) != 0 {
		t.Fatalf("expected no findings for an empty-cmdline kernel thread, got %+v", sc.Report.Results()[0].Findings)
	}
}

func TestProcessScannerAllProcessesIncludesEmptyCmdline(t *testing.T) {
	procRoot := t.TempDir()
	writeTestProcess(t, procRoot, 3, "", "Name:\tkworker\nUid:\t0\t0\t0\t0\nGid:\t0\t0\t0\t0\n")

	cfg := config.Default()
	cfg.ProcRoot = procRoot
	cfg.ProcessInventory = true
	cfg.AllProcesses = true

	sc := newTestScanContext(t, cfg)
	s := NewProcessScanner()
	if err := s.Scan(sc); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	findings := sc.Report.Results()[0].Findings
	if len(findings) != 1 || findings[0].ID != "proc:3" {
		t.Fatalf("expected a proc:3 finding with AllProcesses set, got %+v", findings)
	}
}

func TestProcessScannerMaxProcessesCap(t *testing.T) {
	procRoot := t.TempDir()
	for _, pid := range []int{10, 11, 12} {
		writeTestProcess(t, procRoot, pid, "/bin/true\x00", "Name:\ttrue\nUid:\t0\t0\t0\t0\nGid:\t0\t0\t0\t0\n")
	}

	cfg := config.Default()
	cfg.ProcRoot = procRoot
	cfg.ProcessInventory = true
	cfg.MaxProcesses = 2

	sc := newTestScanContext(t, cfg)
	s := NewProcessScanner()
	if err := s.Scan(sc); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(sc.Report.Results()[0].Findings) != 2 {
		t.Fatalf("expected MaxProcesses=2 to cap emitted findings, got %d", len(sc.Report.Results()[0].Findings))
	}
}

func TestProcessScannerNoInventoryWithoutFlag(t *testing.T) {
	procRoot := t.TempDir()
	writeTestProcess(t, procRoot, 20, "/bin/true\x00", "Name:\ttrue\nUid:\t0\t0\t0\t0\nGid:\t0\t0\t0\t0\n")

	cfg := config.Default()
	cfg.ProcRoot = procRoot
	cfg.ProcessInventory = false

	sc := newTestScanContext(t, cfg)
	s := NewProcessScanner()
	sc.Report.RegisterScanner(s.Name())
	if err := s.Scan(sc); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(sc.Report.Results()[0].Findings) != 0 {
		t.Fatalf("expected no findings when ProcessInventory is disabled, got %+v", sc.Report.Results()[0].Findings)
	}
}
