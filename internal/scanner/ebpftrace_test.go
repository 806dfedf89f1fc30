package scanner

import (
	"testing"

	"github.com/dmitriimaksimovdevelop/hostaudit/internal/config"
	"github.com/dmitriimaksimovdevelop/hostaudit/internal/ebpf"
)

func TestEbpfTraceScannerSkippedUnderFastScan(t *testing.T) {
	cfg := config.Default()
	cfg.IOCExecTrace = true
	cfg.FastScan = true

	sc := newTestScanContext(t, cfg)
	s := NewEbpfTraceScanner()
	if err := s.Scan(sc); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(sc.Report.Results()) != 0 || len(sc.Report.Errors()) != 0 {
		t.Errorf("expected no activity under fast-scan, got results=%+v errors=%+v",
			sc.Report.Results(), sc.Report.Errors())
	}
}

func TestEbpfTraceScannerDegradesOnLoadFailure(t *testing.T) {
	cfg := config.Default()
	cfg.IOCExecTrace = true

	sc := newTestScanContext(t, cfg)
	s := NewEbpfTraceScanner()
	if err := s.Scan(sc); err != nil {
		t.Fatalf("Scan should never return an error itself: %v", err)
	}

	// In an unprivileged/non-Linux test environment the loader cannot
	// attach the tracing program; the scanner must degrade to a
	// structured error rather than panicking or aborting the run.
	if len(sc.Report.Errors()) == 0 {
		t.Skip("eBPF program loaded successfully in this environment; degrade path not exercised")
	}
}

func TestFormatDstIPv4(t *testing.T) {
	// 127.0.0.1 stored little-endian, as the kernel delivers addresses.
	c := ebpf.ConnEvent{DAddr: 0x0100007f}
	got := formatDst(c)
	if got != "127.0.0.1" {
		t.Errorf("formatDst = %q, want 127.0.0.1", got)
	}
}
