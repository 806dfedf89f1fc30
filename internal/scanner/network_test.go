package scanner

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/dmitriimaksimovdevelop/hostaudit/internal/config"
	"github.com/dmitriimaksimovdevelop/hostaudit/internal/model"
)

// writeProcNetFile writes a /proc/net/<proto>-shaped fixture. The header
// line is discarded by the parser, so callers only supply data rows.
func writeProcNetFile(t *testing.T, procRoot, proto string, rows []string) {
	t.Helper()
	dir := filepath.Join(procRoot, "net")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := "  sl  local_address rem_address   st\n"
	for _, r := range rows {
		content += r + "\n"
	}
	if err := os.WriteFile(filepath.Join(dir, proto), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestNetworkScannerClassifiesListeningSocket(t *testing.T) {
	procRoot := t.TempDir()
	// 0.0.0.0:22 (hex: 0016), state 0A = LISTEN
	writeProcNetFile(t, procRoot, "tcp", []string{
		"   0: 00000000:0016 00000000:0000 0A 00000000:00000000 00:00000000 00000000  1000        0 12345 1 0000000000000000 100 0 0 10 0",
	})
	writeProcNetFile(t, procRoot, "tcp6", nil)
	writeProcNetFile(t, procRoot, "udp", nil)
	writeProcNetFile(t, procRoot, "udp6", nil)

	cfg := config.Default()
	cfg.ProcRoot = procRoot

	sc := newTestScanContext(t, cfg)
	s := NewNetworkScanner()
	if err := s.Scan(sc); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	findings := sc.Report.Results()[0].Findings
	if len(findings) != 1 {
		t.Fatalf("expected one finding, got %d: %+v", len(findings), findings)
	}
	f := findings[0]
	state, _ := f.Metadata.Get("state")
	if state != "LISTEN" {
		t.Errorf("expected state LISTEN, got %q", state)
	}
	lport, _ := f.Metadata.Get("lport")
	if lport != "22" {
		t.Errorf("expected lport 22, got %q", lport)
	}
	wildcard, _ := f.Metadata.Get("wildcard_listen")
	if wildcard != "true" {
		t.Errorf("expected wildcard_listen=true for 0.0.0.0 bind, got %q", wildcard)
	}
	if f.Severity < model.Medium {
		t.Errorf("expected at least Medium severity for a world-reachable SSH listener, got %v", f.Severity)
	}
}

func TestNetworkScannerFanoutThreshold(t *testing.T) {
	procRoot := t.TempDir()
	pid := 500
	pidDir := filepath.Join(procRoot, strconv.Itoa(pid))
	if err := os.MkdirAll(filepath.Join(pidDir, "fd"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(pidDir, "cgroup"), []byte("0::/\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	// Build five ESTABLISHED rows (above the threshold of 3), each with a
	// distinct remote IP/socket inode, all owned by the same pid via a
	// symlinked fd pointing at socket:[<inode>].
	cfg := config.Default()
	cfg.ProcRoot = procRoot
	cfg.NetworkAdvanced = true
	cfg.NetworkFanoutThreshold = 3
	cfg.NetworkFanoutUniqueThreshold = 3

	var rows []string
	for i := 0; i < 5; i++ {
		inode := 20000 + i
		fdPath := filepath.Join(pidDir, "fd", strconv.Itoa(i))
		if err := os.Symlink("socket:["+strconv.Itoa(inode)+"]", fdPath); err != nil {
			t.Fatal(err)
		}
		// remote address varies per row so each counts as a unique remote.
		remHex := hexByte(byte(10 + i))
		rows = append(rows, "   "+strconv.Itoa(i)+": 0100007F:C350 "+remHex+"000000:0050 01 00000000:00000000 00:00000000 00000000  1000        0 "+strconv.Itoa(inode)+" 1 0000000000000000 100 0 0 10 0")
	}
	writeProcNetFile(t, procRoot, "tcp", rows)
	writeProcNetFile(t, procRoot, "tcp6", nil)
	writeProcNetFile(t, procRoot, "udp", nil)
	writeProcNetFile(t, procRoot, "udp6", nil)

	sc := newTestScanContext(t, cfg)
	s := NewNetworkScanner()
	if err := s.Scan(sc); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	var fanoutFinding bool
	for _, f := range sc.Report.Results()[0].Findings {
		if f.Title == "Connection fanout" {
			fanoutFinding = true
			total, _ := f.Metadata.Get("total_connections")
			if total != "5" {
				t.Errorf("expected total_connections=5, got %q", total)
			}
		}
	}
	if !fanoutFinding {
		t.Fatal("expected a Connection fanout finding once the threshold is exceeded")
	}
}

func TestNetworkScannerNoFanoutBelowThreshold(t *testing.T) {
	procRoot := t.TempDir()
	pid := 501
	pidDir := filepath.Join(procRoot, strconv.Itoa(pid))
	if err := os.MkdirAll(filepath.Join(pidDir, "fd"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(pidDir, "cgroup"), []byte("0::/\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("socket:[30000]", filepath.Join(pidDir, "fd", "0")); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.ProcRoot = procRoot
	cfg.NetworkAdvanced = true
	cfg.NetworkFanoutThreshold = 100
	cfg.NetworkFanoutUniqueThreshold = 20

	writeProcNetFile(t, procRoot, "tcp", []string{
		"   0: 0100007F:C350 0A000001:0050 01 00000000:00000000 00:00000000 00000000  1000        0 30000 1 0000000000000000 100 0 0 10 0",
	})
	writeProcNetFile(t, procRoot, "tcp6", nil)
	writeProcNetFile(t, procRoot, "udp", nil)
	writeProcNetFile(t, procRoot, "udp6", nil)

	sc := newTestScanContext(t, cfg)
	s := NewNetworkScanner()
	if err := s.Scan(sc); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	for _, f := range sc.Report.Results()[0].Findings {
		if f.Title == "Connection fanout" {
			t.Fatalf("did not expect a fanout finding below threshold: %+v", f)
		}
	}
}

func hexByte(b byte) string {
	const hex = "0123456789ABCDEF"
	return string([]byte{hex[b>>4], hex[b&0xF]})
}
