package scanner

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitriimaksimovdevelop/hostaudit/internal/model"
	"github.com/dmitriimaksimovdevelop/hostaudit/internal/scanctx"
)

// kernelParamBaseline is the desired-value table for hardening-relevant
// sysctl knobs, with a per-item severity on mismatch (§4.N).
var kernelParamBaseline = []struct {
	path     string
	desired  string
	severity model.Severity
}{
	{"kernel/kptr_restrict", "1", model.Low},
	{"kernel/dmesg_restrict", "1", model.Low},
	{"kernel/yama/ptrace_scope", "1", model.Medium},
	{"net/ipv4/conf/all/rp_filter", "1", model.Medium},
	{"net/ipv4/tcp_syncookies", "1", model.Medium},
	{"net/ipv4/conf/all/accept_source_route", "0", model.Medium},
	{"net/ipv4/conf/all/send_redirects", "0", model.Low},
	{"net/ipv4/icmp_echo_ignore_broadcasts", "1", model.Low},
	{"fs/suid_dumpable", "0", model.Medium},
	{"fs/protected_hardlinks", "1", model.Medium},
	{"fs/protected_symlinks", "1", model.Medium},
	{"kernel/randomize_va_space", "2", model.Medium},
}

// KernelParamScanner compares live sysctl values against a fixed
// hardening baseline (§4.N).
type KernelParamScanner struct{}

func NewKernelParamScanner() *KernelParamScanner { return &KernelParamScanner{} }

func (s *KernelParamScanner) Name() string        { return "kernel_param" }
func (s *KernelParamScanner) Description() string { return "compares sysctl values against a hardening baseline" }

func (s *KernelParamScanner) Scan(sc *scanctx.ScanContext) error {
	cfg := sc.Config
	procRoot := cfg.ProcRoot
	if procRoot == "" {
		procRoot = "/proc"
	}

	for _, item := range kernelParamBaseline {
		fullPath := filepath.Join(procRoot, "sys", item.path)
		data, err := os.ReadFile(fullPath)
		if err != nil {
			sc.AddWarning(s.Name(), model.ParamUnreadable, fullPath+": "+err.Error())
			continue
		}
		current := strings.TrimSpace(string(data))

		f := model.NewFinding(item.path, "Kernel parameter", model.Info, "sysctl value compared against baseline")
		f.Metadata.Set("key", item.path)
		f.Metadata.Set("current", current)
		f.Metadata.Set("desired", item.desired)

		if current == item.desired {
			sc.AddFinding(s.Name(), f)
			continue
		}
		f.Severity = item.severity
		f.BaseSeverityScore = item.severity.BaseScore()
		f.Metadata.Set("status", "mismatch")
		sc.AddFinding(s.Name(), f)
	}

	return nil
}
