package scanner

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/go-tpm/tpm2"

	"github.com/dmitriimaksimovdevelop/hostaudit/internal/ebpf"
	"github.com/dmitriimaksimovdevelop/hostaudit/internal/model"
	"github.com/dmitriimaksimovdevelop/hostaudit/internal/scanctx"
)

var tpmDevicePaths = []string{"/dev/tpm0", "/dev/tpmrm0"}

// KernelHardeningScanner inspects lockdown mode, secure boot, IMA
// policy presence, TPM availability, and a fixed hardening sysctl
// baseline (§4.Q).
type KernelHardeningScanner struct{}

func NewKernelHardeningScanner() *KernelHardeningScanner { return &KernelHardeningScanner{} }

func (s *KernelHardeningScanner) Name() string { return "kernel_hardening" }
func (s *KernelHardeningScanner) Description() string {
	return "inspects lockdown, secure boot, IMA, and TPM posture"
}

func (s *KernelHardeningScanner) Scan(sc *scanctx.ScanContext) error {
	cfg := sc.Config
	if !cfg.Hardening {
		return nil
	}
	procRoot := cfg.ProcRoot
	if procRoot == "" {
		procRoot = "/proc"
	}
	sysRoot := cfg.SysRoot
	if sysRoot == "" {
		sysRoot = "/sys"
	}

	s.checkLockdown(sc, sysRoot)
	s.checkSecureBoot(sc, sysRoot)
	s.checkIMA(sc, sysRoot)
	s.checkTPM(sc)
	s.checkBaseline(sc, procRoot)
	s.checkBPFPosture(sc)

	return nil
}

// checkBPFPosture reports the host's BPF tracing capability tier,
// corroborating the unprivileged_bpf_disabled sysctl checked in
// checkBaseline with a fuller picture (BTF, kprobe, tracing config) used
// to explain why the eBPF tracer scanner did or didn't run natively.
func (s *KernelHardeningScanner) checkBPFPosture(sc *scanctx.ScanContext) {
	caps := ebpf.DetectBPFCapabilities()
	level := ebpf.CapabilityLevel(caps)
	sev := model.Info
	if level < 3 {
		sev = model.Low
	}
	f := model.NewFinding("bpf_posture", "BPF tracing capability tier", sev, "highest BPF tracing tier the host can support")
	f.Metadata.Set("tier", strconv.Itoa(level))
	f.Metadata.Set("detail", strings.TrimSpace(ebpf.FormatCapabilities(caps)))
	sc.AddFinding(s.Name(), f)
}

func (s *KernelHardeningScanner) checkLockdown(sc *scanctx.ScanContext, sysRoot string) {
	data, err := os.ReadFile(filepath.Join(sysRoot, "kernel", "security", "lockdown"))
	if err != nil {
		sc.AddWarning(s.Name(), model.ParamUnreadable, err.Error())
		return
	}
	mode := extractLockdownMode(string(data))
	sev := model.Medium
	if mode == "integrity" || mode == "confidentiality" {
		sev = model.Info
	}
	f := model.NewFinding("lockdown", "Kernel lockdown mode", sev, "kernel lockdown LSM mode")
	f.Metadata.Set("value", mode)
	sc.AddFinding(s.Name(), f)
}

func extractLockdownMode(content string) string {
	start := strings.Index(content, "[")
	end := strings.Index(content, "]")
	if start >= 0 && end > start {
		return content[start+1 : end]
	}
	return strings.TrimSpace(content)
}

func (s *KernelHardeningScanner) checkSecureBoot(sc *scanctx.ScanContext, sysRoot string) {
	efivarsDir := filepath.Join(sysRoot, "firmware", "efi", "efivars")
	entries, err := os.ReadDir(efivarsDir)
	if err != nil {
		f := model.NewFinding("secure_boot", "Secure Boot posture", model.Low, "host is not UEFI or efivars is unavailable")
		f.Metadata.Set("status", "unknown")
		sc.AddFinding(s.Name(), f)
		return
	}
	enabled := false
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "SecureBoot-") {
			data, err := os.ReadFile(filepath.Join(efivarsDir, e.Name()))
			if err == nil && len(data) > 0 && data[len(data)-1] == 1 {
				enabled = true
			}
		}
	}
	sev := model.Medium
	status := "disabled"
	if enabled {
		sev = model.Info
		status = "enabled"
	}
	f := model.NewFinding("secure_boot", "Secure Boot posture", sev, "UEFI Secure Boot state")
	f.Metadata.Set("status", status)
	sc.AddFinding(s.Name(), f)
}

func (s *KernelHardeningScanner) checkIMA(sc *scanctx.ScanContext, sysRoot string) {
	_, err := os.Stat(filepath.Join(sysRoot, "kernel", "security", "ima", "policy"))
	sev := model.Medium
	status := "absent"
	if err == nil {
		sev = model.Info
		status = "active"
	}
	f := model.NewFinding("ima_policy", "IMA policy", sev, "integrity measurement architecture policy presence")
	f.Metadata.Set("status", status)
	sc.AddFinding(s.Name(), f)
}

// checkTPM probes for a TPM device and, when present, opens it with
// go-tpm to confirm it responds rather than just checking for a stale
// device node.
func (s *KernelHardeningScanner) checkTPM(sc *scanctx.ScanContext) {
	present := false
	var devicePath string
	for _, path := range tpmDevicePaths {
		if _, err := os.Stat(path); err == nil {
			devicePath = path
			if rwc, err := tpm2.OpenTPM(path); err == nil {
				present = true
				rwc.Close()
			}
			break
		}
	}
	sev := model.Low
	status := "absent"
	if present {
		sev = model.Info
		status = "present"
	}
	f := model.NewFinding("tpm", "TPM presence", sev, "trusted platform module availability")
	f.Metadata.Set("status", status)
	if devicePath != "" {
		f.Metadata.Set("path", devicePath)
	}
	sc.AddFinding(s.Name(), f)
}

var hardeningSysctlBaseline = []struct {
	path     string
	desired  string
	severity model.Severity
}{
	{"kernel/kexec_load_disabled", "1", model.Medium},
	{"kernel/unprivileged_bpf_disabled", "1", model.Medium},
	{"kernel/perf_event_paranoid", "3", model.Low},
}

func (s *KernelHardeningScanner) checkBaseline(sc *scanctx.ScanContext, procRoot string) {
	for _, item := range hardeningSysctlBaseline {
		data, err := os.ReadFile(filepath.Join(procRoot, "sys", item.path))
		if err != nil {
			sc.AddWarning(s.Name(), model.ParamUnreadable, item.path+": "+err.Error())
			continue
		}
		current := strings.TrimSpace(string(data))
		f := model.NewFinding("hardening:"+item.path, "Hardening sysctl", model.Info, "hardening-relevant sysctl compared to baseline")
		f.Metadata.Set("key", item.path)
		f.Metadata.Set("current", current)
		f.Metadata.Set("desired", item.desired)
		if current != item.desired {
			f.Severity = item.severity
			f.BaseSeverityScore = item.severity.BaseScore()
			f.Metadata.Set("status", "mismatch")
		}
		sc.AddFinding(s.Name(), f)
	}
}
