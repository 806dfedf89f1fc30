// Package ebpf detects whether the host can support native CO-RE eBPF
// tracing and loads the compiled tracer object when it can. Every check
// here degrades to a boolean/score rather than erroring, so callers can
// build a single human-readable posture line out of it (§4.Q, §4.W).
package ebpf

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// BTFInfo is the host's BTF/CO-RE posture: whether a vmlinux BTF blob is
// exposed and whether the running kernel is new enough for CO-RE
// relocations to work at all.
type BTFInfo struct {
	Available     bool   `json:"available"`
	VmlinuxPath   string `json:"vmlinux_path,omitempty"`
	KernelVersion string `json:"kernel_version"`
	MajorVersion  int    `json:"major_version"`
	MinorVersion  int    `json:"minor_version"`
	CORESupport   bool   `json:"core_support"` // kernel >= 5.8
}

// DetectBTF reads /proc/version and /sys/kernel/btf/vmlinux to build the
// host's BTFInfo. Never errors — an unreadable or absent kernel version
// just yields an info struct with everything false/zero.
func DetectBTF() *BTFInfo {
	version := readKernelVersion()
	major, minor := parseKernelVersion(version)
	info := &BTFInfo{
		KernelVersion: version,
		MajorVersion:  major,
		MinorVersion:  minor,
		CORESupport:   major > 5 || (major == 5 && minor >= 8),
	}

	const btfPath = "/sys/kernel/btf/vmlinux"
	if _, err := os.Stat(btfPath); err == nil {
		info.Available = true
		info.VmlinuxPath = btfPath
	}
	return info
}

// DetectBPFCapabilities probes the handful of /proc and /sys surfaces
// that distinguish full native eBPF support from tracing-only or
// procfs-only hosts, plus the kernel build config flags relevant to it.
func DetectBPFCapabilities() map[string]bool {
	caps := map[string]bool{
		"bpf_syscall": fileExists("/proc/sys/kernel/unprivileged_bpf_disabled"),
		"btf_vmlinux": fileExists("/sys/kernel/btf/vmlinux"),
		"bpffs":       fileExists("/sys/fs/bpf"),
		"perf_events": fileExists("/proc/sys/kernel/perf_event_paranoid"),
		"kprobes": fileExists("/sys/kernel/debug/kprobes/list") ||
			fileExists("/sys/kernel/tracing/kprobe_events"),
	}

	kconfig := readKConfig()
	for _, opt := range []string{
		"CONFIG_BPF",
		"CONFIG_BPF_SYSCALL",
		"CONFIG_BPF_JIT",
		"CONFIG_HAVE_EBPF_JIT",
		"CONFIG_BPF_EVENTS",
		"CONFIG_KPROBE_EVENTS",
		"CONFIG_UPROBE_EVENTS",
		"CONFIG_TRACING",
		"CONFIG_DEBUG_INFO_BTF",
	} {
		caps[strings.ToLower(opt)] = kconfig[opt]
	}
	return caps
}

func readKernelVersion() string {
	data, err := os.ReadFile("/proc/version")
	if err != nil {
		return ""
	}
	fields := strings.Fields(string(data))
	if len(fields) < 3 {
		return ""
	}
	return fields[2]
}

func parseKernelVersion(version string) (int, int) {
	parts := strings.SplitN(version, ".", 3)
	if len(parts) < 2 {
		return 0, 0
	}
	major, _ := strconv.Atoi(parts[0])
	minorStr := parts[1]
	if idx := strings.IndexAny(minorStr, "-+~"); idx >= 0 {
		minorStr = minorStr[:idx]
	}
	minor, _ := strconv.Atoi(minorStr)
	return major, minor
}

func readKConfig() map[string]bool {
	release := strings.TrimSpace(readFile("/proc/sys/kernel/osrelease"))
	configs := map[string]bool{}
	for _, path := range []string{fmt.Sprintf("/boot/config-%s", release), "/proc/config.gz"} {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			idx := strings.Index(line, "=")
			if idx < 0 {
				continue
			}
			val := line[idx+1:]
			configs[line[:idx]] = val == "y" || val == "m"
		}
		break
	}
	return configs
}

func readFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// CapabilityLevel collapses a capability map into the three tracing
// tiers the scanner cares about: 3 (native CO-RE eBPF), 2 (kprobe/perf
// tracing without CO-RE), 1 (procfs/sysfs reads only).
func CapabilityLevel(caps map[string]bool) int {
	switch {
	case caps["btf_vmlinux"] && caps["config_bpf_syscall"] && caps["config_debug_info_btf"]:
		return 3
	case caps["bpf_syscall"] && caps["config_bpf"]:
		return 2
	default:
		return 1
	}
}

// FormatCapabilities renders a capability map as a grouped, human
// readable summary, used by the kernel-hardening scanner's BPF posture
// finding detail.
func FormatCapabilities(caps map[string]bool) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("BPF capability tier: %d\n\n", CapabilityLevel(caps)))

	groups := []struct {
		title string
		keys  []string
	}{
		{"core", []string{"bpf_syscall", "bpffs", "config_bpf", "config_bpf_syscall", "config_bpf_jit"}},
		{"tracing", []string{"config_bpf_events", "config_kprobe_events", "config_uprobe_events", "config_tracing", "kprobes", "perf_events"}},
		{"btf/core", []string{"btf_vmlinux", "config_debug_info_btf", "config_have_ebpf_jit"}},
	}
	for _, g := range groups {
		sb.WriteString(g.title + ":\n")
		for _, key := range g.keys {
			mark := "no"
			if caps[key] {
				mark = "yes"
			}
			sb.WriteString(fmt.Sprintf("  %s=%s\n", key, mark))
		}
	}
	return sb.String()
}
