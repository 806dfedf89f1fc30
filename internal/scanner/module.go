package scanner

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dmitriimaksimovdevelop/hostaudit/internal/compressutil"
	"github.com/dmitriimaksimovdevelop/hostaudit/internal/config"
	"github.com/dmitriimaksimovdevelop/hostaudit/internal/elfutil"
	"github.com/dmitriimaksimovdevelop/hostaudit/internal/hashutil"
	"github.com/dmitriimaksimovdevelop/hostaudit/internal/model"
	"github.com/dmitriimaksimovdevelop/hostaudit/internal/scanctx"
	"golang.org/x/sys/unix"
)

const (
	decompressCap  = 16 << 20 // 16 MiB, §4.J, §8 invariant 14
	moduleHashCap  = 2 << 20  // 2 MiB
	largeTextBytes = 5 << 20  // 5 MiB
)

var ootMarkers = []string{"/extra/", "/updates/", "dkms", "nvidia", "virtualbox", "vmware"}

var suspiciousSectionNames = map[string]bool{
	".evil": true, ".rootkit": true, ".hide": true,
	".__mod": true, ".__kern": true, ".backdoor": true,
}

var taintBits = []string{
	"proprietary_module", "forced_module", "cpu_out_of_spec", "forced_rmmod",
	"machine_check", "bad_page", "user", "die", "overridden_acpi_table",
	"warn", "crap", "firmware_workaround", "oot_module", "unsigned_module",
	"softlockup", "livepatch", "aux", "randstruct",
}

type moduleInfo struct {
	name           string
	path           string
	inModulesDep   bool
	inBuiltin      bool
	inProcModules  bool
	inSysfs        bool
	missingFile    bool
	outOfTree      bool
	unsigned       bool
	hiddenSysfs    bool
	sysfsOnly      bool
	wxSection      bool
	largeText      bool
	suspiciousName bool
	sha256         string
}

// ModuleScanner inventories loaded kernel modules, decompressing and
// inspecting their ELF sections for signature/taint anomalies (§4.J).
type ModuleScanner struct {
	unameRelease func() (string, error)
}

func NewModuleScanner() *ModuleScanner {
	return &ModuleScanner{unameRelease: unameRelease}
}

func (s *ModuleScanner) Name() string        { return "module" }
func (s *ModuleScanner) Description() string { return "inventories kernel modules and flags signature/ELF anomalies" }

func (s *ModuleScanner) Scan(sc *scanctx.ScanContext) error {
	cfg := sc.Config
	procRoot := cfg.ProcRoot
	if procRoot == "" {
		procRoot = "/proc"
	}
	sysRoot := cfg.SysRoot
	if sysRoot == "" {
		sysRoot = "/sys"
	}

	release, err := s.unameRelease()
	if err != nil {
		release = "unknown"
	}
	modDir := filepath.Join("/lib/modules", release)

	depMap := parseModulesDep(filepath.Join(modDir, "modules.dep"))
	builtin := parseModulesBuiltin(filepath.Join(modDir, "modules.builtin"))
	sysfsSet := parseSysfsModules(filepath.Join(sysRoot, "module"))
	procModules := parseProcModules(filepath.Join(procRoot, "modules"))

	names := map[string]bool{}
	for n := range depMap {
		names[n] = true
	}
	for n := range builtin {
		names[n] = true
	}
	for n := range sysfsSet {
		names[n] = true
	}
	for n := range procModules {
		names[n] = true
	}

	var infos []moduleInfo
	anyOOT, anyBad := false, false

	for name := range names {
		mi := moduleInfo{
			name:          name,
			path:          depMap[name],
			inModulesDep:  depMap[name] != "",
			inBuiltin:     builtin[name],
			inProcModules: procModules[name],
			inSysfs:       sysfsSet[name],
		}

		if mi.inModulesDep {
			mi.outOfTree = containsAny(mi.path, ootMarkers)
			if _, statErr := os.Stat(mi.path); statErr != nil {
				mi.missingFile = true
			}
		}
		mi.hiddenSysfs = mi.inProcModules && !mi.inSysfs && !mi.inBuiltin
		mi.sysfsOnly = mi.inSysfs && !mi.inBuiltin && !mi.inProcModules

		if !mi.missingFile && mi.path != "" && !cfg.FastScan {
			s.inspectELF(&mi, cfg, sc)
		}

		if mi.outOfTree {
			anyOOT = true
		}
		if mi.unsigned || mi.hiddenSysfs || mi.missingFile || mi.sysfsOnly {
			anyBad = true
		}

		infos = append(infos, mi)
	}

	if cfg.ModulesSummaryOnly {
		s.emitSummary(sc, anyOOT, anyBad, len(infos))
		return nil
	}

	for _, mi := range infos {
		hasAnomaly := mi.unsigned || mi.outOfTree || mi.missingFile || mi.hiddenSysfs || mi.wxSection || mi.largeText || mi.suspiciousName
		if cfg.ModulesAnomaliesOnly {
			if !hasAnomaly {
				continue
			}
			sev := model.Medium
			if mi.unsigned || mi.hiddenSysfs || mi.missingFile {
				sev = model.High
			}
			f := model.NewFinding(mi.name, "Module anomaly", sev, "kernel module exhibits anomalous characteristics")
			s.annotate(&f, mi)
			sc.AddFinding(s.Name(), f)
			continue
		}
		if !mi.inProcModules {
			// Default mode is one finding per /proc/modules line (§4.J);
			// dep/builtin/sysfs-only entries only surface via anomaly mode.
			continue
		}
		f := model.NewFinding(mi.name, "Module", model.Info, "kernel module inventory entry")
		s.annotate(&f, mi)
		sc.AddFinding(s.Name(), f)
	}

	s.decodeTaint(sc, procRoot)
	return nil
}

func (s *ModuleScanner) annotate(f *model.Finding, mi moduleInfo) {
	f.Metadata.Set("path", mi.path)
	f.Metadata.Set("unsigned", boolStr(mi.unsigned))
	f.Metadata.Set("out_of_tree", boolStr(mi.outOfTree))
	f.Metadata.Set("missing_file", boolStr(mi.missingFile))
	f.Metadata.Set("hidden_sysfs", boolStr(mi.hiddenSysfs))
	f.Metadata.Set("wx_section", boolStr(mi.wxSection))
	f.Metadata.Set("large_text_section", boolStr(mi.largeText))
	f.Metadata.Set("suspicious_section_name", boolStr(mi.suspiciousName))
	if mi.sha256 != "" {
		f.Metadata.Set("sha256", mi.sha256)
	}
}

func (s *ModuleScanner) emitSummary(sc *scanctx.ScanContext, anyOOT, anyBad bool, count int) {
	sev := model.Info
	if anyOOT {
		sev = model.Medium
	}
	if anyBad {
		sev = model.High
	}
	f := model.NewFinding("module_summary", "Module summary", sev, "aggregate kernel module posture")
	f.Description = strconv.Itoa(count) + " modules inspected"
	sc.AddFinding(s.Name(), f)
}

// inspectELF loads (decompressing if needed) and parses the module's
// ELF section table, setting unsigned/wxSection/largeText/
// suspiciousName/sha256 on mi (§4.J).
func (s *ModuleScanner) inspectELF(mi *moduleInfo, cfg *config.Config, sc *scanctx.ScanContext) {
	data, ok, err := loadModuleBytes(mi.path)
	if err != nil {
		return
	}
	if !ok {
		sc.AddWarning(s.Name(), model.DecompressFail, "module decompression exceeded cap or failed: "+mi.path)
		mi.unsigned = true // indeterminate, treat conservatively
		return
	}

	mi.unsigned = !bytes.Contains(data, []byte("Module signature appended"))

	elfFile, err := elfutil.Parse(data)
	if err == nil {
		for _, section := range elfFile.Sections {
			if section.IsWX() {
				mi.wxSection = true
			}
			if section.Name == ".text" && section.Size > largeTextBytes {
				mi.largeText = true
			}
			if isSuspiciousSectionName(section.Name) {
				mi.suspiciousName = true
			}
		}
	}

	if cfg.ModulesHash {
		mi.sha256 = hashModuleFile(mi.path)
	}
}

func isSuspiciousSectionName(name string) bool {
	if name == "" {
		return false
	}
	if suspiciousSectionNames[name] {
		return true
	}
	if len(name) == 2 && name[0] == '.' {
		return true // single-char name after the dot
	}
	if strings.HasPrefix(name, ".") && len(name) > 2 {
		trimmed := name[1:]
		if isDigit(trimmed[0]) && isDigit(trimmed[len(trimmed)-1]) {
			return true
		}
	}
	return false
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func (s *ModuleScanner) decodeTaint(sc *scanctx.ScanContext, procRoot string) {
	data, err := os.ReadFile(filepath.Join(procRoot, "sys", "kernel", "tainted"))
	if err != nil {
		sc.AddWarning(s.Name(), model.ParamUnreadable, err.Error())
		return
	}
	val, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return
	}
	if val == 0 {
		return
	}
	var flags []string
	for i, name := range taintBits {
		if val&(1<<uint(i)) != 0 {
			flags = append(flags, name)
		}
	}
	f := model.NewFinding("kernel_taint", "Kernel taint", model.Medium, "kernel reports a non-zero taint value")
	f.Metadata.Set("taint_value", strconv.FormatUint(val, 10))
	f.Metadata.Set("taint_flags", strings.Join(flags, ","))
	sc.AddFinding(s.Name(), f)
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func parseModulesDep(path string) map[string]string {
	out := map[string]string{}
	data, err := os.ReadFile(path)
	if err != nil {
		return out
	}
	for _, line := range strings.Split(string(data), "\n") {
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		full := line[:idx]
		name := strings.TrimSuffix(strings.TrimSuffix(strings.TrimSuffix(filepath.Base(full), ".ko"), ".xz"), ".gz")
		name = strings.TrimSuffix(name, ".ko")
		out[name] = full
	}
	return out
}

func parseModulesBuiltin(path string) map[string]bool {
	out := map[string]bool{}
	data, err := os.ReadFile(path)
	if err != nil {
		return out
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		name := strings.TrimSuffix(filepath.Base(line), ".ko")
		out[name] = true
	}
	return out
}

func parseSysfsModules(sysModuleDir string) map[string]bool {
	out := map[string]bool{}
	entries, err := os.ReadDir(sysModuleDir)
	if err != nil {
		return out
	}
	for _, e := range entries {
		if e.IsDir() {
			out[e.Name()] = true
		}
	}
	return out
}

func parseProcModules(path string) map[string]bool {
	out := map[string]bool{}
	data, err := os.ReadFile(path)
	if err != nil {
		return out
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		out[fields[0]] = true
	}
	return out
}

func unameRelease() (string, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "", err
	}
	return charsToString(uts.Release[:]), nil
}

func charsToString(b []byte) string {
	n := bytes.IndexByte(b, 0)
	if n < 0 {
		n = len(b)
	}
	return string(b[:n])
}

func loadModuleBytes(path string) ([]byte, bool, error) {
	switch {
	case strings.HasSuffix(path, ".ko.xz"):
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, false, err
		}
		out, ok := compressutil.DecompressXZ(raw, decompressCap)
		return out, ok, nil
	case strings.HasSuffix(path, ".ko.gz"):
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, false, err
		}
		out, ok := compressutil.DecompressGZ(raw, decompressCap)
		return out, ok, nil
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, false, err
		}
		return data, true, nil
	}
}

func hashModuleFile(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	digest, err := hashutil.SHA256Capped(f, moduleHashCap)
	if err != nil {
		return ""
	}
	return digest
}
