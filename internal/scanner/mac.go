package scanner

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	selinux "github.com/opencontainers/selinux/go-selinux"

	"github.com/dmitriimaksimovdevelop/hostaudit/internal/model"
	"github.com/dmitriimaksimovdevelop/hostaudit/internal/scanctx"
)

var criticalUnconfinedBinaries = []string{"sshd", "dbus-daemon", "nginx", "containerd", "dockerd"}

// MACScanner reports SELinux/AppArmor presence and per-process
// confinement posture (§4.O).
type MACScanner struct{}

func NewMACScanner() *MACScanner { return &MACScanner{} }

func (s *MACScanner) Name() string        { return "mac" }
func (s *MACScanner) Description() string { return "reports SELinux/AppArmor presence and confinement posture" }

func (s *MACScanner) Scan(sc *scanctx.ScanContext) error {
	cfg := sc.Config
	procRoot := cfg.ProcRoot
	if procRoot == "" {
		procRoot = "/proc"
	}
	sysRoot := cfg.SysRoot
	if sysRoot == "" {
		sysRoot = "/sys"
	}
	etcRoot := cfg.EtcRoot
	if etcRoot == "" {
		etcRoot = "/etc"
	}

	inContainer := false
	if _, err := os.Stat("/.dockerenv"); err == nil {
		inContainer = true
	}
	if _, err := os.Stat("/run/.containerenv"); err == nil {
		inContainer = true
	}

	selinuxEnforce, selinuxPresent := readSELinuxEnforce(sysRoot)
	selinuxConfigType := readSELinuxConfigType(etcRoot)
	if selinuxPresent {
		sev := model.Info
		if selinuxEnforce != "1" {
			sev = model.Medium
		}
		f := model.NewFinding("selinux", "SELinux posture", sev, "SELinux enforcement status")
		f.Metadata.Set("status", enforceStatusLabel(selinuxEnforce))
		if selinuxConfigType != "" {
			f.Metadata.Set("value", selinuxConfigType)
		}
		sc.AddFinding(s.Name(), f)
	}

	apparmorEnabled := readAppArmorEnabled(sysRoot)
	if apparmorEnabled {
		f := model.NewFinding("apparmor", "AppArmor posture", model.Info, "AppArmor is enabled")
		f.Metadata.Set("status", "enabled")
		sc.AddFinding(s.Name(), f)
	}

	if !selinuxPresent && !apparmorEnabled {
		sev := model.High
		if inContainer {
			sev = model.Medium
		}
		f := model.NewFinding("mac_none", "No mandatory access control", sev, "neither SELinux nor AppArmor is active on this host")
		sc.AddFinding(s.Name(), f)
	} else if selinuxPresent && apparmorEnabled {
		f := model.NewFinding("mac_dual", "Dual MAC frameworks active", model.Low, "both SELinux and AppArmor appear active")
		sc.AddFinding(s.Name(), f)
	}

	s.checkUnconfinedCritical(sc, procRoot)

	return nil
}

func readSELinuxEnforce(sysRoot string) (string, bool) {
	data, err := os.ReadFile(filepath.Join(sysRoot, "fs", "selinux", "enforce"))
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(data)), true
}

func enforceStatusLabel(v string) string {
	if v == "1" {
		return "enforcing"
	}
	return "permissive"
}

func readSELinuxConfigType(etcRoot string) string {
	data, err := os.ReadFile(filepath.Join(etcRoot, "selinux", "config"))
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "SELINUXTYPE=") {
			return strings.TrimPrefix(line, "SELINUXTYPE=")
		}
	}
	return ""
}

func readAppArmorEnabled(sysRoot string) bool {
	data, err := os.ReadFile(filepath.Join(sysRoot, "module", "apparmor", "parameters", "enabled"))
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(data)) == "Y"
}

// checkUnconfinedCritical reads the label of every live process and, for
// a hardcoded list of security-critical daemons, flags an unconfined
// domain. Labels are parsed with the selinux package's Context type so
// the "type" field is extracted the same way a confined-process auditor
// would.
func (s *MACScanner) checkUnconfinedCritical(sc *scanctx.ScanContext, procRoot string) {
	entries, err := os.ReadDir(procRoot)
	if err != nil {
		return
	}
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		commRaw, err := os.ReadFile(filepath.Join(procRoot, entry.Name(), "comm"))
		if err != nil {
			continue
		}
		comm := strings.TrimSpace(string(commRaw))
		if !isCriticalBinary(comm) {
			continue
		}

		label, err := os.ReadFile(filepath.Join(procRoot, entry.Name(), "attr", "current"))
		if err != nil {
			continue
		}
		ctx := selinux.NewContext(strings.TrimSpace(string(label)))
		if strings.Contains(ctx.Get("type"), "unconfined") {
			f := model.NewFinding("unconfined:"+comm+":"+strconv.Itoa(pid), "Unconfined critical process", model.High, "security-critical daemon runs in an unconfined SELinux domain")
			f.Metadata.Set("exe", comm)
			f.Metadata.Set("pid", strconv.Itoa(pid))
			sc.AddFinding(s.Name(), f)
		}
	}
}

func isCriticalBinary(comm string) bool {
	for _, name := range criticalUnconfinedBinaries {
		if comm == name {
			return true
		}
	}
	return false
}
