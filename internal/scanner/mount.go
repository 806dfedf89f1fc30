package scanner

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitriimaksimovdevelop/hostaudit/internal/model"
	"github.com/dmitriimaksimovdevelop/hostaudit/internal/scanctx"
)

// expectedMountOptions names the hardening option a given mount point
// should carry, and the severity if it's absent (§4.P).
var expectedMountOptions = map[string]struct {
	option   string
	severity model.Severity
}{
	"/tmp":     {"noexec", model.Medium},
	"/home":    {"nosuid", model.Low},
	"/var/tmp": {"noexec", model.Medium},
	"/dev/shm": {"noexec", model.Medium},
}

// MountScanner parses /proc/self/mounts and flags risky option
// combinations on security-sensitive mount points (§4.P).
type MountScanner struct{}

func NewMountScanner() *MountScanner { return &MountScanner{} }

func (s *MountScanner) Name() string        { return "mount" }
func (s *MountScanner) Description() string { return "flags risky mount options on security-sensitive mount points" }

func (s *MountScanner) Scan(sc *scanctx.ScanContext) error {
	cfg := sc.Config
	procRoot := cfg.ProcRoot
	if procRoot == "" {
		procRoot = "/proc"
	}

	data, err := os.ReadFile(filepath.Join(procRoot, "self", "mounts"))
	if err != nil {
		sc.AddWarning(s.Name(), model.NetFileUnreadable, err.Error())
		return nil
	}

	seen := map[string]bool{}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		mountPoint := fields[1]
		options := strings.Split(fields[3], ",")

		want, tracked := expectedMountOptions[mountPoint]
		if !tracked {
			continue
		}
		seen[mountPoint] = true

		hasOption := false
		for _, o := range options {
			if o == want.option {
				hasOption = true
				break
			}
		}

		f := model.NewFinding("mount:"+mountPoint, "Mount option posture", model.Info, "mount point option check")
		f.Metadata.Set("path", mountPoint)
		f.Metadata.Set("value", strings.Join(options, ","))
		if hasOption {
			sc.AddFinding(s.Name(), f)
			continue
		}
		f.Severity = want.severity
		f.BaseSeverityScore = want.severity.BaseScore()
		f.Metadata.Set("status", "missing_"+want.option)
		sc.AddFinding(s.Name(), f)
	}

	return nil
}
