package scanner

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/coreos/go-systemd/v22/unit"

	"github.com/dmitriimaksimovdevelop/hostaudit/internal/model"
	"github.com/dmitriimaksimovdevelop/hostaudit/internal/scanctx"
)

var systemdUnitDirs = []string{
	"/etc/systemd/system",
	"/usr/lib/systemd/system",
	"/lib/systemd/system",
}

// hardeningDirectives is the evaluated directive table: each entry's
// desired value and the severity applied when a unit with ExecStart
// lacks it (§4.R).
var hardeningDirectives = []struct {
	name     string
	desired  string
	severity model.Severity
}{
	{"NoNewPrivileges", "yes", model.Medium},
	{"PrivateTmp", "yes", model.Low},
	{"ProtectSystem", "strict", model.Medium},
	{"ProtectHome", "read-only", model.Low},
	{"CapabilityBoundingSet", "", model.Medium},
	{"RestrictNamespaces", "yes", model.Low},
	{"RestrictSUIDSGID", "yes", model.Low},
	{"ProtectKernelModules", "yes", model.Medium},
	{"ProtectKernelTunables", "yes", model.Medium},
	{"ProtectControlGroups", "yes", model.Low},
	{"MemoryDenyWriteExecute", "yes", model.Medium},
	{"RestrictRealtime", "yes", model.Low},
	{"LockPersonality", "yes", model.Low},
}

// SystemdUnitScanner parses .service unit files and evaluates their
// hardening directive coverage (§4.R).
type SystemdUnitScanner struct{}

func NewSystemdUnitScanner() *SystemdUnitScanner { return &SystemdUnitScanner{} }

func (s *SystemdUnitScanner) Name() string        { return "systemd" }
func (s *SystemdUnitScanner) Description() string { return "evaluates systemd unit hardening directive coverage" }

func (s *SystemdUnitScanner) Scan(sc *scanctx.ScanContext) error {
	seen := map[string]bool{}

	for _, dir := range rootJoinAll(sc.Config.RootFS, systemdUnitDirs) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !strings.HasSuffix(e.Name(), ".service") || seen[e.Name()] {
				continue
			}
			seen[e.Name()] = true
			s.evaluateUnit(sc, filepath.Join(dir, e.Name()), e.Name())
		}
	}
	return nil
}

func (s *SystemdUnitScanner) evaluateUnit(sc *scanctx.ScanContext, path, unitName string) {
	file, err := os.Open(path)
	if err != nil {
		return
	}
	defer file.Close()

	opts, err := unit.Deserialize(file)
	if err != nil {
		return
	}

	values := map[string]string{}
	hasExecStart := false
	for _, o := range opts {
		if o.Section != "Service" {
			continue
		}
		if o.Name == "ExecStart" {
			hasExecStart = true
		}
		values[o.Name] = o.Value
	}
	if !hasExecStart {
		return
	}

	for _, d := range hardeningDirectives {
		current, present := values[d.name]
		compliant := present && (d.desired == "" || current == d.desired)

		sev := model.Info
		if !compliant {
			sev = d.severity
		}
		f := model.NewFinding(unitName+":"+d.name, "Systemd unit hardening", sev, "unit hardening directive evaluation")
		f.Metadata.Set("unit", unitName)
		f.Metadata.Set("key", d.name)
		f.Metadata.Set("current", current)
		f.Metadata.Set("desired", d.desired)
		if !compliant {
			f.Metadata.Set("status", "mismatch")
		}
		sc.AddFinding(s.Name(), f)
	}
}
