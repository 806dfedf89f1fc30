package scanner

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitriimaksimovdevelop/hostaudit/internal/hashutil"
	"github.com/dmitriimaksimovdevelop/hostaudit/internal/model"
	"github.com/dmitriimaksimovdevelop/hostaudit/internal/procexec"
	"github.com/dmitriimaksimovdevelop/hostaudit/internal/scanctx"
)

const (
	integrityPkgVerifyTimeout = 60 * time.Second
	integrityPkgVerifyMaxOut  = 4 << 20
	integrityRehashCap        = 32 << 20
)

// IntegrityScanner runs package-manager verification (dpkg -V / rpm
// -Va), stats the IMA measurement file, and optionally rehashes
// reported-mismatched package files to confirm tampering (§4.U).
type IntegrityScanner struct {
	checker *procexec.Checker
}

func NewIntegrityScanner() *IntegrityScanner {
	return &IntegrityScanner{checker: procexec.NewChecker()}
}

func (s *IntegrityScanner) Name() string        { return "integrity" }
func (s *IntegrityScanner) Description() string { return "verifies package file integrity and IMA measurement presence" }

func (s *IntegrityScanner) Scan(sc *scanctx.ScanContext) error {
	cfg := sc.Config
	sysRoot := cfg.SysRoot
	if sysRoot == "" {
		sysRoot = "/sys"
	}

	if cfg.IntegrityIMA {
		s.checkIMA(sc, sysRoot)
	}
	if cfg.IntegrityPkgVerify {
		s.verifyPackages(sc)
	}
	return nil
}

func (s *IntegrityScanner) checkIMA(sc *scanctx.ScanContext, sysRoot string) {
	_, err := os.Stat(filepath.Join(sysRoot, "kernel", "security", "ima", "ascii_runtime_measurements"))
	sev := model.Low
	status := "absent"
	if err == nil {
		sev = model.Info
		status = "present"
	}
	f := model.NewFinding("integrity:ima", "IMA measurement list", sev, "IMA runtime measurement log presence")
	f.Metadata.Set("status", status)
	sc.AddFinding(s.Name(), f)
}

func (s *IntegrityScanner) verifyPackages(sc *scanctx.ScanContext) {
	cfg := sc.Config

	var out []byte
	var err error
	var manager string

	if _, resolveErr := s.checker.Resolve("dpkg"); resolveErr == nil {
		manager = "dpkg"
		out, err = s.checker.RunCappedTracked(sc.Ctx, "dpkg", []string{"-V"}, integrityPkgVerifyTimeout, integrityPkgVerifyMaxOut,
			func(pid int) { selfTracker.Add(pid, "dpkg") }, selfTracker.Remove)
	} else if _, resolveErr := s.checker.Resolve("rpm"); resolveErr == nil {
		manager = "rpm"
		out, err = s.checker.RunCappedTracked(sc.Ctx, "rpm", []string{"-Va"}, integrityPkgVerifyTimeout, integrityPkgVerifyMaxOut,
			func(pid int) { selfTracker.Add(pid, "rpm") }, selfTracker.Remove)
	} else {
		sc.AddWarning(s.Name(), model.UnknownWarning, "no supported package manager (dpkg, rpm) found")
		return
	}

	if err != nil {
		sc.AddWarning(s.Name(), model.UnknownWarning, manager+" -V failed: "+err.Error())
		return
	}

	limit := cfg.IntegrityPkgLimit
	rehashLimit := cfg.IntegrityPkgRehashLimit
	count := 0
	rehashCount := 0
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if limit >= 0 && count >= limit {
			break
		}
		count++

		path := extractPackagePath(manager, line)
		f := model.NewFinding("integrity:"+path, "Package file mismatch", model.Medium, manager+" reports a modified or missing package file")
		f.Metadata.Set("path", path)
		f.Metadata.Set("value", strings.TrimSpace(line))

		if cfg.IntegrityPkgRehash && path != "" && (rehashLimit < 0 || rehashCount < rehashLimit) {
			if sum, ok := s.rehash(path); ok {
				f.Metadata.Set("sha256", sum)
				rehashCount++
			}
		}
		sc.AddFinding(s.Name(), f)
	}
}

// extractPackagePath pulls the filesystem path out of a dpkg/rpm
// verification line. dpkg -V emits "??5??????   c /etc/foo"; rpm -Va
// emits "S.5....T.  c /etc/foo".
func extractPackagePath(manager, line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	last := fields[len(fields)-1]
	if strings.HasPrefix(last, "/") {
		return last
	}
	return ""
}

func (s *IntegrityScanner) rehash(path string) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()
	sum, err := hashutil.SHA256Capped(f, integrityRehashCap)
	if err != nil {
		return "", false
	}
	return sum, true
}
