package scanner

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dmitriimaksimovdevelop/hostaudit/internal/model"
	"github.com/dmitriimaksimovdevelop/hostaudit/internal/scanctx"
)

const (
	iocMaxProcesses  = 1000
	iocMaxEnvEntries = 500
	iocCmdCap        = 512
	iocExeKeyCap     = 1024
	iocEnvCap        = 2048
	iocMaxPIDsPerKey = 10
)

var iocPathMarkers = []string{"/tmp/", "/dev/shm/", "/var/tmp/", "/home/"}
var iocNameMarkers = map[string]bool{
	"kworker": true, "cryptominer": true, "xmrig": true, "minerd": true,
	"kthreadd": true, "malware": true, "bot": true,
}

type iocAgg struct {
	deleted            bool
	worldWritableExec  bool
	patternMatch       bool
	pids               []string
	envSuspicious      bool
	envNearTemp        bool
}

// IOCScanner applies heuristic indicator-of-compromise checks across
// /proc: deleted-exe mappings, world-writable exec targets, suspicious
// cmdline substrings, and LD_PRELOAD/LD_LIBRARY_PATH abuse (§4.K).
type IOCScanner struct{}

func NewIOCScanner() *IOCScanner { return &IOCScanner{} }

func (s *IOCScanner) Name() string        { return "ioc" }
func (s *IOCScanner) Description() string { return "heuristic indicator-of-compromise scan over /proc" }

func (s *IOCScanner) Scan(sc *scanctx.ScanContext) error {
	cfg := sc.Config
	procRoot := cfg.ProcRoot
	if procRoot == "" {
		procRoot = "/proc"
	}

	allowList := append([]string{}, cfg.IOCAllow...)
	if cfg.IOCAllowFile != "" {
		if data, err := os.ReadFile(cfg.IOCAllowFile); err == nil {
			for _, line := range strings.Split(string(data), "\n") {
				line = strings.TrimSpace(line)
				if line != "" {
					allowList = append(allowList, line)
				}
			}
		}
	}

	entries, err := os.ReadDir(procRoot)
	if err != nil {
		return err
	}

	aggs := map[string]*iocAgg{}
	order := []string{}
	scanned := 0
	envScanned := 0

	for _, entry := range entries {
		pid, convErr := strconv.Atoi(entry.Name())
		if convErr != nil {
			continue
		}
		if selfTracker.IsOwnPID(pid) {
			continue
		}
		if scanned >= iocMaxProcesses {
			break
		}
		scanned++

		pidPath := filepath.Join(procRoot, entry.Name())

		cmdRaw, err := os.ReadFile(filepath.Join(pidPath, "cmdline"))
		if err != nil {
			continue
		}
		cmd := strings.ReplaceAll(string(cmdRaw), "\x00", " ")
		cmd = strings.TrimSpace(cmd)
		if len(cmd) > iocCmdCap {
			cmd = cmd[:iocCmdCap]
		}

		patternMatched := matchesPattern(cmd)

		exeTarget, _ := os.Readlink(filepath.Join(pidPath, "exe"))
		key := exeTarget
		if key == "" {
			key = cmd
		}
		if len(key) > iocExeKeyCap {
			key = key[:iocExeKeyCap]
		}
		if key == "" || allowed(key, allowList) {
			continue
		}

		agg, ok := aggs[key]
		if !ok {
			agg = &iocAgg{}
			aggs[key] = agg
			order = append(order, key)
		}
		agg.patternMatch = agg.patternMatch || patternMatched
		if strings.Contains(exeTarget, "(deleted)") {
			agg.deleted = true
		}
		if hasAnyPrefix(exeTarget, "/tmp", "/dev/shm", "/var/tmp") {
			agg.worldWritableExec = true
		}
		if len(agg.pids) < iocMaxPIDsPerKey {
			agg.pids = append(agg.pids, strconv.Itoa(pid))
		}

		if !cfg.IOCEnvTrust && envScanned < iocMaxEnvEntries {
			envScanned++
			if envRaw, err := os.ReadFile(filepath.Join(pidPath, "environ")); err == nil {
				env := strings.ReplaceAll(string(envRaw), "\x00", " ")
				if len(env) > iocEnvCap {
					env = env[:iocEnvCap]
				}
				if strings.Contains(env, "LD_PRELOAD=") || strings.Contains(env, "LD_LIBRARY_PATH=") {
					agg.envSuspicious = true
					if strings.Contains(env, "/tmp/") || strings.Contains(env, "/dev/shm/") {
						agg.envNearTemp = true
					}
				}
			}
		}
	}

	for _, key := range order {
		agg := aggs[key]
		sev := model.Info
		switch {
		case agg.deleted:
			sev = model.Critical
		case agg.worldWritableExec:
			sev = model.High
		case agg.patternMatch:
			sev = model.High
		default:
			continue
		}

		f := model.NewFinding(key+":proc_ioc", "Process IOC", sev, "process exhibits indicator-of-compromise characteristics")
		f.Metadata.Set("exe", key)
		f.Metadata.Set("pid_count", strconv.Itoa(len(agg.pids)))
		f.Metadata.Set("deleted_exe", boolStr(agg.deleted))
		f.Metadata.Set("world_writable_exec", boolStr(agg.worldWritableExec))
		f.Metadata.Set("pattern_match", boolStr(agg.patternMatch))
		sc.AddFinding(s.Name(), f)

		if agg.envSuspicious {
			desc := "process environment references LD_PRELOAD or LD_LIBRARY_PATH"
			if agg.envNearTemp {
				desc += "; target resides under a world-writable temp directory"
			}
			ef := model.NewFinding(key+":env", "Suspicious environment", model.Medium, desc)
			ef.Metadata.Set("exe", key)
			sc.AddFinding(s.Name(), ef)
		}
	}

	return nil
}

func matchesPattern(cmd string) bool {
	for _, marker := range iocPathMarkers {
		if strings.Contains(cmd, marker) {
			return true
		}
	}
	for name := range iocNameMarkers {
		if strings.Contains(cmd, name) {
			return true
		}
	}
	return false
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func allowed(key string, allowList []string) bool {
	for _, a := range allowList {
		if a != "" && strings.Contains(key, a) {
			return true
		}
	}
	return false
}
