package scanner

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dmitriimaksimovdevelop/hostaudit/internal/cgroup"
	"github.com/dmitriimaksimovdevelop/hostaudit/internal/model"
	"github.com/dmitriimaksimovdevelop/hostaudit/internal/scanctx"
)

// ContainerScanner derives a container inventory from the cgroup
// membership of every live process, attributing each to a runtime and
// flagging processes that straddle the kubepods hierarchy without a
// resolvable container ID (§4.T).
type ContainerScanner struct{}

func NewContainerScanner() *ContainerScanner { return &ContainerScanner{} }

func (s *ContainerScanner) Name() string        { return "container" }
func (s *ContainerScanner) Description() string { return "derives container identity and runtime from process cgroup membership" }

func (s *ContainerScanner) Scan(sc *scanctx.ScanContext) error {
	cfg := sc.Config
	procRoot := cfg.ProcRoot
	if procRoot == "" {
		procRoot = "/proc"
	}
	sysRoot := cfg.SysRoot
	if sysRoot == "" {
		sysRoot = "/sys"
	}

	if !cfg.Containers {
		return nil
	}

	cgroupVersion := detectCgroupVersion(sysRoot)

	entries, err := os.ReadDir(procRoot)
	if err != nil {
		sc.AddWarning(s.Name(), model.WalkError, err.Error())
		return nil
	}

	seen := map[string]bool{}
	anyFound := false

	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		content, err := os.ReadFile(filepath.Join(procRoot, entry.Name(), "cgroup"))
		if err != nil {
			continue
		}

		id, runtime := extractCgroupIdentity(string(content))
		if id == "" && runtime == "" {
			continue
		}
		if id == "" {
			id = "unresolved:" + strconv.Itoa(pid)
		}
		if cfg.ContainerIDFilter != "" && !strings.Contains(id, cfg.ContainerIDFilter) {
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		anyFound = true

		if runtime == "" {
			runtime = "unknown"
		}
		f := model.NewFinding("container:"+id, "Container inventory", model.Info, "container detected via cgroup membership")
		f.Metadata.Set("container_id", id)
		f.Metadata.Set("runtime", runtime)
		f.Metadata.Set("cgroup_version", strconv.Itoa(cgroupVersion))
		sc.AddFinding(s.Name(), f)
	}

	if !anyFound {
		f := model.NewFinding("container:none", "No containers detected", model.Info, "no container cgroup membership was found on this host")
		sc.AddFinding(s.Name(), f)
	}

	return nil
}

func extractCgroupIdentity(content string) (id, runtime string) {
	for _, line := range strings.Split(content, "\n") {
		parts := strings.SplitN(line, ":", 3)
		if len(parts) != 3 {
			continue
		}
		if id == "" {
			id = cgroup.ExtractContainerID(parts[2])
		}
		if runtime == "" {
			runtime = cgroup.RuntimeFromCgroup(line)
		}
	}
	return id, runtime
}

func detectCgroupVersion(sysRoot string) int {
	if _, err := os.Stat(filepath.Join(sysRoot, "fs", "cgroup", "cgroup.controllers")); err == nil {
		return 2
	}
	if _, err := os.Stat(filepath.Join(sysRoot, "fs", "cgroup", "cpu")); err == nil {
		return 1
	}
	return 0
}
