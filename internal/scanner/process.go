package scanner

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dmitriimaksimovdevelop/hostaudit/internal/cgroup"
	"github.com/dmitriimaksimovdevelop/hostaudit/internal/hashutil"
	"github.com/dmitriimaksimovdevelop/hostaudit/internal/model"
	"github.com/dmitriimaksimovdevelop/hostaudit/internal/observer"
	"github.com/dmitriimaksimovdevelop/hostaudit/internal/scanctx"
)

const processHashCap = 1 << 20 // 1 MiB, §8 invariant 14

// selfTracker excludes hostaudit's own PID and any verification
// subprocess it spawns (dpkg -V, rpm -Va) from process/IOC inventories.
var selfTracker = observer.NewPIDTracker()

// ProcessScanner walks /proc/<pid>, optionally hashing the executable
// and attributing a container id (§4.H).
type ProcessScanner struct{}

func NewProcessScanner() *ProcessScanner { return &ProcessScanner{} }

func (s *ProcessScanner) Name() string { return "process" }
func (s *ProcessScanner) Description() string {
	return "enumerates /proc/<pid>, optionally hashing executables and attributing containers"
}

func (s *ProcessScanner) Scan(sc *scanctx.ScanContext) error {
	cfg := sc.Config
	procRoot := cfg.ProcRoot
	if procRoot == "" {
		procRoot = "/proc"
	}

	entries, err := os.ReadDir(procRoot)
	if err != nil {
		return err
	}

	emitted := 0
	for _, entry := range entries {
		pid, convErr := strconv.Atoi(entry.Name())
		if convErr != nil {
			continue
		}
		if selfTracker.IsOwnPID(pid) {
			continue
		}
		if cfg.MaxProcesses > 0 && emitted >= cfg.MaxProcesses {
			break
		}

		pidPath := filepath.Join(procRoot, entry.Name())

		cmdlineRaw, err := os.ReadFile(filepath.Join(pidPath, "cmdline"))
		if err != nil {
			sc.AddWarning(s.Name(), model.ProcUnreadableCmdline, err.Error())
			continue
		}
		cmdline := strings.ReplaceAll(strings.TrimRight(string(cmdlineRaw), "\x00"), "\x00", " ")

		if cmdline == "" && !cfg.AllProcesses {
			continue
		}
		if strings.HasPrefix(cmdline, "[") && strings.HasSuffix(cmdline, "]") {
			continue
		}

		statusRaw, err := os.ReadFile(filepath.Join(pidPath, "status"))
		if err != nil {
			sc.AddWarning(s.Name(), model.ProcUnreadableStatus, err.Error())
			continue
		}
		uid, gid := parseStatusIDs(string(statusRaw))

		var containerID string
		if cfg.Containers {
			containerID = readContainerID(pidPath)
			if cfg.ContainerIDFilter != "" && containerID != cfg.ContainerIDFilter {
				continue
			}
		}

		if !cfg.ProcessInventory {
			continue
		}

		f := model.NewFinding(pidKey(pid), "Process", model.Info, "process inventory entry")
		f.Metadata.Set("pid", strconv.Itoa(pid))
		if !cfg.NoUserMeta {
			f.Metadata.Set("uid", uid)
		}
		f.Metadata.Set("gid", gid)

		exePath, exeErr := os.Readlink(filepath.Join(pidPath, "exe"))
		if exeErr != nil {
			sc.AddWarning(s.Name(), model.ProcExeSymlinkUnreadable, exeErr.Error())
		} else {
			f.Metadata.Set("exe_path", exePath)
			if cfg.ProcessHash {
				f.Metadata.Set("sha256", hashExe(exePath))
			}
		}

		if cfg.Containers && containerID != "" {
			f.Metadata.Set("container_id", containerID)
		}

		sc.AddFinding(s.Name(), f)
		emitted++
	}
	return nil
}

func pidKey(pid int) string {
	return "proc:" + strconv.Itoa(pid)
}

func parseStatusIDs(status string) (uid, gid string) {
	for _, line := range strings.Split(status, "\n") {
		if strings.HasPrefix(line, "Uid:") {
			fields := strings.Fields(line)
			if len(fields) > 1 {
				uid = fields[1]
			}
		}
		if strings.HasPrefix(line, "Gid:") {
			fields := strings.Fields(line)
			if len(fields) > 1 {
				gid = fields[1]
			}
		}
	}
	return uid, gid
}

func readContainerID(pidPath string) string {
	data, err := os.ReadFile(filepath.Join(pidPath, "cgroup"))
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		parts := strings.SplitN(line, ":", 3)
		if len(parts) != 3 {
			continue
		}
		if id := cgroup.ExtractContainerID(parts[2]); id != "" {
			return id
		}
	}
	return ""
}

// hashExe streams up to processHashCap bytes of the binary into SHA-256.
// If the executable cannot be opened, a sentinel string is returned
// rather than omitting the metadata key (§4.H).
func hashExe(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return "unavailable"
	}
	defer f.Close()
	digest, err := hashutil.SHA256Capped(f, processHashCap)
	if err != nil {
		return "unavailable"
	}
	return digest
}
