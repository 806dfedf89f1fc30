package scanner

import (
	"bufio"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/syndtr/gocapability/capability"

	"github.com/dmitriimaksimovdevelop/hostaudit/internal/model"
	"github.com/dmitriimaksimovdevelop/hostaudit/internal/scanctx"
)

const (
	wwMaxPerDir = 5000
	wwMaxTotal  = 20000
)

var setuidInterpreterNames = map[string]bool{
	"bash": true, "sh": true, "dash": true, "zsh": true, "ksh": true,
	"python": true, "python3": true, "perl": true, "ruby": true,
}

var protectedBinDirs = []string{"/usr/bin", "/bin", "/usr/sbin"}
var tempDirs = []string{"/tmp", "/var/tmp", "/dev/shm"}

// WorldWritableScanner sweeps for world-writable files and, when
// fs_hygiene is enabled, evaluates PATH hygiene, setuid interpreters,
// file capabilities, and dangling SUID hardlinks into temp dirs (§4.M).
type WorldWritableScanner struct{}

func NewWorldWritableScanner() *WorldWritableScanner { return &WorldWritableScanner{} }

func (s *WorldWritableScanner) Name() string { return "world_writable" }
func (s *WorldWritableScanner) Description() string {
	return "enumerates world-writable files and filesystem hygiene violations"
}

func (s *WorldWritableScanner) Scan(sc *scanctx.ScanContext) error {
	cfg := sc.Config

	dirs := cfg.WorldWritableDirs
	if len(dirs) == 0 {
		// only the fallback default root is RootFS-relative; explicit
		// --world-writable-dirs values are already resolved by the caller.
		dirs = []string{rootJoin(cfg.RootFS, "/")}
	}

	total := 0
	for _, root := range dirs {
		perDir := 0
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				sc.AddWarning(s.Name(), model.WalkError, err.Error())
				return nil
			}
			if total >= wwMaxTotal || perDir >= wwMaxPerDir {
				return filepath.SkipDir
			}
			if d.IsDir() || !d.Type().IsRegular() {
				return nil
			}
			if excluded(path, cfg.WorldWritableExclude) {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			if info.Mode().Perm()&0002 == 0 {
				return nil
			}
			if cfg.FSWorldWritableLimit > 0 && total >= cfg.FSWorldWritableLimit {
				return nil
			}

			relPath := strings.TrimPrefix(path, cfg.RootFS)
			sev := model.Medium
			switch {
			case strings.HasPrefix(relPath, "/tmp/"):
				sev = model.Low
			case strings.HasSuffix(relPath, ".so") || strings.Contains(relPath, "/bin/"):
				sev = model.High
			}

			f := model.NewFinding(path, "World-writable file", sev, "file is writable by any user")
			f.Metadata.Set("path", path)
			sc.AddFinding(s.Name(), f)
			total++
			perDir++
			return nil
		})
		if err != nil {
			sc.AddWarning(s.Name(), model.WalkError, err.Error())
		}
	}

	if cfg.FSHygiene {
		s.checkPathDirs(sc)
		s.checkSetuidInterpreters(sc)
		s.checkFileCapabilities(sc)
		s.checkDanglingHardlinks(sc)
	}

	return nil
}

func excluded(path string, patterns []string) bool {
	for _, p := range patterns {
		if p != "" && strings.Contains(path, p) {
			return true
		}
	}
	return false
}

func (s *WorldWritableScanner) checkPathDirs(sc *scanctx.ScanContext) {
	for _, dir := range strings.Split(os.Getenv("PATH"), ":") {
		if dir == "" {
			continue
		}
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			continue
		}
		if info.Mode().Perm()&0002 == 0 {
			continue
		}
		f := model.NewFinding("path_dir_world_writable:"+dir, "World-writable PATH directory", model.High, "a directory on $PATH is writable by any user")
		f.Metadata.Set("path", dir)
		f.Metadata.Set("rule", "path_dir_world_writable")
		sc.AddFinding(s.Name(), f)
	}
}

func (s *WorldWritableScanner) checkSetuidInterpreters(sc *scanctx.ScanContext) {
	for _, dir := range rootJoinAll(sc.Config.RootFS, []string{"/usr/bin", "/bin", "/usr/local/bin"}) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			path := filepath.Join(dir, e.Name())
			info, err := os.Lstat(path)
			if err != nil {
				continue
			}
			isSUID := info.Mode()&os.ModeSetuid != 0
			suspect := setuidInterpreterNames[e.Name()]
			if !suspect {
				suspect = shebangReferencesInterpreter(path)
			}
			if isSUID && suspect {
				f := model.NewFinding("setuid_interpreter:"+path, "Setuid interpreter", model.Critical, "an interpreter binary carries the setuid bit")
				f.Metadata.Set("path", path)
				f.Metadata.Set("rule", "setuid_interpreter")
				sc.AddFinding(s.Name(), f)
			}
		}
	}
}

func shebangReferencesInterpreter(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	r := bufio.NewReader(f)
	line, _ := r.ReadString('\n')
	if len(line) > 128 {
		line = line[:128]
	}
	if !strings.HasPrefix(line, "#!") {
		return false
	}
	for name := range setuidInterpreterNames {
		if strings.Contains(line, name) {
			return true
		}
	}
	return false
}

func (s *WorldWritableScanner) checkFileCapabilities(sc *scanctx.ScanContext) {
	for _, dir := range rootJoinAll(sc.Config.RootFS, protectedBinDirs) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			path := filepath.Join(dir, e.Name())
			info, err := os.Lstat(path)
			if err != nil {
				continue
			}
			if info.Mode()&os.ModeSetuid != 0 {
				continue
			}
			caps, ok := fileCapabilitySet(path)
			if !ok {
				continue
			}
			f := model.NewFinding("file_capability:"+path, "File capability set", model.Medium, "binary carries a file capability without the setuid bit")
			f.Metadata.Set("path", path)
			f.Metadata.Set("rule", "file_capability")
			f.Metadata.Set("value", caps)
			sc.AddFinding(s.Name(), f)
		}
	}
}

// fileCapabilitySet reads the security.capability xattr via gocapability
// and renders it the same way the library formats process capability
// sets, so a reviewer sees "= cap_net_bind_service+ep" rather than a raw
// hex blob.
func fileCapabilitySet(path string) (string, bool) {
	caps, err := capability.NewFile(path)
	if err != nil {
		return "", false
	}
	if err := caps.Load(); err != nil {
		return "", false
	}
	s := caps.String()
	if strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

func (s *WorldWritableScanner) checkDanglingHardlinks(sc *scanctx.ScanContext) {
	type linkSet struct {
		protected []string
		temp      []string
	}
	links := map[[2]uint64]*linkSet{}

	scan := func(dirs []string, record func(*linkSet, string)) {
		for _, dir := range dirs {
			entries, err := os.ReadDir(dir)
			if err != nil {
				continue
			}
			for _, e := range entries {
				path := filepath.Join(dir, e.Name())
				info, err := os.Lstat(path)
				if err != nil || info.Mode()&os.ModeSetuid == 0 {
					continue
				}
				stat, ok := info.Sys().(*syscall.Stat_t)
				if !ok {
					continue
				}
				key := [2]uint64{uint64(stat.Dev), stat.Ino}
				ls, exists := links[key]
				if !exists {
					ls = &linkSet{}
					links[key] = ls
				}
				record(ls, path)
			}
		}
	}

	scan(rootJoinAll(sc.Config.RootFS, protectedBinDirs), func(ls *linkSet, path string) { ls.protected = append(ls.protected, path) })
	scan(rootJoinAll(sc.Config.RootFS, tempDirs), func(ls *linkSet, path string) { ls.temp = append(ls.temp, path) })

	for _, ls := range links {
		if len(ls.protected) == 0 || len(ls.temp) == 0 {
			continue
		}
		all := append(append([]string{}, ls.protected...), ls.temp...)
		f := model.NewFinding("dangling_suid_hardlink:"+all[0], "Dangling SUID hardlink", model.High, "a setuid binary has a hardlink in a world-writable temp directory")
		f.Metadata.Set("paths", strings.Join(all, ","))
		f.Metadata.Set("rule", "dangling_suid_hardlink")
		sc.AddFinding(s.Name(), f)
	}
}
