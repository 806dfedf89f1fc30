package scanner

import (
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/dmitriimaksimovdevelop/hostaudit/internal/model"
	"github.com/dmitriimaksimovdevelop/hostaudit/internal/scanctx"
)

var suidRoots = []string{"/bin", "/sbin", "/usr/bin", "/usr/sbin", "/usr/local/bin", "/usr/local/sbin"}

var expectedSUIDBaseline = map[string]bool{
	"/usr/bin/sudo": true, "/usr/bin/su": true, "/usr/bin/passwd": true,
	"/usr/bin/chsh": true, "/usr/bin/chfn": true, "/usr/bin/gpasswd": true,
	"/usr/bin/newgrp": true, "/usr/bin/mount": true, "/usr/bin/umount": true,
	"/usr/bin/pkexec": true, "/usr/bin/ping": true,
}

const maxAltPaths = 5

type suidEntry struct {
	primary  string
	altPaths []string
}

// SuidScanner aggregates SUID/SGID binaries by (device, inode) across
// the standard system binary roots (§4.L).
type SuidScanner struct{}

func NewSuidScanner() *SuidScanner { return &SuidScanner{} }

func (s *SuidScanner) Name() string        { return "suid" }
func (s *SuidScanner) Description() string { return "aggregates SUID/SGID binaries by inode across system binary roots" }

func (s *SuidScanner) Scan(sc *scanctx.ScanContext) error {
	cfg := sc.Config

	expected := map[string]bool{}
	for k, v := range expectedSUIDBaseline {
		expected[k] = v
	}
	for _, p := range cfg.SUIDExpectedAdd {
		expected[p] = true
	}
	if cfg.SUIDExpectedFile != "" {
		if data, err := os.ReadFile(cfg.SUIDExpectedFile); err == nil {
			for _, line := range strings.Split(string(data), "\n") {
				line = strings.TrimSpace(line)
				if line != "" {
					expected[line] = true
				}
			}
		}
	}

	if cfg.RootFS != "" {
		prefixed := map[string]bool{}
		for path := range expected {
			prefixed[rootJoin(cfg.RootFS, path)] = true
		}
		expected = prefixed
	}

	entries := map[[2]uint64]*suidEntry{}
	order := [][2]uint64{}

	for _, root := range rootJoinAll(cfg.RootFS, suidRoots) {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				sc.AddWarning(s.Name(), model.WalkError, err.Error())
				return filepath.SkipDir
			}
			if d.IsDir() || !d.Type().IsRegular() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			mode := info.Mode()
			if mode&(os.ModeSetuid|os.ModeSetgid) == 0 {
				return nil
			}
			stat, ok := info.Sys().(*syscall.Stat_t)
			if !ok {
				return nil
			}
			key := [2]uint64{uint64(stat.Dev), stat.Ino}
			e, exists := entries[key]
			if !exists {
				e = &suidEntry{primary: path}
				entries[key] = e
				order = append(order, key)
				return nil
			}
			if len(e.altPaths) < maxAltPaths {
				e.altPaths = append(e.altPaths, path)
			}
			return nil
		})
		if err != nil {
			sc.AddWarning(s.Name(), model.WalkError, err.Error())
		}
	}

	for _, key := range order {
		e := entries[key]
		relPath := strings.TrimPrefix(e.primary, cfg.RootFS)
		sev := model.Medium
		if strings.HasPrefix(relPath, "/usr/local/") {
			sev = model.High
		}
		if strings.Contains(relPath, "/tmp/") {
			sev = model.Critical
		}

		f := model.NewFinding(e.primary, "SUID/SGID binary", sev, "binary carries the setuid or setgid bit")
		f.Metadata.Set("path", e.primary)
		if expected[e.primary] {
			f.Metadata.Set("expected", "true")
			f.Severity = model.Low
			f.BaseSeverityScore = model.Low.BaseScore()
		}
		if len(e.altPaths) > 0 {
			f.Metadata.Set("alt_paths", strings.Join(e.altPaths, ","))
			f.Metadata.Set("alt_path_count", strconv.Itoa(len(e.altPaths)))
		}
		sc.AddFinding(s.Name(), f)
	}

	return nil
}
