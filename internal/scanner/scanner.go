// Package scanner holds the Scanner interface, the registry that
// schedules and runs scanner instances, and every concrete scanner
// (§4, §9). Each scanner implements the three-method capability set
// described in the design notes: name, description, scan.
package scanner

import (
	"path/filepath"

	"github.com/dmitriimaksimovdevelop/hostaudit/internal/scanctx"
)

// Scanner is implemented by every host-posture check the registry can
// run: Process, Network, Module, IOC, SUID, WorldWritable, KernelParam,
// MAC, Mount, KernelHardening, Systemd, Auditd, Container, Integrity,
// YARA, EbpfTrace (§9).
type Scanner interface {
	Name() string
	Description() string
	Scan(sc *scanctx.ScanContext) error
}

// rootJoin prefixes an absolute path with cfg.RootFS for scanners that
// walk hardcoded system directories outside /proc, /sys, /etc. An empty
// root returns path unchanged, so production scans keep reading the
// live filesystem.
func rootJoin(root, path string) string {
	if root == "" {
		return path
	}
	return filepath.Join(root, path)
}

// rootJoinAll applies rootJoin across a path table.
func rootJoinAll(root string, paths []string) []string {
	if root == "" {
		return paths
	}
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = rootJoin(root, p)
	}
	return out
}
