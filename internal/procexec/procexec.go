// Package procexec resolves and verifies the handful of external
// binaries the integrity scanner shells out to (dpkg, rpm) and builds a
// sanitized environment for running them (§4.U).
package procexec

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// AllowedBinaryPaths are the directories a verification binary may live
// in. Anything outside this set is refused regardless of name match.
var AllowedBinaryPaths = []string{
	"/usr/bin",
	"/bin",
	"/usr/sbin",
	"/sbin",
	"/usr/local/bin",
}

// Checker resolves and verifies external package-manager binaries
// before the integrity scanner invokes them.
type Checker struct {
	allowedPaths []string
}

// NewChecker returns a Checker using the default allowed directories.
func NewChecker() *Checker {
	return &Checker{allowedPaths: AllowedBinaryPaths}
}

// Resolve finds name in an allowed directory, preferring earlier
// entries in AllowedBinaryPaths.
func (c *Checker) Resolve(name string) (string, error) {
	for _, dir := range c.allowedPaths {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("procexec: %q not found in allowed paths", name)
}

// Verify checks that path is in an allowed directory, root-owned, a
// regular file, and not world-writable, before it is ever executed.
func (c *Checker) Verify(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("procexec: resolve path: %w", err)
	}

	dir := filepath.Dir(absPath)
	allowed := false
	for _, d := range c.allowedPaths {
		if d == dir {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("procexec: %q is not in an allowed directory", absPath)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("procexec: stat %q: %w", absPath, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("procexec: %q is not a regular file", absPath)
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok && stat.Uid != 0 {
		return fmt.Errorf("procexec: %q is not owned by root (uid=%d)", absPath, stat.Uid)
	}
	if info.Mode().Perm()&0002 != 0 {
		return fmt.Errorf("procexec: %q is world-writable (mode=%s)", absPath, info.Mode())
	}
	return nil
}

// SanitizedEnv returns a minimal safe subprocess environment.
func (c *Checker) SanitizedEnv() []string {
	safe := map[string]bool{"PATH": true, "HOME": true, "LANG": true, "LC_ALL": true, "TERM": true}
	var env []string
	hasPath := false
	for _, e := range os.Environ() {
		parts := strings.SplitN(e, "=", 2)
		if len(parts) == 2 && safe[parts[0]] {
			env = append(env, e)
			if parts[0] == "PATH" {
				hasPath = true
			}
		}
	}
	if !hasPath {
		env = append(env, "PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin")
	}
	return env
}

// RunCapped resolves, verifies, and runs name with args, capped by
// timeout, returning its stdout truncated at maxBytes (stderr is not
// captured). Any
// resolution, verification, or timeout failure is returned as an error
// for the caller to convert into a structured warning/error — it never
// panics into the scanner.
func (c *Checker) RunCapped(ctx context.Context, name string, args []string, timeout time.Duration, maxBytes int64) ([]byte, error) {
	return c.RunCappedTracked(ctx, name, args, timeout, maxBytes, nil, nil)
}

// RunCappedTracked behaves like RunCapped but invokes onStart with the
// subprocess PID right after it launches and onExit once it has been
// reaped, so a caller can register/unregister the PID with a
// self-noise tracker for the duration of the run.
func (c *Checker) RunCappedTracked(ctx context.Context, name string, args []string, timeout time.Duration, maxBytes int64, onStart, onExit func(pid int)) ([]byte, error) {
	path, err := c.Resolve(name)
	if err != nil {
		return nil, err
	}
	if err := c.Verify(path); err != nil {
		return nil, err
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, path, args...)
	cmd.Env = c.SanitizedEnv()
	var buf bytes.Buffer
	cmd.Stdout = &buf

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	if onStart != nil {
		onStart(cmd.Process.Pid)
	}
	waitErr := cmd.Wait()
	if onExit != nil {
		onExit(cmd.Process.Pid)
	}

	out := buf.Bytes()
	if int64(len(out)) > maxBytes {
		out = out[:maxBytes]
	}
	if waitErr != nil {
		if _, ok := waitErr.(*exec.ExitError); ok {
			// Verification tools (dpkg -V, rpm -V) exit non-zero when they
			// find discrepancies; that is signal, not failure.
			return out, nil
		}
		return out, waitErr
	}
	return out, nil
}
