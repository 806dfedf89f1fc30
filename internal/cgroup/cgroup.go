// Package cgroup extracts container identifiers and runtime attribution
// from cgroup paths, shared by the process and container scanners
// (§4.H, §4.T, glossary "Container id").
package cgroup

import "strings"

// ExtractContainerID returns the first 12 hex chars of the first 64-hex
// or 32-hex token found in a cgroup path, including the
// "docker-<id>.scope" systemd unit naming convention. Returns "" if no
// token is found.
func ExtractContainerID(cgroupPath string) string {
	parts := strings.Split(cgroupPath, "/")
	for _, part := range parts {
		if id := hexToken(part); id != "" {
			return truncate(id)
		}
		if strings.HasPrefix(part, "docker-") && strings.HasSuffix(part, ".scope") {
			id := strings.TrimSuffix(strings.TrimPrefix(part, "docker-"), ".scope")
			if isHex(id) && (len(id) == 64 || len(id) == 32) {
				return truncate(id)
			}
		}
	}
	return ""
}

func hexToken(s string) string {
	if (len(s) == 64 || len(s) == 32) && isHex(s) {
		return s
	}
	return ""
}

func truncate(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

// RuntimeFromCgroup maps cgroup path content to a runtime name by
// substring match; falls back to "kubepods" when that marker is present
// without a more specific runtime, else "" (§4.T).
func RuntimeFromCgroup(content string) string {
	lower := strings.ToLower(content)
	switch {
	case strings.Contains(lower, "docker"):
		return "docker"
	case strings.Contains(lower, "containerd"):
		return "containerd"
	case strings.Contains(lower, "podman"):
		return "podman"
	case strings.Contains(lower, "crio"):
		return "crio"
	case strings.Contains(lower, "kubepods"):
		return "kubepods"
	default:
		return ""
	}
}
