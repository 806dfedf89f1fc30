package scanner

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dmitriimaksimovdevelop/hostaudit/internal/model"
	"github.com/dmitriimaksimovdevelop/hostaudit/internal/scanctx"
)

// socketOwner is what the inode map remembers about the process that
// holds a given socket inode open (§4.I).
type socketOwner struct {
	pid         int
	exe         string
	containerID string
}

// fanoutCounter tracks per-pid ESTABLISHED connection fanout.
type fanoutCounter struct {
	total   int
	remotes map[string]struct{}
	samples []string
}

// NetworkScanner parses /proc/net/{tcp,tcp6,udp,udp6}, correlating each
// socket to an owning process via an inode map built from /proc/<pid>/fd
// (§4.I).
type NetworkScanner struct{}

func NewNetworkScanner() *NetworkScanner { return &NetworkScanner{} }

func (s *NetworkScanner) Name() string        { return "network" }
func (s *NetworkScanner) Description() string { return "enumerates TCP/UDP sockets and correlates them to owning processes" }

var tcpStateNames = map[int]string{
	0x01: "ESTABLISHED",
	0x02: "SYN_SENT",
	0x03: "SYN_RECV",
	0x04: "FIN_WAIT1",
	0x05: "FIN_WAIT2",
	0x06: "TIME_WAIT",
	0x07: "CLOSE",
	0x08: "CLOSE_WAIT",
	0x09: "LAST_ACK",
	0x0A: "LISTEN",
	0x0B: "CLOSING",
	0x0C: "NEW_SYN_RECV",
}

func (s *NetworkScanner) Scan(sc *scanctx.ScanContext) error {
	cfg := sc.Config
	procRoot := cfg.ProcRoot
	if procRoot == "" {
		procRoot = "/proc"
	}

	inodeMap := buildInodeMap(procRoot)

	files := map[string]bool{"tcp": true, "tcp6": true, "udp": true, "udp6": true}
	if cfg.NetworkProto != "" {
		for name := range files {
			files[name] = false
			for _, p := range strings.Split(cfg.NetworkProto, ",") {
				p = strings.TrimSpace(p)
				if p != "" && strings.HasPrefix(name, p) {
					files[name] = true
				}
			}
		}
	}

	fanout := map[int]*fanoutCounter{}
	emitted := 0

	for _, proto := range []string{"tcp", "tcp6", "udp", "udp6"} {
		if !files[proto] {
			continue
		}
		if cfg.MaxSockets > 0 && emitted >= cfg.MaxSockets {
			break
		}
		s.scanFile(sc, procRoot, proto, inodeMap, fanout, &emitted)
	}

	if cfg.NetworkAdvanced {
		s.emitFanout(sc, fanout)
	}

	return nil
}

func (s *NetworkScanner) scanFile(sc *scanctx.ScanContext, procRoot, proto string, inodeMap map[string]socketOwner, fanout map[int]*fanoutCounter, emitted *int) int {
	cfg := sc.Config
	path := filepath.Join(procRoot, "net", proto)
	data, err := os.ReadFile(path)
	if err != nil {
		sc.AddWarning(s.Name(), model.NetFileUnreadable, err.Error())
		return 0
	}

	isTCP := strings.HasPrefix(proto, "tcp")
	isV6 := strings.HasSuffix(proto, "6")

	lines := strings.Split(string(data), "\n")
	count := 0
	for i, line := range lines {
		if i == 0 {
			continue // header
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 10 {
			if cfg.NetworkDebug {
				f := model.NewFinding(fmt.Sprintf("%s:debug:%d", proto, i), "debug", model.Info, "unparsed /proc/net line")
				f.Metadata.Set("protocol", proto)
				sc.AddFinding(s.Name(), f)
			}
			continue
		}

		localAddr := fields[1]
		remAddr := fields[2]
		stateHex := fields[3]
		uid := fields[7]
		inode := fields[9]

		lip, lport, err1 := decodeAddr(localAddr, isV6)
		rip, rport, err2 := decodeAddr(remAddr, isV6)
		if err1 != nil || err2 != nil {
			continue
		}
		if lport == 0 && rport == 0 {
			continue
		}

		stateVal, _ := strconv.ParseInt(stateHex, 16, 32)
		state := "UNKNOWN"
		if isTCP {
			if name, ok := tcpStateNames[int(stateVal)]; ok {
				state = name
			}
		} else {
			state = "-"
		}

		if cfg.NetworkListenOnly && state != "LISTEN" {
			continue
		}
		if len(cfg.NetworkStates) > 0 && !containsStr(cfg.NetworkStates, state) {
			continue
		}

		owner, hasOwner := inodeMap[inode]
		if cfg.ContainerIDFilter != "" {
			if !hasOwner || owner.containerID != cfg.ContainerIDFilter {
				continue
			}
		}

		if cfg.MaxSockets > 0 && *emitted >= cfg.MaxSockets {
			return count
		}

		sev := classifySeverity(isTCP, state, lport, lip)

		id := fmt.Sprintf("%s:%d:%s", s.Name(), lport, inode)
		f := model.NewFinding(id, "Socket", sev, fmt.Sprintf("%s %s:%d", proto, lip, lport))
		f.Metadata.Set("protocol", proto)
		f.Metadata.Set("state", state)
		f.Metadata.Set("lport", strconv.Itoa(lport))
		f.Metadata.Set("rport", strconv.Itoa(rport))
		f.Metadata.Set("lip", lip)
		f.Metadata.Set("rip", rip)
		f.Metadata.Set("inode", inode)
		if !cfg.NoUserMeta {
			f.Metadata.Set("uid", uid)
		}
		if hasOwner {
			f.Metadata.Set("pid", strconv.Itoa(owner.pid))
			f.Metadata.Set("exe", owner.exe)
			if owner.containerID != "" {
				f.Metadata.Set("container_id", owner.containerID)
			}
		}
		if isWildcard(lip) {
			f.Metadata.Set("wildcard_listen", "true")
		}
		if lport < 1024 {
			f.Metadata.Set("privileged_port", "true")
		}

		sc.AddFinding(s.Name(), f)
		count++
		*emitted++

		if cfg.NetworkAdvanced && isTCP && state == "ESTABLISHED" && hasOwner {
			fc, ok := fanout[owner.pid]
			if !ok {
				fc = &fanoutCounter{remotes: map[string]struct{}{}}
				fanout[owner.pid] = fc
			}
			fc.total++
			if _, seen := fc.remotes[rip]; !seen {
				fc.remotes[rip] = struct{}{}
				if len(fc.samples) < 5 {
					fc.samples = append(fc.samples, rip)
				}
			}
		}
	}
	return count
}

func (s *NetworkScanner) emitFanout(sc *scanctx.ScanContext, fanout map[int]*fanoutCounter) {
	cfg := sc.Config
	threshold := cfg.NetworkFanoutThreshold
	uniqueThreshold := cfg.NetworkFanoutUniqueThreshold

	for pid, fc := range fanout {
		unique := len(fc.remotes)
		if fc.total < threshold && unique < uniqueThreshold {
			continue
		}
		sev := model.Medium
		if fc.total >= threshold*2 {
			sev = model.High
		}
		id := fmt.Sprintf("%d:net_fanout", pid)
		f := model.NewFinding(id, "Connection fanout", sev, "process exhibits high outbound connection fanout")
		f.Metadata.Set("pid", strconv.Itoa(pid))
		f.Metadata.Set("total_connections", strconv.Itoa(fc.total))
		f.Metadata.Set("unique_remotes", strconv.Itoa(unique))
		f.Metadata.Set("sample_remotes", strings.Join(fc.samples, ","))
		sc.AddFinding(s.Name(), f)
	}
}

func classifySeverity(isTCP bool, state string, port int, lip string) model.Severity {
	var sev model.Severity
	switch {
	case isTCP && state == "LISTEN":
		switch {
		case port == 22 || port == 23 || port == 2323:
			sev = model.Medium
		case portIn(port, 80, 443, 53, 25, 110, 995, 143, 993):
			sev = model.Low
		case port < 1024:
			sev = model.Medium
		default:
			sev = model.Info
		}
		if !isLoopback(lip) {
			sev = sev.Escalate()
		}
	case !isTCP && port == 53:
		sev = model.Low
	case !isTCP && port < 1024 && port != 68 && port != 123:
		sev = model.Medium
	default:
		sev = model.Info
	}
	return sev
}

func portIn(port int, candidates ...int) bool {
	for _, c := range candidates {
		if port == c {
			return true
		}
	}
	return false
}

func isLoopback(ip string) bool {
	return strings.HasPrefix(ip, "127.") || ip == "::1"
}

func isWildcard(ip string) bool {
	return ip == "0.0.0.0" || ip == "::"
}

func containsStr(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// decodeAddr decodes a /proc/net "AABBCCDD:PPPP"-style field into a
// dotted-quad (v4) or colon-grouped (v6) address string and port
// (§4.I).
func decodeAddr(field string, isV6 bool) (string, int, error) {
	parts := strings.SplitN(field, ":", 2)
	if len(parts) != 2 {
		return "", 0, fmt.Errorf("malformed address field %q", field)
	}
	hexAddr := parts[0]
	port64, err := strconv.ParseInt(parts[1], 16, 32)
	if err != nil {
		return "", 0, err
	}
	port := int(port64)

	if isV6 {
		ip, err := decodeV6(hexAddr)
		return ip, port, err
	}
	ip, err := decodeV4(hexAddr)
	return ip, port, err
}

func decodeV4(hexAddr string) (string, error) {
	if len(hexAddr) != 8 {
		return "", fmt.Errorf("bad v4 address %q", hexAddr)
	}
	var b [4]byte
	for i := 0; i < 4; i++ {
		v, err := strconv.ParseUint(hexAddr[i*2:i*2+2], 16, 8)
		if err != nil {
			return "", err
		}
		b[i] = byte(v)
	}
	// kernel stores little-endian 32-bit words; reverse byte order.
	return fmt.Sprintf("%d.%d.%d.%d", b[3], b[2], b[1], b[0]), nil
}

func decodeV6(hexAddr string) (string, error) {
	if len(hexAddr) != 32 {
		return "", fmt.Errorf("bad v6 address %q", hexAddr)
	}
	groups := make([]string, 0, 8)
	for w := 0; w < 4; w++ {
		word := hexAddr[w*8 : w*8+8]
		// each 32-bit word stored little-endian; byte-swap then split
		// into two 16-bit groups for textual form.
		var b [4]byte
		for i := 0; i < 4; i++ {
			v, err := strconv.ParseUint(word[i*2:i*2+2], 16, 8)
			if err != nil {
				return "", err
			}
			b[i] = byte(v)
		}
		groups = append(groups, fmt.Sprintf("%02x%02x", b[3], b[2]))
		groups = append(groups, fmt.Sprintf("%02x%02x", b[1], b[0]))
	}
	return strings.Join(groups, ":"), nil
}

// buildInodeMap walks /proc/<pid>/fd for every process, recording the
// first pid that opens each "socket:[NNN]" inode.
func buildInodeMap(procRoot string) map[string]socketOwner {
	out := map[string]socketOwner{}
	entries, err := os.ReadDir(procRoot)
	if err != nil {
		return out
	}
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		pidPath := filepath.Join(procRoot, entry.Name())
		fdEntries, err := os.ReadDir(filepath.Join(pidPath, "fd"))
		if err != nil {
			continue
		}
		var exe, containerID string
		for _, fd := range fdEntries {
			target, err := os.Readlink(filepath.Join(pidPath, "fd", fd.Name()))
			if err != nil {
				continue
			}
			if !strings.HasPrefix(target, "socket:[") {
				continue
			}
			inode := strings.TrimSuffix(strings.TrimPrefix(target, "socket:["), "]")
			if _, exists := out[inode]; exists {
				continue
			}
			if exe == "" {
				exe, _ = os.Readlink(filepath.Join(pidPath, "exe"))
				containerID = readContainerID(pidPath)
			}
			out[inode] = socketOwner{pid: pid, exe: exe, containerID: containerID}
		}
	}
	return out
}
