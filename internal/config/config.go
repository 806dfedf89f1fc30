// Package config defines the flat configuration record consumed by the
// scanner registry and every individual scanner (§6.2). The CLI
// collaborator in cmd/hostaudit is the only place argv is parsed into
// this struct; the core never reads flags or the environment directly.
package config

// Config is the complete set of knobs a scan run can be configured with.
// It is constructed once per invocation and passed by pointer into the
// ScanContext; scanners never mutate it.
type Config struct {
	// Roots let tests substitute a fake /proc, /sys. Not part of the CLI
	// surface in §6.1 but required to make scanners testable (§9).
	ProcRoot string
	SysRoot  string
	EtcRoot  string

	// RootFS overrides the filesystem prefix scanners join onto the
	// hardcoded absolute path tables that fall outside /proc, /sys, and
	// /etc — SUID/world-writable sweep roots, systemd unit directories,
	// and auditd rule/log paths. Empty means the live filesystem (paths
	// used as-is). Like the roots above, this exists for hermetic
	// testing, not the CLI surface.
	RootFS string

	// Strings (§6.2)
	MinSeverity      string
	FailOnSeverity   string
	OutputFile       string
	RulesDir         string
	ContainerIDFilter string
	IOCAllowFile     string
	SUIDExpectedFile string
	NetworkProto     string
	SignGPGKey       string
	WriteEnvFile     string

	// Booleans (§6.2)
	Pretty               bool
	Compact              bool
	Canonical            bool
	NDJSON               bool
	SARIF                bool
	AllProcesses         bool
	ModulesSummaryOnly   bool
	ModulesAnomaliesOnly bool
	ModulesHash          bool
	Integrity            bool
	IntegrityIMA         bool
	IntegrityPkgVerify   bool
	IntegrityPkgRehash   bool
	FSHygiene            bool
	ProcessHash          bool
	ProcessInventory     bool
	NetworkDebug         bool
	NetworkListenOnly    bool
	NetworkAdvanced      bool
	IOCEnvTrust          bool
	IOCExecTrace         bool
	Parallel             bool
	Hardening            bool
	Containers           bool
	RulesEnable          bool
	RulesAllowLegacy     bool
	SignGPG              bool
	Compliance           bool
	DropPriv             bool
	KeepCapDAC           bool
	Seccomp              bool
	SeccompStrict        bool
	NoUserMeta           bool
	NoCmdlineMeta        bool
	NoHostnameMeta       bool
	FastScan             bool
	Timings              bool

	// Ints, −1 = unlimited unless noted (§6.2)
	MaxProcesses                int
	MaxSockets                  int
	IntegrityPkgLimit           int
	IntegrityPkgRehashLimit     int
	FSWorldWritableLimit        int
	ParallelMaxThreads          int
	FailOnCount                 int
	NetworkFanoutThreshold      int
	NetworkFanoutUniqueThreshold int
	IOCExecTraceSeconds         int

	// String lists (§6.2)
	EnableScanners       []string
	DisableScanners      []string
	NetworkStates        []string
	IOCAllow             []string
	SUIDExpectedAdd      []string
	WorldWritableDirs    []string
	WorldWritableExclude []string
	ComplianceStandards  []string
}

// Default returns a Config populated with the engine's documented
// defaults: unbounded caps (-1), sequential scanning disabled in favor
// of parallel, info floor severity, and the live filesystem roots.
func Default() *Config {
	return &Config{
		ProcRoot: "/proc",
		SysRoot:  "/sys",
		EtcRoot:  "/etc",

		MinSeverity:    "info",
		FailOnSeverity: "critical",

		Parallel:           true,
		ParallelMaxThreads: 4,

		MaxProcesses:                -1,
		MaxSockets:                  -1,
		IntegrityPkgLimit:           -1,
		IntegrityPkgRehashLimit:     -1,
		FSWorldWritableLimit:        -1,
		FailOnCount:                 -1,
		NetworkFanoutThreshold:      100,
		NetworkFanoutUniqueThreshold: 20,
		IOCExecTraceSeconds:         0,
	}
}

// ScannerEnabled applies the enable/disable scanner-name lists: a
// scanner runs unless it appears in DisableScanners, or EnableScanners
// is non-empty and it is absent from it.
func (c *Config) ScannerEnabled(name string) bool {
	for _, d := range c.DisableScanners {
		if d == name {
			return false
		}
	}
	if len(c.EnableScanners) == 0 {
		return true
	}
	for _, e := range c.EnableScanners {
		if e == name {
			return true
		}
	}
	return false
}

// HeavyScannersDisabled reports whether --fast-scan should suppress a
// given heavy scanner: modules deep scan, integrity rehash, YARA, eBPF.
func (c *Config) HeavyScannersDisabled() bool {
	return c.FastScan
}
